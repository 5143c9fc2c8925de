package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/model"
)

// CandidateEvaluator scores potential recipients of a document by combining
// three independently-normalized signals, per spec.md §4.4.
type CandidateEvaluator struct {
	forwarded ForwardedStore
}

func NewCandidateEvaluator(forwarded ForwardedStore) *CandidateEvaluator {
	return &CandidateEvaluator{forwarded: forwarded}
}

// Evaluate scores every entry of recipients in place, setting Score and
// IsEligible (Score > threshold). similarDocuments supplies the per-document
// weight used by the historical signal.
func (e *CandidateEvaluator) Evaluate(ctx context.Context, senderID uuid.UUID, recipients map[uuid.UUID]*model.PotentialRecipient, similarDocuments []SimilarDocument, threshold float64) error {
	if len(recipients) == 0 {
		return nil
	}

	freq := e.frequency(recipients)

	collab, err := e.collaborative(ctx, senderID, recipients)
	if err != nil {
		return fmt.Errorf("evaluator: collaborative signal: %w", err)
	}

	hist, err := e.historical(ctx, similarDocuments, recipients)
	if err != nil {
		return fmt.Errorf("evaluator: historical signal: %w", err)
	}

	for agentID, pr := range recipients {
		score := (freq[agentID] + collab[agentID] + hist[agentID]) / 3
		pr.Score = score
		pr.IsEligible = score > threshold
	}
	return nil
}

// frequency normalizes the sum of similarity scores over each candidate's
// contributing similar documents by the max sum across all candidates.
func (e *CandidateEvaluator) frequency(recipients map[uuid.UUID]*model.PotentialRecipient) map[uuid.UUID]float64 {
	raw := make(map[uuid.UUID]float64, len(recipients))
	var max float64
	for agentID, pr := range recipients {
		var sum float64
		for _, src := range pr.SimilarDocs {
			score := src.DocumentSimilarScore
			if score == 0 {
				score = 1
			}
			sum += score
		}
		raw[agentID] = sum
		if sum > max {
			max = sum
		}
	}
	return normalize(raw, max)
}

// collaborative normalizes the distinct count of valid, non-hidden prior
// forwardeds from sender to each candidate.
func (e *CandidateEvaluator) collaborative(ctx context.Context, senderID uuid.UUID, recipients map[uuid.UUID]*model.PotentialRecipient) (map[uuid.UUID]float64, error) {
	counts, err := e.forwarded.RecipientStatsForSender(ctx, senderID)
	if err != nil {
		return nil, err
	}
	raw := make(map[uuid.UUID]float64, len(recipients))
	var max float64
	for agentID := range recipients {
		c := float64(counts[agentID])
		raw[agentID] = c
		if c > max {
			max = c
		}
	}
	return normalize(raw, max), nil
}

// historical walks each similar document's forwardeds in created_at order
// and rewards the recipient immediately following each one, weighted by the
// document's retrieval score, whenever that recipient is a current
// candidate.
func (e *CandidateEvaluator) historical(ctx context.Context, similarDocuments []SimilarDocument, recipients map[uuid.UUID]*model.PotentialRecipient) (map[uuid.UUID]float64, error) {
	raw := make(map[uuid.UUID]float64, len(recipients))
	var max float64

	for _, sd := range similarDocuments {
		fwds, err := e.forwarded.GetByDocumentID(ctx, sd.Document.ID, nil)
		if err != nil {
			return nil, err
		}
		sort.Slice(fwds, func(i, j int) bool { return fwds[i].CreatedAt.Before(fwds[j].CreatedAt) })

		for i := 0; i+1 < len(fwds); i++ {
			next := fwds[i+1]
			if _, isCandidate := recipients[next.RecipientID]; !isCandidate {
				continue
			}
			raw[next.RecipientID] += sd.Score
			if raw[next.RecipientID] > max {
				max = raw[next.RecipientID]
			}
		}
	}
	return normalize(raw, max), nil
}

// normalize divides every value by max, leaving missing keys at 0. If max is
// 0, every candidate is 0 uniformly (no division by zero).
func normalize(raw map[uuid.UUID]float64, max float64) map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64, len(raw))
	if max == 0 {
		return out
	}
	for k, v := range raw {
		out[k] = v / max
	}
	return out
}
