package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/cache"
	"github.com/connexus-ai/docroute/internal/model"
	"github.com/connexus-ai/docroute/internal/textsim"
)

// RetrieveParams is the input to Retriever.Retrieve, per spec.md §4.3.
type RetrieveParams struct {
	SourceDocumentID     uuid.UUID
	SenderID             *uuid.UUID
	Limit                int
	SoftLimitMultiplier  float64
	Metric               DistanceMetric
	Aggregation          AggregationMethod
	ScoreThreshold       *float64
	ExcludeDocumentIDs   []uuid.UUID
	TopKMeanK            int // used only when Aggregation == AggregationTopKMean; default 3
	IsValid              *bool
	IsHidden             *bool
}

// SimilarDocument is one ranked result of a retrieval pass.
type SimilarDocument struct {
	Document model.Document
	Score    float64
}

// Retriever implements the two-pass similarity retrieval's single-pass core:
// given a source document, produce a ranked (document, score) list by
// embedding-space search, textual re-rank, and per-document aggregation.
type Retriever struct {
	chunks    ChunkStore
	documents DocumentStore
	cache     *cache.EmbeddingCache
	provider  cache.EmbeddingProvider
}

func NewRetriever(chunks ChunkStore, documents DocumentStore) *Retriever {
	return &Retriever{chunks: chunks, documents: documents}
}

// WithRevalidation enables re-embedding of source chunks whose stored
// embedding no longer matches their current content hash, via the
// Retriever's own secondary cache namespace. Without it, Retrieve trusts
// every stored chunk embedding outright.
func (r *Retriever) WithRevalidation(c *cache.EmbeddingCache, provider cache.EmbeddingProvider) *Retriever {
	r.cache = c
	r.provider = provider
	return r
}

// revalidatedEmbedding returns chunk's embedding, re-computing it through
// the Retriever's secondary cache when its stored content hash is stale
// (e.g. the content was corrected after embedding, out of this service's
// control). Falls back to the stored embedding on any re-embed failure.
func (r *Retriever) revalidatedEmbedding(ctx context.Context, chunk model.DocumentChunk) []float32 {
	if r.cache == nil || r.provider == nil {
		return chunk.Embedding
	}
	if sha256.Sum256([]byte(chunk.Content)) == chunk.ContentHash {
		return chunk.Embedding
	}
	fresh, err := r.cache.GetOrComputeRetrieverCache(ctx, chunk.Content, r.provider)
	if err != nil {
		slog.Warn("retriever: re-embedding stale chunk failed, using stored embedding",
			"chunk_id", chunk.ID, "error", err)
		return chunk.Embedding
	}
	return fresh
}

type candidate struct {
	documentID uuid.UUID
	combined   float64
	weight     float64
}

// Retrieve runs the algorithm of spec.md §4.3 steps 1-7 for one pass.
func (r *Retriever) Retrieve(ctx context.Context, p RetrieveParams) ([]SimilarDocument, error) {
	if p.Limit <= 0 {
		return nil, model.NewBusinessLogic("retriever: limit must be > 0")
	}
	if p.SoftLimitMultiplier < 1 {
		p.SoftLimitMultiplier = 1
	}
	if p.TopKMeanK <= 0 {
		p.TopKMeanK = 3
	}

	sourceChunks, err := r.chunks.ListByDocument(ctx, p.SourceDocumentID)
	if err != nil {
		return nil, fmt.Errorf("retriever: loading source chunks: %w", err)
	}

	softK := int(math.Ceil(float64(p.Limit) * p.SoftLimitMultiplier))
	filters := ChunkSearchFilters{
		SenderID:           p.SenderID,
		IsValid:            p.IsValid,
		IsHidden:           p.IsHidden,
		ExcludeDocumentIDs: p.ExcludeDocumentIDs,
	}

	var allCandidates []candidate
	for _, src := range sourceChunks {
		queryVector := r.revalidatedEmbedding(ctx, src)
		found, err := r.chunks.Search(ctx, queryVector, softK, p.Metric, filters, p.ScoreThreshold)
		if err != nil {
			return nil, fmt.Errorf("retriever: searching neighbors of chunk %s: %w", src.ID, err)
		}
		for _, f := range found {
			if f.Chunk.DocumentID == p.SourceDocumentID {
				continue
			}
			t := textsim.Ratio(src.Content, f.Chunk.Content)
			var combined float64
			if p.Metric == MetricInner {
				combined = (f.RawScore + t) / 2
			} else {
				combined = (f.RawScore + (1 - t)) / 2
			}
			if math.IsNaN(combined) {
				continue
			}
			weight := float64(len(f.Chunk.Content))
			if f.Chunk.IsHead() {
				weight *= 2
			}
			allCandidates = append(allCandidates, candidate{
				documentID: f.Chunk.DocumentID,
				combined:   combined,
				weight:     weight,
			})
		}
	}

	grouped := make(map[uuid.UUID][]candidate)
	for _, c := range allCandidates {
		grouped[c.documentID] = append(grouped[c.documentID], c)
	}

	type scored struct {
		documentID uuid.UUID
		score      float64
	}
	var aggregated []scored
	for docID, cands := range grouped {
		score, ok := aggregate(cands, p.Aggregation, p.Metric, p.TopKMeanK)
		if !ok {
			continue
		}
		if p.ScoreThreshold != nil {
			if p.Metric == MetricInner {
				if score < *p.ScoreThreshold {
					continue
				}
			} else if score > *p.ScoreThreshold {
				continue
			}
		}
		aggregated = append(aggregated, scored{documentID: docID, score: score})
	}

	sort.Slice(aggregated, func(i, j int) bool {
		if aggregated[i].score == aggregated[j].score {
			return aggregated[i].documentID.String() < aggregated[j].documentID.String()
		}
		if p.Metric == MetricInner {
			return aggregated[i].score > aggregated[j].score
		}
		return aggregated[i].score < aggregated[j].score
	})

	if len(aggregated) > p.Limit {
		aggregated = aggregated[:p.Limit]
	}

	ids := make([]uuid.UUID, len(aggregated))
	for i, a := range aggregated {
		ids[i] = a.documentID
	}
	docs, err := r.documents.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("retriever: loading matched documents: %w", err)
	}
	byID := make(map[uuid.UUID]model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	results := make([]SimilarDocument, 0, len(aggregated))
	for _, a := range aggregated {
		doc, ok := byID[a.documentID]
		if !ok {
			continue
		}
		results = append(results, SimilarDocument{Document: doc, Score: a.score})
	}
	return results, nil
}

// aggregate combines one document's candidate chunk scores into a single
// score per the selected method. Returns ok=false if weights sum to zero
// (numerical-stability guard from spec.md §9).
func aggregate(cands []candidate, method AggregationMethod, metric DistanceMetric, topK int) (float64, bool) {
	switch method {
	case AggregationMax:
		best := cands[0].combined
		for _, c := range cands[1:] {
			if metric == MetricInner {
				if c.combined > best {
					best = c.combined
				}
			} else if c.combined < best {
				best = c.combined
			}
		}
		return best, true
	case AggregationTopKMean:
		sorted := append([]candidate(nil), cands...)
		sort.Slice(sorted, func(i, j int) bool {
			if metric == MetricInner {
				return sorted[i].combined > sorted[j].combined
			}
			return sorted[i].combined < sorted[j].combined
		})
		if len(sorted) > topK {
			sorted = sorted[:topK]
		}
		return weightedMean(sorted)
	default: // mean
		return weightedMean(cands)
	}
}

func weightedMean(cands []candidate) (float64, bool) {
	var sumScoreWeight, sumWeight float64
	for _, c := range cands {
		sumScoreWeight += c.combined * c.weight
		sumWeight += c.weight
	}
	if sumWeight == 0 {
		return 0, false
	}
	return sumScoreWeight / sumWeight, true
}
