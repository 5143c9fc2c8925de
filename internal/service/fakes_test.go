package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/model"
)

// fakeChunkStore is an in-memory ChunkStore good enough to drive Retriever
// tests: Search does a brute-force scan and applies the exclusion and
// sender filters, threshold and top-k, without touching a database. The
// IsValid/IsHidden filters are not applied.
type fakeChunkStore struct {
	mu     sync.Mutex
	chunks []model.DocumentChunk
	// forwardedBySender records which documents each sender has a forwarded
	// on; it backs the SenderID filter.
	forwardedBySender map[uuid.UUID]map[uuid.UUID]bool // senderID -> documentID -> exists
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{forwardedBySender: make(map[uuid.UUID]map[uuid.UUID]bool)}
}

func (f *fakeChunkStore) Insert(ctx context.Context, chunk model.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeChunkStore) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]model.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	byID := make(map[uuid.UUID]model.DocumentChunk)
	var headID *uuid.UUID
	for _, c := range f.chunks {
		if c.DocumentID != documentID {
			continue
		}
		byID[c.ID] = c
		if c.IsHead() {
			id := c.ID
			headID = &id
		}
	}
	if headID == nil {
		return nil, model.NewNotFound("no head chunk for document %s", documentID)
	}

	var ordered []model.DocumentChunk
	childByParent := make(map[uuid.UUID]model.DocumentChunk)
	for _, c := range byID {
		if c.ParentID != nil {
			childByParent[*c.ParentID] = c
		}
	}
	cur := byID[*headID]
	for {
		ordered = append(ordered, cur)
		next, ok := childByParent[cur.ID]
		if !ok {
			break
		}
		cur = next
	}
	return ordered, nil
}

func (f *fakeChunkStore) registerSender(senderID, documentID uuid.UUID) {
	if f.forwardedBySender[senderID] == nil {
		f.forwardedBySender[senderID] = make(map[uuid.UUID]bool)
	}
	f.forwardedBySender[senderID][documentID] = true
}

func (f *fakeChunkStore) Search(ctx context.Context, queryVector []float32, k int, metric DistanceMetric, filters ChunkSearchFilters, threshold *float64) ([]ScoredChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	excluded := make(map[uuid.UUID]bool, len(filters.ExcludeDocumentIDs))
	for _, id := range filters.ExcludeDocumentIDs {
		excluded[id] = true
	}

	var results []ScoredChunk
	for _, c := range f.chunks {
		if excluded[c.DocumentID] {
			continue
		}
		if filters.SenderID != nil {
			if !f.forwardedBySender[*filters.SenderID][c.DocumentID] {
				continue
			}
		}
		score := cosineDistance(queryVector, c.Embedding)
		if metric == MetricInner {
			score = innerProduct(queryVector, c.Embedding)
		} else if metric == MetricL2 {
			score = l2Distance(queryVector, c.Embedding)
		}
		if threshold != nil {
			if metric == MetricInner && score < *threshold {
				continue
			}
			if metric != MetricInner && score > *threshold {
				continue
			}
		}
		results = append(results, ScoredChunk{Chunk: c, RawScore: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if metric == MetricInner {
			return results[i].RawScore > results[j].RawScore
		}
		return results[i].RawScore < results[j].RawScore
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cosSim := dot / (sqrt(na) * sqrt(nb))
	return 1 - cosSim
}

func innerProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sqrt(sum)
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 40; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// fakeDocumentStore is an in-memory DocumentStore.
type fakeDocumentStore struct {
	docs map[uuid.UUID]model.Document
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{docs: make(map[uuid.UUID]model.Document)}
}

func (f *fakeDocumentStore) add(d model.Document) { f.docs[d.ID] = d }

func (f *fakeDocumentStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Document, error) {
	var out []model.Document
	for _, id := range ids {
		if d, ok := f.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// fakeRouteStore is an in-memory RouteStore with the same atomic-UPDATE
// semantics as the real pgx-backed implementation.
type fakeRouteStore struct {
	mu     sync.Mutex
	routes map[uuid.UUID]model.Route
}

func newFakeRouteStore() *fakeRouteStore {
	return &fakeRouteStore{routes: make(map[uuid.UUID]model.Route)}
}

func (f *fakeRouteStore) add(r model.Route) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[r.ID] = r
}

func (f *fakeRouteStore) Get(ctx context.Context, id uuid.UUID) (model.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routes[id]
	if !ok {
		return model.Route{}, model.NewNotFound("route %s not found", id)
	}
	return r, nil
}

func (f *fakeRouteStore) Add(ctx context.Context, route model.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route.ID] = route
	return nil
}

func (f *fakeRouteStore) UpdateStatus(ctx context.Context, id uuid.UUID, expectedFrom []model.ProcessStatus, to model.ProcessStatus) (model.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.routes[id]
	if !ok {
		return model.Route{}, model.NewNotFound("route %s not found", id)
	}
	matched := false
	for _, s := range expectedFrom {
		if r.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return model.Route{}, model.NewOperationNotAllowed("route %s is %s, expected one of %v", id, r.Status, expectedFrom)
	}

	now := time.Now().UTC()
	switch to {
	case model.StatusInProgress:
		r.StartedAt = &now
		r.CompletedAt = nil
	case model.StatusPending:
		r.StartedAt = nil
		r.CompletedAt = nil
	default:
		if to.IsTerminal() {
			r.CompletedAt = &now
		}
	}
	r.Status = to
	f.routes[id] = r
	return r, nil
}

// LockAdvisory is a no-op for the in-memory fake: fakeRouteStore already
// serializes every call behind its own mutex, so there is no race for an
// advisory lock to prevent.
func (f *fakeRouteStore) LockAdvisory(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

func (f *fakeRouteStore) TimeoutStale(ctx context.Context, olderThanSeconds int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var timedOut []uuid.UUID
	deadline := time.Now().UTC().Add(-time.Duration(olderThanSeconds) * time.Second)
	for id, r := range f.routes {
		if r.Status != model.StatusInProgress || r.StartedAt == nil {
			continue
		}
		if r.StartedAt.Before(deadline) {
			now := time.Now().UTC()
			r.Status = model.StatusTimeout
			r.CompletedAt = &now
			f.routes[id] = r
			timedOut = append(timedOut, id)
		}
	}
	return timedOut, nil
}

// fakeForwardedStore is an in-memory ForwardedStore.
type fakeForwardedStore struct {
	mu    sync.Mutex
	items []model.Forwarded
}

func newFakeForwardedStore() *fakeForwardedStore { return &fakeForwardedStore{} }

func (f *fakeForwardedStore) seed(items ...model.Forwarded) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
}

func (f *fakeForwardedStore) AddMany(ctx context.Context, forwards []model.Forwarded) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, forwards...)
	return nil
}

func (f *fakeForwardedStore) GetByDocumentID(ctx context.Context, documentID uuid.UUID, senderID *uuid.UUID) ([]model.Forwarded, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Forwarded
	for _, fw := range f.items {
		if fw.DocumentID != documentID {
			continue
		}
		if senderID != nil && (fw.SenderID == nil || *fw.SenderID != *senderID) {
			continue
		}
		out = append(out, fw)
	}
	return out, nil
}

func (f *fakeForwardedStore) GetByRouteID(ctx context.Context, routeID uuid.UUID) ([]model.Forwarded, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Forwarded
	for _, fw := range f.items {
		if fw.RouteID != nil && *fw.RouteID == routeID {
			out = append(out, fw)
		}
	}
	return out, nil
}

func (f *fakeForwardedStore) RecipientStatsForSender(ctx context.Context, senderID uuid.UUID) (map[uuid.UUID]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[uuid.UUID]int)
	for _, fw := range f.items {
		if fw.SenderID == nil || *fw.SenderID != senderID {
			continue
		}
		if fw.IsValid == nil || !*fw.IsValid || fw.IsHidden {
			continue
		}
		counts[fw.RecipientID]++
	}
	return counts, nil
}

// fakeAgentStore is an in-memory AgentStore.
type fakeAgentStore struct {
	recipientsByDocument map[uuid.UUID][]model.Agent
	defaults             []model.Agent
}

func newFakeAgentStore() *fakeAgentStore {
	return &fakeAgentStore{recipientsByDocument: make(map[uuid.UUID][]model.Agent)}
}

func (f *fakeAgentStore) setRecipients(documentID uuid.UUID, agents ...model.Agent) {
	f.recipientsByDocument[documentID] = agents
}

func (f *fakeAgentStore) ExistingRecipientsForSender(ctx context.Context, senderID, documentID uuid.UUID) ([]model.Agent, error) {
	return f.recipientsByDocument[documentID], nil
}

func (f *fakeAgentStore) DefaultRecipients(ctx context.Context) ([]model.Agent, error) {
	return f.defaults, nil
}
