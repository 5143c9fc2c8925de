// Package service implements the investigation pipeline: Retriever,
// CandidateEvaluator, RouteStateMachine and Investigator, per spec.md §4.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/model"
)

// DistanceMetric selects the vector distance used by ChunkStore.Search and
// the Retriever's aggregation/sort direction.
type DistanceMetric string

const (
	MetricCosine DistanceMetric = "cosine"
	MetricL2     DistanceMetric = "l2"
	MetricInner  DistanceMetric = "inner"
)

// AggregationMethod selects how the Retriever combines multiple chunk
// scores into one per-document score.
type AggregationMethod string

const (
	AggregationMean      AggregationMethod = "mean"
	AggregationMax       AggregationMethod = "max"
	AggregationTopKMean  AggregationMethod = "top_k_mean"
)

// ChunkSearchFilters narrows ChunkStore.Search to chunks of documents with a
// matching Forwarded, or excludes specific documents outright.
type ChunkSearchFilters struct {
	SenderID           *uuid.UUID
	IsValid            *bool
	IsHidden           *bool
	ExcludeDocumentIDs []uuid.UUID
}

// ScoredChunk is one ChunkStore.Search result: a chunk and its raw metric
// score, in the metric's own natural order.
type ScoredChunk struct {
	Chunk    model.DocumentChunk
	RawScore float64
}

// ChunkStore persists document chunks and answers nearest-neighbor queries,
// per spec.md §4.2.
type ChunkStore interface {
	Insert(ctx context.Context, chunk model.DocumentChunk) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]model.DocumentChunk, error)
	Search(ctx context.Context, queryVector []float32, k int, metric DistanceMetric, filters ChunkSearchFilters, scoreThreshold *float64) ([]ScoredChunk, error)
}

// DocumentStore loads Document rows by id.
type DocumentStore interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Document, error)
}

// AgentStore answers agent-related queries used by the Investigator and
// CandidateEvaluator: known recipients of a document for a sender, and the
// configured default-recipient fallback set.
type AgentStore interface {
	ExistingRecipientsForSender(ctx context.Context, senderID, documentID uuid.UUID) ([]model.Agent, error)
	DefaultRecipients(ctx context.Context) ([]model.Agent, error)
}

// RouteStore persists Route rows and performs the atomic status transition
// required by spec.md §4.5.
type RouteStore interface {
	Get(ctx context.Context, id uuid.UUID) (model.Route, error)
	Add(ctx context.Context, route model.Route) error
	// UpdateStatus performs a single precondition-checked UPDATE: it only
	// succeeds if the route's current status is one of expectedFrom. It
	// returns a *model.DomainError of kind model.KindOperationNotAllowed
	// when the precondition fails, so two concurrent callers can never both
	// win the same transition.
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedFrom []model.ProcessStatus, to model.ProcessStatus) (model.Route, error)
	// TimeoutStale transitions every IN_PROGRESS route whose StartedAt is
	// older than the given deadline to TIMEOUT, returning the affected ids.
	TimeoutStale(ctx context.Context, olderThanSeconds int) ([]uuid.UUID, error)
	// LockAdvisory acquires a session-scoped advisory lock keyed by key and
	// returns a function that releases it. It serializes concurrent
	// investigations of the same route before either one reaches the
	// CAS-checked UpdateStatus call, so a slow loser doesn't burn a full
	// retrieval pass only to lose the race at the very end. The CAS is
	// already correct without it; this is purely a cost-avoidance measure.
	// A backend with no concept of advisory locks may implement this as a
	// no-op returning a func(){} and nil error.
	LockAdvisory(ctx context.Context, key string) (func(), error)
}

// ForwardedStore persists Forwarded rows and answers the CandidateEvaluator's
// signal queries.
type ForwardedStore interface {
	AddMany(ctx context.Context, forwards []model.Forwarded) error
	GetByDocumentID(ctx context.Context, documentID uuid.UUID, senderID *uuid.UUID) ([]model.Forwarded, error)
	GetByRouteID(ctx context.Context, routeID uuid.UUID) ([]model.Forwarded, error)
	// RecipientStatsForSender counts distinct valid, non-hidden forwardeds
	// from sender to each recipient.
	RecipientStatsForSender(ctx context.Context, senderID uuid.UUID) (map[uuid.UUID]int, error)
}
