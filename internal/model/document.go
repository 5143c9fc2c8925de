// Package model defines the core entities of the investigation pipeline:
// agents, documents, document chunks, routes and forwarded decisions.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ProcessStatus is the lifecycle status of a Route.
type ProcessStatus string

const (
	StatusPending    ProcessStatus = "pending"
	StatusInProgress ProcessStatus = "in_progress"
	StatusCompleted  ProcessStatus = "completed"
	StatusFailed     ProcessStatus = "failed"
	StatusTimeout    ProcessStatus = "timeout"
	StatusCancelled  ProcessStatus = "cancelled"
)

// IsTerminal reports whether status has no further transitions except recovery.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	default:
		return false
	}
}

// Agent is the stable identity of a sender or recipient.
type Agent struct {
	ID                 uuid.UUID
	Name               string
	Description        *string
	Embedding          []float32 // optional, dimension D
	IsActive           bool
	IsDefaultRecipient bool
	CreatedAt          time.Time
}

// Document is an admitted artifact, immutable for the purposes of the core.
type Document struct {
	ID          uuid.UUID
	Name        string
	StorageRef  *string
	ContentType *string
	CreatedAt   time.Time
}

// DocumentChunk is an ordered semantic segment of a Document. Chunks of a
// document form a singly-linked list via ParentID, with exactly one head
// (ParentID == nil).
type DocumentChunk struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	ParentID    *uuid.UUID
	Content     string
	Embedding   []float32
	ContentHash [32]byte
	CreatedAt   time.Time
}

// IsHead reports whether the chunk is the head of its document's chain.
func (c DocumentChunk) IsHead() bool {
	return c.ParentID == nil
}

// Route is a single investigation unit for a (document, sender) pair.
type Route struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	SenderID    *uuid.UUID
	Status      ProcessStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// Forwarded is a routing decision, manual or predicted.
//
// IsValid is nil for a manual-pending decision, true when accepted, false
// when rejected. A predicted forwarded always carries a non-nil RouteID.
type Forwarded struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	SenderID    *uuid.UUID
	RecipientID uuid.UUID
	RouteID     *uuid.UUID
	Purpose     *string
	IsValid     *bool
	IsHidden    bool
	Score       *float64
	CreatedAt   time.Time
}

// SimilarDocumentSource records one (document, score) pair that contributed
// to a PotentialRecipient being considered.
type SimilarDocumentSource struct {
	DocumentID           uuid.UUID
	DocumentSimilarScore float64
}

// PotentialRecipient is the transient evaluation state for one candidate
// recipient during an investigation.
type PotentialRecipient struct {
	AgentID     uuid.UUID
	SimilarDocs map[uuid.UUID]SimilarDocumentSource
	Score       float64
	IsEligible  bool
}

// NewPotentialRecipient creates an empty PotentialRecipient for agentID.
func NewPotentialRecipient(agentID uuid.UUID) *PotentialRecipient {
	return &PotentialRecipient{
		AgentID:     agentID,
		SimilarDocs: make(map[uuid.UUID]SimilarDocumentSource),
	}
}

// AddSimilarDoc records a contributing similar document and its score,
// keeping the highest score seen for any given document.
func (p *PotentialRecipient) AddSimilarDoc(documentID uuid.UUID, score float64) {
	if existing, ok := p.SimilarDocs[documentID]; ok && existing.DocumentSimilarScore >= score {
		return
	}
	p.SimilarDocs[documentID] = SimilarDocumentSource{DocumentID: documentID, DocumentSimilarScore: score}
}
