package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/docroute/internal/model"
	"github.com/connexus-ai/docroute/internal/service"
)

// AgentRepo implements service.AgentStore against the agents table.
type AgentRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

var _ service.AgentStore = (*AgentRepo)(nil)

// ExistingRecipientsForSender returns the agents already known to have
// received documentID from senderID via a prior, non-hidden forwarded — the
// "known recipients" consulted during candidate assembly (spec.md §4.6
// step 7).
func (r *AgentRepo) ExistingRecipientsForSender(ctx context.Context, senderID, documentID uuid.UUID) ([]model.Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT a.id, a.name, a.description, a.embedding, a.is_active, a.is_default_recipient, a.created_at
		FROM agents a
		JOIN forwarded f ON f.recipient_id = a.id
		WHERE f.sender_id = $1 AND f.document_id = $2 AND f.is_hidden = false AND a.is_active = true`,
		senderID, documentID)
	if err != nil {
		return nil, wrapDBError("repository.AgentRepo.ExistingRecipientsForSender", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// DefaultRecipients returns the active agents configured as the
// fallback-routing set, used by the Investigator's default-recipient
// fallback (spec.md §4.6 step 6).
func (r *AgentRepo) DefaultRecipients(ctx context.Context) ([]model.Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, embedding, is_active, is_default_recipient, created_at
		FROM agents
		WHERE is_default_recipient = true AND is_active = true`)
	if err != nil {
		return nil, wrapDBError("repository.AgentRepo.DefaultRecipients", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

type agentRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAgents(rows agentRows) ([]model.Agent, error) {
	var out []model.Agent
	for rows.Next() {
		var a model.Agent
		var embedding *pgvector.Vector
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &embedding, &a.IsActive, &a.IsDefaultRecipient, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scanning agent: %w", err)
		}
		if embedding != nil {
			a.Embedding = embedding.Slice()
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	return out, nil
}
