package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/docroute/internal/model"
	"github.com/connexus-ai/docroute/internal/service"
)

// ForwardedRepo implements service.ForwardedStore against the forwarded
// table.
type ForwardedRepo struct {
	pool *pgxpool.Pool
}

func NewForwardedRepo(pool *pgxpool.Pool) *ForwardedRepo {
	return &ForwardedRepo{pool: pool}
}

var _ service.ForwardedStore = (*ForwardedRepo)(nil)

func (r *ForwardedRepo) AddMany(ctx context.Context, forwards []model.Forwarded) error {
	if len(forwards) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range forwards {
		batch.Queue(`
			INSERT INTO forwarded (id, document_id, sender_id, recipient_id, route_id, purpose, is_valid, is_hidden, score, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			f.ID, f.DocumentID, f.SenderID, f.RecipientID, f.RouteID, f.Purpose, f.IsValid, f.IsHidden, f.Score, f.CreatedAt,
		)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < len(forwards); i++ {
		if _, err := br.Exec(); err != nil {
			return wrapDBError(fmt.Sprintf("repository.ForwardedRepo.AddMany: forwarded %d", i), err)
		}
	}
	return nil
}

func (r *ForwardedRepo) GetByDocumentID(ctx context.Context, documentID uuid.UUID, senderID *uuid.UUID) ([]model.Forwarded, error) {
	query := `
		SELECT id, document_id, sender_id, recipient_id, route_id, purpose, is_valid, is_hidden, score, created_at
		FROM forwarded WHERE document_id = $1`
	args := []any{documentID}
	if senderID != nil {
		query += " AND sender_id = $2"
		args = append(args, *senderID)
	}
	return r.queryForwarded(ctx, query, args...)
}

func (r *ForwardedRepo) GetByRouteID(ctx context.Context, routeID uuid.UUID) ([]model.Forwarded, error) {
	return r.queryForwarded(ctx, `
		SELECT id, document_id, sender_id, recipient_id, route_id, purpose, is_valid, is_hidden, score, created_at
		FROM forwarded WHERE route_id = $1`, routeID)
}

// RecipientStatsForSender counts distinct valid, non-hidden forwardeds from
// sender to each recipient, feeding the CandidateEvaluator's collaborative
// signal.
func (r *ForwardedRepo) RecipientStatsForSender(ctx context.Context, senderID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT recipient_id, count(*)
		FROM forwarded
		WHERE sender_id = $1 AND is_valid = true AND is_hidden = false
		GROUP BY recipient_id`, senderID)
	if err != nil {
		return nil, wrapDBError("repository.ForwardedRepo.RecipientStatsForSender", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var recipient uuid.UUID
		var count int
		if err := rows.Scan(&recipient, &count); err != nil {
			return nil, fmt.Errorf("repository.ForwardedRepo.RecipientStatsForSender: scan: %w", err)
		}
		counts[recipient] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.ForwardedRepo.RecipientStatsForSender: %w", err)
	}
	return counts, nil
}

// SearchFilters is the supplemented, paginated multi-filter query surface
// (adapted from the original implementation's forwarded-repository search,
// not part of the core's real-time path but used by reporting/admin
// collaborators).
type SearchFilters struct {
	SenderID    *uuid.UUID
	RecipientID *uuid.UUID
	DocumentID  *uuid.UUID
	IsValid     *bool
	IsHidden    *bool
	Limit       int
	Offset      int
}

// Search answers a paginated, multi-filter query over forwarded records.
func (r *ForwardedRepo) Search(ctx context.Context, f SearchFilters) ([]model.Forwarded, error) {
	where := []string{"1=1"}
	args := []any{}

	addFilter := func(expr string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(expr, len(args)))
	}
	if f.SenderID != nil {
		addFilter("sender_id = $%d", *f.SenderID)
	}
	if f.RecipientID != nil {
		addFilter("recipient_id = $%d", *f.RecipientID)
	}
	if f.DocumentID != nil {
		addFilter("document_id = $%d", *f.DocumentID)
	}
	if f.IsValid != nil {
		addFilter("is_valid = $%d", *f.IsValid)
	}
	if f.IsHidden != nil {
		addFilter("is_hidden = $%d", *f.IsHidden)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT id, document_id, sender_id, recipient_id, route_id, purpose, is_valid, is_hidden, score, created_at
		FROM forwarded
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, joinStrings(where, " AND "), len(args)-1, len(args))

	return r.queryForwarded(ctx, query, args...)
}

func (r *ForwardedRepo) queryForwarded(ctx context.Context, query string, args ...any) ([]model.Forwarded, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("repository.ForwardedRepo: query", err)
	}
	defer rows.Close()

	var out []model.Forwarded
	for rows.Next() {
		var f model.Forwarded
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.SenderID, &f.RecipientID, &f.RouteID, &f.Purpose, &f.IsValid, &f.IsHidden, &f.Score, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.ForwardedRepo: scan: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.ForwardedRepo: %w", err)
	}
	return out, nil
}
