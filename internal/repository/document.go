package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/docroute/internal/model"
	"github.com/connexus-ai/docroute/internal/service"
)

// DocumentRepo implements service.DocumentStore with pgx.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

var _ service.DocumentStore = (*DocumentRepo)(nil)

// Add inserts a new Document. Documents are immutable after admission.
func (r *DocumentRepo) Add(ctx context.Context, doc model.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, name, storage_ref, content_type, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.Name, doc.StorageRef, doc.ContentType, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.DocumentRepo.Add: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Document, error) {
	docs, err := r.GetByIDs(ctx, []uuid.UUID{id})
	if err != nil {
		return model.Document{}, err
	}
	if len(docs) == 0 {
		return model.Document{}, model.NewNotFound("document %s not found", id)
	}
	return docs[0], nil
}

// GetByIDs loads Document rows by id, in no particular order; callers that
// need input order preserved must re-key by id.
func (r *DocumentRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, storage_ref, content_type, created_at
		FROM documents
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, wrapDBError("repository.DocumentRepo.GetByIDs", err)
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.Name, &d.StorageRef, &d.ContentType, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.DocumentRepo.GetByIDs: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.DocumentRepo.GetByIDs: %w", err)
	}
	return out, nil
}
