package repository

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/docroute/internal/model"
	"github.com/connexus-ai/docroute/internal/service"
)

// ChunkRepo implements service.ChunkStore against document_chunks.
type ChunkRepo struct {
	pool *pgxpool.Pool
}

func NewChunkRepo(pool *pgxpool.Pool) *ChunkRepo {
	return &ChunkRepo{pool: pool}
}

var _ service.ChunkStore = (*ChunkRepo)(nil)

// Insert appends chunk; the caller maintains parent_id chain order.
func (r *ChunkRepo) Insert(ctx context.Context, chunk model.DocumentChunk) error {
	embedding := pgvector.NewVector(chunk.Embedding)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO document_chunks (id, document_id, parent_id, content, content_hash, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		chunk.ID, chunk.DocumentID, chunk.ParentID, chunk.Content, chunk.ContentHash[:], embedding, chunk.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.ChunkRepo.Insert: %w", err)
	}
	return nil
}

// ListByDocument returns a document's chunks in head-to-tail order by
// walking the parent_id chain in Go, after a single unordered fetch. Fails
// with model.KindNotFound if the document has no head chunk.
func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]model.DocumentChunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, parent_id, content, content_hash, embedding, created_at
		FROM document_chunks
		WHERE document_id = $1`, documentID)
	if err != nil {
		return nil, wrapDBError("repository.ChunkRepo.ListByDocument", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]model.DocumentChunk)
	childByParent := make(map[uuid.UUID]uuid.UUID)
	var headID *uuid.UUID

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("repository.ChunkRepo.ListByDocument: %w", err)
		}
		byID[c.ID] = c
		if c.IsHead() {
			id := c.ID
			headID = &id
		} else {
			childByParent[*c.ParentID] = c.ID
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.ChunkRepo.ListByDocument: %w", err)
	}
	if headID == nil {
		return nil, model.NewNotFound("document %s has no head chunk", documentID)
	}

	ordered := make([]model.DocumentChunk, 0, len(byID))
	cur := *headID
	for {
		c := byID[cur]
		ordered = append(ordered, c)
		next, ok := childByParent[cur]
		if !ok {
			break
		}
		cur = next
	}
	return ordered, nil
}

// Search answers a nearest-neighbor query over document_chunks, applying
// the scope filters from service.ChunkSearchFilters and the optional
// scoreThreshold.
func (r *ChunkRepo) Search(ctx context.Context, queryVector []float32, k int, metric service.DistanceMetric, filters service.ChunkSearchFilters, scoreThreshold *float64) ([]service.ScoredChunk, error) {
	selectExpr, ascending := metricSQL(metric)

	embedding := pgvector.NewVector(queryVector)
	args := []any{embedding}
	where := []string{"1=1"}

	if len(filters.ExcludeDocumentIDs) > 0 {
		args = append(args, filters.ExcludeDocumentIDs)
		where = append(where, fmt.Sprintf("dc.document_id != ALL($%d)", len(args)))
	}
	if filters.SenderID != nil || filters.IsValid != nil || filters.IsHidden != nil {
		joinExprs := []string{"f.document_id = dc.document_id"}
		if filters.SenderID != nil {
			args = append(args, *filters.SenderID)
			joinExprs = append(joinExprs, fmt.Sprintf("f.sender_id = $%d", len(args)))
		}
		if filters.IsValid != nil {
			args = append(args, *filters.IsValid)
			joinExprs = append(joinExprs, fmt.Sprintf("f.is_valid = $%d", len(args)))
		}
		if filters.IsHidden != nil {
			args = append(args, *filters.IsHidden)
			joinExprs = append(joinExprs, fmt.Sprintf("f.is_hidden = $%d", len(args)))
		}
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM forwarded f WHERE %s)", joinStrings(joinExprs, " AND ")))
	}
	if scoreThreshold != nil {
		args = append(args, *scoreThreshold)
		if metric == service.MetricInner {
			where = append(where, fmt.Sprintf("(%s) >= $%d", selectExpr, len(args)))
		} else {
			where = append(where, fmt.Sprintf("(%s) <= $%d", selectExpr, len(args)))
		}
	}

	args = append(args, k)
	order := "ASC"
	if !ascending {
		order = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT dc.id, dc.document_id, dc.parent_id, dc.content, dc.content_hash, dc.embedding, dc.created_at,
			(%s) AS raw_score
		FROM document_chunks dc
		WHERE %s
		ORDER BY (%s) %s
		LIMIT $%d`, selectExpr, joinStrings(where, " AND "), selectExpr, order, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("repository.ChunkRepo.Search", err)
	}
	defer rows.Close()

	var out []service.ScoredChunk
	for rows.Next() {
		var chunk model.DocumentChunk
		var score float64
		var hashBytes []byte
		var embedding pgvector.Vector
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ParentID, &chunk.Content, &hashBytes, &embedding, &chunk.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("repository.ChunkRepo.Search: scan: %w", err)
		}
		chunk.Embedding = embedding.Slice()
		copy(chunk.ContentHash[:], hashBytes)
		out = append(out, service.ScoredChunk{Chunk: chunk, RawScore: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.ChunkRepo.Search: %w", err)
	}
	return out, nil
}

// metricSQL returns the SQL score expression against the bound query
// vector $1, and whether the metric's natural order is ascending
// (lower-is-better: cosine and l2 distance; inner product is descending).
func metricSQL(metric service.DistanceMetric) (selectExpr string, ascending bool) {
	switch metric {
	case service.MetricInner:
		return "dc.embedding <#> $1", false
	case service.MetricL2:
		return "dc.embedding <-> $1", true
	default:
		return "dc.embedding <=> $1", true
	}
}

func joinStrings(parts []string, sep string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += sep + p
	}
	return out
}

func scanChunk(rows pgx.Rows) (model.DocumentChunk, error) {
	var c model.DocumentChunk
	var hashBytes []byte
	var embedding pgvector.Vector
	if err := rows.Scan(&c.ID, &c.DocumentID, &c.ParentID, &c.Content, &hashBytes, &embedding, &c.CreatedAt); err != nil {
		return model.DocumentChunk{}, err
	}
	c.Embedding = embedding.Slice()
	copy(c.ContentHash[:], hashBytes)
	return c, nil
}

// ContentHash computes the stable content fingerprint used by
// EmbeddingCache keys and DocumentChunk.ContentHash.
func ContentHash(content string) [32]byte {
	return sha256.Sum256([]byte(content))
}
