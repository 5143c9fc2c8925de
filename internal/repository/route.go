package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/docroute/internal/model"
	"github.com/connexus-ai/docroute/internal/service"
)

// RouteRepo implements service.RouteStore. Every status transition is a
// single precondition-checked UPDATE, so two concurrent callers racing the
// same route can never both win (spec.md §4.5, §5).
type RouteRepo struct {
	pool *pgxpool.Pool
}

func NewRouteRepo(pool *pgxpool.Pool) *RouteRepo {
	return &RouteRepo{pool: pool}
}

var _ service.RouteStore = (*RouteRepo)(nil)

func (r *RouteRepo) Get(ctx context.Context, id uuid.UUID) (model.Route, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, document_id, sender_id, status, started_at, completed_at, created_at
		FROM routes WHERE id = $1`, id)
	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Route{}, model.NewNotFound("route %s not found", id)
		}
		return model.Route{}, wrapDBError("repository.RouteRepo.Get", err)
	}
	return route, nil
}

func (r *RouteRepo) Add(ctx context.Context, route model.Route) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO routes (id, document_id, sender_id, status, started_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		route.ID, route.DocumentID, route.SenderID, string(route.Status), route.StartedAt, route.CompletedAt, route.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.RouteRepo.Add: %w", err)
	}
	return nil
}

// UpdateStatus performs the atomic transition: UPDATE ... WHERE id=$2 AND
// status = ANY($3) (the expectedFrom statuses) RETURNING the full row. Zero rows affected means the
// precondition failed — either an illegal transition or a lost race.
func (r *RouteRepo) UpdateStatus(ctx context.Context, id uuid.UUID, expectedFrom []model.ProcessStatus, to model.ProcessStatus) (model.Route, error) {
	expected := make([]string, len(expectedFrom))
	for i, s := range expectedFrom {
		expected[i] = string(s)
	}

	var startedAtExpr, completedAtExpr string
	switch {
	case to == model.StatusInProgress:
		startedAtExpr, completedAtExpr = "now()", "NULL"
	case to == model.StatusPending:
		startedAtExpr, completedAtExpr = "NULL", "NULL"
	case to.IsTerminal():
		startedAtExpr, completedAtExpr = "started_at", "now()"
	default:
		startedAtExpr, completedAtExpr = "started_at", "completed_at"
	}

	query := fmt.Sprintf(`
		UPDATE routes
		SET status = $1, started_at = %s, completed_at = %s
		WHERE id = $2 AND status = ANY($3)
		RETURNING id, document_id, sender_id, status, started_at, completed_at, created_at`,
		startedAtExpr, completedAtExpr)

	row := r.pool.QueryRow(ctx, query, string(to), id, expected)
	route, err := scanRoute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Route{}, model.NewOperationNotAllowed("route %s is not in an expected state for transition to %s", id, to)
		}
		return model.Route{}, wrapDBError("repository.RouteRepo.UpdateStatus", err)
	}
	return route, nil
}

// TimeoutStale atomically transitions every IN_PROGRESS route older than
// olderThanSeconds to TIMEOUT, used by the StaleWatchdog sweep.
func (r *RouteRepo) TimeoutStale(ctx context.Context, olderThanSeconds int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE routes
		SET status = 'timeout', completed_at = now()
		WHERE status = 'in_progress'
		  AND started_at < now() - ($1 * interval '1 second')
		RETURNING id`, olderThanSeconds)
	if err != nil {
		return nil, fmt.Errorf("repository.RouteRepo.TimeoutStale: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository.RouteRepo.TimeoutStale: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.RouteRepo.TimeoutStale: %w", err)
	}
	return ids, nil
}

// LockAdvisory acquires a Postgres session-level advisory lock keyed by
// hashtext(key), holding it on a single checked-out connection for the
// lifetime of the returned release func. Callers must invoke the release
// func exactly once; failing to do so leaks a pooled connection until it
// is closed.
func (r *RouteRepo) LockAdvisory(ctx context.Context, key string) (func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository.RouteRepo.LockAdvisory: acquire: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("repository.RouteRepo.LockAdvisory: %w", err)
	}
	return func() {
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			// The lock may still be held on this session. Closing the
			// underlying connection rather than releasing it back to the
			// pool guarantees it can't be handed to a future caller still
			// holding this route's lock.
			conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoute(row rowScanner) (model.Route, error) {
	var rt model.Route
	var status string
	if err := row.Scan(&rt.ID, &rt.DocumentID, &rt.SenderID, &status, &rt.StartedAt, &rt.CompletedAt, &rt.CreatedAt); err != nil {
		return model.Route{}, err
	}
	rt.Status = model.ProcessStatus(status)
	return rt, nil
}
