package repository

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/connexus-ai/docroute/internal/model"
)

// transientSQLStates are Postgres error classes the InvestigationConsumer
// should retry rather than dead-letter: connection loss, the two
// concurrency errors a CAS-heavy schema like this one can legitimately hit
// under load (serialization failure, deadlock), connection exhaustion
// (too_many_connections) and cancelled queries (query_canceled).
var transientSQLStates = map[string]bool{
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57014": true, // query_canceled
}

// wrapDBError classifies a lower-level pgx/network error into a
// model.DomainError so the InvestigationConsumer's retry-vs-dead-letter
// policy (spec.md §4.7) can act on it. Anything not recognized as
// transient falls through as a fatal, non-retryable wrapped error.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && transientSQLStates[pgErr.Code] {
		return model.NewTransient(err, "%s", op)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.NewTransient(err, "%s", op)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTransient(err, "%s", op)
	}

	return model.NewFatal(err, "%s", op)
}
