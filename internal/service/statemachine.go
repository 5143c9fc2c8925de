package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/model"
)

// allowedTransitions is the table from spec.md §4.5. A status absent as a
// key has no outgoing transitions (terminal).
var allowedTransitions = map[model.ProcessStatus][]model.ProcessStatus{
	model.StatusPending:    {model.StatusInProgress, model.StatusCancelled},
	model.StatusInProgress: {model.StatusCompleted, model.StatusFailed, model.StatusTimeout, model.StatusCancelled},
}

// recoveryTransitions lists the statuses that may re-enter PENDING, and
// only when the caller explicitly sets allowRecovery.
var recoveryTransitions = map[model.ProcessStatus]bool{
	model.StatusFailed:  true,
	model.StatusTimeout: true,
}

// RouteStateMachine owns Route lifecycle transitions and their persistence.
// Every transition is a single precondition-checked UPDATE so two concurrent
// callers racing the same route can never both win.
type RouteStateMachine struct {
	routes RouteStore
}

func NewRouteStateMachine(routes RouteStore) *RouteStateMachine {
	return &RouteStateMachine{routes: routes}
}

// CanTransition reports whether from -> to is legal, honoring allowRecovery
// for the FAILED/TIMEOUT -> PENDING recovery transitions.
func CanTransition(from, to model.ProcessStatus, allowRecovery bool) bool {
	if to == model.StatusPending && recoveryTransitions[from] {
		return allowRecovery
	}
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Transition attempts to move route id from one of the states in from to
// to. It delegates the precondition check to the store's atomic UPDATE and
// returns model.KindOperationNotAllowed if the route was not in an expected
// state by the time the UPDATE ran (lost race, or illegal transition).
func (m *RouteStateMachine) Transition(ctx context.Context, id uuid.UUID, from []model.ProcessStatus, to model.ProcessStatus) (model.Route, error) {
	return m.routes.UpdateStatus(ctx, id, from, to)
}

// Start moves a PENDING route to IN_PROGRESS. With allowRecovery, a FAILED
// or TIMEOUT route is first moved back to PENDING (via Recover) and then
// started, so every step follows the transition table.
func (m *RouteStateMachine) Start(ctx context.Context, id uuid.UUID, allowRecovery bool) (model.Route, error) {
	if allowRecovery {
		route, err := m.routes.Get(ctx, id)
		if err != nil {
			return model.Route{}, err
		}
		if recoveryTransitions[route.Status] {
			if _, err := m.Recover(ctx, id); err != nil {
				return model.Route{}, err
			}
		}
	}
	return m.Transition(ctx, id, []model.ProcessStatus{model.StatusPending}, model.StatusInProgress)
}

// Recover moves a FAILED or TIMEOUT route back to PENDING. Callers must
// gate this on allow_recovery themselves, per spec.md §4.6 step 2.
func (m *RouteStateMachine) Recover(ctx context.Context, id uuid.UUID) (model.Route, error) {
	return m.Transition(ctx, id, []model.ProcessStatus{model.StatusFailed, model.StatusTimeout}, model.StatusPending)
}

// Complete moves an IN_PROGRESS route to COMPLETED.
func (m *RouteStateMachine) Complete(ctx context.Context, id uuid.UUID) (model.Route, error) {
	return m.Transition(ctx, id, []model.ProcessStatus{model.StatusInProgress}, model.StatusCompleted)
}

// Fail moves an IN_PROGRESS route to FAILED.
func (m *RouteStateMachine) Fail(ctx context.Context, id uuid.UUID) (model.Route, error) {
	return m.Transition(ctx, id, []model.ProcessStatus{model.StatusInProgress}, model.StatusFailed)
}
