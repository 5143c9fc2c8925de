package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/model"
)

func TestCanTransition_Table(t *testing.T) {
	cases := []struct {
		from          model.ProcessStatus
		to            model.ProcessStatus
		allowRecovery bool
		want          bool
	}{
		{model.StatusPending, model.StatusInProgress, false, true},
		{model.StatusPending, model.StatusCancelled, false, true},
		{model.StatusPending, model.StatusCompleted, false, false},
		{model.StatusInProgress, model.StatusCompleted, false, true},
		{model.StatusInProgress, model.StatusFailed, false, true},
		{model.StatusInProgress, model.StatusTimeout, false, true},
		{model.StatusFailed, model.StatusPending, false, false},
		{model.StatusFailed, model.StatusPending, true, true},
		{model.StatusTimeout, model.StatusPending, true, true},
		{model.StatusCompleted, model.StatusPending, true, false},
		{model.StatusCancelled, model.StatusInProgress, false, false},
	}
	for _, c := range cases {
		got := CanTransition(c.from, c.to, c.allowRecovery)
		if got != c.want {
			t.Errorf("CanTransition(%s, %s, %v) = %v, want %v", c.from, c.to, c.allowRecovery, got, c.want)
		}
	}
}

func TestRouteStateMachine_Start_SetsStartedAt(t *testing.T) {
	store := newFakeRouteStore()
	id := uuid.New()
	store.add(model.Route{ID: id, Status: model.StatusPending})

	sm := NewRouteStateMachine(store)
	route, err := sm.Start(context.Background(), id, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if route.Status != model.StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", route.Status)
	}
	if route.StartedAt == nil {
		t.Fatal("StartedAt must be set on transition to IN_PROGRESS")
	}
	if route.CompletedAt != nil {
		t.Fatal("CompletedAt must be cleared on transition to IN_PROGRESS")
	}
}

func TestRouteStateMachine_Complete_SetsCompletedAt(t *testing.T) {
	store := newFakeRouteStore()
	id := uuid.New()
	started := time.Now().UTC()
	store.add(model.Route{ID: id, Status: model.StatusInProgress, StartedAt: &started})

	sm := NewRouteStateMachine(store)
	route, err := sm.Complete(context.Background(), id)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if route.CompletedAt == nil {
		t.Fatal("CompletedAt must be set on terminal transition")
	}
}

func TestRouteStateMachine_IllegalTransition_Fails(t *testing.T) {
	store := newFakeRouteStore()
	id := uuid.New()
	store.add(model.Route{ID: id, Status: model.StatusCompleted})

	sm := NewRouteStateMachine(store)
	if _, err := sm.Start(context.Background(), id, false); err == nil {
		t.Fatal("expected error transitioning a terminal route")
	}
}

// TestRouteStateMachine_ConcurrentStart_ExactlyOneWins exercises invariant 2
// (at-most-one investigation) and scenario S4: two concurrent Start calls on
// the same PENDING route must yield exactly one success.
func TestRouteStateMachine_ConcurrentStart_ExactlyOneWins(t *testing.T) {
	store := newFakeRouteStore()
	id := uuid.New()
	store.add(model.Route{ID: id, Status: model.StatusPending})
	sm := NewRouteStateMachine(store)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := sm.Start(context.Background(), id, false)
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range successes {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}
}
