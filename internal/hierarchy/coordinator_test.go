package hierarchy_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"navi/internal/hierarchy"
	"navi/internal/session/memorystore"
)

// eventRecorder captures emitted events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []hierarchy.Event
}

func (r *eventRecorder) OnEvent(event hierarchy.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) typesFor(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, e := range r.events {
		if e.SessionID() == sessionID {
			types = append(types, e.EventType())
		}
	}
	return types
}

type testStack struct {
	store       *memorystore.Store
	resolver    *hierarchy.Resolver
	coordinator *hierarchy.Coordinator
	recorder    *eventRecorder
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	store := memorystore.New()
	resolver := hierarchy.NewResolver(store, 0, nil)
	recorder := &eventRecorder{}
	notifier := hierarchy.NewNotifier(nil)
	notifier.Attach(recorder)
	return &testStack{
		store:       store,
		resolver:    resolver,
		coordinator: hierarchy.NewCoordinator(store, resolver, notifier),
		recorder:    recorder,
	}
}

func (ts *testStack) mustRoot(t *testing.T) *hierarchy.Session {
	t.Helper()
	root, err := ts.coordinator.CreateRoot(context.Background(), hierarchy.RootConfig{Task: "build the feature"})
	require.NoError(t, err)
	return root
}

func (ts *testStack) mustSpawn(t *testing.T, parentID, role string) *hierarchy.Session {
	t.Helper()
	child, err := ts.coordinator.SpawnChild(context.Background(), parentID, hierarchy.SpawnConfig{
		Role: role,
		Task: "subtask for " + role,
	})
	require.NoError(t, err)
	return child
}

func TestCreateRoot(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)

	require.Equal(t, root.ID, root.RootSessionID)
	require.Empty(t, root.ParentSessionID)
	require.Zero(t, root.Depth)
	require.Equal(t, hierarchy.StatusWorking, root.AgentStatus)
	require.Equal(t, []string{"session_spawned"}, ts.recorder.typesFor(root.ID))

	_, err := ts.coordinator.CreateRoot(context.Background(), hierarchy.RootConfig{})
	require.Error(t, err)
}

func TestSpawnChild(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	child := ts.mustSpawn(t, root.ID, "researcher")

	require.Equal(t, root.ID, child.ParentSessionID)
	require.Equal(t, root.ID, child.RootSessionID)
	require.Equal(t, 1, child.Depth)
	require.Equal(t, hierarchy.StatusWorking, child.AgentStatus)

	grandchild := ts.mustSpawn(t, child.ID, "implementer")
	require.Equal(t, root.ID, grandchild.RootSessionID)
	require.Equal(t, 2, grandchild.Depth)
}

func TestSpawnChildDepthLimit(t *testing.T) {
	store := memorystore.New()
	resolver := hierarchy.NewResolver(store, 2, nil)
	coordinator := hierarchy.NewCoordinator(store, resolver, nil)
	ctx := context.Background()

	root, err := coordinator.CreateRoot(ctx, hierarchy.RootConfig{Task: "root"})
	require.NoError(t, err)
	child, err := coordinator.SpawnChild(ctx, root.ID, hierarchy.SpawnConfig{Task: "level 1"})
	require.NoError(t, err)
	grandchild, err := coordinator.SpawnChild(ctx, child.ID, hierarchy.SpawnConfig{Task: "level 2"})
	require.NoError(t, err)

	_, err = coordinator.SpawnChild(ctx, grandchild.ID, hierarchy.SpawnConfig{Task: "level 3"})
	require.ErrorIs(t, err, hierarchy.ErrSpawnNotAllowed)
}

func TestSpawnChildBlockedParent(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	child := ts.mustSpawn(t, root.ID, "researcher")

	_, err := ts.coordinator.Escalate(context.Background(), child.ID, hierarchy.EscalationRequest{
		Type:    hierarchy.EscalationQuestion,
		Summary: "which database?",
	})
	require.NoError(t, err)

	_, err = ts.coordinator.SpawnChild(context.Background(), child.ID, hierarchy.SpawnConfig{Task: "nested"})
	require.ErrorIs(t, err, hierarchy.ErrSpawnNotAllowed)
}

func TestEscalateAndResolve(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	child := ts.mustSpawn(t, root.ID, "researcher")
	ctx := context.Background()

	blocked, err := ts.coordinator.Escalate(ctx, child.ID, hierarchy.EscalationRequest{
		Type:    hierarchy.EscalationDecisionNeeded,
		Summary: "pick a queue",
		Options: []string{"kafka", "nats"},
	})
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusBlocked, blocked.AgentStatus)
	require.NotNil(t, blocked.Escalation)

	// No stacking: a second escalation while one is pending must fail.
	_, err = ts.coordinator.Escalate(ctx, child.ID, hierarchy.EscalationRequest{
		Type:    hierarchy.EscalationQuestion,
		Summary: "another question",
	})
	require.ErrorIs(t, err, hierarchy.ErrAlreadyEscalated)

	resolved, err := ts.coordinator.ResolveEscalation(ctx, child.ID, hierarchy.Resolution{
		Action:  hierarchy.ActionDecide,
		Content: "nats",
	})
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusWorking, resolved.AgentStatus)
	require.Nil(t, resolved.Escalation)

	// Resolving again is an invalid transition, not a silent no-op.
	_, err = ts.coordinator.ResolveEscalation(ctx, child.ID, hierarchy.Resolution{Action: hierarchy.ActionAnswer})
	require.ErrorIs(t, err, hierarchy.ErrInvalidTransition)
}

func TestEscalateFromTerminal(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	ctx := context.Background()

	_, err := ts.coordinator.Deliver(ctx, root.ID, hierarchy.Deliverable{
		Type:    hierarchy.DeliverableResearch,
		Summary: "done",
	})
	require.NoError(t, err)

	_, err = ts.coordinator.Escalate(ctx, root.ID, hierarchy.EscalationRequest{
		Type:    hierarchy.EscalationQuestion,
		Summary: "too late",
	})
	require.ErrorIs(t, err, hierarchy.ErrInvalidTransition)
}

func TestResolveAbort(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	child := ts.mustSpawn(t, root.ID, "researcher")
	ctx := context.Background()

	_, err := ts.coordinator.Escalate(ctx, child.ID, hierarchy.EscalationRequest{
		Type:    hierarchy.EscalationBlocker,
		Summary: "credentials missing",
	})
	require.NoError(t, err)

	failed, err := ts.coordinator.ResolveEscalation(ctx, child.ID, hierarchy.Resolution{
		Action:  hierarchy.ActionAbort,
		Content: "not worth pursuing",
	})
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusFailed, failed.AgentStatus)
	require.Nil(t, failed.Escalation)
	require.NotNil(t, failed.Deliverable)
	require.Equal(t, hierarchy.DeliverableError, failed.Deliverable.Type)
	require.Contains(t, failed.Deliverable.Summary, "credentials missing")
	require.NotNil(t, failed.DeliveredAt)
}

func TestEscalateFurther(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	mid := ts.mustSpawn(t, root.ID, "coordinator")
	leaf := ts.mustSpawn(t, mid.ID, "researcher")
	ctx := context.Background()

	_, err := ts.coordinator.Escalate(ctx, leaf.ID, hierarchy.EscalationRequest{
		Type:    hierarchy.EscalationPermission,
		Summary: "may I delete the index?",
	})
	require.NoError(t, err)

	// mid forwards: the nearest live ancestor (mid itself is the resolver's
	// parent, so the forward lands on it) becomes blocked.
	forwarded, err := ts.coordinator.ResolveEscalation(ctx, leaf.ID, hierarchy.Resolution{
		Action: hierarchy.ActionEscalateFurther,
	})
	require.NoError(t, err)
	require.Equal(t, mid.ID, forwarded.ID)
	require.Equal(t, hierarchy.StatusBlocked, forwarded.AgentStatus)
	require.NotNil(t, forwarded.Escalation)
	require.Contains(t, forwarded.Escalation.Summary, "escalated from researcher")

	// The original stays blocked with its escalation intact.
	still, err := ts.resolver.Session(ctx, leaf.ID)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusBlocked, still.AgentStatus)
	require.NotNil(t, still.Escalation)

	// Forwarding again skips the blocked mid and lands on the root.
	atRoot, err := ts.coordinator.ResolveEscalation(ctx, leaf.ID, hierarchy.Resolution{
		Action: hierarchy.ActionEscalateFurther,
	})
	require.NoError(t, err)
	require.Equal(t, root.ID, atRoot.ID)
	require.Equal(t, hierarchy.StatusBlocked, atRoot.AgentStatus)
}

func TestEscalateFurtherAtRoot(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	ctx := context.Background()

	_, err := ts.coordinator.Escalate(ctx, root.ID, hierarchy.EscalationRequest{
		Type:    hierarchy.EscalationQuestion,
		Summary: "stuck at the top",
	})
	require.NoError(t, err)

	_, err = ts.coordinator.ResolveEscalation(ctx, root.ID, hierarchy.Resolution{
		Action: hierarchy.ActionEscalateFurther,
	})
	require.ErrorIs(t, err, hierarchy.ErrNoParentToEscalateTo)
}

func TestDeliver(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	child := ts.mustSpawn(t, root.ID, "implementer")
	ctx := context.Background()

	delivered, err := ts.coordinator.Deliver(ctx, child.ID, hierarchy.Deliverable{
		Type:      hierarchy.DeliverableCode,
		Summary:   "implemented the parser",
		Artifacts: []string{"internal/parser/parser.go"},
	})
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusDelivered, delivered.AgentStatus)
	require.NotNil(t, delivered.DeliveredAt)

	// Write-once: the stored deliverable must survive a second attempt.
	_, err = ts.coordinator.Deliver(ctx, child.ID, hierarchy.Deliverable{
		Type:    hierarchy.DeliverableCode,
		Summary: "overwrite attempt",
	})
	require.ErrorIs(t, err, hierarchy.ErrAlreadyDelivered)

	current, err := ts.resolver.Session(ctx, child.ID)
	require.NoError(t, err)
	require.Equal(t, "implemented the parser", current.Deliverable.Summary)
}

func TestDeliverErrorTypeFails(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)

	failed, err := ts.coordinator.Deliver(context.Background(), root.ID, hierarchy.Deliverable{
		Type:    hierarchy.DeliverableError,
		Summary: "could not complete",
	})
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusFailed, failed.AgentStatus)
}

func TestDeliverWhileBlockedClearsEscalation(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	ctx := context.Background()

	_, err := ts.coordinator.Escalate(ctx, root.ID, hierarchy.EscalationRequest{
		Type:    hierarchy.EscalationQuestion,
		Summary: "unanswered",
	})
	require.NoError(t, err)

	delivered, err := ts.coordinator.Deliver(ctx, root.ID, hierarchy.Deliverable{
		Type:    hierarchy.DeliverableResearch,
		Summary: "partial result",
	})
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusDelivered, delivered.AgentStatus)
	require.Nil(t, delivered.Escalation)
}

func TestPauseResume(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	ctx := context.Background()

	waiting, err := ts.coordinator.Pause(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusWaiting, waiting.AgentStatus)

	_, err = ts.coordinator.Pause(ctx, root.ID)
	require.ErrorIs(t, err, hierarchy.ErrInvalidTransition)

	working, err := ts.coordinator.Resume(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusWorking, working.AgentStatus)
}

func TestArchiveCascade(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	mid := ts.mustSpawn(t, root.ID, "coordinator")
	leafA := ts.mustSpawn(t, mid.ID, "researcher")
	leafB := ts.mustSpawn(t, mid.ID, "implementer")
	ctx := context.Background()

	// One leaf already terminal; cascade must still archive it.
	_, err := ts.coordinator.Deliver(ctx, leafA.ID, hierarchy.Deliverable{
		Type:    hierarchy.DeliverableResearch,
		Summary: "findings",
	})
	require.NoError(t, err)

	require.NoError(t, ts.coordinator.Archive(ctx, root.ID, true))

	for _, id := range []string{root.ID, mid.ID, leafA.ID, leafB.ID} {
		s, err := ts.resolver.Session(ctx, id)
		require.NoError(t, err)
		require.Equal(t, hierarchy.StatusArchived, s.AgentStatus, "session %s", id)
		require.NotNil(t, s.ArchivedAt)
	}

	// Archiving an archived session fails.
	err = ts.coordinator.Archive(ctx, root.ID, true)
	require.ErrorIs(t, err, hierarchy.ErrInvalidTransition)
}

func TestArchiveNoCascade(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	child := ts.mustSpawn(t, root.ID, "researcher")
	ctx := context.Background()

	_, err := ts.coordinator.Deliver(ctx, child.ID, hierarchy.Deliverable{
		Type:    hierarchy.DeliverableResearch,
		Summary: "findings",
	})
	require.NoError(t, err)
	require.NoError(t, ts.coordinator.Archive(ctx, child.ID, false))

	parent, err := ts.resolver.Session(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusWorking, parent.AgentStatus)
}

func TestArchiveClearsEscalation(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	ctx := context.Background()

	_, err := ts.coordinator.Escalate(ctx, root.ID, hierarchy.EscalationRequest{
		Type:    hierarchy.EscalationQuestion,
		Summary: "abandoned question",
	})
	require.NoError(t, err)
	require.NoError(t, ts.coordinator.Archive(ctx, root.ID, false))

	archived, err := ts.resolver.Session(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusArchived, archived.AgentStatus)
	require.Nil(t, archived.Escalation)
}

func TestCancelChildren(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	childA := ts.mustSpawn(t, root.ID, "researcher")
	childB := ts.mustSpawn(t, root.ID, "implementer")
	grandchild := ts.mustSpawn(t, childA.ID, "helper")
	ctx := context.Background()

	require.NoError(t, ts.coordinator.CancelChildren(ctx, root.ID))

	for _, id := range []string{childA.ID, childB.ID, grandchild.ID} {
		s, err := ts.resolver.Session(ctx, id)
		require.NoError(t, err)
		require.Equal(t, hierarchy.StatusArchived, s.AgentStatus)
	}
	parent, err := ts.resolver.Session(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusWorking, parent.AgentStatus)
}

func TestConcurrentEscalateSingleWinner(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	ctx := context.Background()

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.coordinator.Escalate(ctx, root.ID, hierarchy.EscalationRequest{
				Type:    hierarchy.EscalationQuestion,
				Summary: "racing escalation",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, hierarchy.ErrAlreadyEscalated)
	}
	require.Equal(t, 1, wins)

	s, err := ts.resolver.Session(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, hierarchy.StatusBlocked, s.AgentStatus)
	require.NotNil(t, s.Escalation)
}

func TestRecordUsageAccumulates(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	ctx := context.Background()

	_, err := ts.coordinator.RecordUsage(ctx, root.ID, 2, 1500, 0.03)
	require.NoError(t, err)
	updated, err := ts.coordinator.RecordUsage(ctx, root.ID, 1, 500, 0.01)
	require.NoError(t, err)

	require.Equal(t, 3, updated.TurnCount)
	require.Equal(t, 2000, updated.TokensUsed)
	require.InDelta(t, 0.04, updated.CostUSD, 1e-9)
}

func TestProtocolEvents(t *testing.T) {
	ts := newTestStack(t)
	root := ts.mustRoot(t)
	child := ts.mustSpawn(t, root.ID, "researcher")
	ctx := context.Background()

	_, err := ts.coordinator.Escalate(ctx, child.ID, hierarchy.EscalationRequest{
		Type:    hierarchy.EscalationQuestion,
		Summary: "q",
	})
	require.NoError(t, err)
	_, err = ts.coordinator.ResolveEscalation(ctx, child.ID, hierarchy.Resolution{Action: hierarchy.ActionAnswer, Content: "a"})
	require.NoError(t, err)
	_, err = ts.coordinator.Deliver(ctx, child.ID, hierarchy.Deliverable{Type: hierarchy.DeliverableResearch, Summary: "done"})
	require.NoError(t, err)
	require.NoError(t, ts.coordinator.Archive(ctx, child.ID, false))

	// Each mutation emits the status change first, then its specific event.
	require.Equal(t, []string{
		"session_spawned",
		"session_status_changed",
		"session_escalated",
		"session_status_changed",
		"session_escalation_resolved",
		"session_status_changed",
		"session_delivered",
		"session_status_changed",
		"session_archived",
	}, ts.recorder.typesFor(child.ID))
}
