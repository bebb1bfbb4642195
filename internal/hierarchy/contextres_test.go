package hierarchy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"navi/internal/hierarchy"
	"navi/internal/session/memorystore"
)

// contextFixture builds root -> (worker, helper) with some ledger history.
func contextFixture(t *testing.T) (*hierarchy.ContextResolver, *hierarchy.Ledger, *testStack) {
	t.Helper()
	ts := newTestStack(t)
	contextRes := hierarchy.NewContextResolver(ts.store, ts.resolver, nil)
	ledger := hierarchy.NewLedger(ts.store, nil, nil)
	return contextRes, ledger, ts
}

func TestGetImmediateContext(t *testing.T) {
	contextRes, ledger, ts := contextFixture(t)
	ctx := context.Background()

	root := ts.mustRoot(t)
	worker := ts.mustSpawn(t, root.ID, "implementer")
	helper := ts.mustSpawn(t, root.ID, "researcher")

	_, err := ledger.LogDecision(ctx, root.ID, hierarchy.DecisionInput{
		Category: "architecture",
		Decision: "use postgres",
	})
	require.NoError(t, err)

	ic, err := contextRes.GetImmediateContext(ctx, worker.ID)
	require.NoError(t, err)
	require.Equal(t, worker.Task, ic.Task)
	require.Equal(t, root.ID, ic.ParentSessionID)
	require.Equal(t, root.Task, ic.ParentTask)
	require.Equal(t, "use postgres", ic.ParentSummary)
	require.Len(t, ic.SiblingRoles, 1)
	require.Equal(t, helper.ID, ic.SiblingRoles[0].SessionID)
	require.Equal(t, "researcher", ic.SiblingRoles[0].Role)
	require.Len(t, ic.Decisions, 1)
	require.Positive(t, ic.TokenEstimate)
}

func TestGetImmediateContextRoot(t *testing.T) {
	contextRes, _, ts := contextFixture(t)
	root := ts.mustRoot(t)

	ic, err := contextRes.GetImmediateContext(context.Background(), root.ID)
	require.NoError(t, err)
	require.Empty(t, ic.ParentSessionID)
	require.Empty(t, ic.SiblingRoles)
}

func TestQueryContextParent(t *testing.T) {
	contextRes, _, ts := contextFixture(t)
	ctx := context.Background()
	root := ts.mustRoot(t)
	worker := ts.mustSpawn(t, root.ID, "implementer")

	result, err := contextRes.QueryContext(ctx, worker.ID, hierarchy.ContextQuery{Source: hierarchy.SourceParent})
	require.NoError(t, err)
	require.Contains(t, result.Content, root.Task)
	require.Equal(t, root.ID, result.Metadata["session_id"])

	// The root has no parent to query.
	_, err = contextRes.QueryContext(ctx, root.ID, hierarchy.ContextQuery{Source: hierarchy.SourceParent})
	require.ErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestQueryContextSibling(t *testing.T) {
	contextRes, _, ts := contextFixture(t)
	ctx := context.Background()
	root := ts.mustRoot(t)
	worker := ts.mustSpawn(t, root.ID, "implementer")
	helper := ts.mustSpawn(t, root.ID, "researcher")

	// Live sibling shares only its assignment.
	result, err := contextRes.QueryContext(ctx, worker.ID, hierarchy.ContextQuery{
		Source:      hierarchy.SourceSibling,
		SiblingRole: "researcher",
	})
	require.NoError(t, err)
	require.Equal(t, helper.Task, result.Content)

	// Delivered sibling shares its result.
	_, err = ts.coordinator.Deliver(ctx, helper.ID, hierarchy.Deliverable{
		Type:    hierarchy.DeliverableResearch,
		Summary: "benchmark results",
		Content: "postgres wins",
	})
	require.NoError(t, err)
	result, err = contextRes.QueryContext(ctx, worker.ID, hierarchy.ContextQuery{
		Source:      hierarchy.SourceSibling,
		SiblingRole: "researcher",
	})
	require.NoError(t, err)
	require.Contains(t, result.Content, "postgres wins")

	_, err = contextRes.QueryContext(ctx, worker.ID, hierarchy.ContextQuery{
		Source:      hierarchy.SourceSibling,
		SiblingRole: "designer",
	})
	require.ErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestQueryContextDecisions(t *testing.T) {
	contextRes, ledger, ts := contextFixture(t)
	ctx := context.Background()
	root := ts.mustRoot(t)
	worker := ts.mustSpawn(t, root.ID, "implementer")

	_, err := ledger.LogDecision(ctx, root.ID, hierarchy.DecisionInput{
		Category:  "storage",
		Decision:  "use Postgres for the ledger",
		Rationale: "fits the access pattern",
	})
	require.NoError(t, err)
	_, err = ledger.LogDecision(ctx, worker.ID, hierarchy.DecisionInput{
		Decision: "retry writes three times",
	})
	require.NoError(t, err)

	// Matching is case-insensitive substring over the whole entry.
	result, err := contextRes.QueryContext(ctx, worker.ID, hierarchy.ContextQuery{
		Source: hierarchy.SourceDecisions,
		Query:  "postgres",
	})
	require.NoError(t, err)
	require.Contains(t, result.Content, "use Postgres for the ledger")
	require.NotContains(t, result.Content, "retry writes")

	_, err = contextRes.QueryContext(ctx, worker.ID, hierarchy.ContextQuery{
		Source: hierarchy.SourceDecisions,
		Query:  "kubernetes",
	})
	require.ErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestQueryContextArtifacts(t *testing.T) {
	contextRes, ledger, ts := contextFixture(t)
	ctx := context.Background()
	root := ts.mustRoot(t)
	worker := ts.mustSpawn(t, root.ID, "implementer")

	_, err := ledger.LogArtifact(ctx, worker.ID, hierarchy.ArtifactInput{
		Path:        "internal/parser/parser.go",
		Description: "recursive descent parser",
	})
	require.NoError(t, err)
	_, err = ledger.LogArtifact(ctx, worker.ID, hierarchy.ArtifactInput{
		Path: "docs/design.md",
	})
	require.NoError(t, err)

	// Glob match.
	result, err := contextRes.QueryContext(ctx, worker.ID, hierarchy.ContextQuery{
		Source: hierarchy.SourceArtifacts,
		Query:  "*.go",
	})
	require.NoError(t, err)
	require.Contains(t, result.Content, "parser.go")
	require.NotContains(t, result.Content, "design.md")

	// Substring match.
	result, err = contextRes.QueryContext(ctx, worker.ID, hierarchy.ContextQuery{
		Source: hierarchy.SourceArtifacts,
		Query:  "docs",
	})
	require.NoError(t, err)
	require.Contains(t, result.Content, "design.md")

	_, err = contextRes.QueryContext(ctx, worker.ID, hierarchy.ContextQuery{
		Source: hierarchy.SourceArtifacts,
		Query:  "*.rs",
	})
	require.ErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestQueryContextUnknownSource(t *testing.T) {
	contextRes, _, ts := contextFixture(t)
	root := ts.mustRoot(t)

	_, err := contextRes.QueryContext(context.Background(), root.ID, hierarchy.ContextQuery{Source: "tarot"})
	require.Error(t, err)
	require.NotErrorIs(t, err, hierarchy.ErrNotFound)
}

func TestQueryContextDanglingParent(t *testing.T) {
	store := memorystore.New()
	resolver := hierarchy.NewResolver(store, 0, nil)
	contextRes := hierarchy.NewContextResolver(store, resolver, nil)

	seedSession(t, store, &hierarchy.Session{ID: "orphan", ParentSessionID: "gone", RootSessionID: "gone", Depth: 1, Task: "orphan"})
	_, err := contextRes.QueryContext(context.Background(), "orphan", hierarchy.ContextQuery{Source: hierarchy.SourceParent})
	require.ErrorIs(t, err, hierarchy.ErrCorruptHierarchy)
}
