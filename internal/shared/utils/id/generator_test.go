package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixes(t *testing.T) {
	require.True(t, strings.HasPrefix(NewSessionID(), "session-"))
	require.True(t, strings.HasPrefix(NewDecisionID(), "decision-"))
	require.True(t, strings.HasPrefix(NewArtifactID(), "artifact-"))
	require.True(t, strings.HasPrefix(New("run"), "run-"))
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewSessionID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestUUIDv7Strategy(t *testing.T) {
	SetStrategy(StrategyUUIDv7)
	defer SetStrategy(StrategyKSUID)

	id := NewSessionID()
	require.True(t, strings.HasPrefix(id, "session-"))
	// UUIDs are dashed into five groups.
	require.Len(t, strings.Split(strings.TrimPrefix(id, "session-"), "-"), 5)
}
