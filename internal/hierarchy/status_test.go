package hierarchy

import "testing"

func TestCanTransition(t *testing.T) {
	all := []AgentStatus{
		StatusWorking, StatusWaiting, StatusBlocked,
		StatusDelivered, StatusFailed, StatusArchived,
	}

	// The full set of legal moves; anything absent must be rejected.
	legal := map[AgentStatus][]AgentStatus{
		StatusWorking:   {StatusWaiting, StatusBlocked, StatusDelivered, StatusFailed, StatusArchived},
		StatusWaiting:   {StatusWorking, StatusBlocked, StatusDelivered, StatusFailed, StatusArchived},
		StatusBlocked:   {StatusWorking, StatusWaiting, StatusDelivered, StatusFailed, StatusArchived},
		StatusDelivered: {StatusArchived},
		StatusFailed:    {StatusArchived},
		StatusArchived:  {},
	}

	for _, from := range all {
		allowed := map[AgentStatus]bool{}
		for _, to := range legal[from] {
			allowed[to] = true
		}
		for _, to := range all {
			if got := CanTransition(from, to); got != allowed[to] {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, allowed[to])
			}
		}
	}
}

func TestCanTransitionNeverAllowsSelf(t *testing.T) {
	for from := range legalTransitions {
		if CanTransition(from, from) {
			t.Errorf("CanTransition(%s, %s) must be false", from, from)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   AgentStatus
		terminal bool
		active   bool
	}{
		{StatusWorking, false, true},
		{StatusWaiting, false, true},
		{StatusBlocked, false, true},
		{StatusDelivered, true, false},
		{StatusFailed, true, false},
		{StatusArchived, true, false},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.IsActive(); got != tt.active {
			t.Errorf("%s.IsActive() = %v, want %v", tt.status, got, tt.active)
		}
		if !tt.status.Valid() {
			t.Errorf("%s.Valid() = false", tt.status)
		}
	}
	if AgentStatus("bogus").Valid() {
		t.Error(`AgentStatus("bogus").Valid() = true`)
	}
}
