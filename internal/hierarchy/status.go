package hierarchy

// legalTransitions is the status transition table. A requested change absent
// from this table fails with ErrInvalidTransition; the state machine never
// coerces an illegal request.
//
// working  -> waiting | blocked | delivered | failed | archived
// waiting  -> working | blocked | delivered | failed | archived
// blocked  -> working | waiting | delivered | failed | archived
// delivered/failed -> archived
// archived -> (none)
var legalTransitions = map[AgentStatus]map[AgentStatus]bool{
	StatusWorking: {
		StatusWaiting:   true,
		StatusBlocked:   true,
		StatusDelivered: true,
		StatusFailed:    true,
		StatusArchived:  true,
	},
	StatusWaiting: {
		StatusWorking:   true,
		StatusBlocked:   true,
		StatusDelivered: true,
		StatusFailed:    true,
		StatusArchived:  true,
	},
	StatusBlocked: {
		StatusWorking:   true,
		StatusWaiting:   true,
		StatusDelivered: true,
		StatusFailed:    true,
		StatusArchived:  true,
	},
	StatusDelivered: {StatusArchived: true},
	StatusFailed:    {StatusArchived: true},
	StatusArchived:  {},
}

// CanTransition reports whether the table permits from -> to.
func CanTransition(from, to AgentStatus) bool {
	return legalTransitions[from][to]
}

// checkTransition returns a typed InvalidTransition error when the table
// forbids from -> to.
func checkTransition(sessionID string, from, to AgentStatus) error {
	if !CanTransition(from, to) {
		return newError(KindInvalidTransition, sessionID, "cannot transition from %q to %q", from, to)
	}
	return nil
}
