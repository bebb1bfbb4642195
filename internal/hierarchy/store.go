package hierarchy

import (
	"context"
	"time"
)

// Store is the persistence port for sessions and the tree-wide ledgers. The
// hierarchy core does not dictate the storage format; it requires only that
// UpdateSession applies the patch atomically per session and honours the
// compare-and-swap contract on ExpectStatus.
//
// Implementations must return ErrNotFound for unknown session ids and
// ErrConflict when ExpectStatus does not match the stored status.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, id string, patch SessionPatch) (*Session, error)
	ListSessionsByRoot(ctx context.Context, rootID string) ([]*Session, error)
	ListSessionsByParent(ctx context.Context, parentID string) ([]*Session, error)

	// Ledger entries are append-only and never updated in place; concurrent
	// appends across a tree need no coordination. List results are newest
	// first; limit <= 0 means no limit, filters are exact-match and optional.
	AppendDecision(ctx context.Context, decision *SessionDecision) error
	ListDecisions(ctx context.Context, rootID, category string, limit int) ([]*SessionDecision, error)
	AppendArtifact(ctx context.Context, artifact *SessionArtifact) error
	ListArtifacts(ctx context.Context, rootID, artifactType string, limit int) ([]*SessionArtifact, error)
}

// SessionPatch is a partial update of the mutable session fields. Nil fields
// are left unchanged. Escalation clearing is explicit so a nil Escalation
// pointer is not ambiguous.
type SessionPatch struct {
	// ExpectStatus makes the update a compare-and-swap: the store rejects the
	// patch with ErrConflict when the stored status differs. This is what
	// keeps the state machine's precondition checks race-free.
	ExpectStatus *AgentStatus

	Status          *AgentStatus
	Escalation      *Escalation
	ClearEscalation bool
	Deliverable     *Deliverable
	DeliveredAt     *time.Time
	ArchivedAt      *time.Time

	TurnCount  *int
	TokensUsed *int
	CostUSD    *float64
}

// Apply writes the patch onto s. Shared by store implementations so the
// merge semantics stay identical across backends.
func (p SessionPatch) Apply(s *Session, now time.Time) {
	if p.Status != nil {
		s.AgentStatus = *p.Status
	}
	if p.ClearEscalation {
		s.Escalation = nil
	} else if p.Escalation != nil {
		s.Escalation = p.Escalation
	}
	if p.Deliverable != nil {
		s.Deliverable = p.Deliverable
	}
	if p.DeliveredAt != nil {
		s.DeliveredAt = p.DeliveredAt
	}
	if p.ArchivedAt != nil {
		s.ArchivedAt = p.ArchivedAt
	}
	if p.TurnCount != nil {
		s.TurnCount = *p.TurnCount
	}
	if p.TokensUsed != nil {
		s.TokensUsed = *p.TokensUsed
	}
	if p.CostUSD != nil {
		s.CostUSD = *p.CostUSD
	}
	s.UpdatedAt = now
}
