// Package hierarchy implements the session-hierarchy coordination model: a
// forest of agent sessions that spawn children, escalate blockers up the
// tree, deliver results back down, and share tree-wide decisions and
// artifacts.
//
// Sessions live in a flat, id-keyed store; all tree relationships are derived
// on demand from parent/root pointers. The Coordinator is the only writer of
// the mutable status/deliverable/escalation triple, and every mutation goes
// through the transition table in status.go.
package hierarchy

import (
	"fmt"
	"time"
)

// AgentStatus is the lifecycle state of a session.
type AgentStatus string

const (
	StatusWorking   AgentStatus = "working"
	StatusWaiting   AgentStatus = "waiting"
	StatusBlocked   AgentStatus = "blocked"
	StatusDelivered AgentStatus = "delivered"
	StatusFailed    AgentStatus = "failed"
	StatusArchived  AgentStatus = "archived"
)

// IsTerminal reports whether the status is a final state.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusArchived:
		return true
	default:
		return false
	}
}

// IsActive reports whether the session still represents live work.
func (s AgentStatus) IsActive() bool {
	switch s {
	case StatusWorking, StatusWaiting, StatusBlocked:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusWorking, StatusWaiting, StatusBlocked, StatusDelivered, StatusFailed, StatusArchived:
		return true
	default:
		return false
	}
}

// DeliverableType classifies the final output of a session.
type DeliverableType string

const (
	DeliverableCode     DeliverableType = "code"
	DeliverableResearch DeliverableType = "research"
	DeliverableDecision DeliverableType = "decision"
	DeliverableArtifact DeliverableType = "artifact"
	DeliverableError    DeliverableType = "error"
)

// Valid reports whether t is a known deliverable type.
func (t DeliverableType) Valid() bool {
	switch t {
	case DeliverableCode, DeliverableResearch, DeliverableDecision, DeliverableArtifact, DeliverableError:
		return true
	default:
		return false
	}
}

// Deliverable is the structured final output of a session, written exactly
// once when the session reaches delivered or failed.
type Deliverable struct {
	Type      DeliverableType `json:"type"`
	Summary   string          `json:"summary"`
	Content   string          `json:"content,omitempty"`
	Artifacts []string        `json:"artifacts,omitempty"`
}

// Validate checks the payload before it is accepted by Deliver.
func (d *Deliverable) Validate() error {
	if d == nil {
		return fmt.Errorf("deliverable is nil")
	}
	if !d.Type.Valid() {
		return fmt.Errorf("unknown deliverable type %q", d.Type)
	}
	if d.Summary == "" {
		return fmt.Errorf("deliverable summary is required")
	}
	return nil
}

// EscalationType classifies the kind of input a blocked session needs.
type EscalationType string

const (
	EscalationQuestion       EscalationType = "question"
	EscalationDecisionNeeded EscalationType = "decision_needed"
	EscalationBlocker        EscalationType = "blocker"
	EscalationPermission     EscalationType = "permission"
)

// Valid reports whether t is a known escalation type.
func (t EscalationType) Valid() bool {
	switch t {
	case EscalationQuestion, EscalationDecisionNeeded, EscalationBlocker, EscalationPermission:
		return true
	default:
		return false
	}
}

// Escalation is the "I'm stuck, need input" signal a session raises to its
// parent. Present exactly while the session is blocked.
type Escalation struct {
	Type      EscalationType `json:"type"`
	Summary   string         `json:"summary"`
	Context   string         `json:"context,omitempty"`
	Options   []string       `json:"options,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ResolutionAction tells the coordinator how to resolve a pending escalation.
type ResolutionAction string

const (
	ActionAnswer          ResolutionAction = "answer"
	ActionDecide          ResolutionAction = "decide"
	ActionUnblock         ResolutionAction = "unblock"
	ActionAbort           ResolutionAction = "abort"
	ActionEscalateFurther ResolutionAction = "escalate_further"
)

// Session is a unit of agentic work, root or child, tracked by the hierarchy
// core. The execution engine that actually runs the agent is external; this
// record is the coordination bookkeeping that surrounds it.
type Session struct {
	ID              string `json:"id"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
	RootSessionID   string `json:"root_session_id"`
	Depth           int    `json:"depth"`

	Title   string `json:"title,omitempty"`
	Role    string `json:"role,omitempty"`
	Task    string `json:"task"`
	Context string `json:"context,omitempty"`
	Model   string `json:"model,omitempty"`

	AgentStatus AgentStatus  `json:"agent_status"`
	Deliverable *Deliverable `json:"deliverable,omitempty"`
	Escalation  *Escalation  `json:"escalation,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`

	// Informational counters accumulated by the execution layer. Not
	// load-bearing for hierarchy logic.
	TurnCount  int     `json:"turn_count,omitempty"`
	TokensUsed int     `json:"tokens_used,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
}

// IsRoot reports whether the session anchors a tree.
func (s *Session) IsRoot() bool {
	return s.ParentSessionID == ""
}

// Clone returns a deep copy so stores can hand out sessions without aliasing
// their internal state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Deliverable != nil {
		d := *s.Deliverable
		d.Artifacts = append([]string(nil), s.Deliverable.Artifacts...)
		out.Deliverable = &d
	}
	if s.Escalation != nil {
		e := *s.Escalation
		e.Options = append([]string(nil), s.Escalation.Options...)
		out.Escalation = &e
	}
	if s.DeliveredAt != nil {
		t := *s.DeliveredAt
		out.DeliveredAt = &t
	}
	if s.ArchivedAt != nil {
		t := *s.ArchivedAt
		out.ArchivedAt = &t
	}
	return &out
}

// CheckConsistent validates the status/payload invariants: blocked iff an
// escalation is pending, delivered/failed implies a deliverable, archived
// implies an archive timestamp.
func (s *Session) CheckConsistent() error {
	if !s.AgentStatus.Valid() {
		return fmt.Errorf("session %s: unknown status %q", s.ID, s.AgentStatus)
	}
	if (s.AgentStatus == StatusBlocked) != (s.Escalation != nil) {
		return fmt.Errorf("session %s: status %q inconsistent with escalation presence", s.ID, s.AgentStatus)
	}
	if (s.AgentStatus == StatusDelivered || s.AgentStatus == StatusFailed) && s.Deliverable == nil {
		return fmt.Errorf("session %s: status %q without deliverable", s.ID, s.AgentStatus)
	}
	if s.AgentStatus == StatusArchived && s.ArchivedAt == nil {
		return fmt.Errorf("session %s: archived without archive timestamp", s.ID)
	}
	if s.IsRoot() != (s.Depth == 0) {
		return fmt.Errorf("session %s: depth %d inconsistent with parent presence", s.ID, s.Depth)
	}
	return nil
}

// SessionDecision is an append-only, tree-wide record of a cross-cutting
// decision. Visible to every session sharing the root, regardless of branch.
type SessionDecision struct {
	ID            string    `json:"id"`
	RootSessionID string    `json:"root_session_id"`
	SessionID     string    `json:"session_id"`
	Category      string    `json:"category,omitempty"`
	Decision      string    `json:"decision"`
	Rationale     string    `json:"rationale,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionArtifact is an append-only, tree-wide record of produced work. When
// a path is logged again within the same tree the new record carries a diff
// against the previous revision.
type SessionArtifact struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	RootSessionID string    `json:"root_session_id"`
	Path          string    `json:"path"`
	Content       string    `json:"content,omitempty"`
	Description   string    `json:"description,omitempty"`
	ArtifactType  string    `json:"artifact_type,omitempty"`
	RevisionOf    string    `json:"revision_of,omitempty"`
	Diff          string    `json:"diff,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
