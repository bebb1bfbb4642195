package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"navi/internal/shared/logging"
	"navi/internal/shared/utils/id"
)

// casAttempts bounds the retry loop around compare-and-swap updates. A loser
// re-reads and re-checks preconditions so races surface as the precise typed
// error (e.g. AlreadyEscalated) instead of clobbering the winner.
const casAttempts = 3

// Instrumentation is an optional hook the coordinator calls around every
// mutating operation. The observability layer implements it with a span and
// duration/outcome metrics; tests can implement it to assert call patterns.
type Instrumentation interface {
	StartOp(ctx context.Context, op, sessionID string) (context.Context, func(err error))
}

// Coordinator drives the escalation/delivery protocol: spawning children,
// escalating blockers, resolving them, delivering results, and archiving
// subtrees. It is the single writer of the status/deliverable/escalation
// triple; all writes go through the transition table and the store's
// per-session compare-and-swap.
type Coordinator struct {
	store    Store
	resolver *Resolver
	notifier *Notifier
	logger   logging.Logger
	clock    func() time.Time
	newID    func() string
	inst     Instrumentation
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source. Tests use this for deterministic
// timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// WithInstrumentation attaches span/metric hooks to every operation.
func WithInstrumentation(inst Instrumentation) Option {
	return func(c *Coordinator) { c.inst = inst }
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator wires the protocol layer. notifier may be nil when no
// observers are needed.
func NewCoordinator(store Store, resolver *Resolver, notifier *Notifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		resolver: resolver,
		notifier: notifier,
		logger:   logging.Nop(),
		clock:    time.Now,
		newID:    id.NewSessionID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolver exposes the hierarchy resolver the coordinator validates against.
func (c *Coordinator) Resolver() *Resolver { return c.resolver }

func (c *Coordinator) startOp(ctx context.Context, op, sessionID string) (context.Context, func(error)) {
	if c.inst == nil {
		return ctx, func(error) {}
	}
	return c.inst.StartOp(ctx, op, sessionID)
}

// RootConfig describes a new root session.
type RootConfig struct {
	Title string `json:"title,omitempty"`
	Role  string `json:"role,omitempty"`
	Task  string `json:"task"`
	Model string `json:"model,omitempty"`
}

// CreateRoot anchors a new tree. The root's rootSessionId is its own id and
// its depth is zero.
func (c *Coordinator) CreateRoot(ctx context.Context, cfg RootConfig) (session *Session, err error) {
	ctx, done := c.startOp(ctx, "create_root", "")
	defer func() { done(err) }()

	if strings.TrimSpace(cfg.Task) == "" {
		return nil, fmt.Errorf("root task is required")
	}
	now := c.clock()
	sessionID := c.newID()
	session = &Session{
		ID:            sessionID,
		RootSessionID: sessionID,
		Depth:         0,
		Title:         cfg.Title,
		Role:          cfg.Role,
		Task:          cfg.Task,
		Model:         cfg.Model,
		AgentStatus:   StatusWorking,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err = c.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	c.logger.Info("root session %s created", session.ID)
	c.notifier.Emit(&SessionSpawnedEvent{
		BaseEvent: newBaseEvent(session.ID, session.RootSessionID, now),
		Session:   session,
	})
	return session, nil
}

// SpawnConfig describes the work assigned to a child session.
type SpawnConfig struct {
	Title   string `json:"title,omitempty"`
	Role    string `json:"role"`
	Task    string `json:"task"`
	Model   string `json:"model,omitempty"`
	Context string `json:"context,omitempty"`
}

// SpawnChild creates a child session under parentID after validating the
// spawn preconditions. The child starts working at depth parent.Depth+1 and
// inherits the parent's root.
func (c *Coordinator) SpawnChild(ctx context.Context, parentID string, cfg SpawnConfig) (session *Session, err error) {
	ctx, done := c.startOp(ctx, "spawn_child", parentID)
	defer func() { done(err) }()

	parent, err := c.store.GetSession(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if check := c.resolver.CheckSpawn(parent); !check.Can {
		return nil, newError(KindSpawnNotAllowed, parentID, "%s", check.Reason)
	}
	if strings.TrimSpace(cfg.Task) == "" {
		return nil, fmt.Errorf("child task is required")
	}

	rootID := parent.RootSessionID
	if rootID == "" {
		rootID = parent.ID
	}
	now := c.clock()
	session = &Session{
		ID:              c.newID(),
		ParentSessionID: parent.ID,
		RootSessionID:   rootID,
		Depth:           parent.Depth + 1,
		Title:           cfg.Title,
		Role:            cfg.Role,
		Task:            cfg.Task,
		Context:         cfg.Context,
		Model:           cfg.Model,
		AgentStatus:     StatusWorking,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err = c.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	c.logger.Info("session %s spawned child %s (role=%s depth=%d)", parent.ID, session.ID, session.Role, session.Depth)
	c.notifier.Emit(&SessionSpawnedEvent{
		BaseEvent:       newBaseEvent(session.ID, rootID, now),
		Session:         session,
		ParentSessionID: parent.ID,
	})
	return session, nil
}

// EscalationRequest is the payload for Escalate.
type EscalationRequest struct {
	Type    EscalationType `json:"type"`
	Summary string         `json:"summary"`
	Context string         `json:"context,omitempty"`
	Options []string       `json:"options,omitempty"`
}

// Escalate marks the session blocked with the given escalation. Requires
// status working or waiting; a pending escalation fails with
// AlreadyEscalated — no escalation stacking.
func (c *Coordinator) Escalate(ctx context.Context, sessionID string, req EscalationRequest) (session *Session, err error) {
	ctx, done := c.startOp(ctx, "escalate", sessionID)
	defer func() { done(err) }()

	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown escalation type %q", req.Type)
	}
	if strings.TrimSpace(req.Summary) == "" {
		return nil, fmt.Errorf("escalation summary is required")
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		s, gerr := c.store.GetSession(ctx, sessionID)
		if gerr != nil {
			return nil, gerr
		}
		if s.Escalation != nil {
			return nil, newError(KindAlreadyEscalated, sessionID, "escalation %q is still pending", s.Escalation.Summary)
		}
		if terr := checkTransition(sessionID, s.AgentStatus, StatusBlocked); terr != nil {
			return nil, terr
		}
		from := s.AgentStatus
		blocked := StatusBlocked
		esc := &Escalation{
			Type:      req.Type,
			Summary:   req.Summary,
			Context:   req.Context,
			Options:   append([]string(nil), req.Options...),
			CreatedAt: c.clock(),
		}
		updated, uerr := c.store.UpdateSession(ctx, sessionID, SessionPatch{
			ExpectStatus: &from,
			Status:       &blocked,
			Escalation:   esc,
		})
		if errors.Is(uerr, ErrConflict) {
			continue
		}
		if uerr != nil {
			return nil, uerr
		}
		c.logger.Info("session %s escalated: %s", sessionID, req.Summary)
		c.emitStatusChange(updated, from, StatusBlocked)
		c.notifier.Emit(&SessionEscalatedEvent{
			BaseEvent:  newBaseEvent(updated.ID, updated.RootSessionID, esc.CreatedAt),
			Escalation: esc,
		})
		return updated, nil
	}
	return nil, newError(KindConflict, sessionID, "concurrent updates exceeded retry budget")
}

// Resolution is the payload for ResolveEscalation.
type Resolution struct {
	Action  ResolutionAction `json:"action"`
	Content string           `json:"content,omitempty"`
}

// ResolveEscalation clears a pending escalation. answer/decide/unblock return
// the session to working; abort fails it with a synthesized deliverable;
// escalate_further pushes the blocker up the ancestor chain. Returns the
// session now carrying the state change (the ancestor for escalate_further).
func (c *Coordinator) ResolveEscalation(ctx context.Context, sessionID string, res Resolution) (session *Session, err error) {
	ctx, done := c.startOp(ctx, "resolve_escalation", sessionID)
	defer func() { done(err) }()

	for attempt := 0; attempt < casAttempts; attempt++ {
		s, gerr := c.store.GetSession(ctx, sessionID)
		if gerr != nil {
			return nil, gerr
		}
		if s.AgentStatus != StatusBlocked || s.Escalation == nil {
			return nil, newError(KindInvalidTransition, sessionID, "no pending escalation to resolve")
		}

		switch res.Action {
		case ActionAnswer, ActionDecide, ActionUnblock:
			session, err = c.clearEscalation(ctx, s, res)
		case ActionAbort:
			session, err = c.abortEscalation(ctx, s, res)
		case ActionEscalateFurther:
			return c.forwardEscalation(ctx, s, res)
		default:
			return nil, fmt.Errorf("unknown resolution action %q", res.Action)
		}
		if errors.Is(err, ErrConflict) {
			continue
		}
		return session, err
	}
	return nil, newError(KindConflict, sessionID, "concurrent updates exceeded retry budget")
}

func (c *Coordinator) clearEscalation(ctx context.Context, s *Session, res Resolution) (*Session, error) {
	blocked := StatusBlocked
	working := StatusWorking
	updated, err := c.store.UpdateSession(ctx, s.ID, SessionPatch{
		ExpectStatus:    &blocked,
		Status:          &working,
		ClearEscalation: true,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("session %s escalation resolved (%s)", s.ID, res.Action)
	c.emitStatusChange(updated, StatusBlocked, StatusWorking)
	c.notifier.Emit(&SessionEscalationResolvedEvent{
		BaseEvent: newBaseEvent(updated.ID, updated.RootSessionID, c.clock()),
		Action:    res.Action,
		Content:   res.Content,
	})
	return updated, nil
}

func (c *Coordinator) abortEscalation(ctx context.Context, s *Session, res Resolution) (*Session, error) {
	now := c.clock()
	summary := fmt.Sprintf("aborted while blocked on: %s", s.Escalation.Summary)
	deliverable := &Deliverable{
		Type:    DeliverableError,
		Summary: summary,
		Content: res.Content,
	}
	blocked := StatusBlocked
	failed := StatusFailed
	updated, err := c.store.UpdateSession(ctx, s.ID, SessionPatch{
		ExpectStatus:    &blocked,
		Status:          &failed,
		ClearEscalation: true,
		Deliverable:     deliverable,
		DeliveredAt:     &now,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Warn("session %s aborted: %s", s.ID, summary)
	c.emitStatusChange(updated, StatusBlocked, StatusFailed)
	c.notifier.Emit(&SessionEscalationResolvedEvent{
		BaseEvent: newBaseEvent(updated.ID, updated.RootSessionID, now),
		Action:    res.Action,
		Content:   res.Content,
	})
	c.notifier.Emit(&SessionDeliveredEvent{
		BaseEvent:   newBaseEvent(updated.ID, updated.RootSessionID, now),
		Deliverable: deliverable,
		FinalStatus: StatusFailed,
	})
	return updated, nil
}

// forwardEscalation walks the ancestor chain (bounded by depth, cycle-safe)
// and blocks the nearest ancestor able to receive the escalation. The
// original session stays blocked with its escalation intact; it is still
// waiting for the answer, only the audience moved up.
func (c *Coordinator) forwardEscalation(ctx context.Context, s *Session, res Resolution) (*Session, error) {
	if s.IsRoot() {
		return nil, newError(KindNoParentToEscalateTo, s.ID, "root session has no parent to escalate to")
	}
	ancestors, err := c.resolver.Ancestors(ctx, s.ID)
	if err != nil {
		return nil, err
	}

	var target *Session
	var nearestBlocked *Session
	for _, ancestor := range ancestors {
		if ancestor.AgentStatus == StatusWorking || ancestor.AgentStatus == StatusWaiting {
			target = ancestor
			break
		}
		if ancestor.AgentStatus == StatusBlocked && nearestBlocked == nil {
			nearestBlocked = ancestor
		}
	}
	if target == nil {
		if nearestBlocked != nil {
			return nil, newError(KindAlreadyEscalated, nearestBlocked.ID, "ancestor already has a pending escalation")
		}
		return nil, newError(KindNoParentToEscalateTo, s.ID, "no live ancestor to escalate to")
	}

	origin := s.Role
	if origin == "" {
		origin = s.ID
	}
	now := c.clock()
	forwarded := &Escalation{
		Type:      s.Escalation.Type,
		Summary:   fmt.Sprintf("escalated from %s: %s", origin, s.Escalation.Summary),
		Context:   joinContext(s.Escalation.Context, res.Content),
		Options:   append([]string(nil), s.Escalation.Options...),
		CreatedAt: now,
	}
	from := target.AgentStatus
	blocked := StatusBlocked
	updated, err := c.store.UpdateSession(ctx, target.ID, SessionPatch{
		ExpectStatus: &from,
		Status:       &blocked,
		Escalation:   forwarded,
	})
	if errors.Is(err, ErrConflict) {
		// The ancestor changed under us; re-resolve the chain once more.
		return c.forwardEscalation(ctx, s, res)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info("session %s escalation forwarded to ancestor %s", s.ID, updated.ID)
	c.emitStatusChange(updated, from, StatusBlocked)
	c.notifier.Emit(&SessionEscalatedEvent{
		BaseEvent:     newBaseEvent(updated.ID, updated.RootSessionID, now),
		Escalation:    forwarded,
		ForwardedFrom: s.ID,
	})
	return updated, nil
}

func joinContext(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// Deliver writes the session's deliverable exactly once. An error-typed
// deliverable maps to failed, everything else to delivered. A blocked
// session may deliver (partial result or explicit failure); its escalation
// clears. A second deliver on a delivered/failed session fails with
// AlreadyDelivered and never mutates the deliverable.
func (c *Coordinator) Deliver(ctx context.Context, sessionID string, deliverable Deliverable) (session *Session, err error) {
	ctx, done := c.startOp(ctx, "deliver", sessionID)
	defer func() { done(err) }()

	if err = deliverable.Validate(); err != nil {
		return nil, err
	}
	to := StatusDelivered
	if deliverable.Type == DeliverableError {
		to = StatusFailed
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		s, gerr := c.store.GetSession(ctx, sessionID)
		if gerr != nil {
			return nil, gerr
		}
		switch s.AgentStatus {
		case StatusDelivered, StatusFailed:
			return nil, newError(KindAlreadyDelivered, sessionID, "deliverable is write-once")
		}
		if terr := checkTransition(sessionID, s.AgentStatus, to); terr != nil {
			return nil, terr
		}
		from := s.AgentStatus
		now := c.clock()
		payload := deliverable
		updated, uerr := c.store.UpdateSession(ctx, sessionID, SessionPatch{
			ExpectStatus:    &from,
			Status:          &to,
			Deliverable:     &payload,
			DeliveredAt:     &now,
			ClearEscalation: s.Escalation != nil,
		})
		if errors.Is(uerr, ErrConflict) {
			continue
		}
		if uerr != nil {
			return nil, uerr
		}
		c.logger.Info("session %s delivered (%s): %s", sessionID, to, deliverable.Summary)
		c.emitStatusChange(updated, from, to)
		c.notifier.Emit(&SessionDeliveredEvent{
			BaseEvent:   newBaseEvent(updated.ID, updated.RootSessionID, now),
			Deliverable: &payload,
			FinalStatus: to,
		})
		return updated, nil
	}
	return nil, newError(KindConflict, sessionID, "concurrent updates exceeded retry budget")
}

// Pause marks a working session as waiting for external input unrelated to
// escalation.
func (c *Coordinator) Pause(ctx context.Context, sessionID string) (*Session, error) {
	return c.shiftStatus(ctx, "pause", sessionID, StatusWorking, StatusWaiting)
}

// Resume returns a waiting session to working.
func (c *Coordinator) Resume(ctx context.Context, sessionID string) (*Session, error) {
	return c.shiftStatus(ctx, "resume", sessionID, StatusWaiting, StatusWorking)
}

func (c *Coordinator) shiftStatus(ctx context.Context, op, sessionID string, from, to AgentStatus) (session *Session, err error) {
	ctx, done := c.startOp(ctx, op, sessionID)
	defer func() { done(err) }()

	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.AgentStatus != from {
		return nil, newError(KindInvalidTransition, sessionID, "cannot %s from %q", op, s.AgentStatus)
	}
	updated, err := c.store.UpdateSession(ctx, sessionID, SessionPatch{
		ExpectStatus: &from,
		Status:       &to,
	})
	if err != nil {
		return nil, err
	}
	c.emitStatusChange(updated, from, to)
	return updated, nil
}

// Archive transitions the session to archived. With cascade (the default in
// callers), every descendant is archived before the named session, so a
// crash mid-cascade leaves a consistent partially-archived subtree rather
// than an orphaned live child under an archived parent. cascade=false
// archives only the named session.
func (c *Coordinator) Archive(ctx context.Context, sessionID string, cascade bool) (err error) {
	ctx, done := c.startOp(ctx, "archive", sessionID)
	defer func() { done(err) }()

	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.AgentStatus == StatusArchived {
		return newError(KindInvalidTransition, sessionID, "session is already archived")
	}
	if cascade {
		node, terr := c.resolver.Tree(ctx, sessionID)
		if terr != nil {
			return terr
		}
		if err = c.archiveBranches(ctx, node, cascade); err != nil {
			return err
		}
	}
	return c.archiveOne(ctx, sessionID, cascade, false)
}

// CancelChildren archives every descendant of the session and leaves the
// session itself untouched. The execution layer is responsible for noticing
// the archived status and actually stopping work.
func (c *Coordinator) CancelChildren(ctx context.Context, sessionID string) (err error) {
	ctx, done := c.startOp(ctx, "cancel_children", sessionID)
	defer func() { done(err) }()

	node, err := c.resolver.Tree(ctx, sessionID)
	if err != nil {
		return err
	}
	return c.archiveBranches(ctx, node, true)
}

// archiveBranches archives each child subtree. Sibling branches run
// concurrently; within a branch archival is post-order so children are
// archived before their parent.
func (c *Coordinator) archiveBranches(ctx context.Context, node *TreeNode, cascade bool) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, child := range node.Children {
		g.Go(func() error {
			return c.archiveSubtree(ctx, child, cascade)
		})
	}
	return g.Wait()
}

func (c *Coordinator) archiveSubtree(ctx context.Context, node *TreeNode, cascade bool) error {
	for _, child := range node.Children {
		if err := c.archiveSubtree(ctx, child, cascade); err != nil {
			return err
		}
	}
	return c.archiveOne(ctx, node.ID, cascade, true)
}

// archiveOne archives a single session. skipArchived tolerates descendants
// that are already archived (e.g. a resumed partial cascade); the top-level
// target reports InvalidTransition instead.
func (c *Coordinator) archiveOne(ctx context.Context, sessionID string, cascade, skipArchived bool) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		s, err := c.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.AgentStatus == StatusArchived {
			if skipArchived {
				return nil
			}
			return newError(KindInvalidTransition, sessionID, "session is already archived")
		}
		from := s.AgentStatus
		archived := StatusArchived
		now := c.clock()
		updated, uerr := c.store.UpdateSession(ctx, sessionID, SessionPatch{
			ExpectStatus:    &from,
			Status:          &archived,
			ArchivedAt:      &now,
			ClearEscalation: s.Escalation != nil,
		})
		if errors.Is(uerr, ErrConflict) {
			continue
		}
		if uerr != nil {
			return uerr
		}
		c.logger.Info("session %s archived (cascade=%t)", sessionID, cascade)
		c.emitStatusChange(updated, from, StatusArchived)
		c.notifier.Emit(&SessionArchivedEvent{
			BaseEvent: newBaseEvent(updated.ID, updated.RootSessionID, now),
			Cascade:   cascade,
		})
		return nil
	}
	return newError(KindConflict, sessionID, "concurrent updates exceeded retry budget")
}

// RecordUsage accumulates the informational model/cost/turn counters written
// by the execution layer. Not part of the state machine; last write wins.
func (c *Coordinator) RecordUsage(ctx context.Context, sessionID string, turns, tokens int, costUSD float64) (*Session, error) {
	s, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	newTurns := s.TurnCount + turns
	newTokens := s.TokensUsed + tokens
	newCost := s.CostUSD + costUSD
	return c.store.UpdateSession(ctx, sessionID, SessionPatch{
		TurnCount:  &newTurns,
		TokensUsed: &newTokens,
		CostUSD:    &newCost,
	})
}

func (c *Coordinator) emitStatusChange(s *Session, from, to AgentStatus) {
	c.notifier.Emit(&SessionStatusChangedEvent{
		BaseEvent: newBaseEvent(s.ID, s.RootSessionID, c.clock()),
		From:      from,
		To:        to,
	})
}
