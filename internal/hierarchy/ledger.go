package hierarchy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"navi/internal/shared/logging"
	"navi/internal/shared/utils/id"
)

// Ledger is the append-only, tree-wide record of decisions and artifacts.
// Entries are keyed by root session id so every session in a tree sees the
// same history regardless of branch; nothing is ever updated in place.
type Ledger struct {
	store    Store
	notifier *Notifier
	logger   logging.Logger
	clock    func() time.Time
}

// NewLedger creates a ledger over the store. notifier may be nil.
func NewLedger(store Store, notifier *Notifier, logger logging.Logger) *Ledger {
	return &Ledger{
		store:    store,
		notifier: notifier,
		logger:   logging.OrNop(logger),
		clock:    time.Now,
	}
}

// DecisionInput is the payload for LogDecision.
type DecisionInput struct {
	Category  string `json:"category,omitempty"`
	Decision  string `json:"decision"`
	Rationale string `json:"rationale,omitempty"`
}

// LogDecision appends a decision on behalf of sessionID. The entry is stamped
// with the session's root so it is visible tree-wide.
func (l *Ledger) LogDecision(ctx context.Context, sessionID string, input DecisionInput) (*SessionDecision, error) {
	if strings.TrimSpace(input.Decision) == "" {
		return nil, fmt.Errorf("decision text is required")
	}
	session, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	decision := &SessionDecision{
		ID:            id.NewDecisionID(),
		RootSessionID: session.RootSessionID,
		SessionID:     session.ID,
		Category:      input.Category,
		Decision:      input.Decision,
		Rationale:     input.Rationale,
		CreatedAt:     l.clock(),
	}
	if err := l.store.AppendDecision(ctx, decision); err != nil {
		return nil, err
	}
	l.logger.Info("session %s logged decision %s (%s)", session.ID, decision.ID, input.Category)
	l.notifier.Emit(&SessionDecisionLoggedEvent{
		BaseEvent: newBaseEvent(session.ID, session.RootSessionID, decision.CreatedAt),
		Decision:  decision,
	})
	return decision, nil
}

// Decisions lists the tree's decisions, newest first, optionally filtered by
// category. limit <= 0 returns all.
func (l *Ledger) Decisions(ctx context.Context, rootID, category string, limit int) ([]*SessionDecision, error) {
	if _, err := l.store.GetSession(ctx, rootID); err != nil {
		return nil, err
	}
	return l.store.ListDecisions(ctx, rootID, category, limit)
}

// ArtifactInput is the payload for LogArtifact.
type ArtifactInput struct {
	Path         string `json:"path"`
	Content      string `json:"content,omitempty"`
	Description  string `json:"description,omitempty"`
	ArtifactType string `json:"artifact_type,omitempty"`
}

// LogArtifact appends an artifact record. When the same path was already
/// logged in the tree the new record is a revision: it points at the previous
// entry and carries a patch against its content, so reviewers see what a
// later session changed rather than two opaque blobs.
func (l *Ledger) LogArtifact(ctx context.Context, sessionID string, input ArtifactInput) (*SessionArtifact, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, fmt.Errorf("artifact path is required")
	}
	session, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	artifact := &SessionArtifact{
		ID:            id.NewArtifactID(),
		SessionID:     session.ID,
		RootSessionID: session.RootSessionID,
		Path:          input.Path,
		Content:       input.Content,
		Description:   input.Description,
		ArtifactType:  input.ArtifactType,
		CreatedAt:     l.clock(),
	}
	if prior, perr := l.latestRevision(ctx, session.RootSessionID, input.Path); perr != nil {
		return nil, perr
	} else if prior != nil {
		artifact.RevisionOf = prior.ID
		artifact.Diff = contentPatch(prior.Content, input.Content)
	}
	if err := l.store.AppendArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	l.logger.Info("session %s logged artifact %s (%s)", session.ID, artifact.ID, input.Path)
	l.notifier.Emit(&SessionArtifactCreatedEvent{
		BaseEvent: newBaseEvent(session.ID, session.RootSessionID, artifact.CreatedAt),
		Artifact:  artifact,
	})
	return artifact, nil
}

// Artifacts lists the tree's artifacts, newest first, optionally filtered by
// type. limit <= 0 returns all.
func (l *Ledger) Artifacts(ctx context.Context, rootID, artifactType string, limit int) ([]*SessionArtifact, error) {
	if _, err := l.store.GetSession(ctx, rootID); err != nil {
		return nil, err
	}
	return l.store.ListArtifacts(ctx, rootID, artifactType, limit)
}

// latestRevision returns the newest artifact in the tree with the same path,
// or nil when the path is new.
func (l *Ledger) latestRevision(ctx context.Context, rootID, path string) (*SessionArtifact, error) {
	artifacts, err := l.store.ListArtifacts(ctx, rootID, "", 0)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		if a.Path == path {
			return a, nil
		}
	}
	return nil, nil
}

// contentPatch renders a unified-style patch between two revisions. Empty
// when either side has no content or nothing changed.
func contentPatch(before, after string) string {
	if before == "" || after == "" || before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(before, diffs)
	return dmp.PatchToText(patches)
}
