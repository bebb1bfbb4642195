package hierarchy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"navi/internal/shared/logging"
	"navi/internal/shared/token"
)

// ContextResolver assembles the context a session's agent sees at startup and
// answers targeted queries against other parts of the tree. Matching is
// deterministic (substring and path-glob); anything smarter belongs in the
// execution layer on top.
type ContextResolver struct {
	store    Store
	resolver *Resolver
	logger   logging.Logger
}

// NewContextResolver creates a context resolver over the same store the
// hierarchy resolver reads.
func NewContextResolver(store Store, resolver *Resolver, logger logging.Logger) *ContextResolver {
	return &ContextResolver{
		store:    store,
		resolver: resolver,
		logger:   logging.OrNop(logger),
	}
}

// SiblingRole summarizes a sibling without exposing its full state.
type SiblingRole struct {
	SessionID string      `json:"session_id"`
	Role      string      `json:"role,omitempty"`
	Status    AgentStatus `json:"status"`
}

// ImmediateContext is the startup view for a session: its own assignment, the
// parent's task and latest decision, who else is working nearby, and the
// tree-wide decision ledger.
type ImmediateContext struct {
	SessionID       string             `json:"session_id"`
	Task            string             `json:"task"`
	Role            string             `json:"role,omitempty"`
	Context         string             `json:"context,omitempty"`
	ParentSessionID string             `json:"parent_session_id,omitempty"`
	ParentTask      string             `json:"parent_task,omitempty"`
	ParentSummary   string             `json:"parent_summary,omitempty"`
	SiblingRoles    []SiblingRole      `json:"sibling_roles,omitempty"`
	Decisions       []*SessionDecision `json:"decisions,omitempty"`
	TokenEstimate   int                `json:"token_estimate"`
}

// GetImmediateContext builds the startup context for a session. The parent
// summary is the parent's most recent ledger decision; siblings appear as
// role/status pairs only, never their full transcripts.
func (cr *ContextResolver) GetImmediateContext(ctx context.Context, sessionID string) (*ImmediateContext, error) {
	session, err := cr.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := &ImmediateContext{
		SessionID: session.ID,
		Task:      session.Task,
		Role:      session.Role,
		Context:   session.Context,
	}

	decisions, err := cr.store.ListDecisions(ctx, session.RootSessionID, "", 0)
	if err != nil {
		return nil, err
	}
	out.Decisions = decisions

	if !session.IsRoot() {
		parent, perr := cr.store.GetSession(ctx, session.ParentSessionID)
		if perr != nil {
			if IsKind(perr, KindNotFound) {
				return nil, newError(KindCorruptHierarchy, sessionID, "dangling parent reference %s", session.ParentSessionID)
			}
			return nil, perr
		}
		out.ParentSessionID = parent.ID
		out.ParentTask = parent.Task
		out.ParentSummary = latestDecisionBy(decisions, parent.ID)

		siblings, serr := cr.resolver.Siblings(ctx, sessionID)
		if serr != nil {
			return nil, serr
		}
		for _, sib := range siblings {
			out.SiblingRoles = append(out.SiblingRoles, SiblingRole{
				SessionID: sib.ID,
				Role:      sib.Role,
				Status:    sib.AgentStatus,
			})
		}
	}

	out.TokenEstimate = token.Count(renderContext(out))
	return out, nil
}

// latestDecisionBy returns the decision text of the newest ledger entry logged
// by sessionID. ListDecisions returns newest first.
func latestDecisionBy(decisions []*SessionDecision, sessionID string) string {
	for _, d := range decisions {
		if d.SessionID == sessionID {
			return d.Decision
		}
	}
	return ""
}

// renderContext flattens the context into the text an agent prompt would
// carry, so the token estimate reflects the real injection cost.
func renderContext(ic *ImmediateContext) string {
	var b strings.Builder
	b.WriteString(ic.Task)
	b.WriteString("\n")
	b.WriteString(ic.Context)
	b.WriteString("\n")
	b.WriteString(ic.ParentTask)
	b.WriteString("\n")
	b.WriteString(ic.ParentSummary)
	b.WriteString("\n")
	for _, s := range ic.SiblingRoles {
		fmt.Fprintf(&b, "%s (%s)\n", s.Role, s.Status)
	}
	for _, d := range ic.Decisions {
		b.WriteString(d.Decision)
		b.WriteString("\n")
		b.WriteString(d.Rationale)
		b.WriteString("\n")
	}
	return b.String()
}

// Query sources accepted by QueryContext.
const (
	SourceParent    = "parent"
	SourceSibling   = "sibling"
	SourceDecisions = "decisions"
	SourceArtifacts = "artifacts"
)

// ContextQuery asks for specific information from elsewhere in the tree.
type ContextQuery struct {
	Source      string `json:"source"`
	Query       string `json:"query,omitempty"`
	SiblingRole string `json:"sibling_role,omitempty"`
}

// ContextResult is the answer to a ContextQuery.
type ContextResult struct {
	Source   string            `json:"source"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QueryContext resolves a targeted cross-tree query. Unknown sessions, absent
// parents, and queries with no match all fail with NotFound so callers can
// distinguish "nothing there" from transport errors.
func (cr *ContextResolver) QueryContext(ctx context.Context, sessionID string, q ContextQuery) (*ContextResult, error) {
	session, err := cr.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch q.Source {
	case SourceParent:
		return cr.queryParent(ctx, session)
	case SourceSibling:
		return cr.querySibling(ctx, session, q)
	case SourceDecisions:
		return cr.queryDecisions(ctx, session, q)
	case SourceArtifacts:
		return cr.queryArtifacts(ctx, session, q)
	default:
		return nil, fmt.Errorf("unknown context source %q", q.Source)
	}
}

func (cr *ContextResolver) queryParent(ctx context.Context, session *Session) (*ContextResult, error) {
	if session.IsRoot() {
		return nil, newError(KindNotFound, session.ID, "root session has no parent")
	}
	parent, err := cr.store.GetSession(ctx, session.ParentSessionID)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return nil, newError(KindCorruptHierarchy, session.ID, "dangling parent reference %s", session.ParentSessionID)
		}
		return nil, err
	}
	content := parent.Task
	if parent.Context != "" {
		content = joinContext(parent.Task, parent.Context)
	}
	return &ContextResult{
		Source:  SourceParent,
		Content: content,
		Metadata: map[string]string{
			"session_id": parent.ID,
			"role":       parent.Role,
			"status":     string(parent.AgentStatus),
		},
	}, nil
}

func (cr *ContextResolver) querySibling(ctx context.Context, session *Session, q ContextQuery) (*ContextResult, error) {
	siblings, err := cr.resolver.Siblings(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	for _, sib := range siblings {
		if !strings.EqualFold(sib.Role, q.SiblingRole) {
			continue
		}
		// A delivered sibling shares its result; a live one only its assignment.
		content := sib.Task
		if sib.Deliverable != nil {
			content = joinContext(sib.Deliverable.Summary, sib.Deliverable.Content)
		}
		return &ContextResult{
			Source:  SourceSibling,
			Content: content,
			Metadata: map[string]string{
				"session_id": sib.ID,
				"role":       sib.Role,
				"status":     string(sib.AgentStatus),
			},
		}, nil
	}
	return nil, newError(KindNotFound, session.ID, "no sibling with role %q", q.SiblingRole)
}

func (cr *ContextResolver) queryDecisions(ctx context.Context, session *Session, q ContextQuery) (*ContextResult, error) {
	decisions, err := cr.store.ListDecisions(ctx, session.RootSessionID, "", 0)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(q.Query)
	var lines []string
	for _, d := range decisions {
		haystack := strings.ToLower(d.Category + " " + d.Decision + " " + d.Rationale)
		if needle != "" && !strings.Contains(haystack, needle) {
			continue
		}
		line := d.Decision
		if d.Rationale != "" {
			line = fmt.Sprintf("%s (%s)", d.Decision, d.Rationale)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, newError(KindNotFound, session.ID, "no decisions matching %q", q.Query)
	}
	return &ContextResult{
		Source:   SourceDecisions,
		Content:  strings.Join(lines, "\n"),
		Metadata: map[string]string{"matches": fmt.Sprintf("%d", len(lines))},
	}, nil
}

func (cr *ContextResolver) queryArtifacts(ctx context.Context, session *Session, q ContextQuery) (*ContextResult, error) {
	artifacts, err := cr.store.ListArtifacts(ctx, session.RootSessionID, "", 0)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, a := range artifacts {
		if !matchArtifactPath(a.Path, q.Query) {
			continue
		}
		line := a.Path
		if a.Description != "" {
			line = fmt.Sprintf("%s: %s", a.Path, a.Description)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, newError(KindNotFound, session.ID, "no artifacts matching %q", q.Query)
	}
	return &ContextResult{
		Source:   SourceArtifacts,
		Content:  strings.Join(lines, "\n"),
		Metadata: map[string]string{"matches": fmt.Sprintf("%d", len(lines))},
	}, nil
}

// matchArtifactPath matches a query against an artifact path: glob patterns
// via filepath.Match, plain strings by case-insensitive substring.
func matchArtifactPath(path, query string) bool {
	if query == "" {
		return true
	}
	if strings.ContainsAny(query, "*?[") {
		if ok, err := filepath.Match(query, path); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(query, filepath.Base(path)); err == nil && ok {
			return true
		}
		return false
	}
	return strings.Contains(strings.ToLower(path), strings.ToLower(query))
}
