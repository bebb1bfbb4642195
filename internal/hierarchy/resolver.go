package hierarchy

import (
	"context"
	"fmt"

	"navi/internal/shared/logging"
)

// DefaultMaxDepth bounds recursive spawning when no limit is configured.
const DefaultMaxDepth = 5

// Resolver computes tree-derived views over the flat session store using
// parent/root pointers. It holds no state of its own; every query reads the
// store fresh.
type Resolver struct {
	store    Store
	maxDepth int
	logger   logging.Logger
}

// NewResolver creates a resolver. maxDepth <= 0 falls back to DefaultMaxDepth.
func NewResolver(store Store, maxDepth int, logger logging.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{
		store:    store,
		maxDepth: maxDepth,
		logger:   logging.OrNop(logger),
	}
}

// MaxDepth returns the configured depth limit.
func (r *Resolver) MaxDepth() int { return r.maxDepth }

// Session loads a single session by id.
func (r *Resolver) Session(ctx context.Context, id string) (*Session, error) {
	return r.store.GetSession(ctx, id)
}

// Children returns the direct children of a session, in the store's natural
// order. Callers needing stable ordering should sort by CreatedAt; the
// resolver does not do this implicitly to avoid hiding store semantics.
func (r *Resolver) Children(ctx context.Context, id string) ([]*Session, error) {
	if _, err := r.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return r.store.ListSessionsByParent(ctx, id)
}

// Siblings returns the sessions sharing the same parent, excluding id itself.
// A root session has no parent and hence no siblings.
func (r *Resolver) Siblings(ctx context.Context, id string) ([]*Session, error) {
	session, err := r.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.IsRoot() {
		return nil, nil
	}
	peers, err := r.store.ListSessionsByParent(ctx, session.ParentSessionID)
	if err != nil {
		return nil, err
	}
	siblings := make([]*Session, 0, len(peers))
	for _, peer := range peers {
		if peer.ID != id {
			siblings = append(siblings, peer)
		}
	}
	return siblings, nil
}

// Ancestors returns the chain from immediate parent up to and including the
// root; empty for a root session. A cycle or dangling parent reference fails
// with CorruptHierarchy rather than walking forever.
func (r *Resolver) Ancestors(ctx context.Context, id string) ([]*Session, error) {
	session, err := r.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{session.ID: true}
	var ancestors []*Session
	for !session.IsRoot() {
		parentID := session.ParentSessionID
		if visited[parentID] {
			return nil, newError(KindCorruptHierarchy, id, "cycle detected at %s while walking ancestors", parentID)
		}
		visited[parentID] = true
		parent, err := r.store.GetSession(ctx, parentID)
		if err != nil {
			if IsKind(err, KindNotFound) {
				return nil, newError(KindCorruptHierarchy, id, "dangling parent reference %s", parentID)
			}
			return nil, err
		}
		ancestors = append(ancestors, parent)
		session = parent
	}
	return ancestors, nil
}

// TreeNode is a session with its resolved children, produced by Tree.
type TreeNode struct {
	*Session
	Children []*TreeNode `json:"children"`
}

// Tree builds the full subtree rooted at rootID by recursively resolving
// children. Revisits are detected and fail with CorruptHierarchy so a
// corrupted store never causes unbounded recursion.
func (r *Resolver) Tree(ctx context.Context, rootID string) (*TreeNode, error) {
	root, err := r.store.GetSession(ctx, rootID)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{}
	return r.buildNode(ctx, root, visited)
}

func (r *Resolver) buildNode(ctx context.Context, session *Session, visited map[string]bool) (*TreeNode, error) {
	if visited[session.ID] {
		return nil, newError(KindCorruptHierarchy, session.ID, "cycle detected while building tree")
	}
	visited[session.ID] = true

	children, err := r.store.ListSessionsByParent(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	node := &TreeNode{Session: session, Children: make([]*TreeNode, 0, len(children))}
	for _, child := range children {
		childNode, err := r.buildNode(ctx, child, visited)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}

// ActiveSessions returns every session in the tree whose status is working,
// waiting, or blocked.
func (r *Resolver) ActiveSessions(ctx context.Context, rootID string) ([]*Session, error) {
	return r.filterTree(ctx, rootID, func(s *Session) bool { return s.AgentStatus.IsActive() })
}

// BlockedSessions returns every blocked session in the tree. Used to surface
// "needs attention" sessions to a human or supervising process.
func (r *Resolver) BlockedSessions(ctx context.Context, rootID string) ([]*Session, error) {
	return r.filterTree(ctx, rootID, func(s *Session) bool { return s.AgentStatus == StatusBlocked })
}

func (r *Resolver) filterTree(ctx context.Context, rootID string, keep func(*Session) bool) ([]*Session, error) {
	if _, err := r.store.GetSession(ctx, rootID); err != nil {
		return nil, err
	}
	sessions, err := r.store.ListSessionsByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// SpawnCheck is the result of CanSpawn.
type SpawnCheck struct {
	Can    bool   `json:"can"`
	Reason string `json:"reason,omitempty"`
}

/// CanSpawn reports whether the session may spawn a child: it must be
// non-terminal, below the depth limit, and free of pending escalations. A
// blocked session must not fork new work under an unresolved blocker.
func (r *Resolver) CanSpawn(ctx context.Context, id string) (SpawnCheck, error) {
	session, err := r.store.GetSession(ctx, id)
	if err != nil {
		return SpawnCheck{}, err
	}
	return r.CheckSpawn(session), nil
}

// CheckSpawn evaluates the spawn preconditions against an already-loaded
// session.
func (r *Resolver) CheckSpawn(session *Session) SpawnCheck {
	switch {
	case session.AgentStatus.IsTerminal():
		return SpawnCheck{Reason: fmt.Sprintf("session is %s", session.AgentStatus)}
	case session.Escalation != nil:
		return SpawnCheck{Reason: "session has an unresolved escalation"}
	case session.Depth+1 > r.maxDepth:
		return SpawnCheck{Reason: fmt.Sprintf("child would exceed max depth %d", r.maxDepth)}
	}
	return SpawnCheck{Can: true}
}
