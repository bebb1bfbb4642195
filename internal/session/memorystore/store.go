// Package memorystore keeps the session hierarchy in process memory. It is
// the reference store implementation: every invariant the Store contract
// promises (per-session atomic patches, compare-and-swap on status,
// append-only ledgers) is easiest to read here.
package memorystore

import (
	"context"
	"sort"
	"sync"
	"time"

	"navi/internal/hierarchy"
)

// Store is an in-memory hierarchy.Store. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*hierarchy.Session
	decisions map[string][]*hierarchy.SessionDecision
	artifacts map[string][]*hierarchy.SessionArtifact
	clock     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions:  make(map[string]*hierarchy.Session),
		decisions: make(map[string][]*hierarchy.SessionDecision),
		artifacts: make(map[string][]*hierarchy.SessionArtifact),
		clock:     time.Now,
	}
}

// WithClock overrides the timestamp source used for UpdatedAt stamping.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) CreateSession(ctx context.Context, session *hierarchy.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return hierarchy.NewError(hierarchy.KindConflict, session.ID, "session already exists")
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*hierarchy.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, hierarchy.NewError(hierarchy.KindNotFound, id, "session not found")
	}
	return session.Clone(), nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, patch hierarchy.SessionPatch) (*hierarchy.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, hierarchy.NewError(hierarchy.KindNotFound, id, "session not found")
	}
	if patch.ExpectStatus != nil && session.AgentStatus != *patch.ExpectStatus {
		return nil, hierarchy.NewError(hierarchy.KindConflict, id,
			"status is %q, expected %q", session.AgentStatus, *patch.ExpectStatus)
	}
	updated := session.Clone()
	patch.Apply(updated, s.clock())
	s.sessions[id] = updated
	return updated.Clone(), nil
}

func (s *Store) ListSessionsByRoot(ctx context.Context, rootID string) ([]*hierarchy.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(session *hierarchy.Session) bool {
		return session.RootSessionID == rootID
	}), nil
}

func (s *Store) ListSessionsByParent(ctx context.Context, parentID string) ([]*hierarchy.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(session *hierarchy.Session) bool {
		return session.ParentSessionID == parentID
	}), nil
}

// collect snapshots matching sessions ordered by creation time. Caller holds
// at least the read lock.
func (s *Store) collect(keep func(*hierarchy.Session) bool) []*hierarchy.Session {
	var out []*hierarchy.Session
	for _, session := range s.sessions {
		if keep(session) {
			out = append(out, session.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) AppendDecision(ctx context.Context, decision *hierarchy.SessionDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := *decision
	s.decisions[d.RootSessionID] = append(s.decisions[d.RootSessionID], &d)
	return nil
}

func (s *Store) ListDecisions(ctx context.Context, rootID, category string, limit int) ([]*hierarchy.SessionDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.decisions[rootID]
	out := make([]*hierarchy.SessionDecision, 0, len(entries))
	// Appended oldest first; walk backwards for newest first.
	for i := len(entries) - 1; i >= 0; i-- {
		if category != "" && entries[i].Category != category {
			continue
		}
		d := *entries[i]
		out = append(out, &d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AppendArtifact(ctx context.Context, artifact *hierarchy.SessionArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *artifact
	s.artifacts[a.RootSessionID] = append(s.artifacts[a.RootSessionID], &a)
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, rootID, artifactType string, limit int) ([]*hierarchy.SessionArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.artifacts[rootID]
	out := make([]*hierarchy.SessionArtifact, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if artifactType != "" && entries[i].ArtifactType != artifactType {
			continue
		}
		a := *entries[i]
		out = append(out, &a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
