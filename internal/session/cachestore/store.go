// Package cachestore wraps another hierarchy.Store with an expiring LRU over
// single-session reads. Tree walks hit GetSession heavily (ancestor chains,
// spawn checks, protocol preconditions re-read after CAS conflicts), so a
// small read cache pays for itself on file-backed stores. List queries always
// go to the backing store; they are the source of truth for tree membership.
package cachestore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"navi/internal/hierarchy"
)

const (
	// DefaultSize bounds the number of cached sessions.
	DefaultSize = 1024
	// DefaultTTL caps staleness for entries written by another process
	// sharing the backing store.
	DefaultTTL = 30 * time.Second
)

// Store is a caching hierarchy.Store decorator.
type Store struct {
	backing hierarchy.Store
	cache   *expirable.LRU[string, *hierarchy.Session]
}

// New wraps backing with an LRU of the given size and ttl. size <= 0 and
// ttl <= 0 fall back to the defaults.
func New(backing hierarchy.Store, size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		backing: backing,
		cache:   expirable.NewLRU[string, *hierarchy.Session](size, nil, ttl),
	}
}

func (s *Store) CreateSession(ctx context.Context, session *hierarchy.Session) error {
	if err := s.backing.CreateSession(ctx, session); err != nil {
		return err
	}
	s.cache.Add(session.ID, session.Clone())
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*hierarchy.Session, error) {
	if cached, ok := s.cache.Get(id); ok {
		return cached.Clone(), nil
	}
	session, err := s.backing.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, session.Clone())
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, patch hierarchy.SessionPatch) (*hierarchy.Session, error) {
	session, err := s.backing.UpdateSession(ctx, id, patch)
	if err != nil {
		// A CAS conflict means our cached copy was stale too.
		if hierarchy.IsKind(err, hierarchy.KindConflict) {
			s.cache.Remove(id)
		}
		return nil, err
	}
	s.cache.Add(id, session.Clone())
	return session, nil
}

func (s *Store) ListSessionsByRoot(ctx context.Context, rootID string) ([]*hierarchy.Session, error) {
	return s.backing.ListSessionsByRoot(ctx, rootID)
}

func (s *Store) ListSessionsByParent(ctx context.Context, parentID string) ([]*hierarchy.Session, error) {
	return s.backing.ListSessionsByParent(ctx, parentID)
}

func (s *Store) AppendDecision(ctx context.Context, decision *hierarchy.SessionDecision) error {
	return s.backing.AppendDecision(ctx, decision)
}

func (s *Store) ListDecisions(ctx context.Context, rootID, category string, limit int) ([]*hierarchy.SessionDecision, error) {
	return s.backing.ListDecisions(ctx, rootID, category, limit)
}

func (s *Store) AppendArtifact(ctx context.Context, artifact *hierarchy.SessionArtifact) error {
	return s.backing.AppendArtifact(ctx, artifact)
}

func (s *Store) ListArtifacts(ctx context.Context, rootID, artifactType string, limit int) ([]*hierarchy.SessionArtifact, error) {
	return s.backing.ListArtifacts(ctx, rootID, artifactType, limit)
}
