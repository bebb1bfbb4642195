// Package filestore persists the session hierarchy as JSON files on disk:
// one file per session, one ledger file per tree. Human-inspectable and
// dependency-free, suited to single-process deployments; the store mutex
// serializes writers within the process.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"navi/internal/hierarchy"
	"navi/internal/shared/logging"
)

// Store is a file-backed hierarchy.Store.
type Store struct {
	mu      sync.Mutex
	baseDir string
	logger  logging.Logger
	clock   func() time.Time
}

// New creates a store rooted at baseDir, expanding a leading "~/". The
// sessions, decisions, and artifacts subdirectories are created eagerly so
// later writes fail loudly only on real I/O problems.
func New(baseDir string, logger logging.Logger) (*Store, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		baseDir = filepath.Join(home, baseDir[2:])
	}
	for _, sub := range []string{"sessions", "decisions", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return &Store{
		baseDir: baseDir,
		logger:  logging.OrNop(logger),
		clock:   time.Now,
	}, nil
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.baseDir, "sessions", fmt.Sprintf("%s.json", id))
}

func (s *Store) ledgerPath(kind, rootID string) string {
	return filepath.Join(s.baseDir, kind, fmt.Sprintf("%s.json", rootID))
}

func (s *Store) CreateSession(ctx context.Context, session *hierarchy.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	// O_EXCL so a duplicate id never silently overwrites an existing session.
	f, err := os.OpenFile(s.sessionPath(session.ID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return hierarchy.NewError(hierarchy.KindConflict, session.ID, "session already exists")
		}
		return fmt.Errorf("create session file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*hierarchy.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readSession(id)
}

// readSession loads one session file. Caller holds the mutex.
func (s *Store) readSession(id string) (*hierarchy.Session, error) {
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, hierarchy.NewError(hierarchy.KindNotFound, id, "session not found")
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var session hierarchy.Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.Error("Failed to decode session file %s: %v. Preview: %s", id, err, previewJSON(data))
		return nil, hierarchy.WrapError(hierarchy.KindCorruptHierarchy, id, err)
	}
	return &session, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, patch hierarchy.SessionPatch) (*hierarchy.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.readSession(id)
	if err != nil {
		return nil, err
	}
	if patch.ExpectStatus != nil && session.AgentStatus != *patch.ExpectStatus {
		return nil, hierarchy.NewError(hierarchy.KindConflict, id,
			"status is %q, expected %q", session.AgentStatus, *patch.ExpectStatus)
	}
	patch.Apply(session, s.clock())

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(s.sessionPath(id), data, 0o644); err != nil {
		return nil, fmt.Errorf("write session %s: %w", id, err)
	}
	return session, nil
}

func (s *Store) ListSessionsByRoot(ctx context.Context, rootID string) ([]*hierarchy.Session, error) {
	return s.scanSessions(func(session *hierarchy.Session) bool {
		return session.RootSessionID == rootID
	})
}

func (s *Store) ListSessionsByParent(ctx context.Context, parentID string) ([]*hierarchy.Session, error) {
	return s.scanSessions(func(session *hierarchy.Session) bool {
		return session.ParentSessionID == parentID
	})
}

func (s *Store) scanSessions(keep func(*hierarchy.Session) bool) ([]*hierarchy.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.baseDir, "sessions"))
	if err != nil {
		return nil, err
	}
	var out []*hierarchy.Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		session, err := s.readSession(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			s.logger.Warn("Skipping unreadable session file %s: %v", entry.Name(), err)
			continue
		}
		if keep(session) {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) AppendDecision(ctx context.Context, decision *hierarchy.SessionDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*hierarchy.SessionDecision
	if err := s.readLedger("decisions", decision.RootSessionID, &entries); err != nil {
		return err
	}
	entries = append(entries, decision)
	return s.writeLedger("decisions", decision.RootSessionID, entries)
}

func (s *Store) ListDecisions(ctx context.Context, rootID, category string, limit int) ([]*hierarchy.SessionDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*hierarchy.SessionDecision
	if err := s.readLedger("decisions", rootID, &entries); err != nil {
		return nil, err
	}
	out := make([]*hierarchy.SessionDecision, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if category != "" && entries[i].Category != category {
			continue
		}
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AppendArtifact(ctx context.Context, artifact *hierarchy.SessionArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*hierarchy.SessionArtifact
	if err := s.readLedger("artifacts", artifact.RootSessionID, &entries); err != nil {
		return err
	}
	entries = append(entries, artifact)
	return s.writeLedger("artifacts", artifact.RootSessionID, entries)
}

func (s *Store) ListArtifacts(ctx context.Context, rootID, artifactType string, limit int) ([]*hierarchy.SessionArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*hierarchy.SessionArtifact
	if err := s.readLedger("artifacts", rootID, &entries); err != nil {
		return nil, err
	}
	out := make([]*hierarchy.SessionArtifact, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if artifactType != "" && entries[i].ArtifactType != artifactType {
			continue
		}
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// readLedger decodes a per-tree ledger file into out. A missing file is an
// empty ledger. Caller holds the mutex.
func (s *Store) readLedger(kind, rootID string, out any) error {
	data, err := os.ReadFile(s.ledgerPath(kind, rootID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s ledger for %s: %w", kind, rootID, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Error("Failed to decode %s ledger for %s: %v. Preview: %s", kind, rootID, err, previewJSON(data))
		return hierarchy.WrapError(hierarchy.KindCorruptHierarchy, rootID, err)
	}
	return nil
}

func (s *Store) writeLedger(kind, rootID string, entries any) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.ledgerPath(kind, rootID), data, 0o644)
}

func previewJSON(data []byte) string {
	const maxPreview = 512
	preview := strings.TrimSpace(string(data))
	preview = strings.ReplaceAll(preview, "\n", " ")
	preview = strings.ReplaceAll(preview, "\t", " ")
	if len(preview) > maxPreview {
		preview = preview[:maxPreview] + "... (truncated)"
	}
	return preview
}
