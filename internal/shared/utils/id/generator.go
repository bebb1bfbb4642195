// Package id produces prefixed identifiers for sessions, decisions, and
// artifacts. KSUIDs keep ids lexicographically sortable by creation time;
// UUIDv7 is available for deployments that standardize on UUIDs.
package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the identifier generation algorithm to use.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered UUID version 7 identifiers.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces identifiers.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewSessionID generates a session identifier with a stable display prefix.
func NewSessionID() string {
	return defaultGenerator.newIdentifier("session")
}

// NewDecisionID generates a decision ledger identifier.
func NewDecisionID() string {
	return defaultGenerator.newIdentifier("decision")
}

// NewArtifactID generates an artifact ledger identifier.
func NewArtifactID() string {
	return defaultGenerator.newIdentifier("artifact")
}

// New generates an identifier with an arbitrary prefix.
func New(prefix string) string {
	return defaultGenerator.newIdentifier(prefix)
}

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		if u, err := uuid.NewV7(); err == nil {
			body = u.String()
			break
		}
		fallthrough
	default:
		body = ksuid.New().String()
	}
	return fmt.Sprintf("%s-%s", prefix, body)
}
