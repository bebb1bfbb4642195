package hierarchy

import (
	"sync"
	"time"

	"navi/internal/shared/logging"
)

// Event is a hierarchy state change fanned out to observers. Listeners see
// every event synchronously; channel subscribers get best-effort delivery.
// Ordering is per-session FIFO because all mutations of one session are
// serialized through the coordinator; cross-session ordering is not
// guaranteed and must not be assumed.
type Event interface {
	EventType() string
	SessionID() string
	RootSessionID() string
	Timestamp() time.Time
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	sessionID     string
	rootSessionID string
	ts            time.Time
}

func (e *BaseEvent) SessionID() string     { return e.sessionID }
func (e *BaseEvent) RootSessionID() string { return e.rootSessionID }
func (e *BaseEvent) Timestamp() time.Time  { return e.ts }

func newBaseEvent(sessionID, rootSessionID string, ts time.Time) BaseEvent {
	return BaseEvent{sessionID: sessionID, rootSessionID: rootSessionID, ts: ts}
}

// SessionSpawnedEvent - emitted when a session is created, root or child.
type SessionSpawnedEvent struct {
	BaseEvent
	Session         *Session `json:"session"`
	ParentSessionID string   `json:"parent_session_id,omitempty"`
}

func (e *SessionSpawnedEvent) EventType() string { return "session_spawned" }

// SessionStatusChangedEvent - emitted on every status transition.
type SessionStatusChangedEvent struct {
	BaseEvent
	From AgentStatus `json:"from"`
	To   AgentStatus `json:"to"`
}

func (e *SessionStatusChangedEvent) EventType() string { return "session_status_changed" }

// SessionEscalatedEvent - emitted when a session becomes blocked. ForwardedFrom
// is set when the escalation was pushed up from a descendant.
type SessionEscalatedEvent struct {
	BaseEvent
	Escalation    *Escalation `json:"escalation"`
	ForwardedFrom string      `json:"forwarded_from,omitempty"`
}

func (e *SessionEscalatedEvent) EventType() string { return "session_escalated" }

// SessionEscalationResolvedEvent - emitted when a pending escalation clears.
type SessionEscalationResolvedEvent struct {
	BaseEvent
	Action  ResolutionAction `json:"action"`
	Content string           `json:"content,omitempty"`
}

func (e *SessionEscalationResolvedEvent) EventType() string { return "session_escalation_resolved" }

// SessionDeliveredEvent - emitted when a session reaches delivered or failed.
type SessionDeliveredEvent struct {
	BaseEvent
	Deliverable *Deliverable `json:"deliverable"`
	FinalStatus AgentStatus  `json:"final_status"`
}

func (e *SessionDeliveredEvent) EventType() string { return "session_delivered" }

// SessionArchivedEvent - emitted per session archived, including cascades.
type SessionArchivedEvent struct {
	BaseEvent
	Cascade bool `json:"cascade"`
}

func (e *SessionArchivedEvent) EventType() string { return "session_archived" }

// SessionDecisionLoggedEvent - emitted when a decision is appended.
type SessionDecisionLoggedEvent struct {
	BaseEvent
	Decision *SessionDecision `json:"decision"`
}

func (e *SessionDecisionLoggedEvent) EventType() string { return "session_decision_logged" }

// SessionArtifactCreatedEvent - emitted when an artifact is appended.
type SessionArtifactCreatedEvent struct {
	BaseEvent
	Artifact *SessionArtifact `json:"artifact"`
}

func (e *SessionArtifactCreatedEvent) EventType() string { return "session_artifact_created" }

// Listener receives events synchronously on the mutating goroutine.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc is a function adapter for Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(event Event) { f(event) }

// Notifier fans hierarchy events out to attached listeners and channel
// subscribers. It is an explicit, injected event sink rather than ambient
// global pub/sub, so test suites can capture emitted events deterministically.
type Notifier struct {
	mu        sync.RWMutex
	listeners []Listener
	subs      map[chan Event]struct{}
	logger    logging.Logger
}

// NewNotifier creates an empty notifier.
func NewNotifier(logger logging.Logger) *Notifier {
	return &Notifier{
		subs:   make(map[chan Event]struct{}),
		logger: logging.OrNop(logger),
	}
}

// Attach registers a synchronous listener.
func (n *Notifier) Attach(l Listener) {
	if n == nil || l == nil {
		return
	}
	n.mu.Lock()
	n.listeners = append(n.listeners, l)
	n.mu.Unlock()
}

// Subscribe returns a buffered channel receiving every subsequent event.
// Delivery to a full channel is dropped, not blocked: a stalled subscriber
// must never stall the protocol. Size the buffer for the expected burst.
func (n *Notifier) Subscribe(buffer int) chan Event {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscribed channel.
func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	if _, ok := n.subs[ch]; ok {
		delete(n.subs, ch)
		close(ch)
	}
	n.mu.Unlock()
}

// Emit delivers the event to every listener and subscriber. Nil-safe so the
// coordinator can run without a notifier in minimal embeddings.
func (n *Notifier) Emit(event Event) {
	if n == nil || event == nil {
		return
	}
	// Sends happen under the read lock so Unsubscribe (write lock) can never
	// close a channel mid-send.
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, l := range n.listeners {
		l.OnEvent(event)
	}
	for ch := range n.subs {
		select {
		case ch <- event:
		default:
			n.logger.Warn("dropping event %s for slow subscriber", event.EventType())
		}
	}
	n.logger.Debug("event %s session=%s root=%s", event.EventType(), event.SessionID(), event.RootSessionID())
}
