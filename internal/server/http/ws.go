package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"navi/internal/hierarchy"
	"navi/internal/shared/logging"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// eventEnvelope is the wire form of a hierarchy event.
type eventEnvelope struct {
	Type          string          `json:"type"`
	SessionID     string          `json:"sessionId"`
	RootSessionID string          `json:"rootSessionId"`
	Timestamp     time.Time       `json:"ts"`
	Payload       hierarchy.Event `json:"payload"`
}

// eventStream streams hierarchy events to websocket clients. Each connection
// gets its own notifier subscription; an optional rootId query parameter
// narrows the stream to one tree.
type eventStream struct {
	notifier *hierarchy.Notifier
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func newEventStream(notifier *hierarchy.Notifier, logger logging.Logger) *eventStream {
	return &eventStream{
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Cross-origin policy is enforced by the CORS middleware.
				return true
			},
		},
		logger: logging.OrNop(logger),
	}
}

func (es *eventStream) handle(c *gin.Context) {
	conn, err := es.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		es.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	rootFilter := c.Query("rootId")

	events := es.notifier.Subscribe(eventBuffer)
	defer es.notifier.Unsubscribe(events)

	// Reader goroutine: the client never sends application data, but reading
	// is what surfaces close frames and connection loss.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()
	defer func() { _ = conn.Close() }()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, open := <-events:
			if !open {
				return
			}
			if rootFilter != "" && event.RootSessionID() != rootFilter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			envelope := eventEnvelope{
				Type:          event.EventType(),
				SessionID:     event.SessionID(),
				RootSessionID: event.RootSessionID(),
				Timestamp:     event.Timestamp(),
				Payload:       event,
			}
			if err := conn.WriteJSON(envelope); err != nil {
				es.logger.Debug("websocket write failed, dropping subscriber: %v", err)
				return
			}
		}
	}
}
