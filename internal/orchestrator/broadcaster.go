// Package orchestrator owns the process-wide pipeline registry and the
// observer broadcast fan-out.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// writeTimeout bounds one observer send; a stalled client must not stall
// the pipelines.
const writeTimeout = 5 * time.Second

// Envelope is the broadcast message shape observers receive.
type Envelope struct {
	Type      string                 `json:"type"`
	ProjectID string                 `json:"projectId,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
}

// observer is one connected WebSocket client.
type observer struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Broadcaster fans envelopes out to every connected observer. Delivery is
// best-effort: a failed send drops the observer.
type Broadcaster struct {
	mu        sync.Mutex
	observers map[string]*observer
	logger    *slog.Logger
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		observers: make(map[string]*observer),
		logger:    logger,
	}
}

// HandleConnection registers a WebSocket observer, sends the opening info
// envelope, and blocks until the connection closes. The read loop exists
// only to detect disconnects; inbound messages are ignored.
func (b *Broadcaster) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	obs := &observer{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	b.mu.Lock()
	b.observers[obs.id] = obs
	b.mu.Unlock()
	defer b.drop(obs.id)

	b.send(obs, Envelope{
		Type: "info",
		Payload: map[string]interface{}{
			"message":   "Connected to orchestrator",
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast delivers an envelope to every observer, stamping the payload.
// Observers whose send fails are pruned.
func (b *Broadcaster) Broadcast(eventType, projectID string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = time.Now().Format(time.RFC3339)
	}
	env := Envelope{Type: eventType, ProjectID: projectID, Payload: payload}

	b.mu.Lock()
	targets := make([]*observer, 0, len(b.observers))
	for _, obs := range b.observers {
		targets = append(targets, obs)
	}
	b.mu.Unlock()

	for _, obs := range targets {
		if !b.send(obs, env) {
			b.drop(obs.id)
		}
	}
}

// ObserverCount reports the number of connected observers.
func (b *Broadcaster) ObserverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

func (b *Broadcaster) send(obs *observer, env Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Warn("envelope marshal failed", "error", err)
		return true
	}
	ctx, cancel := context.WithTimeout(obs.ctx, writeTimeout)
	defer cancel()
	if err := obs.conn.Write(ctx, websocket.MessageText, data); err != nil {
		b.logger.Debug("observer send failed", "observer", obs.id, "error", err)
		return false
	}
	return true
}

func (b *Broadcaster) drop(id string) {
	b.mu.Lock()
	obs, ok := b.observers[id]
	if ok {
		delete(b.observers, id)
	}
	b.mu.Unlock()
	if ok {
		obs.cancel()
		_ = obs.conn.Close(websocket.StatusNormalClosure, "")
	}
}
