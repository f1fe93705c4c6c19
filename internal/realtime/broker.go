package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/intermernet/finishline/internal/finisher"
	"github.com/intermernet/finishline/internal/metrics"
)

// Message kinds carried in the "type" field.
const (
	TypeAdd         = "add"
	TypeUpdate      = "update"
	TypeDelete      = "delete"
	TypeReorder     = "reorder"
	TypeClockUpdate = "clock_update"

	// ActionReload tells viewers to discard incremental state and refetch.
	ActionReload = "reload"
)

// Message is the broadcast envelope pushed to every viewer.
type Message struct {
	Type   string `json:"type,omitempty"`
	Action string `json:"action,omitempty"`
	ID     string `json:"id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Kind names the message for logs and metrics.
func (m Message) Kind() string {
	if m.Action != "" {
		return m.Action
	}
	return m.Type
}

// Added announces a newly created finisher.
func Added(rec finisher.Record) Message { return Message{Type: TypeAdd, Data: rec} }

// Updated announces a changed finisher.
func Updated(rec finisher.Record) Message { return Message{Type: TypeUpdate, Data: rec} }

// Deleted announces a removed finisher.
func Deleted(id string) Message { return Message{Type: TypeDelete, ID: id} }

// Reordered carries the full collection in its new persisted order.
func Reordered(records []finisher.Record) Message {
	if records == nil {
		records = []finisher.Record{}
	}
	return Message{Type: TypeReorder, Data: records}
}

// Reload asks every viewer for a full fetch.
func Reload() Message { return Message{Action: ActionReload} }

// ClockUpdate carries the race clock state.
func ClockUpdate(state any) Message { return Message{Type: TypeClockUpdate, Data: state} }

// Broker is the central hub for push-channel viewers. Every broadcast goes to
// every connected viewer, including the one whose command caused it.
type Broker struct {
	clients map[string]chan []byte
	mu      sync.RWMutex

	bufferSize int
	metrics    *metrics.Authority
}

// NewBroker creates a broker whose per-viewer buffers hold bufferSize
// messages. m may be nil.
func NewBroker(bufferSize int, m *metrics.Authority) *Broker {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Broker{
		clients:    make(map[string]chan []byte),
		bufferSize: bufferSize,
		metrics:    m,
	}
}

// AddClient registers a viewer connection and returns its id and channel.
func (b *Broker) AddClient() (string, chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan []byte, b.bufferSize)
	b.clients[id] = ch
	if b.metrics != nil {
		b.metrics.StreamClients.Inc()
	}
	slog.Info("Stream client connected", "client_id", id, "clients", len(b.clients))
	return id, ch
}

// RemoveClient unregisters a viewer and closes its channel.
func (b *Broker) RemoveClient(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		delete(b.clients, id)
		close(ch)
		if b.metrics != nil {
			b.metrics.StreamClients.Dec()
		}
		slog.Info("Stream client disconnected", "client_id", id, "clients", len(b.clients))
	}
}

// ClientCount returns the number of connected viewers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends msg to every connected viewer. Sends never block: a viewer
// whose buffer is full is disconnected so that it reconnects and resyncs
// rather than silently missing an event.
func (b *Broker) Broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Could not marshal broadcast", "kind", msg.Kind(), "error", err)
		return
	}
	if b.metrics != nil {
		b.metrics.Broadcasts.WithLabelValues(msg.Kind()).Inc()
	}

	var lagging []string
	b.mu.RLock()
	for id, ch := range b.clients {
		select {
		case ch <- payload:
		default:
			lagging = append(lagging, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range lagging {
		slog.Warn("Stream client buffer full, disconnecting", "client_id", id)
		if b.metrics != nil {
			b.metrics.DroppedBroadcasts.Inc()
		}
		b.RemoveClient(id)
	}
}
