// Package events implements the in-process publish/subscribe bus that carries
// agent state changes, log lines, and telemetry samples to observers.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Topics understood by external observers. Payload shapes are free-form JSON
// objects; only the topic names are contractual.
const (
	TopicBotStatus = "botStatus"
	TopicLog       = "log"
	TopicPlugins   = "plugins:update"
	TopicHeartbeat = "heartbeat"
	TopicToast     = "toast"
	TopicSystem    = "systemEvent"
)

// LogReplayCapacity is the size of the ring buffer kept for the log topic so a
// late-connecting observer can catch up on recent history. Other topics are
// fire-and-forget.
const LogReplayCapacity = 100

type Event struct {
	ID    int64     `json:"id"`
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
	Data  []byte    `json:"data"` // JSON payload
}

type subscriber struct {
	topic string // empty subscribes to every topic
	ch    chan Event
}

// Hub is an in-memory pub/sub bus. Publishing never blocks: slow subscribers
// miss events rather than stall producers, and events with no subscriber are
// dropped. Only the log topic is buffered for replay.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]subscriber
	nextSubID int
}

func NewHub() *Hub {
	return &Hub{
		ring: make([]Event, LogReplayCapacity),
		subs: make(map[int]subscriber),
	}
}

// Publish broadcasts data on a topic. Data is marshalled to JSON; a value that
// cannot be marshalled is published as an empty object.
func (h *Hub) Publish(topic string, data any) {
	id := h.nextID.Add(1)

	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:    id,
		Topic: topic,
		At:    time.Now().UTC(),
		Data:  payload,
	}

	h.mu.Lock()
	if topic == TopicLog {
		h.pushLocked(ev)
	}
	for _, sub := range h.subs {
		if sub.topic != "" && sub.topic != topic {
			continue
		}
		// Don't let slow observers block producers.
		select {
		case sub.ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a handler channel for one topic, or for every topic when
// topic is empty. The returned cancel func unregisters and closes the channel;
// it is safe to call more than once.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = subscriber{topic: topic, ch: ch}

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered log events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// LogLine publishes a structured log entry on the log topic.
func (h *Hub) LogLine(level, source, message string) {
	h.Publish(TopicLog, map[string]any{
		"level":   level,
		"source":  source,
		"message": message,
	})
}

// Toast publishes a user-facing notice for dashboard display.
func (h *Hub) Toast(kind, message string) {
	h.Publish(TopicToast, map[string]any{
		"kind":    kind,
		"message": message,
	})
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
