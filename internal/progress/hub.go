// Package progress fans out generation stage events to websocket listeners.
package progress

import (
	"sync"
	"time"
)

// Stage is a step of a generation request.
type Stage string

const (
	StageWaiting      Stage = "waiting"
	StageValidating   Stage = "validating"
	StageConditioning Stage = "conditioning"
	StageGenerating   Stage = "generating"
	StageComplete     Stage = "complete"
	StageFailed       Stage = "failed"
)

// Event reports that a request reached a stage.
type Event struct {
	RequestID string    `json:"request_id"`
	Stage     Stage     `json:"stage"`
	Message   string    `json:"message,omitempty"`
	ResultID  string    `json:"result_id,omitempty"`
	Time      time.Time `json:"time"`
}

// listenerBuffer bounds how many events a slow listener may fall behind.
const listenerBuffer = 32

// Hub fans out events to N listeners.
type Hub struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives events. A non-empty RequestID restricts it to one
// request.
type Listener struct {
	C         chan Event
	RequestID string
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[*Listener]struct{})}
}

// Subscribe registers a listener for requestID, or for every request when
// requestID is empty.
func (h *Hub) Subscribe(requestID string) *Listener {
	l := &Listener{C: make(chan Event, listenerBuffer), RequestID: requestID}
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()
	return l
}

// Unsubscribe removes a listener.
func (h *Hub) Unsubscribe(l *Listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()
}

// ListenerCount returns the number of active listeners.
func (h *Hub) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Publish delivers e to every matching listener. Slow listeners lose the
// event rather than block the request that produced it.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.listeners {
		if l.RequestID != "" && l.RequestID != e.RequestID {
			continue
		}
		select {
		case l.C <- e:
		default:
		}
	}
}
