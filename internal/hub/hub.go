// Package hub fans out "new events appended" signals to attached streams.
package hub

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is one live stream waiting on a run's event log.
type Subscription struct {
	ID    string
	RunID string
	// C receives a value whenever the run's log may have grown. Signals
	// coalesce: a reader that falls behind sees one pending signal, not many.
	C chan struct{}

	hub  *Hub
	once sync.Once
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub tracks subscriptions per run. It carries no event data; subscribers
// read the log themselves after being woken.
type Hub struct {
	mu   sync.RWMutex
	runs map[string]map[string]*Subscription
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		runs: make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers interest in runID.
func (h *Hub) Subscribe(runID string) *Subscription {
	sub := &Subscription{
		ID:    uuid.New().String(),
		RunID: runID,
		C:     make(chan struct{}, 1),
		hub:   h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runs[runID] == nil {
		h.runs[runID] = make(map[string]*Subscription)
	}
	h.runs[runID][sub.ID] = sub
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.runs[sub.RunID]
	if subs == nil {
		return
	}
	delete(subs, sub.ID)
	if len(subs) == 0 {
		delete(h.runs, sub.RunID)
	}
}

// Notify wakes every subscriber of runID. It never blocks the caller.
func (h *Hub) Notify(runID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.runs[runID] {
		select {
		case sub.C <- struct{}{}:
		default:
			// Already has a pending signal.
		}
	}
}

// SubscriberCount returns the number of streams attached to runID.
func (h *Hub) SubscriberCount(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs[runID])
}

// Count returns the number of active subscriptions across all runs.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.runs {
		n += len(subs)
	}
	return n
}
