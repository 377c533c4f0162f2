package events

import (
	"sync"
)

const defaultHistoryLimit = 500

// History is a Listener that keeps a bounded in-memory trail of events per
// request, so clients can poll for progress while a request or workflow runs.
type History struct {
	mu      sync.RWMutex
	byReq   map[string][]*Event
	limit   int
	maxReqs int
}

// NewHistory returns a history keeping at most limit events per request.
// limit <= 0 selects the default.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &History{
		byReq:   make(map[string][]*Event),
		limit:   limit,
		maxReqs: 1024,
	}
}

// HandleEvent records the event under its request id. Events with no request
// id are dropped; they carry no pollable identity.
func (h *History) HandleEvent(event *Event) {
	if event == nil || event.RequestID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	trail, ok := h.byReq[event.RequestID]
	if !ok && len(h.byReq) >= h.maxReqs {
		h.evictOne()
	}
	trail = append(trail, event)
	if len(trail) > h.limit {
		trail = trail[len(trail)-h.limit:]
	}
	h.byReq[event.RequestID] = trail
}

// Since returns the events recorded for requestID after the given index,
// plus the index of the last event so callers can resume polling from it.
func (h *History) Since(requestID string, sinceIndex int) ([]*Event, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	trail := h.byReq[requestID]
	last := len(trail) - 1
	if last < 0 {
		return nil, 0
	}
	next := sinceIndex + 1
	if next > len(trail) {
		next = len(trail)
	}
	out := make([]*Event, len(trail)-next)
	copy(out, trail[next:])
	return out, last
}

// Events returns the full recorded trail for requestID.
func (h *History) Events(requestID string) []*Event {
	events, _ := h.Since(requestID, -1)
	return events
}

// Forget drops the trail for a finished request.
func (h *History) Forget(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byReq, requestID)
}

// Stats reports how much the history currently holds.
func (h *History) Stats() (requests, totalEvents int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, trail := range h.byReq {
		totalEvents += len(trail)
	}
	return len(h.byReq), totalEvents
}

// evictOne drops the trail with the oldest most-recent event. Called with the
// write lock held.
func (h *History) evictOne() {
	var victim string
	for id, trail := range h.byReq {
		if victim == "" {
			victim = id
			continue
		}
		if len(trail) > 0 && len(h.byReq[victim]) > 0 &&
			trail[len(trail)-1].Timestamp.Before(h.byReq[victim][len(h.byReq[victim])-1].Timestamp) {
			victim = id
		}
	}
	if victim != "" {
		delete(h.byReq, victim)
	}
}
