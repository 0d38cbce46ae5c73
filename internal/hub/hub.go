package hub

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub is the process-wide progress broadcast registry. Subscriptions are
// keyed by account key; a worker pushing events for one account reaches
// exactly the connections watching that account.
//
// The two maps are a bidirectional view of the same subscriptions and are
// always mutated together under mu, so no broadcast can observe a
// half-updated subscriber set.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Conn]map[string]struct{} // connection -> subscribed keys
	subs  map[string]map[*Conn]struct{} // account key -> subscribers
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[*Conn]map[string]struct{}),
		subs:  make(map[string]map[*Conn]struct{}),
	}
}

// Register adds a connection with no subscriptions yet.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.conns[c] = make(map[string]struct{})
	}
	total := len(h.conns)
	h.mu.Unlock()

	log.Info().Int("total_conns", total).Msg("progress client connected")
}

// Subscribe adds accountKey to the connection's subscription set. Idempotent;
// an unregistered connection is registered implicitly.
func (h *Hub) Subscribe(c *Conn, accountKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys, ok := h.conns[c]
	if !ok {
		keys = make(map[string]struct{})
		h.conns[c] = keys
	}
	keys[accountKey] = struct{}{}

	if h.subs[accountKey] == nil {
		h.subs[accountKey] = make(map[*Conn]struct{})
	}
	h.subs[accountKey][c] = struct{}{}
}

// Unsubscribe removes accountKey from the connection's subscription set,
// freeing the key's entry when the last subscriber leaves.
func (h *Hub) Unsubscribe(c *Conn, accountKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if keys, ok := h.conns[c]; ok {
		delete(keys, accountKey)
	}
	if set, ok := h.subs[accountKey]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, accountKey)
		}
	}
}

// Detach removes the connection and every subscription it holds. Safe to
// call more than once; the send channel is closed on the first call.
func (h *Hub) Detach(c *Conn) {
	h.mu.Lock()
	keys, ok := h.conns[c]
	if ok {
		for key := range keys {
			if set, found := h.subs[key]; found {
				delete(set, c)
				if len(set) == 0 {
					delete(h.subs, key)
				}
			}
		}
		delete(h.conns, c)
		close(c.send)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if ok {
		log.Info().Int("total_conns", total).Msg("progress client disconnected")
	}
}

// BroadcastProgress pushes a per-match progress event to the account's
// subscribers.
func (h *Hub) BroadcastProgress(accountKey string, current, total int, matchID string) {
	h.broadcast(ProgressEvent{Key: accountKey, Current: current, Total: total, MatchID: matchID})
}

// BroadcastComplete pushes a terminal success event to the account's
// subscribers.
func (h *Hub) BroadcastComplete(accountKey string, totalSynced int) {
	h.broadcast(CompleteEvent{Key: accountKey, TotalSynced: totalSynced})
}

// BroadcastError pushes a terminal failure event to the account's
// subscribers.
func (h *Hub) BroadcastError(accountKey string, message string) {
	h.broadcast(ErrorEvent{Key: accountKey, Message: message})
}

// broadcast serializes the event once and pushes it to every subscriber of
// its account key. Zero subscribers is a no-op. A connection whose send
// buffer is full is dropped rather than allowed to stall the worker.
func (h *Hub) broadcast(ev Event) {
	payload, err := MarshalEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("account_key", ev.AccountKey()).Msg("failed to marshal progress event")
		return
	}

	h.mu.Lock()
	set, ok := h.subs[ev.AccountKey()]
	if !ok || len(set) == 0 {
		h.mu.Unlock()
		return
	}

	var stalled []*Conn
	for c := range set {
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}

	for _, c := range stalled {
		for key := range h.conns[c] {
			if s, found := h.subs[key]; found {
				delete(s, c)
				if len(s) == 0 {
					delete(h.subs, key)
				}
			}
		}
		delete(h.conns, c)
		close(c.send)
		log.Warn().Str("account_key", ev.AccountKey()).Msg("dropping stalled progress client")
	}
	h.mu.Unlock()
}

// SubscriberCount returns how many connections watch the given account key.
func (h *Hub) SubscriberCount(accountKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountKey])
}

// ConnCount returns the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown detaches every connection. Subscribers are expected to
// resubscribe after reconnecting; the registry is in-memory by design.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	for c := range h.conns {
		delete(h.conns, c)
		close(c.send)
	}
	h.subs = make(map[string]map[*Conn]struct{})
	h.mu.Unlock()

	log.Info().Msg("progress hub stopped")
}
