// Package progress implements the client side of the sync progress stream:
// a long-lived websocket subscription that mirrors per-account sync state
// locally and survives hub restarts through backoff reconnection.
package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/riftstats/rift-worker/internal/hub"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	defaultMinBackoff = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// State is the local mirror of one account's sync progress. Mutated only by
// incoming hub events; callers read copies via Snapshot.
type State struct {
	Status      Status
	Progress    int
	Total       int
	MatchID     string
	TotalSynced int
	Error       string
}

// serverEvent is the superset decode target for all hub event variants.
type serverEvent struct {
	Type        string `json:"type"`
	AccountKey  string `json:"accountKey"`
	Progress    int    `json:"progress"`
	Total       int    `json:"total"`
	MatchID     string `json:"matchId"`
	TotalSynced int    `json:"totalSynced"`
	Error       string `json:"error"`
}

// Client maintains a websocket connection to the progress hub. Transport
// failures never surface as errors to callers: IsConnected flips to false
// and the run loop reconnects with exponential backoff, replaying every
// tracked subscription after reopen.
type Client struct {
	url string

	// Backoff bounds; overridable before Start (tests use short values).
	MinBackoff time.Duration
	MaxBackoff time.Duration

	dialer    *websocket.Dialer
	connected atomic.Bool

	mu     sync.Mutex // guards states and conn
	states map[string]State
	conn   *websocket.Conn

	writeMu sync.Mutex
}

func NewClient(url string) *Client {
	return &Client{
		url:        url,
		MinBackoff: defaultMinBackoff,
		MaxBackoff: defaultMaxBackoff,
		dialer:     websocket.DefaultDialer,
		states:     make(map[string]State),
	}
}

// Start launches the connect/reconnect loop. It returns immediately; the
// loop stops when ctx is canceled.
func (c *Client) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	backoff := c.MinBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("progress stream dial failed")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.MaxBackoff)
			continue
		}

		backoff = c.MinBackoff
		c.setConn(conn)
		c.connected.Store(true)
		c.resubscribe()
		log.Info().Msg("progress stream connected")

		// Unblock the read loop when ctx is canceled
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		c.readLoop(conn)
		close(done)

		c.connected.Store(false)
		c.setConn(nil)

		if ctx.Err() != nil {
			return
		}
		log.Warn().Dur("retry_in", backoff).Msg("progress stream dropped")
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.MaxBackoff)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.applyEvent(data)
	}
}

// applyEvent folds one hub event into the local mirror. Events for keys the
// caller never subscribed to are dropped.
func (c *Client) applyEvent(data []byte) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Msg("ignoring malformed progress event")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[ev.AccountKey]
	if !ok {
		return
	}

	switch ev.Type {
	case hub.TypeSyncProgress:
		state.Status = StatusSyncing
		state.Progress = ev.Progress
		state.Total = ev.Total
		state.MatchID = ev.MatchID
	case hub.TypeSyncComplete:
		state.Status = StatusCompleted
		state.TotalSynced = ev.TotalSynced
		// A UI reading progress must never see a value below total
		// once the sync finished.
		state.Progress = state.Total
	case hub.TypeSyncError:
		state.Status = StatusFailed
		state.Error = ev.Error
	default:
		return
	}
	c.states[ev.AccountKey] = state
}

// Subscribe starts tracking an account key. The local entry is initialized
// to idle; the hub is told immediately when connected, and again after every
// reconnect.
func (c *Client) Subscribe(accountKey string) {
	c.mu.Lock()
	if _, ok := c.states[accountKey]; !ok {
		c.states[accountKey] = State{Status: StatusIdle}
	}
	c.mu.Unlock()

	c.sendCommand(hub.TypeSubscribe, accountKey)
}

// Unsubscribe stops tracking an account key and deletes the local entry.
func (c *Client) Unsubscribe(accountKey string) {
	c.mu.Lock()
	delete(c.states, accountKey)
	c.mu.Unlock()

	c.sendCommand(hub.TypeUnsubscribe, accountKey)
}

// ResetProgress clears a tracked entry back to idle defaults without
// contacting the hub. Used by "try again" flows.
func (c *Client) ResetProgress(accountKey string) {
	c.mu.Lock()
	if _, ok := c.states[accountKey]; ok {
		c.states[accountKey] = State{Status: StatusIdle}
	}
	c.mu.Unlock()
}

// Snapshot returns a copy of the tracked state for the key.
func (c *Client) Snapshot(accountKey string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[accountKey]
	return state, ok
}

// IsConnected reports whether the stream is currently open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// resubscribe replays every tracked subscription after a reconnect, so a
// drop is transparent to callers who subscribed before it.
func (c *Client) resubscribe() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.states))
	for key := range c.states {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.sendCommand(hub.TypeSubscribe, key)
	}
}

// sendCommand is best effort: a write failure drops the connection, and the
// reconnect path replays subscriptions anyway.
func (c *Client) sendCommand(cmdType, accountKey string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	payload, err := json.Marshal(hub.Command{Type: cmdType, AccountKey: accountKey})
	if err != nil {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Warn().Err(err).Str("command", cmdType).Msg("failed to send hub command")
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// sleepCtx waits for d, returning false if ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
