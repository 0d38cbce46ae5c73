package hub

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

var connIDCounter atomic.Uint64

// Conn is the hub's view of one websocket connection: a send buffer drained
// by writePump and a readPump turning client commands into registry calls.
type Conn struct {
	id   uint64
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
}

func NewConn(h *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		id:   connIDCounter.Add(1),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
	}
}

// Start begins the read and write pumps.
func (c *Conn) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump consumes subscribe/unsubscribe commands until the connection
// drops, then detaches every subscription the connection held.
func (c *Conn) readPump() {
	defer func() {
		c.hub.Detach(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Warn().Err(err).Msg("ignoring malformed client command")
			continue
		}

		switch cmd.Type {
		case TypeSubscribe:
			if cmd.AccountKey != "" {
				c.hub.Subscribe(c, cmd.AccountKey)
			}
		case TypeUnsubscribe:
			if cmd.AccountKey != "" {
				c.hub.Unsubscribe(c, cmd.AccountKey)
			}
		default:
			log.Warn().Str("type", cmd.Type).Msg("ignoring unknown client command")
		}
	}
}

// writePump drains the send buffer to the socket and keeps the connection
// alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// The hub detached this connection
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
