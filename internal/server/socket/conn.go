// Package socket serves the realtime websocket endpoint: connection pumps and
// the inbound event dispatcher.
package socket

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/and161185/studydesk/internal/realtime"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Frame is an inbound client frame; Data is decoded per event.
type Frame struct {
	Name  string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one websocket client. Outbound events are queued in a buffered
// channel drained by WritePump; a client whose queue is full is disconnected.
type Conn struct {
	id   uuid.UUID
	ws   *websocket.Conn
	send chan realtime.Event
	done chan struct{}
	once sync.Once
	log  *zap.Logger
}

var _ realtime.Sink = (*Conn)(nil)

// NewConn wraps an upgraded websocket.
func NewConn(ws *websocket.Conn, sendBuffer int, log *zap.Logger) *Conn {
	id := uuid.Must(uuid.NewV4())
	return &Conn{
		id:   id,
		ws:   ws,
		send: make(chan realtime.Event, sendBuffer),
		done: make(chan struct{}),
		log:  log.With(zap.Stringer("conn", id)),
	}
}

func (c *Conn) ID() uuid.UUID { return c.id }

// Send queues ev for delivery. It never blocks.
func (c *Conn) Send(ev realtime.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		c.log.Warn("send queue full, closing slow client", zap.String("event", ev.Name))
		c.Close()
		return false
	}
}

// Close stops the write pump, which closes the socket.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the connection is closing.
func (c *Conn) Done() <-chan struct{} { return c.done }

// ReadPump reads frames until the socket fails and hands each to handle.
func (c *Conn) ReadPump(readLimit int64, handle func(Frame)) {
	defer c.Close()

	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				c.Send(errorEvent("", "validation", "malformed frame"))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		handle(f)
	}
}

// WritePump drains the send queue and pings the client. It owns the socket
// and closes it on return.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.log.Debug("websocket write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// NewUpgrader accepts same-origin requests, requests without an Origin
// header, and the listed origins. A "*" entry allows any origin.
func NewUpgrader(origins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin) {
				return true
			}
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		},
	}
}
