package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/studydesk/internal/convert"
	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/and161185/studydesk/internal/realtime"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authorizer answers whether a user may use a room.
type Authorizer interface {
	Authorize(ctx context.Context, room model.Room, userID uuid.UUID) error
}

// Identity is the authenticated user behind a connection.
type Identity struct {
	ID   uuid.UUID
	Name string
}

// Options tunes connections. Zero values take defaults.
type Options struct {
	SendBuffer     int
	ReadLimit      int64
	HandlerTimeout time.Duration
}

type handler func(ctx context.Context, s *session, data json.RawMessage) (any, error)

type session struct {
	conn *Conn
	user Identity
}

// Dispatcher runs websocket connections and routes their inbound events to
// the realtime hub. Frames of one connection are handled in arrival order.
type Dispatcher struct {
	hub      *realtime.Hub
	auth     Authorizer
	opts     Options
	log      *zap.Logger
	handlers map[string]handler

	mu    sync.Mutex
	conns map[uuid.UUID]*Conn
}

func NewDispatcher(hub *realtime.Hub, auth Authorizer, opts Options, log *zap.Logger) *Dispatcher {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 64 << 10
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 10 * time.Second
	}
	d := &Dispatcher{hub: hub, auth: auth, opts: opts, log: log, conns: make(map[uuid.UUID]*Conn)}
	d.handlers = map[string]handler{
		"user_connected": d.userConnected,

		"join_direct_chat":  d.join(model.RoomDirect),
		"leave_direct_chat": d.leave(model.RoomDirect),
		"join_group":        d.join(model.RoomGroup),
		"leave_group":       d.leave(model.RoomGroup),

		"send_direct_message":   d.send(model.RoomDirect),
		"send_group_message":    d.send(model.RoomGroup),
		"delete_direct_message": d.delete(model.RoomDirect),
		"delete_group_message":  d.delete(model.RoomGroup),

		"typing_direct":      d.typing(model.RoomDirect, true),
		"stop_typing_direct": d.typing(model.RoomDirect, false),
		"typing_group":       d.typing(model.RoomGroup, true),
		"stop_typing_group":  d.typing(model.RoomGroup, false),

		"call_initiate":        d.callInitiate,
		"call_answer":          d.callAnswer,
		"call_reject":          d.callReject,
		"call_end":             d.callEnd,
		"webrtc_offer":         d.signal(realtime.EvWebRTCOffer),
		"webrtc_answer":        d.signal(realtime.EvWebRTCAnswer),
		"webrtc_ice_candidate": d.signal(realtime.EvWebRTCIceCandidate),
	}
	return d
}

// Serve runs ws for user until the socket closes, then releases its presence,
// calls and subscriptions.
func (d *Dispatcher) Serve(ctx context.Context, ws *websocket.Conn, user Identity) {
	c := NewConn(ws, d.opts.SendBuffer, d.log)
	d.track(c)
	d.hub.Connect(user.ID, c)
	go c.WritePump()

	d.log.Debug("client connected", zap.Stringer("conn", c.ID()), zap.Stringer("user", user.ID))
	s := &session{conn: c, user: user}
	c.ReadPump(d.opts.ReadLimit, func(f Frame) { d.dispatch(ctx, s, f) })

	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.HandlerTimeout)
	defer cancel()
	d.hub.Disconnect(cleanup, c)
	d.untrack(c)
	d.log.Debug("client disconnected", zap.Stringer("conn", c.ID()), zap.Stringer("user", user.ID))
}

// CloseAll closes every live connection.
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.Close()
	}
}

// Active returns the number of live connections.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *Dispatcher) track(c *Conn) {
	d.mu.Lock()
	d.conns[c.ID()] = c
	d.mu.Unlock()
}

func (d *Dispatcher) untrack(c *Conn) {
	d.mu.Lock()
	delete(d.conns, c.ID())
	d.mu.Unlock()
}

func (d *Dispatcher) dispatch(ctx context.Context, s *session, f Frame) {
	var (
		result any
		err    error
	)
	if h, ok := d.handlers[f.Name]; ok {
		hctx, cancel := context.WithTimeout(ctx, d.opts.HandlerTimeout)
		result, err = h(hctx, s, f.Data)
		cancel()
	} else {
		err = fmt.Errorf("%w: unknown event %q", errs.ErrValidation, f.Name)
	}

	if err != nil {
		if errs.Code(err) == "internal" {
			d.log.Error("event failed", zap.String("event", f.Name), zap.Stringer("user", s.user.ID), zap.Error(err))
		} else {
			d.log.Debug("event refused", zap.String("event", f.Name), zap.Stringer("user", s.user.ID), zap.Error(err))
		}
	}

	switch {
	case f.AckID != "":
		s.conn.Send(ackEvent(f.AckID, result, err))
	case err != nil && !quiet(err):
		s.conn.Send(errorEvent(f.Name, errs.Code(err), publicMessage(err)))
	}
}

// quiet errors have their own client notification (call_failed) or are
// silent drops (signaling to an offline peer).
func quiet(err error) bool {
	return errors.Is(err, errs.ErrPresenceUnavailable) || errors.Is(err, errs.ErrCallInFlight)
}

// --- wire helpers ---

// AckError describes a failed acknowledged request.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack is the data of an "ack" event.
type Ack struct {
	OK      bool      `json:"ok"`
	Message any       `json:"message,omitempty"`
	Error   *AckError `json:"error,omitempty"`
}

// ErrorData is the data of an "error" event.
type ErrorData struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ackEvent(id string, result any, err error) realtime.Event {
	ack := Ack{OK: err == nil, Message: result}
	if err != nil {
		ack.Message = nil
		ack.Error = &AckError{Code: errs.Code(err), Message: publicMessage(err)}
	}
	return realtime.Event{Name: "ack", AckID: id, Data: ack}
}

func errorEvent(event, code, msg string) realtime.Event {
	return realtime.Event{Name: "error", Data: ErrorData{Event: event, Code: code, Message: msg}}
}

func publicMessage(err error) string {
	if errs.Code(err) == "internal" {
		return "internal error"
	}
	return err.Error()
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: data is required", errs.ErrValidation)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: malformed data", errs.ErrValidation)
	}
	return v, nil
}

// checkSelf verifies an optional client-supplied identity against the
// authenticated user.
func checkSelf(field, claimed string, user uuid.UUID) error {
	if claimed == "" {
		return nil
	}
	id, err := convert.ParseID(field, claimed)
	if err != nil {
		return err
	}
	if id != user {
		return fmt.Errorf("%w: %s does not match the authenticated user", errs.ErrUnauthorized, field)
	}
	return nil
}

func roomOf(kind model.RoomKind, chatID, groupID string) (model.Room, error) {
	if kind == model.RoomGroup {
		id, err := convert.ParseID("groupId", groupID)
		return model.GroupRoom(id), err
	}
	id, err := convert.ParseID("chatId", chatID)
	return model.DirectRoom(id), err
}
