package realtime

import (
	"context"

	"github.com/and161185/studydesk/internal/events"
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Hub wires the realtime components together.
type Hub struct {
	Presence *Presence
	Rooms    *Rooms
	Relay    *Relay
	Typing   *TypingRelay
	Calls    *Signaling
}

// Options configures NewHub.
type Options struct {
	Status   StatusStore
	Messages MessageStore
	Events   events.Publisher
	// CallLog appends a call_log message to the chat after each call.
	CallLog bool
	Log     *zap.Logger
}

func NewHub(opts Options) *Hub {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	pub := opts.Events
	if pub == nil {
		pub = events.NewFallback(log)
	}

	rooms := NewRooms()
	presence := NewPresence(opts.Status, pub, log.Named("presence"))
	relay := NewRelay(opts.Messages, rooms, pub, log.Named("relay"))
	var calllog CallLogger
	if opts.CallLog {
		calllog = relay
	}
	return &Hub{
		Presence: presence,
		Rooms:    rooms,
		Relay:    relay,
		Typing:   NewTypingRelay(rooms),
		Calls:    NewSignaling(presence, calllog, pub, log.Named("calls")),
	}
}

// Connect attaches a new connection authenticated as userID.
func (h *Hub) Connect(userID uuid.UUID, s Sink) { h.Presence.Attach(userID, s) }

// Revoke drops room from every connection of userID, announced or not, and
// returns how many subscriptions were removed. Used when a user loses
// membership.
func (h *Hub) Revoke(userID uuid.UUID, room model.Room) int {
	n := 0
	for _, s := range h.Presence.ConnsOf(userID) {
		if h.Rooms.Leave(s.ID(), room) {
			n++
		}
	}
	return n
}

// Disconnect releases everything a closed connection held: its presence
// entry, the user's call when this was the user's current connection, and
// its room subscriptions.
func (h *Hub) Disconnect(ctx context.Context, s Sink) {
	userID, current := h.Presence.Unregister(ctx, s)
	if current {
		h.Calls.Disconnect(ctx, userID)
	}
	h.Rooms.LeaveAll(s.ID())
}
