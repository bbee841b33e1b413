package realtime

import (
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
)

// TypingRelay forwards typing notifications to a room, skipping the sender's
// connection. Nothing is stored.
type TypingRelay struct {
	rooms *Rooms
}

func NewTypingRelay(rooms *Rooms) *TypingRelay {
	return &TypingRelay{rooms: rooms}
}

// Notify announces that userID started (typing=true) or stopped typing in room.
func (t *TypingRelay) Notify(from Sink, room model.Room, userID uuid.UUID, userName string, typing bool) {
	payload := Typing{UserID: userID, UserName: userName}
	id := room.ID
	var name string
	switch {
	case room.Kind == model.RoomGroup && typing:
		name, payload.GroupID = EvUserTypingGroup, &id
	case room.Kind == model.RoomGroup:
		name, payload.GroupID = EvUserStopTypingGroup, &id
	case typing:
		name, payload.ChatID = EvUserTypingDirect, &id
	default:
		name, payload.ChatID = EvUserStopTypingDirect, &id
	}

	ev := Event{Name: name, Data: payload}
	for _, s := range t.rooms.Subscribers(room) {
		if s.ID() == from.ID() {
			continue
		}
		s.Send(ev)
	}
}
