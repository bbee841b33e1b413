package realtime

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/and161185/studydesk/internal/convert"
	"github.com/and161185/studydesk/internal/events"
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// MessageStore persists messages and enforces who may post or delete.
type MessageStore interface {
	Post(ctx context.Context, nm model.NewMessage) (*model.Message, error)
	Delete(ctx context.Context, kind model.RoomKind, id, requesterID uuid.UUID) (*model.Message, error)
	LogCall(ctx context.Context, cl model.CallLog) (*model.Message, error)
}

const roomStripes = 64

// Relay persists submissions and fans them out to the room's subscribers.
// Within a room, persistence and fan-out happen under one lock, so
// subscribers see messages in persistence order.
type Relay struct {
	store MessageStore
	rooms *Rooms
	pub   events.Publisher
	log   *zap.Logger

	locks [roomStripes]sync.Mutex
}

func NewRelay(store MessageStore, rooms *Rooms, pub events.Publisher, log *zap.Logger) *Relay {
	return &Relay{store: store, rooms: rooms, pub: pub, log: log}
}

func (r *Relay) lock(room model.Room) *sync.Mutex {
	h := fnv.New32a()
	h.Write(room.ID.Bytes())
	return &r.locks[h.Sum32()%roomStripes]
}

// Submit stores a message and delivers it to every subscriber of its room,
// the sender's own connection included. Nothing is delivered on error.
func (r *Relay) Submit(ctx context.Context, nm model.NewMessage) (*model.Message, error) {
	mu := r.lock(nm.Room)
	mu.Lock()
	m, err := r.store.Post(ctx, nm)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	r.deliver(m)
	mu.Unlock()

	r.publish(ctx, events.KeyMessageCreated, convert.ToMessage(m))
	return m, nil
}

// Delete removes a message on behalf of its sender and notifies the room.
func (r *Relay) Delete(ctx context.Context, kind model.RoomKind, id, requesterID uuid.UUID) (*model.Message, error) {
	m, err := r.store.Delete(ctx, kind, id, requesterID)
	if err != nil {
		return nil, err
	}

	name := EvDirectMessageDeleted
	if m.Room.Kind == model.RoomGroup {
		name = EvGroupMessageDeleted
	}
	notice := convert.ToMessageDeleted(m)

	mu := r.lock(m.Room)
	mu.Lock()
	for _, s := range r.rooms.Subscribers(m.Room) {
		s.Send(Event{Name: name, Data: notice})
	}
	mu.Unlock()

	r.publish(ctx, events.KeyMessageDeleted, notice)
	return m, nil
}

// AppendCallLog stores a call summary as a message and delivers it like one.
func (r *Relay) AppendCallLog(ctx context.Context, cl model.CallLog) (*model.Message, error) {
	mu := r.lock(cl.Room)
	mu.Lock()
	m, err := r.store.LogCall(ctx, cl)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	r.deliver(m)
	mu.Unlock()

	r.publish(ctx, events.KeyMessageCreated, convert.ToMessage(m))
	return m, nil
}

func (r *Relay) deliver(m *model.Message) {
	name := EvReceiveDirectMessage
	if m.Room.Kind == model.RoomGroup {
		name = EvReceiveGroupMessage
	}
	ev := Event{Name: name, Data: convert.ToMessage(m)}
	for _, s := range r.rooms.Subscribers(m.Room) {
		if !s.Send(ev) {
			r.log.Warn("message not delivered", zap.Stringer("conn", s.ID()), zap.Stringer("message", m.ID))
		}
	}
}

func (r *Relay) publish(ctx context.Context, key string, payload any) {
	if err := r.pub.Publish(ctx, key, events.NewEnvelope(key, payload)); err != nil {
		r.log.Warn("event not published", zap.String("key", key), zap.Error(err))
	}
}
