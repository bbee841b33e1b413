package realtime

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/and161185/studydesk/internal/convert"
	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/events"
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type relayFixture struct {
	relay *Relay
	rooms *Rooms
	store *memStore
	pub   *fakePub

	alice, bob uuid.UUID
	room       model.Room
}

func newRelayFixture(t *testing.T) *relayFixture {
	f := &relayFixture{
		rooms: NewRooms(),
		store: newMemStore(),
		pub:   &fakePub{},
		alice: uuid.Must(uuid.NewV4()),
		bob:   uuid.Must(uuid.NewV4()),
		room:  model.DirectRoom(uuid.Must(uuid.NewV4())),
	}
	f.store.allow(f.room, f.alice, f.bob)
	f.relay = NewRelay(f.store, f.rooms, f.pub, zaptest.NewLogger(t))
	return f
}

func TestRelay_SubmitFansOutToSubscribersOnly(t *testing.T) {
	f := newRelayFixture(t)
	a, b, outsider := newSink(), newSink(), newSink()
	f.rooms.Join(a, f.room)
	f.rooms.Join(b, f.room)
	f.rooms.Join(outsider, model.DirectRoom(uuid.Must(uuid.NewV4())))

	m, err := f.relay.Submit(context.Background(), model.NewMessage{Room: f.room, SenderID: f.alice, Body: "hello"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, m.ID)
	require.Equal(t, 1, f.store.count())

	for _, s := range []*fakeSink{a, b} {
		evs := s.got()
		require.Len(t, evs, 1, "exactly once, sender echo included")
		require.Equal(t, EvReceiveDirectMessage, evs[0].Name)
		dto := evs[0].Data.(*convert.Message)
		assert.Equal(t, "hello", dto.Text)
		assert.Equal(t, m.ID.String(), dto.ID)
		assert.False(t, dto.CreatedAt.IsZero())
	}
	require.Empty(t, outsider.got())
	require.Equal(t, []string{events.KeyMessageCreated}, f.pub.published())
}

func TestRelay_GroupEventName(t *testing.T) {
	f := newRelayFixture(t)
	group := model.GroupRoom(uuid.Must(uuid.NewV4()))
	f.store.allow(group, f.bob)
	s := newSink()
	f.rooms.Join(s, group)

	_, err := f.relay.Submit(context.Background(), model.NewMessage{Room: group, SenderID: f.bob, Body: "hi all"})
	require.NoError(t, err)
	require.Equal(t, []string{EvReceiveGroupMessage}, s.names())
}

func TestRelay_RejectedSubmissionIsNotFannedOut(t *testing.T) {
	f := newRelayFixture(t)
	a := newSink()
	f.rooms.Join(a, f.room)
	ctx := context.Background()

	_, err := f.relay.Submit(ctx, model.NewMessage{Room: f.room, SenderID: f.alice, Body: ""})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = f.relay.Submit(ctx, model.NewMessage{Room: f.room, SenderID: uuid.Must(uuid.NewV4()), Body: "sneaky"})
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	f.store.failErr = errBoom
	_, err = f.relay.Submit(ctx, model.NewMessage{Room: f.room, SenderID: f.alice, Body: "x"})
	require.ErrorIs(t, err, errBoom)

	require.Empty(t, a.got())
	require.Equal(t, 0, f.store.count())
	require.Empty(t, f.pub.published())
}

func TestRelay_LeftConnectionReceivesNothing(t *testing.T) {
	f := newRelayFixture(t)
	a, b := newSink(), newSink()
	f.rooms.Join(a, f.room)
	f.rooms.Join(b, f.room)
	f.rooms.Leave(a.ID(), f.room)

	_, err := f.relay.Submit(context.Background(), model.NewMessage{Room: f.room, SenderID: f.bob, Body: "still here?"})
	require.NoError(t, err)
	require.Empty(t, a.got())
	require.Len(t, b.got(), 1)
}

func TestRelay_SubmissionOrderIsPreserved(t *testing.T) {
	f := newRelayFixture(t)
	a, b := newSink(), newSink()
	f.rooms.Join(a, f.room)
	f.rooms.Join(b, f.room)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.relay.Submit(context.Background(), model.NewMessage{Room: f.room, SenderID: f.alice, Body: fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var persisted []string
	for _, id := range f.store.order {
		persisted = append(persisted, id.String())
	}
	for _, s := range []*fakeSink{a, b} {
		var seen []string
		for _, ev := range s.got() {
			seen = append(seen, ev.Data.(*convert.Message).ID)
		}
		require.Equal(t, persisted, seen)
	}
}

func TestRelay_Delete(t *testing.T) {
	f := newRelayFixture(t)
	a, b := newSink(), newSink()
	f.rooms.Join(a, f.room)
	f.rooms.Join(b, f.room)
	ctx := context.Background()

	m, err := f.relay.Submit(ctx, model.NewMessage{Room: f.room, SenderID: f.alice, Body: "oops"})
	require.NoError(t, err)
	a.reset()
	b.reset()

	_, err = f.relay.Delete(ctx, model.RoomDirect, m.ID, f.bob)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Empty(t, a.got())
	require.Empty(t, b.got())
	require.Equal(t, 1, f.store.count())

	_, err = f.relay.Delete(ctx, model.RoomDirect, m.ID, f.alice)
	require.NoError(t, err)
	require.Equal(t, 0, f.store.count())
	for _, s := range []*fakeSink{a, b} {
		evs := s.got()
		require.Len(t, evs, 1)
		require.Equal(t, EvDirectMessageDeleted, evs[0].Name)
		require.Equal(t, convert.MessageDeleted{MessageID: m.ID.String(), ChatID: f.room.ID.String()}, evs[0].Data)
	}
	require.Equal(t, []string{events.KeyMessageCreated, events.KeyMessageDeleted}, f.pub.published())
}

func TestRelay_AppendCallLog(t *testing.T) {
	f := newRelayFixture(t)
	a := newSink()
	f.rooms.Join(a, f.room)

	m, err := f.relay.AppendCallLog(context.Background(), model.CallLog{Room: f.room, CallerID: f.alice, CalleeID: f.bob, Kind: model.CallVoice, Outcome: model.OutcomeMissed})
	require.NoError(t, err)
	require.Equal(t, model.KindCallLog, m.Kind)
	require.Equal(t, []string{EvReceiveDirectMessage}, a.names())
}

func TestRelay_PublishFailureDoesNotFailSubmit(t *testing.T) {
	f := newRelayFixture(t)
	f.pub.err = errBoom
	_, err := f.relay.Submit(context.Background(), model.NewMessage{Room: f.room, SenderID: f.alice, Body: "x"})
	require.NoError(t, err)
}
