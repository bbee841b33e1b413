package realtime

import (
	"context"
	"testing"

	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHub_DisconnectCleansUp(t *testing.T) {
	store := newMemStore()
	h := NewHub(Options{Status: &fakeStatus{}, Messages: store, CallLog: true, Log: zaptest.NewLogger(t)})
	ctx := context.Background()

	alice, bob := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	aConn, bConn := newSink(), newSink()
	h.Connect(alice, aConn)
	h.Connect(bob, bConn)
	h.Presence.Register(ctx, alice, aConn)
	h.Presence.Register(ctx, bob, bConn)

	room := model.GroupRoom(uuid.Must(uuid.NewV4()))
	store.allow(room, alice, bob)
	h.Rooms.Join(aConn, room)
	h.Rooms.Join(bConn, room)

	_, err := h.Calls.Initiate(ctx, aConn, InitiateRequest{CallerID: alice, CalleeID: bob, Kind: model.CallVoice})
	require.NoError(t, err)

	h.Disconnect(ctx, aConn)

	require.False(t, h.Presence.Online(alice))
	require.Empty(t, h.Rooms.RoomsOf(aConn.ID()))
	_, inCall := h.Calls.Active(bob)
	require.False(t, inCall)
	require.Len(t, bConn.named(EvCallEnded), 1)

	bConn.reset()
	_, err = h.Relay.Submit(ctx, model.NewMessage{Room: room, SenderID: bob, Body: "anyone?"})
	require.NoError(t, err)
	require.Empty(t, aConn.named(EvReceiveGroupMessage), "no fan-out to closed connections")
	require.Len(t, bConn.named(EvReceiveGroupMessage), 1)
}

func TestHub_ReplacedConnectionKeepsCall(t *testing.T) {
	h := NewHub(Options{Status: &fakeStatus{}, Messages: newMemStore(), Log: zaptest.NewLogger(t)})
	ctx := context.Background()
	alice, bob := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	old, fresh, bConn := newSink(), newSink(), newSink()

	h.Presence.Register(ctx, alice, old)
	h.Presence.Register(ctx, bob, bConn)
	_, err := h.Calls.Initiate(ctx, bConn, InitiateRequest{CallerID: bob, CalleeID: alice, Kind: model.CallVideo})
	require.NoError(t, err)
	h.Presence.Register(ctx, alice, fresh)

	h.Disconnect(ctx, old)
	_, inCall := h.Calls.Active(alice)
	require.True(t, inCall)
	require.True(t, h.Presence.Online(alice))
}

func TestHub_RevokeDropsEveryConnectionOfUser(t *testing.T) {
	h := NewHub(Options{Status: &fakeStatus{}, Messages: newMemStore(), Log: zaptest.NewLogger(t)})
	ctx := context.Background()
	alice, bob := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	unannounced, replaced, current, bConn := newSink(), newSink(), newSink(), newSink()
	room := model.GroupRoom(uuid.Must(uuid.NewV4()))

	h.Connect(alice, unannounced)
	h.Connect(alice, replaced)
	h.Connect(alice, current)
	h.Connect(bob, bConn)
	h.Presence.Register(ctx, alice, replaced)
	h.Presence.Register(ctx, alice, current)
	for _, s := range []Sink{unannounced, replaced, current, bConn} {
		h.Rooms.Join(s, room)
	}

	require.Equal(t, 3, h.Revoke(alice, room))
	for _, s := range []Sink{unannounced, replaced, current} {
		require.False(t, h.Rooms.Subscribed(s.ID(), room))
	}
	require.True(t, h.Rooms.Subscribed(bConn.ID(), room), "other members keep their subscription")
	require.Zero(t, h.Revoke(alice, room))
}
