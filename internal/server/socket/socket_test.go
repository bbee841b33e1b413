package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/and161185/studydesk/internal/realtime"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type nopStatus struct{}

func (nopStatus) SetPresence(context.Context, uuid.UUID, string, time.Time) error { return nil }

// roomStore authorizes by an explicit member list and keeps messages in memory.
type roomStore struct {
	mu      sync.Mutex
	members map[model.Room]map[uuid.UUID]bool
	msgs    map[uuid.UUID]*model.Message
}

func newRoomStore() *roomStore {
	return &roomStore{members: map[model.Room]map[uuid.UUID]bool{}, msgs: map[uuid.UUID]*model.Message{}}
}

func (s *roomStore) allow(room model.Room, users ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[room] == nil {
		s.members[room] = map[uuid.UUID]bool{}
	}
	for _, u := range users {
		s.members[room][u] = true
	}
}

func (s *roomStore) Authorize(_ context.Context, room model.Room, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.members[room][userID] {
		return errs.ErrUnauthorized
	}
	return nil
}

func (s *roomStore) Post(ctx context.Context, nm model.NewMessage) (*model.Message, error) {
	if strings.TrimSpace(nm.Body) == "" {
		return nil, errs.ErrValidation
	}
	if err := s.Authorize(ctx, nm.Room, nm.SenderID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &model.Message{ID: uuid.Must(uuid.NewV4()), Room: nm.Room, SenderID: nm.SenderID, Kind: model.KindText, Body: nm.Body, Attachment: nm.Attachment, CreatedAt: time.Now()}
	s.msgs[m.ID] = m
	return m, nil
}

func (s *roomStore) Delete(_ context.Context, kind model.RoomKind, id, requester uuid.UUID) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok || m.Room.Kind != kind {
		return nil, errs.ErrNotFound
	}
	if m.SenderID != requester {
		return nil, errs.ErrUnauthorized
	}
	delete(s.msgs, id)
	return m, nil
}

func (s *roomStore) LogCall(context.Context, model.CallLog) (*model.Message, error) {
	return nil, errs.ErrNotFound
}

type testServer struct {
	srv   *httptest.Server
	hub   *realtime.Hub
	disp  *Dispatcher
	store *roomStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := newRoomStore()
	hub := realtime.NewHub(realtime.Options{Status: nopStatus{}, Messages: store, Log: log})
	disp := NewDispatcher(hub, store, Options{HandlerTimeout: 2 * time.Second}, log)
	up := NewUpgrader(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := uuid.FromStringOrNil(r.URL.Query().Get("user"))
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		disp.Serve(r.Context(), ws, Identity{ID: uid, Name: "user-" + uid.String()[:4]})
	}))
	t.Cleanup(func() {
		disp.CloseAll()
		srv.Close()
	})
	return &testServer{srv: srv, hub: hub, disp: disp, store: store}
}

type inbound struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId"`
	Data  json.RawMessage `json:"data"`
}

type client struct {
	t       *testing.T
	ws      *websocket.Conn
	user    uuid.UUID
	seq     int
	pending []inbound // frames read while waiting for an ack
}

func (ts *testServer) dial(t *testing.T, user uuid.UUID) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/?user=" + user.String()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &client{t: t, ws: ws, user: user}
}

func (c *client) emit(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(map[string]any{"event": event, "data": data}))
}

// call emits with an ack id and waits for the matching ack.
func (c *client) call(event string, data any) Ack {
	c.t.Helper()
	c.seq++
	id := event + "-" + strings.Repeat("x", c.seq)
	require.NoError(c.t, c.ws.WriteJSON(map[string]any{"event": event, "ackId": id, "data": data}))
	for {
		in := c.read()
		if in.Event == "ack" && in.AckID == id {
			var ack Ack
			require.NoError(c.t, json.Unmarshal(in.Data, &ack))
			return ack
		}
		c.pending = append(c.pending, in)
	}
}

func (c *client) next() inbound {
	c.t.Helper()
	if len(c.pending) > 0 {
		in := c.pending[0]
		c.pending = c.pending[1:]
		return in
	}
	return c.read()
}

func (c *client) read() inbound {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var in inbound
	require.NoError(c.t, c.ws.ReadJSON(&in))
	return in
}

// waitFor skips frames until event arrives.
func (c *client) waitFor(event string) inbound {
	c.t.Helper()
	for {
		if in := c.next(); in.Event == event {
			return in
		}
	}
}

func (c *client) announce() {
	c.t.Helper()
	ack := c.call("user_connected", map[string]string{"userId": c.user.String()})
	require.True(c.t, ack.OK, "%+v", ack.Error)
}

func TestSocket_UserConnectedMustMatchToken(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial(t, uuid.Must(uuid.NewV4()))

	a.emit("user_connected", map[string]string{"userId": uuid.Must(uuid.NewV4()).String()})
	in := a.waitFor("error")
	var e ErrorData
	require.NoError(t, json.Unmarshal(in.Data, &e))
	assert.Equal(t, ErrorData{Event: "user_connected", Code: "unauthorized", Message: e.Message}, e)

	a.announce()
	require.True(t, ts.hub.Presence.Online(a.user))
}

func TestSocket_UnknownAndMalformedEvents(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial(t, uuid.Must(uuid.NewV4()))

	ack := a.call("teleport", map[string]string{})
	require.False(t, ack.OK)
	require.Equal(t, "validation", ack.Error.Code)

	ack = a.call("join_group", map[string]string{"groupId": "not-a-uuid"})
	require.False(t, ack.OK)
	require.Equal(t, "validation", ack.Error.Code)

	require.NoError(t, a.ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	in := a.waitFor("error")
	assert.Contains(t, string(in.Data), "malformed")
}

func TestSocket_DirectMessageFanOut(t *testing.T) {
	ts := newTestServer(t)
	alice, bob, eve := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	chat := model.DirectRoom(uuid.Must(uuid.NewV4()))
	ts.store.allow(chat, alice, bob)

	a, b, e := ts.dial(t, alice), ts.dial(t, bob), ts.dial(t, eve)
	require.True(t, a.call("join_direct_chat", map[string]string{"chatId": chat.ID.String()}).OK)
	require.True(t, b.call("join_direct_chat", map[string]string{"chatId": chat.ID.String()}).OK)

	ack := e.call("join_direct_chat", map[string]string{"chatId": chat.ID.String()})
	require.False(t, ack.OK)
	require.Equal(t, "unauthorized", ack.Error.Code)

	ack = a.call("send_direct_message", map[string]string{"chatId": chat.ID.String(), "text": "   "})
	require.False(t, ack.OK)
	require.Equal(t, "validation", ack.Error.Code)

	ack = a.call("send_direct_message", map[string]string{"chatId": chat.ID.String(), "text": "x", "senderId": bob.String()})
	require.False(t, ack.OK)
	require.Equal(t, "unauthorized", ack.Error.Code, "sender spoofing")

	ack = a.call("send_direct_message", map[string]string{
		"chatId": chat.ID.String(), "text": "hello", "senderId": alice.String(),
		"fileUrl": "https://files/notes.pdf", "fileName": "notes.pdf", "fileType": "application/pdf",
	})
	require.True(t, ack.OK)

	// the first message event bob sees is the valid one
	in := b.waitFor(realtime.EvReceiveDirectMessage)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(in.Data, &msg))
	assert.Equal(t, "hello", msg["text"])
	assert.Equal(t, chat.ID.String(), msg["chatId"])
	assert.Equal(t, "notes.pdf", msg["fileName"])
	assert.NotEmpty(t, msg["id"])

	// sender echo
	echo := a.waitFor(realtime.EvReceiveDirectMessage)
	require.JSONEq(t, string(in.Data), string(echo.Data))

	ack = b.call("delete_direct_message", map[string]string{"messageId": msg["id"].(string), "chatId": chat.ID.String()})
	require.False(t, ack.OK)
	require.Equal(t, "unauthorized", ack.Error.Code)

	ack = a.call("delete_direct_message", map[string]string{"messageId": msg["id"].(string), "chatId": chat.ID.String()})
	require.True(t, ack.OK)
	del := b.waitFor(realtime.EvDirectMessageDeleted)
	assert.JSONEq(t, `{"messageId":"`+msg["id"].(string)+`","chatId":"`+chat.ID.String()+`"}`, string(del.Data))
}

func TestSocket_TypingRequiresSubscription(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	group := model.GroupRoom(uuid.Must(uuid.NewV4()))
	ts.store.allow(group, alice, bob)
	a, b := ts.dial(t, alice), ts.dial(t, bob)

	ack := a.call("typing_group", map[string]string{"groupId": group.ID.String()})
	require.False(t, ack.OK)

	require.True(t, a.call("join_group", map[string]string{"groupId": group.ID.String()}).OK)
	require.True(t, b.call("join_group", map[string]string{"groupId": group.ID.String()}).OK)
	require.True(t, a.call("typing_group", map[string]string{"groupId": group.ID.String(), "userName": "Alice"}).OK)

	in := b.waitFor(realtime.EvUserTypingGroup)
	var p realtime.Typing
	require.NoError(t, json.Unmarshal(in.Data, &p))
	assert.Equal(t, alice, p.UserID)
	assert.Equal(t, "Alice", p.UserName)
}

func TestSocket_CallFlow(t *testing.T) {
	ts := newTestServer(t)
	alice, bob, carol := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	a, b := ts.dial(t, alice), ts.dial(t, bob)
	a.announce()
	b.announce()

	// callee offline
	a.emit("call_initiate", map[string]string{"targetUserId": carol.String(), "callType": "voice"})
	failed := a.waitFor(realtime.EvCallFailed)
	assert.JSONEq(t, `{"message":"User is offline"}`, string(failed.Data))

	ack := a.call("call_initiate", map[string]string{"targetUserId": bob.String(), "callerId": alice.String(), "callType": "video"})
	require.True(t, ack.OK)

	incoming := b.waitFor(realtime.EvIncomingCall)
	var ic realtime.IncomingCall
	require.NoError(t, json.Unmarshal(incoming.Data, &ic))
	assert.Equal(t, alice, ic.CallerID)
	assert.Equal(t, "video", ic.CallType)

	require.True(t, b.call("call_answer", map[string]string{"callerId": alice.String(), "answererId": bob.String()}).OK)
	accepted := a.waitFor(realtime.EvCallAccepted)
	var ca realtime.CallAccepted
	require.NoError(t, json.Unmarshal(accepted.Data, &ca))
	assert.Equal(t, bob, ca.AnswererID)

	a.emit("webrtc_offer", map[string]any{"targetUserId": bob.String(), "offer": map[string]string{"type": "offer", "sdp": "v=0"}})
	offer := b.waitFor(realtime.EvWebRTCOffer)
	assert.JSONEq(t, `{"from":"`+alice.String()+`","offer":{"type":"offer","sdp":"v=0"}}`, string(offer.Data))

	b.emit("webrtc_answer", map[string]any{"targetUserId": alice.String(), "answer": map[string]string{"type": "answer", "sdp": "v=0"}})
	a.waitFor(realtime.EvWebRTCAnswer)
	cs, ok := ts.hub.Calls.Active(alice)
	require.True(t, ok)
	require.Equal(t, realtime.StateActive, cs.State)

	// callee drops mid-call
	require.NoError(t, b.ws.Close())
	ended := a.waitFor(realtime.EvCallEnded)
	assert.Contains(t, string(ended.Data), "disconnected")
	require.Eventually(t, func() bool { return !ts.hub.Presence.Online(bob) }, 2*time.Second, 10*time.Millisecond)
}

func TestSocket_CallChatMustBelongToBothParties(t *testing.T) {
	ts := newTestServer(t)
	alice, bob, carol := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	a, b := ts.dial(t, alice), ts.dial(t, bob)
	a.announce()
	b.announce()

	foreign := model.DirectRoom(uuid.Must(uuid.NewV4()))
	ts.store.allow(foreign, alice, carol)
	ack := a.call("call_initiate", map[string]string{"targetUserId": bob.String(), "callType": "voice", "chatId": foreign.ID.String()})
	require.False(t, ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, "unauthorized", ack.Error.Code)
	_, active := ts.hub.Calls.Active(alice)
	assert.False(t, active)

	shared := model.DirectRoom(uuid.Must(uuid.NewV4()))
	ts.store.allow(shared, alice, bob)
	ack = a.call("call_initiate", map[string]string{"targetUserId": bob.String(), "callType": "voice", "chatId": shared.ID.String()})
	require.True(t, ack.OK, "%+v", ack.Error)

	// the refused attempt never rang
	var ic realtime.IncomingCall
	require.NoError(t, json.Unmarshal(b.waitFor(realtime.EvIncomingCall).Data, &ic))
	require.NotNil(t, ic.ChatID)
	assert.Equal(t, shared.ID, *ic.ChatID)
}

func TestSocket_CloseAll(t *testing.T) {
	ts := newTestServer(t)
	a := ts.dial(t, uuid.Must(uuid.NewV4()))
	a.announce()
	require.Equal(t, 1, ts.disp.Active())

	ts.disp.CloseAll()
	require.NoError(t, a.ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := a.ws.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return ts.disp.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConn_SlowConsumerIsClosed(t *testing.T) {
	c := NewConn(nil, 1, zaptest.NewLogger(t))
	require.True(t, c.Send(realtime.Event{Name: "a"}))
	require.False(t, c.Send(realtime.Event{Name: "b"}))
	select {
	case <-c.Done():
	default:
		t.Fatal("connection should be closing")
	}
	require.False(t, c.Send(realtime.Event{Name: "c"}))
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	up := NewUpgrader([]string{"https://app.example"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://api.example/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, up.CheckOrigin(req("")))
	assert.True(t, up.CheckOrigin(req("https://app.example")))
	assert.True(t, up.CheckOrigin(req("http://api.example")))
	assert.False(t, up.CheckOrigin(req("https://evil.example")))
	assert.True(t, NewUpgrader([]string{"*"}).CheckOrigin(req("https://evil.example")))
}
