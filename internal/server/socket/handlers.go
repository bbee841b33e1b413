package socket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/and161185/studydesk/internal/convert"
	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/and161185/studydesk/internal/realtime"
	"github.com/gofrs/uuid/v5"
)

type userConnectedData struct {
	UserID string `json:"userId"`
}

type roomData struct {
	ChatID  string `json:"chatId"`
	GroupID string `json:"groupId"`
}

type sendData struct {
	ChatID   string `json:"chatId"`
	GroupID  string `json:"groupId"`
	Text     string `json:"text"`
	SenderID string `json:"senderId"`
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

type deleteData struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	GroupID   string `json:"groupId"`
	SenderID  string `json:"senderId"`
}

type typingData struct {
	ChatID   string `json:"chatId"`
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type callInitiateData struct {
	TargetUserID string `json:"targetUserId"`
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName"`
	CallType     string `json:"callType"`
	ChatID       string `json:"chatId"`
}

type callAnswerData struct {
	CallerID     string `json:"callerId"`
	AnswererID   string `json:"answererId"`
	AnswererName string `json:"answererName"`
}

type callRejectData struct {
	CallerID string `json:"callerId"`
}

type targetData struct {
	TargetUserID string          `json:"targetUserId"`
	Offer        json.RawMessage `json:"offer"`
	Answer       json.RawMessage `json:"answer"`
	Candidate    json.RawMessage `json:"candidate"`
}

// userConnected announces the connection as the authenticated user's current one.
func (d *Dispatcher) userConnected(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	in, err := decode[userConnectedData](data)
	if err != nil {
		return nil, err
	}
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", errs.ErrValidation)
	}
	if err := checkSelf("userId", in.UserID, s.user.ID); err != nil {
		return nil, err
	}
	d.hub.Presence.Register(ctx, s.user.ID, s.conn)
	return nil, nil
}

func (d *Dispatcher) join(kind model.RoomKind) handler {
	return func(ctx context.Context, s *session, data json.RawMessage) (any, error) {
		in, err := decode[roomData](data)
		if err != nil {
			return nil, err
		}
		room, err := roomOf(kind, in.ChatID, in.GroupID)
		if err != nil {
			return nil, err
		}
		if err := d.auth.Authorize(ctx, room, s.user.ID); err != nil {
			return nil, err
		}
		d.hub.Rooms.Join(s.conn, room)
		return nil, nil
	}
}

func (d *Dispatcher) leave(kind model.RoomKind) handler {
	return func(_ context.Context, s *session, data json.RawMessage) (any, error) {
		in, err := decode[roomData](data)
		if err != nil {
			return nil, err
		}
		room, err := roomOf(kind, in.ChatID, in.GroupID)
		if err != nil {
			return nil, err
		}
		d.hub.Rooms.Leave(s.conn.ID(), room)
		return nil, nil
	}
}

func (d *Dispatcher) send(kind model.RoomKind) handler {
	return func(ctx context.Context, s *session, data json.RawMessage) (any, error) {
		in, err := decode[sendData](data)
		if err != nil {
			return nil, err
		}
		room, err := roomOf(kind, in.ChatID, in.GroupID)
		if err != nil {
			return nil, err
		}
		if err := checkSelf("senderId", in.SenderID, s.user.ID); err != nil {
			return nil, err
		}
		nm := model.NewMessage{Room: room, SenderID: s.user.ID, Body: in.Text}
		if in.FileURL != "" {
			nm.Attachment = &model.Attachment{URL: in.FileURL, Name: in.FileName, Type: in.FileType}
		}
		m, err := d.hub.Relay.Submit(ctx, nm)
		if err != nil {
			return nil, err
		}
		return convert.ToMessage(m), nil
	}
}

func (d *Dispatcher) delete(kind model.RoomKind) handler {
	return func(ctx context.Context, s *session, data json.RawMessage) (any, error) {
		in, err := decode[deleteData](data)
		if err != nil {
			return nil, err
		}
		id, err := convert.ParseID("messageId", in.MessageID)
		if err != nil {
			return nil, err
		}
		if err := checkSelf("senderId", in.SenderID, s.user.ID); err != nil {
			return nil, err
		}
		m, err := d.hub.Relay.Delete(ctx, kind, id, s.user.ID)
		if err != nil {
			return nil, err
		}
		return convert.ToMessageDeleted(m), nil
	}
}

// typing requires a live subscription, which implies a membership check at join.
func (d *Dispatcher) typing(kind model.RoomKind, on bool) handler {
	return func(_ context.Context, s *session, data json.RawMessage) (any, error) {
		in, err := decode[typingData](data)
		if err != nil {
			return nil, err
		}
		room, err := roomOf(kind, in.ChatID, in.GroupID)
		if err != nil {
			return nil, err
		}
		if err := checkSelf("userId", in.UserID, s.user.ID); err != nil {
			return nil, err
		}
		if !d.hub.Rooms.Subscribed(s.conn.ID(), room) {
			return nil, fmt.Errorf("%w: join the room first", errs.ErrUnauthorized)
		}
		name := in.UserName
		if name == "" {
			name = s.user.Name
		}
		d.hub.Typing.Notify(s.conn, room, s.user.ID, name, on)
		return nil, nil
	}
}

func (d *Dispatcher) callInitiate(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	in, err := decode[callInitiateData](data)
	if err != nil {
		return nil, err
	}
	callee, err := convert.ParseID("targetUserId", in.TargetUserID)
	if err != nil {
		return nil, err
	}
	if err := checkSelf("callerId", in.CallerID, s.user.ID); err != nil {
		return nil, err
	}
	req := realtime.InitiateRequest{
		CallerID:   s.user.ID,
		CallerName: s.user.Name,
		CalleeID:   callee,
		Kind:       model.CallKind(in.CallType),
	}
	if req.CallerName == "" {
		req.CallerName = in.CallerName
	}
	if in.ChatID != "" {
		chat, err := convert.ParseID("chatId", in.ChatID)
		if err != nil {
			return nil, err
		}
		// the call is logged into this chat, so it must be theirs
		for _, uid := range []uuid.UUID{s.user.ID, callee} {
			if err := d.auth.Authorize(ctx, model.DirectRoom(chat), uid); err != nil {
				return nil, err
			}
		}
		req.ChatID = &chat
	}
	cs, err := d.hub.Calls.Initiate(ctx, s.conn, req)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func (d *Dispatcher) callAnswer(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	in, err := decode[callAnswerData](data)
	if err != nil {
		return nil, err
	}
	caller, err := convert.ParseID("callerId", in.CallerID)
	if err != nil {
		return nil, err
	}
	if err := checkSelf("answererId", in.AnswererID, s.user.ID); err != nil {
		return nil, err
	}
	name := s.user.Name
	if name == "" {
		name = in.AnswererName
	}
	return nil, d.hub.Calls.Answer(ctx, s.user.ID, caller, name)
}

func (d *Dispatcher) callReject(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	in, err := decode[callRejectData](data)
	if err != nil {
		return nil, err
	}
	caller, err := convert.ParseID("callerId", in.CallerID)
	if err != nil {
		return nil, err
	}
	return nil, d.hub.Calls.Reject(ctx, s.user.ID, caller)
}

func (d *Dispatcher) callEnd(ctx context.Context, s *session, data json.RawMessage) (any, error) {
	t, err := d.parseTarget(data)
	if err != nil {
		return nil, err
	}
	return nil, d.hub.Calls.End(ctx, s.user.ID, t.id)
}

// signal forwards one of the three opaque WebRTC payloads.
func (d *Dispatcher) signal(event string) handler {
	return func(_ context.Context, s *session, data json.RawMessage) (any, error) {
		t, err := d.parseTarget(data)
		if err != nil {
			return nil, err
		}
		switch event {
		case realtime.EvWebRTCOffer:
			return nil, d.hub.Calls.RelayOffer(s.user.ID, t.id, t.in.Offer)
		case realtime.EvWebRTCAnswer:
			return nil, d.hub.Calls.RelayAnswer(s.user.ID, t.id, t.in.Answer)
		default:
			return nil, d.hub.Calls.RelayIceCandidate(s.user.ID, t.id, t.in.Candidate)
		}
	}
}

type target struct {
	id uuid.UUID
	in targetData
}

func (d *Dispatcher) parseTarget(data json.RawMessage) (target, error) {
	in, err := decode[targetData](data)
	if err != nil {
		return target{}, err
	}
	id, err := convert.ParseID("targetUserId", in.TargetUserID)
	return target{id: id, in: in}, err
}
