package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/and161185/studydesk/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// MessageService persists messages and answers room authorization questions.
type MessageService interface {
	// Authorize reports nil when userID may read and post in room.
	Authorize(ctx context.Context, room model.Room, userID uuid.UUID) error
	// Post validates and stores a text message.
	Post(ctx context.Context, nm model.NewMessage) (*model.Message, error)
	// Delete removes a message of the given room kind on behalf of its sender
	// and returns the deleted record.
	Delete(ctx context.Context, kind model.RoomKind, id, requesterID uuid.UUID) (*model.Message, error)
	// History pages through a room. Reading a direct chat marks the peer's messages read.
	History(ctx context.Context, room model.Room, userID uuid.UUID, q model.HistoryQuery) ([]model.Message, error)
	// LogCall appends a call summary to the call's room.
	LogCall(ctx context.Context, cl model.CallLog) (*model.Message, error)
}

// HistoryLimits bounds history page sizes.
type HistoryLimits struct {
	Default int
	Max     int
}

type MessageServiceImpl struct {
	chats    repository.ChatRepository
	groups   repository.GroupRepository
	messages repository.MessageRepository
	limits   HistoryLimits
	maxBody  int
}

// NewMessageService constructs MessageService. Zero limits fall back to 50/200.
func NewMessageService(chats repository.ChatRepository, groups repository.GroupRepository, messages repository.MessageRepository, limits HistoryLimits) *MessageServiceImpl {
	if limits.Default <= 0 {
		limits.Default = 50
	}
	if limits.Max <= 0 {
		limits.Max = 200
	}
	if limits.Default > limits.Max {
		limits.Default = limits.Max
	}
	return &MessageServiceImpl{chats: chats, groups: groups, messages: messages, limits: limits, maxBody: 4000}
}

func (s *MessageServiceImpl) Authorize(ctx context.Context, room model.Room, userID uuid.UUID) error {
	if room.ID == uuid.Nil || userID == uuid.Nil {
		return fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	switch room.Kind {
	case model.RoomDirect:
		c, err := s.chats.Get(ctx, room.ID)
		if err != nil {
			return err
		}
		if !c.Has(userID) {
			return fmt.Errorf("%w: not a participant of the chat", errs.ErrUnauthorized)
		}
		return nil
	case model.RoomGroup:
		_, err := s.groups.MemberRole(ctx, room.ID, userID)
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("%w: not a member of the group", errs.ErrUnauthorized)
		}
		return err
	default:
		return fmt.Errorf("%w: unknown room kind %q", errs.ErrValidation, room.Kind)
	}
}

func (s *MessageServiceImpl) Post(ctx context.Context, nm model.NewMessage) (*model.Message, error) {
	nm.Body = strings.TrimSpace(nm.Body)
	switch {
	case nm.Body == "":
		return nil, fmt.Errorf("%w: message text is required", errs.ErrValidation)
	case utf8.RuneCountInString(nm.Body) > s.maxBody:
		return nil, fmt.Errorf("%w: message text exceeds %d characters", errs.ErrValidation, s.maxBody)
	}
	if nm.Attachment != nil && strings.TrimSpace(nm.Attachment.URL) == "" {
		nm.Attachment = nil
	}
	if err := s.Authorize(ctx, nm.Room, nm.SenderID); err != nil {
		return nil, err
	}
	nm.Kind = model.KindText
	return s.messages.Create(ctx, nm)
}

func (s *MessageServiceImpl) Delete(ctx context.Context, kind model.RoomKind, id, requesterID uuid.UUID) (*model.Message, error) {
	if id == uuid.Nil || requesterID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	m, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if kind != "" && m.Room.Kind != kind {
		return nil, errs.ErrNotFound
	}
	if m.SenderID != requesterID {
		return nil, fmt.Errorf("%w: only the sender can delete a message", errs.ErrUnauthorized)
	}
	if err := s.messages.Delete(ctx, id); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MessageServiceImpl) History(ctx context.Context, room model.Room, userID uuid.UUID, q model.HistoryQuery) ([]model.Message, error) {
	if err := s.Authorize(ctx, room, userID); err != nil {
		return nil, err
	}
	switch {
	case q.Limit <= 0:
		q.Limit = s.limits.Default
	case q.Limit > s.limits.Max:
		q.Limit = s.limits.Max
	}
	msgs, err := s.messages.List(ctx, room, q)
	if err != nil {
		return nil, err
	}
	if room.Kind == model.RoomDirect {
		if _, err := s.messages.MarkRead(ctx, room, userID); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// callLogBody is the JSON body of a call_log message.
type callLogBody struct {
	CallType string `json:"callType"`
	Outcome  string `json:"outcome"`
	Duration int64  `json:"duration"` // seconds
}

func (s *MessageServiceImpl) LogCall(ctx context.Context, cl model.CallLog) (*model.Message, error) {
	for _, uid := range []uuid.UUID{cl.CallerID, cl.CalleeID} {
		if err := s.Authorize(ctx, cl.Room, uid); err != nil {
			return nil, err
		}
	}
	body, err := json.Marshal(callLogBody{
		CallType: string(cl.Kind),
		Outcome:  cl.Outcome,
		Duration: int64(math.Round(cl.Duration.Seconds())),
	})
	if err != nil {
		return nil, err
	}
	return s.messages.Create(ctx, model.NewMessage{
		Room:     cl.Room,
		SenderID: cl.CallerID,
		Kind:     model.KindCallLog,
		Body:     string(body),
	})
}
