// Package convert maps domain entities to the JSON shapes shared by the REST
// surface and the realtime socket.
package convert

import (
	"fmt"
	"time"

	"github.com/and161185/studydesk/internal/errs"
	model "github.com/and161185/studydesk/internal/model"
	u "github.com/gofrs/uuid/v5"
)

// --- helpers ---

func ts(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// ParseID parses a client supplied identifier; field names the input in the error.
func ParseID(field, s string) (u.UUID, error) {
	id, err := u.FromString(s)
	if err != nil || id == u.Nil {
		return u.Nil, fmt.Errorf("%w: invalid %s", errs.ErrValidation, field)
	}
	return id, nil
}

// --- identity ---

// User is the public identity of an account.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	Status      string     `json:"status"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}

// ToUser hides credentials of a stored user.
func ToUser(m *model.User) *User {
	if m == nil {
		return nil
	}
	status := m.Status
	if status == "" {
		status = model.StatusOffline
	}
	return &User{
		ID:          m.ID.String(),
		Username:    m.Username,
		DisplayName: m.DisplayName,
		Status:      status,
		LastSeen:    ts(m.LastSeen),
	}
}

// --- messages ---

// Message is a chat message of either room kind. Exactly one of ChatID and
// GroupID is set.
type Message struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chatId,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	FileURL    string    `json:"fileUrl,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	FileType   string    `json:"fileType,omitempty"`
	IsRead     *bool     `json:"isRead,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ToMessage converts a persisted message.
func ToMessage(m *model.Message) *Message {
	if m == nil {
		return nil
	}
	out := &Message{
		ID:         m.ID.String(),
		SenderID:   m.SenderID.String(),
		SenderName: m.SenderName,
		Kind:       m.Kind,
		Text:       m.Body,
		CreatedAt:  m.CreatedAt.UTC(),
	}
	switch m.Room.Kind {
	case model.RoomDirect:
		out.ChatID = m.Room.ID.String()
		read := m.Read
		out.IsRead = &read
	case model.RoomGroup:
		out.GroupID = m.Room.ID.String()
	}
	if m.Attachment != nil {
		out.FileURL = m.Attachment.URL
		out.FileName = m.Attachment.Name
		out.FileType = m.Attachment.Type
	}
	return out
}

// ToMessages converts a history page; a nil page becomes an empty list.
func ToMessages(in []model.Message) []*Message {
	out := make([]*Message, 0, len(in))
	for i := range in {
		out = append(out, ToMessage(&in[i]))
	}
	return out
}

// MessageDeleted is the deletion notice fanned out to a room.
type MessageDeleted struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
}

// ToMessageDeleted builds the deletion notice for m.
func ToMessageDeleted(m *model.Message) MessageDeleted {
	out := MessageDeleted{MessageID: m.ID.String()}
	if m.Room.Kind == model.RoomGroup {
		out.GroupID = m.Room.ID.String()
	} else {
		out.ChatID = m.Room.ID.String()
	}
	return out
}

// --- chats ---

// DirectChat is one entry of the caller's chat list.
type DirectChat struct {
	ID          string    `json:"id"`
	Participant *User     `json:"participant,omitempty"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int       `json:"unreadCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ToDirectChat converts a chat; the peer is resolved by the repository listing.
func ToDirectChat(c model.DirectChat) DirectChat {
	return DirectChat{
		ID:          c.ID.String(),
		Participant: ToUser(c.Peer),
		LastMessage: ToMessage(c.LastMessage),
		UnreadCount: c.Unread,
		CreatedAt:   c.CreatedAt.UTC(),
	}
}

func ToDirectChats(in []model.DirectChat) []DirectChat {
	out := make([]DirectChat, 0, len(in))
	for _, c := range in {
		out = append(out, ToDirectChat(c))
	}
	return out
}

// --- groups ---

type GroupMember struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type Group struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	CreatedBy   string        `json:"createdBy"`
	CreatedAt   time.Time     `json:"createdAt"`
	Members     []GroupMember `json:"members,omitempty"`
	LastMessage *Message      `json:"lastMessage,omitempty"`
}

func ToGroup(g *model.Group) *Group {
	if g == nil {
		return nil
	}
	out := &Group{
		ID:          g.ID.String(),
		Name:        g.Name,
		Description: g.Description,
		CreatedBy:   g.CreatedBy.String(),
		CreatedAt:   g.CreatedAt.UTC(),
		LastMessage: ToMessage(g.LastMessage),
	}
	for _, m := range g.Members {
		out.Members = append(out.Members, GroupMember{
			UserID:      m.UserID.String(),
			Username:    m.Username,
			DisplayName: m.DisplayName,
			Role:        m.Role,
			JoinedAt:    m.JoinedAt.UTC(),
		})
	}
	return out
}

func ToGroups(in []model.Group) []*Group {
	out := make([]*Group, 0, len(in))
	for i := range in {
		out = append(out, ToGroup(&in[i]))
	}
	return out
}
