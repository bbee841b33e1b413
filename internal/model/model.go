// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// Presence status values stored on the user row.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// User represents an account stored on the server. Passwords are never stored in plaintext.
type User struct {
	ID          uuid.UUID // PK
	Username    string    // unique
	DisplayName string
	PwdHash     []byte // Argon2id(password, SaltAuth)
	SaltAuth    []byte // per-user auth salt
	Status      string // online | offline
	LastSeen    *time.Time
	CreatedAt   time.Time
}

// RoomKind distinguishes two-party chats from group chats.
type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

// Valid reports whether k is a known room kind.
func (k RoomKind) Valid() bool { return k == RoomDirect || k == RoomGroup }

// Room identifies a fan-out scope. It is comparable and used as a map key.
type Room struct {
	Kind RoomKind
	ID   uuid.UUID
}

// DirectRoom returns the room of a direct chat.
func DirectRoom(id uuid.UUID) Room { return Room{Kind: RoomDirect, ID: id} }

// GroupRoom returns the room of a group chat.
func GroupRoom(id uuid.UUID) Room { return Room{Kind: RoomGroup, ID: id} }

func (r Room) String() string { return fmt.Sprintf("%s:%s", r.Kind, r.ID) }

// DirectChat is a two-party conversation. UserA < UserB by byte order.
type DirectChat struct {
	ID        uuid.UUID
	UserA     uuid.UUID
	UserB     uuid.UUID
	CreatedAt time.Time

	// Populated by listings.
	Peer        *User
	LastMessage *Message
	Unread      int
}

// Has reports whether userID is one of the two participants.
func (c DirectChat) Has(userID uuid.UUID) bool { return c.UserA == userID || c.UserB == userID }

// PeerOf returns the other participant's id.
func (c DirectChat) PeerOf(userID uuid.UUID) uuid.UUID {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// Group roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Group is an N-party conversation.
type Group struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedBy   uuid.UUID
	CreatedAt   time.Time

	Members     []GroupMember // populated by Get
	LastMessage *Message      // populated by listings
}

// GroupMember is a membership row joined with the member's identity.
type GroupMember struct {
	GroupID     uuid.UUID
	UserID      uuid.UUID
	Username    string
	DisplayName string
	Role        string
	JoinedAt    time.Time
}

// Message kinds.
const (
	KindText    = "text"
	KindCallLog = "call_log"
)

// Attachment is an optional file reference carried by a message.
type Attachment struct {
	URL  string
	Name string
	Type string // MIME type
}

// Message is a persisted chat message in a direct or group room.
type Message struct {
	ID         uuid.UUID
	Room       Room
	SenderID   uuid.UUID
	SenderName string // display name, joined on read
	Kind       string
	Body       string
	Attachment *Attachment
	Read       bool // direct chats only
	CreatedAt  time.Time
}

// NewMessage is a submission before persistence assigns id and timestamp.
type NewMessage struct {
	Room       Room
	SenderID   uuid.UUID
	Kind       string
	Body       string
	Attachment *Attachment
}

// HistoryQuery pages through a room's history backwards from Before.
type HistoryQuery struct {
	Limit  int
	Before *time.Time
}

// CallKind is voice or video.
type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

// Valid reports whether k is a known call kind.
func (k CallKind) Valid() bool { return k == CallVoice || k == CallVideo }

// Call outcomes recorded in call logs.
const (
	OutcomeCompleted = "completed"
	OutcomeMissed    = "missed"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
)

// CallLog summarizes a finished call for the room history.
type CallLog struct {
	Room     Room
	CallerID uuid.UUID
	CalleeID uuid.UUID
	Kind     CallKind
	Outcome  string
	Duration time.Duration
}
