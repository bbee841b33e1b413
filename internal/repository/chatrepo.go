package repository

import (
	"context"

	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ChatRepository stores two-party chats.
type ChatRepository interface {
	// ListForUser returns the user's direct chats with peer identity, last message and unread count.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.DirectChat, error)
	// GetOrCreate returns the chat between a and b, creating it when absent.
	// created reports whether a new row was inserted.
	GetOrCreate(ctx context.Context, a, b uuid.UUID) (chat model.DirectChat, created bool, err error)
	// Get loads a chat by ID.
	Get(ctx context.Context, id uuid.UUID) (*model.DirectChat, error)
}

// GroupRepository stores group chats and their membership.
type GroupRepository interface {
	// Create inserts the group and its initial members in one transaction;
	// the creator is stored as admin.
	Create(ctx context.Context, g *model.Group, memberIDs []uuid.UUID) error
	// ListForUser returns the groups the user belongs to.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Group, error)
	// Get loads a group with its members.
	Get(ctx context.Context, id uuid.UUID) (*model.Group, error)
	// MemberRole returns the user's role in the group or errs.ErrNotFound.
	MemberRole(ctx context.Context, groupID, userID uuid.UUID) (string, error)
	// AddMember inserts a membership row; errs.ErrAlreadyExists when present.
	AddMember(ctx context.Context, groupID, userID uuid.UUID, role string) error
	// RemoveMember deletes a membership row; errs.ErrNotFound when absent.
	RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error
}

// MessageRepository stores chat messages of both room kinds.
type MessageRepository interface {
	// Create persists a message and returns it with id and timestamp assigned.
	Create(ctx context.Context, m model.NewMessage) (*model.Message, error)
	// Get loads a message by ID.
	Get(ctx context.Context, id uuid.UUID) (*model.Message, error)
	// Delete hard-deletes a message; errs.ErrNotFound when absent.
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns up to q.Limit messages older than q.Before, oldest first.
	List(ctx context.Context, room model.Room, q model.HistoryQuery) ([]model.Message, error)
	// MarkRead flags messages in room not sent by readerID as read and returns how many changed.
	MarkRead(ctx context.Context, room model.Room, readerID uuid.UUID) (int64, error)
}
