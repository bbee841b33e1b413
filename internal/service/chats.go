package service

import (
	"context"
	"fmt"

	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/and161185/studydesk/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// ChatService manages two-party chats.
type ChatService interface {
	// List returns the caller's direct chats.
	List(ctx context.Context, userID uuid.UUID) ([]model.DirectChat, error)
	// Open returns the chat between userID and peerID, creating it when absent.
	Open(ctx context.Context, userID, peerID uuid.UUID) (model.DirectChat, bool, error)
}

type ChatServiceImpl struct {
	chats repository.ChatRepository
}

func NewChatService(chats repository.ChatRepository) *ChatServiceImpl {
	return &ChatServiceImpl{chats: chats}
}

func (s *ChatServiceImpl) List(ctx context.Context, userID uuid.UUID) ([]model.DirectChat, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}
	return s.chats.ListForUser(ctx, userID)
}

func (s *ChatServiceImpl) Open(ctx context.Context, userID, peerID uuid.UUID) (model.DirectChat, bool, error) {
	switch {
	case userID == uuid.Nil || peerID == uuid.Nil:
		return model.DirectChat{}, false, fmt.Errorf("%w: empty user id", errs.ErrValidation)
	case userID == peerID:
		return model.DirectChat{}, false, fmt.Errorf("%w: cannot open a chat with yourself", errs.ErrValidation)
	}
	return s.chats.GetOrCreate(ctx, userID, peerID)
}
