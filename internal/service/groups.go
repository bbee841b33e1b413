package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/and161185/studydesk/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// GroupService manages group chats and membership.
type GroupService interface {
	Create(ctx context.Context, creatorID uuid.UUID, name, description string, memberIDs []uuid.UUID) (*model.Group, error)
	List(ctx context.Context, userID uuid.UUID) ([]model.Group, error)
	// Get returns the group when userID is a member.
	Get(ctx context.Context, userID, groupID uuid.UUID) (*model.Group, error)
	// AddMember is allowed to group admins only.
	AddMember(ctx context.Context, actorID, groupID, userID uuid.UUID) error
	// RemoveMember is allowed to admins, or to a member removing themselves.
	RemoveMember(ctx context.Context, actorID, groupID, userID uuid.UUID) error
}

type GroupServiceImpl struct {
	groups repository.GroupRepository
}

func NewGroupService(groups repository.GroupRepository) *GroupServiceImpl {
	return &GroupServiceImpl{groups: groups}
}

const maxGroupNameLen = 100

func (s *GroupServiceImpl) Create(ctx context.Context, creatorID uuid.UUID, name, description string, memberIDs []uuid.UUID) (*model.Group, error) {
	name = strings.TrimSpace(name)
	switch {
	case creatorID == uuid.Nil:
		return nil, fmt.Errorf("%w: empty user id", errs.ErrValidation)
	case name == "" || len(name) > maxGroupNameLen:
		return nil, fmt.Errorf("%w: group name must be 1..%d characters", errs.ErrValidation, maxGroupNameLen)
	}
	for _, id := range memberIDs {
		if id == uuid.Nil {
			return nil, fmt.Errorf("%w: empty member id", errs.ErrValidation)
		}
	}

	gid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	g := &model.Group{ID: gid, Name: name, Description: strings.TrimSpace(description), CreatedBy: creatorID}
	if err := s.groups.Create(ctx, g, memberIDs); err != nil {
		return nil, err
	}
	return s.groups.Get(ctx, gid)
}

func (s *GroupServiceImpl) List(ctx context.Context, userID uuid.UUID) ([]model.Group, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}
	return s.groups.ListForUser(ctx, userID)
}

func (s *GroupServiceImpl) Get(ctx context.Context, userID, groupID uuid.UUID) (*model.Group, error) {
	if _, err := s.role(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.groups.Get(ctx, groupID)
}

func (s *GroupServiceImpl) AddMember(ctx context.Context, actorID, groupID, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}
	role, err := s.role(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if role != model.RoleAdmin {
		return fmt.Errorf("%w: only admins can add members", errs.ErrUnauthorized)
	}
	return s.groups.AddMember(ctx, groupID, userID, model.RoleMember)
}

func (s *GroupServiceImpl) RemoveMember(ctx context.Context, actorID, groupID, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}
	role, err := s.role(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if actorID != userID && role != model.RoleAdmin {
		return fmt.Errorf("%w: only admins can remove other members", errs.ErrUnauthorized)
	}
	return s.groups.RemoveMember(ctx, groupID, userID)
}

// role returns the actor's role; non-members get ErrUnauthorized.
func (s *GroupServiceImpl) role(ctx context.Context, groupID, userID uuid.UUID) (string, error) {
	if groupID == uuid.Nil || userID == uuid.Nil {
		return "", fmt.Errorf("%w: empty id", errs.ErrValidation)
	}
	role, err := s.groups.MemberRole(ctx, groupID, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return "", fmt.Errorf("%w: not a member of the group", errs.ErrUnauthorized)
	}
	return role, err
}
