package service

import (
	"context"
	"time"

	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/and161185/studydesk/internal/repository"
	"github.com/gofrs/uuid/v5"
)

type fakeChats struct {
	byID map[uuid.UUID]*model.DirectChat

	listOut []model.DirectChat
	err     error
}

var _ repository.ChatRepository = (*fakeChats)(nil)

func (f *fakeChats) ListForUser(context.Context, uuid.UUID) ([]model.DirectChat, error) {
	return f.listOut, f.err
}
func (f *fakeChats) GetOrCreate(_ context.Context, a, b uuid.UUID) (model.DirectChat, bool, error) {
	if f.err != nil {
		return model.DirectChat{}, false, f.err
	}
	for _, c := range f.byID {
		if c.Has(a) && c.Has(b) {
			return *c, false, nil
		}
	}
	c := &model.DirectChat{ID: uuid.Must(uuid.NewV4()), UserA: a, UserB: b, CreatedAt: time.Now()}
	if f.byID == nil {
		f.byID = map[uuid.UUID]*model.DirectChat{}
	}
	f.byID[c.ID] = c
	return *c, true, nil
}
func (f *fakeChats) Get(_ context.Context, id uuid.UUID) (*model.DirectChat, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *c
	return &cpy, nil
}

type fakeGroups struct {
	groups  map[uuid.UUID]*model.Group
	roles   map[uuid.UUID]map[uuid.UUID]string
	created []uuid.UUID
	err     error
}

var _ repository.GroupRepository = (*fakeGroups)(nil)

func (f *fakeGroups) setRole(g, u uuid.UUID, role string) {
	if f.roles == nil {
		f.roles = map[uuid.UUID]map[uuid.UUID]string{}
	}
	if f.roles[g] == nil {
		f.roles[g] = map[uuid.UUID]string{}
	}
	f.roles[g][u] = role
}

func (f *fakeGroups) Create(_ context.Context, g *model.Group, memberIDs []uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	if f.groups == nil {
		f.groups = map[uuid.UUID]*model.Group{}
	}
	cpy := *g
	f.groups[g.ID] = &cpy
	f.setRole(g.ID, g.CreatedBy, model.RoleAdmin)
	for _, m := range memberIDs {
		if m != g.CreatedBy {
			f.setRole(g.ID, m, model.RoleMember)
		}
	}
	f.created = append([]uuid.UUID(nil), memberIDs...)
	return nil
}
func (f *fakeGroups) ListForUser(_ context.Context, userID uuid.UUID) ([]model.Group, error) {
	var out []model.Group
	for gid, members := range f.roles {
		if _, ok := members[userID]; ok {
			out = append(out, *f.groups[gid])
		}
	}
	return out, f.err
}
func (f *fakeGroups) Get(_ context.Context, id uuid.UUID) (*model.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *g
	for uid, role := range f.roles[id] {
		cpy.Members = append(cpy.Members, model.GroupMember{GroupID: id, UserID: uid, Role: role})
	}
	return &cpy, nil
}
func (f *fakeGroups) MemberRole(_ context.Context, groupID, userID uuid.UUID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	role, ok := f.roles[groupID][userID]
	if !ok {
		return "", errs.ErrNotFound
	}
	return role, nil
}
func (f *fakeGroups) AddMember(_ context.Context, groupID, userID uuid.UUID, role string) error {
	if _, ok := f.roles[groupID][userID]; ok {
		return errs.ErrAlreadyExists
	}
	f.setRole(groupID, userID, role)
	return nil
}
func (f *fakeGroups) RemoveMember(_ context.Context, groupID, userID uuid.UUID) error {
	if _, ok := f.roles[groupID][userID]; !ok {
		return errs.ErrNotFound
	}
	delete(f.roles[groupID], userID)
	return nil
}

type fakeMessages struct {
	byID map[uuid.UUID]*model.Message

	createIn  []model.NewMessage
	listRoom  model.Room
	listQuery model.HistoryQuery
	listOut   []model.Message
	readRoom  model.Room
	readBy    uuid.UUID
	deleted   []uuid.UUID
	createErr error
}

var _ repository.MessageRepository = (*fakeMessages)(nil)

func (f *fakeMessages) Create(_ context.Context, nm model.NewMessage) (*model.Message, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createIn = append(f.createIn, nm)
	m := &model.Message{
		ID:         uuid.Must(uuid.NewV4()),
		Room:       nm.Room,
		SenderID:   nm.SenderID,
		Kind:       nm.Kind,
		Body:       nm.Body,
		Attachment: nm.Attachment,
		CreatedAt:  time.Now(),
	}
	if f.byID == nil {
		f.byID = map[uuid.UUID]*model.Message{}
	}
	f.byID[m.ID] = m
	return m, nil
}
func (f *fakeMessages) Get(_ context.Context, id uuid.UUID) (*model.Message, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *m
	return &cpy, nil
}
func (f *fakeMessages) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.byID[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeMessages) List(_ context.Context, room model.Room, q model.HistoryQuery) ([]model.Message, error) {
	f.listRoom, f.listQuery = room, q
	return f.listOut, nil
}
func (f *fakeMessages) MarkRead(_ context.Context, room model.Room, readerID uuid.UUID) (int64, error) {
	f.readRoom, f.readBy = room, readerID
	return 1, nil
}
