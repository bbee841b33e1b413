package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/events"
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
)

type fakeSink struct {
	id     uuid.UUID
	mu     sync.Mutex
	events []Event
	full   bool
}

func newSink() *fakeSink { return &fakeSink{id: uuid.Must(uuid.NewV4())} }

func (s *fakeSink) ID() uuid.UUID { return s.id }

func (s *fakeSink) Send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *fakeSink) got() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *fakeSink) names() []string {
	var out []string
	for _, ev := range s.got() {
		out = append(out, ev.Name)
	}
	return out
}

func (s *fakeSink) named(name string) []Event {
	var out []Event
	for _, ev := range s.got() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

type presenceCall struct {
	user   uuid.UUID
	status string
}

type fakeStatus struct {
	mu    sync.Mutex
	calls []presenceCall
	err   error
}

func (f *fakeStatus) SetPresence(_ context.Context, id uuid.UUID, status string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, presenceCall{id, status})
	return f.err
}

type fakePub struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *fakePub) Publish(_ context.Context, key string, _ events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return p.err
}
func (p *fakePub) Close() error { return nil }

func (p *fakePub) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// memStore is an in-memory MessageStore: members lists who may post per room.
type memStore struct {
	mu      sync.Mutex
	members map[model.Room]map[uuid.UUID]bool
	msgs    map[uuid.UUID]*model.Message
	order   []uuid.UUID
	logs    []model.CallLog
	failErr error
}

func newMemStore() *memStore {
	return &memStore{members: map[model.Room]map[uuid.UUID]bool{}, msgs: map[uuid.UUID]*model.Message{}}
}

func (m *memStore) allow(room model.Room, users ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[room] == nil {
		m.members[room] = map[uuid.UUID]bool{}
	}
	for _, u := range users {
		m.members[room][u] = true
	}
}

func (m *memStore) Post(_ context.Context, nm model.NewMessage) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	if len(nm.Body) == 0 {
		return nil, errs.ErrValidation
	}
	if !m.members[nm.Room][nm.SenderID] {
		return nil, errs.ErrUnauthorized
	}
	msg := &model.Message{
		ID: uuid.Must(uuid.NewV4()), Room: nm.Room, SenderID: nm.SenderID,
		Kind: model.KindText, Body: nm.Body, Attachment: nm.Attachment, CreatedAt: time.Now(),
	}
	m.msgs[msg.ID] = msg
	m.order = append(m.order, msg.ID)
	return msg, nil
}

func (m *memStore) Delete(_ context.Context, kind model.RoomKind, id, requester uuid.UUID) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok || msg.Room.Kind != kind {
		return nil, errs.ErrNotFound
	}
	if msg.SenderID != requester {
		return nil, errs.ErrUnauthorized
	}
	delete(m.msgs, id)
	return msg, nil
}

func (m *memStore) LogCall(_ context.Context, cl model.CallLog) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	m.logs = append(m.logs, cl)
	msg := &model.Message{ID: uuid.Must(uuid.NewV4()), Room: cl.Room, SenderID: cl.CallerID, Kind: model.KindCallLog, CreatedAt: time.Now()}
	m.msgs[msg.ID] = msg
	return msg, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func (m *memStore) callLogs() []model.CallLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CallLog(nil), m.logs...)
}

var errBoom = errors.New("boom")
