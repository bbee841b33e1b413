package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/studydesk/internal/events"
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// StatusStore persists online status and last-seen.
type StatusStore interface {
	SetPresence(ctx context.Context, id uuid.UUID, status string, lastSeen time.Time) error
}

// Presence maps each user to at most one connection. Registering a second
// connection for a user replaces the first.
type Presence struct {
	mu     sync.RWMutex
	conns  map[uuid.UUID]Sink      // every attached connection
	byUser map[uuid.UUID]Sink      // user -> current connection
	userOf map[uuid.UUID]uuid.UUID // connection -> announced user
	owner  map[uuid.UUID]uuid.UUID // connection -> authenticated user
	owned  map[uuid.UUID]map[uuid.UUID]Sink

	store StatusStore
	pub   events.Publisher
	log   *zap.Logger
	now   func() time.Time
}

func NewPresence(store StatusStore, pub events.Publisher, log *zap.Logger) *Presence {
	return &Presence{
		conns:  make(map[uuid.UUID]Sink),
		byUser: make(map[uuid.UUID]Sink),
		userOf: make(map[uuid.UUID]uuid.UUID),
		owner:  make(map[uuid.UUID]uuid.UUID),
		owned:  make(map[uuid.UUID]map[uuid.UUID]Sink),
		store:  store,
		pub:    pub,
		log:    log,
		now:    time.Now,
	}
}

// Attach makes a fresh connection of the authenticated user ownerID a
// recipient of presence broadcasts. The connection counts as ownerID's
// whether or not it ever announces itself.
func (p *Presence) Attach(ownerID uuid.UUID, s Sink) {
	p.mu.Lock()
	p.conns[s.ID()] = s
	p.ownLocked(ownerID, s)
	p.mu.Unlock()
}

func (p *Presence) ownLocked(ownerID uuid.UUID, s Sink) {
	if _, ok := p.owner[s.ID()]; ok {
		return
	}
	p.owner[s.ID()] = ownerID
	set, ok := p.owned[ownerID]
	if !ok {
		set = make(map[uuid.UUID]Sink)
		p.owned[ownerID] = set
	}
	set[s.ID()] = s
}

func (p *Presence) disownLocked(connID uuid.UUID) {
	ownerID, ok := p.owner[connID]
	if !ok {
		return
	}
	delete(p.owner, connID)
	delete(p.owned[ownerID], connID)
	if len(p.owned[ownerID]) == 0 {
		delete(p.owned, ownerID)
	}
}

// ConnsOf returns every attached connection owned by userID, announced or not.
func (p *Presence) ConnsOf(userID uuid.UUID) []Sink {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Sink, 0, len(p.owned[userID]))
	for _, s := range p.owned[userID] {
		out = append(out, s)
	}
	return out
}

// Register associates userID with s, replacing any previous connection, and
// announces the user as online.
func (p *Presence) Register(ctx context.Context, userID uuid.UUID, s Sink) {
	p.mu.Lock()
	p.conns[s.ID()] = s
	p.ownLocked(userID, s)
	if prev, ok := p.userOf[s.ID()]; ok && prev != userID {
		if cur, ok := p.byUser[prev]; ok && cur.ID() == s.ID() {
			delete(p.byUser, prev)
		}
	}
	if old, ok := p.byUser[userID]; ok && old.ID() != s.ID() {
		delete(p.userOf, old.ID())
	}
	p.byUser[userID] = s
	p.userOf[s.ID()] = userID
	p.mu.Unlock()

	p.changed(ctx, userID, model.StatusOnline)
}

// Unregister forgets s. When s was the user's current connection the user
// goes offline and wasCurrent is true.
func (p *Presence) Unregister(ctx context.Context, s Sink) (userID uuid.UUID, wasCurrent bool) {
	p.mu.Lock()
	delete(p.conns, s.ID())
	p.disownLocked(s.ID())
	userID, announced := p.userOf[s.ID()]
	delete(p.userOf, s.ID())
	if announced {
		if cur, ok := p.byUser[userID]; ok && cur.ID() == s.ID() {
			delete(p.byUser, userID)
			wasCurrent = true
		}
	}
	p.mu.Unlock()

	if wasCurrent {
		p.changed(ctx, userID, model.StatusOffline)
	}
	return userID, wasCurrent
}

// Resolve returns the user's current connection.
func (p *Presence) Resolve(userID uuid.UUID) (Sink, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.byUser[userID]
	return s, ok
}

// UserOf returns the user a connection announced, if any.
func (p *Presence) UserOf(connID uuid.UUID) (uuid.UUID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.userOf[connID]
	return u, ok
}

// Online reports whether the user has a connection.
func (p *Presence) Online(userID uuid.UUID) bool {
	_, ok := p.Resolve(userID)
	return ok
}

// Count returns the number of attached connections.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Broadcast sends ev to every attached connection.
func (p *Presence) Broadcast(ev Event) {
	p.mu.RLock()
	targets := make([]Sink, 0, len(p.conns))
	for _, s := range p.conns {
		targets = append(targets, s)
	}
	p.mu.RUnlock()

	for _, s := range targets {
		s.Send(ev)
	}
}

func (p *Presence) changed(ctx context.Context, userID uuid.UUID, status string) {
	seen := p.now().UTC()
	if err := p.store.SetPresence(ctx, userID, status, seen); err != nil {
		p.log.Warn("presence not persisted", zap.Stringer("user", userID), zap.String("status", status), zap.Error(err))
	}

	change := StatusChange{UserID: userID, Status: status, LastSeen: seen.Format(time.RFC3339)}
	p.Broadcast(Event{Name: EvUserStatusChange, Data: change})

	if err := p.pub.Publish(ctx, events.KeyPresenceChanged, events.NewEnvelope(events.KeyPresenceChanged, change)); err != nil {
		p.log.Warn("presence event not published", zap.Stringer("user", userID), zap.Error(err))
	}
}
