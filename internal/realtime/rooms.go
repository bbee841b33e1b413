package realtime

import (
	"sync"

	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Rooms tracks live subscriptions of connections to rooms. Authorization is
// checked by the caller before Join.
type Rooms struct {
	mu     sync.RWMutex
	subs   map[model.Room]map[uuid.UUID]Sink
	byConn map[uuid.UUID]map[model.Room]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		subs:   make(map[model.Room]map[uuid.UUID]Sink),
		byConn: make(map[uuid.UUID]map[model.Room]struct{}),
	}
}

// Join subscribes s to room; it reports false when already subscribed.
func (r *Rooms) Join(s Sink, room model.Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[room]
	if !ok {
		set = make(map[uuid.UUID]Sink)
		r.subs[room] = set
	}
	if _, dup := set[s.ID()]; dup {
		return false
	}
	set[s.ID()] = s

	mine, ok := r.byConn[s.ID()]
	if !ok {
		mine = make(map[model.Room]struct{})
		r.byConn[s.ID()] = mine
	}
	mine[room] = struct{}{}
	return true
}

// Leave unsubscribes a connection; it reports false when not subscribed.
func (r *Rooms) Leave(connID uuid.UUID, room model.Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID, room)
}

func (r *Rooms) leaveLocked(connID uuid.UUID, room model.Room) bool {
	set, ok := r.subs[room]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.subs, room)
	}
	if mine, ok := r.byConn[connID]; ok {
		delete(mine, room)
		if len(mine) == 0 {
			delete(r.byConn, connID)
		}
	}
	return true
}

// LeaveAll drops every subscription of a connection and returns the rooms it left.
func (r *Rooms) LeaveAll(connID uuid.UUID) []model.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	mine := r.byConn[connID]
	left := make([]model.Room, 0, len(mine))
	for room := range mine {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(connID, room)
	}
	return left
}

// Subscribers returns a snapshot of the room's connections.
func (r *Rooms) Subscribers(room model.Room) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.subs[room]
	out := make([]Sink, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// Subscribed reports whether a connection is in the room.
func (r *Rooms) Subscribed(connID uuid.UUID, room model.Room) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[room][connID]
	return ok
}

// RoomsOf returns the rooms a connection is subscribed to.
func (r *Rooms) RoomsOf(connID uuid.UUID) []model.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Room, 0, len(r.byConn[connID]))
	for room := range r.byConn[connID] {
		out = append(out, room)
	}
	return out
}
