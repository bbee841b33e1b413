package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/events"
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// CallState is the lifecycle state of a call session.
type CallState string

const (
	StateInitiating CallState = "initiating"
	StateRinging    CallState = "ringing"
	StateAnswered   CallState = "answered"
	StateActive     CallState = "active"
	StateEnded      CallState = "ended"
	StateRejected   CallState = "rejected"
	StateFailed     CallState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == StateEnded || s == StateRejected || s == StateFailed
}

// CallSession is one call attempt between two users.
type CallSession struct {
	ID         uuid.UUID      `json:"id"`
	CallerID   uuid.UUID      `json:"callerId"`
	CalleeID   uuid.UUID      `json:"calleeId"`
	CallerName string         `json:"callerName"`
	Kind       model.CallKind `json:"callType"`
	ChatID     *uuid.UUID     `json:"chatId,omitempty"`
	State      CallState      `json:"state"`
	Outcome    string         `json:"outcome,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	AnsweredAt *time.Time     `json:"answeredAt,omitempty"`
	ActiveAt   *time.Time     `json:"activeAt,omitempty"`
	EndedAt    *time.Time     `json:"endedAt,omitempty"`
}

// Peer returns the other participant.
func (c *CallSession) Peer(userID uuid.UUID) uuid.UUID {
	if c.CallerID == userID {
		return c.CalleeID
	}
	return c.CallerID
}

// Duration is the time spent active, zero when media never flowed.
func (c *CallSession) Duration() time.Duration {
	if c.ActiveAt == nil || c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(*c.ActiveAt)
}

// Resolver finds a user's current connection.
type Resolver interface {
	Resolve(userID uuid.UUID) (Sink, bool)
}

// CallLogger appends call summaries to chat history.
type CallLogger interface {
	AppendCallLog(ctx context.Context, cl model.CallLog) (*model.Message, error)
}

// InitiateRequest starts a call.
type InitiateRequest struct {
	CallerID   uuid.UUID
	CallerName string
	CalleeID   uuid.UUID
	Kind       model.CallKind
	ChatID     *uuid.UUID
}

// Signaling routes call events between exactly two users. A user takes part
// in at most one non-terminal session; a second initiate involving either
// party is refused. Sessions have no server side ringing timeout.
type Signaling struct {
	mu     sync.Mutex
	byUser map[uuid.UUID]*CallSession

	presence Resolver
	calllog  CallLogger
	pub      events.Publisher
	log      *zap.Logger
	now      func() time.Time
}

// NewSignaling builds the state machine. calllog may be nil to disable call logs.
func NewSignaling(presence Resolver, calllog CallLogger, pub events.Publisher, log *zap.Logger) *Signaling {
	return &Signaling{
		byUser:   make(map[uuid.UUID]*CallSession),
		presence: presence,
		calllog:  calllog,
		pub:      pub,
		log:      log,
		now:      time.Now,
	}
}

// Initiate rings the callee. When the callee is busy or offline the caller's
// connection from receives call_failed and an error is returned.
func (g *Signaling) Initiate(ctx context.Context, from Sink, req InitiateRequest) (*CallSession, error) {
	switch {
	case req.CalleeID == uuid.Nil || req.CallerID == uuid.Nil:
		return nil, fmt.Errorf("%w: targetUserId is required", errs.ErrValidation)
	case req.CalleeID == req.CallerID:
		return nil, fmt.Errorf("%w: cannot call yourself", errs.ErrValidation)
	case !req.Kind.Valid():
		return nil, fmt.Errorf("%w: callType must be voice or video", errs.ErrValidation)
	}
	if cur, ok := g.presence.Resolve(req.CallerID); !ok || cur.ID() != from.ID() {
		return nil, fmt.Errorf("%w: announce with user_connected first", errs.ErrValidation)
	}

	g.mu.Lock()
	if g.byUser[req.CallerID] != nil || g.byUser[req.CalleeID] != nil {
		g.mu.Unlock()
		from.Send(Event{Name: EvCallFailed, Data: CallFailed{Message: ReasonBusy}})
		return nil, errs.ErrCallInFlight
	}

	cs := &CallSession{
		ID:         uuid.Must(uuid.NewV4()),
		CallerID:   req.CallerID,
		CalleeID:   req.CalleeID,
		CallerName: req.CallerName,
		Kind:       req.Kind,
		ChatID:     req.ChatID,
		State:      StateInitiating,
		CreatedAt:  g.now(),
	}
	callee, online := g.presence.Resolve(req.CalleeID)
	if !online {
		g.mu.Unlock()
		cs.State = StateFailed
		from.Send(Event{Name: EvCallFailed, Data: CallFailed{Message: ReasonOffline}})
		return cs, errs.ErrPresenceUnavailable
	}
	cs.State = StateRinging
	g.byUser[cs.CallerID] = cs
	g.byUser[cs.CalleeID] = cs
	snapshot := *cs
	g.mu.Unlock()

	callee.Send(Event{Name: EvIncomingCall, Data: IncomingCall{
		CallID:     cs.ID,
		CallerID:   cs.CallerID,
		CallerName: cs.CallerName,
		CallType:   string(cs.Kind),
		ChatID:     cs.ChatID,
	}})
	g.log.Debug("call ringing", zap.Stringer("call", cs.ID))
	return &snapshot, nil
}

// Answer accepts a ringing call on behalf of the callee and tells the caller.
func (g *Signaling) Answer(_ context.Context, answererID, callerID uuid.UUID, answererName string) error {
	g.mu.Lock()
	cs, err := g.sessionLocked(answererID, callerID)
	if err == nil && (cs.CalleeID != answererID || cs.State != StateRinging) {
		err = fmt.Errorf("%w: call is %s", errs.ErrInvalidTransition, cs.State)
	}
	if err != nil {
		g.mu.Unlock()
		return err
	}
	now := g.now()
	cs.State = StateAnswered
	cs.AnsweredAt = &now
	callID := cs.ID
	g.mu.Unlock()

	return g.notify(callerID, Event{Name: EvCallAccepted, Data: CallAccepted{
		CallID:       callID,
		AnswererID:   answererID,
		AnswererName: answererName,
	}})
}

// Reject declines a ringing call on behalf of the callee and tells the caller.
func (g *Signaling) Reject(ctx context.Context, rejecterID, callerID uuid.UUID) error {
	g.mu.Lock()
	cs, err := g.sessionLocked(rejecterID, callerID)
	if err == nil && (cs.CalleeID != rejecterID || cs.State != StateRinging) {
		err = fmt.Errorf("%w: call is %s", errs.ErrInvalidTransition, cs.State)
	}
	if err != nil {
		g.mu.Unlock()
		return err
	}
	g.finishLocked(cs, StateRejected, model.OutcomeRejected)
	snapshot := *cs
	g.mu.Unlock()

	g.finished(ctx, &snapshot)
	return g.notify(callerID, Event{Name: EvCallRejected, Data: CallNotice{From: rejecterID}})
}

// End hangs up the call fromID shares with targetID and tells the target.
// Users without a shared session cannot reach each other through End.
func (g *Signaling) End(ctx context.Context, fromID, targetID uuid.UUID) error {
	g.mu.Lock()
	cs, err := g.sessionLocked(fromID, targetID)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	g.finishLocked(cs, StateEnded, hangupOutcome(cs, fromID))
	snapshot := *cs
	g.mu.Unlock()

	g.finished(ctx, &snapshot)
	return g.notify(targetID, Event{Name: EvCallEnded, Data: CallNotice{From: fromID}})
}

// Disconnect ends the user's session, if any, as if the user had hung up.
func (g *Signaling) Disconnect(ctx context.Context, userID uuid.UUID) {
	g.mu.Lock()
	cs := g.byUser[userID]
	if cs == nil {
		g.mu.Unlock()
		return
	}
	outcome := model.OutcomeCancelled
	if cs.State == StateAnswered || cs.State == StateActive {
		outcome = model.OutcomeCompleted
	}
	g.finishLocked(cs, StateEnded, outcome)
	snapshot := *cs
	g.mu.Unlock()

	g.finished(ctx, &snapshot)
	peer := snapshot.Peer(userID)
	if err := g.notify(peer, Event{Name: EvCallEnded, Data: CallNotice{From: userID, Reason: "disconnected"}}); err != nil {
		g.log.Debug("peer already gone", zap.Stringer("call", snapshot.ID))
	}
}

// RelayOffer forwards an SDP offer verbatim to the sender's call peer.
func (g *Signaling) RelayOffer(fromID, targetID uuid.UUID, offer json.RawMessage) error {
	if err := g.peers(fromID, targetID); err != nil {
		return err
	}
	return g.notify(targetID, Event{Name: EvWebRTCOffer, Data: Signal{From: fromID, Offer: offer}})
}

// RelayAnswer forwards an SDP answer verbatim. An answer from the callee of
// an answered session marks it active.
func (g *Signaling) RelayAnswer(fromID, targetID uuid.UUID, answer json.RawMessage) error {
	g.mu.Lock()
	cs, err := g.sessionLocked(fromID, targetID)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if cs.CalleeID == fromID && cs.State == StateAnswered {
		now := g.now()
		cs.State = StateActive
		cs.ActiveAt = &now
	}
	g.mu.Unlock()

	return g.notify(targetID, Event{Name: EvWebRTCAnswer, Data: Signal{From: fromID, Answer: answer}})
}

// RelayIceCandidate forwards an ICE candidate verbatim to the sender's call peer.
func (g *Signaling) RelayIceCandidate(fromID, targetID uuid.UUID, candidate json.RawMessage) error {
	if err := g.peers(fromID, targetID); err != nil {
		return err
	}
	return g.notify(targetID, Event{Name: EvWebRTCIceCandidate, Data: Signal{From: fromID, Candidate: candidate}})
}

// peers reports ErrNotFound unless the two users share a session.
func (g *Signaling) peers(userID, peerID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.sessionLocked(userID, peerID)
	return err
}

// Active returns a copy of the user's in-flight session.
func (g *Signaling) Active(userID uuid.UUID) (*CallSession, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cs := g.byUser[userID]
	if cs == nil {
		return nil, false
	}
	cpy := *cs
	return &cpy, true
}

// sessionLocked finds the session userID shares with peerID.
func (g *Signaling) sessionLocked(userID, peerID uuid.UUID) (*CallSession, error) {
	cs := g.byUser[userID]
	if cs == nil || cs.Peer(userID) != peerID {
		return nil, fmt.Errorf("%w: no call with this user", errs.ErrNotFound)
	}
	return cs, nil
}

func (g *Signaling) finishLocked(cs *CallSession, state CallState, outcome string) {
	now := g.now()
	cs.State = state
	cs.Outcome = outcome
	cs.EndedAt = &now
	delete(g.byUser, cs.CallerID)
	delete(g.byUser, cs.CalleeID)
}

// hangupOutcome classifies an explicit hangup by userID.
func hangupOutcome(cs *CallSession, userID uuid.UUID) string {
	switch {
	case cs.State == StateAnswered || cs.State == StateActive:
		return model.OutcomeCompleted
	case userID == cs.CallerID:
		return model.OutcomeMissed
	default:
		return model.OutcomeRejected
	}
}

// finished records a terminated session outside the lock.
func (g *Signaling) finished(ctx context.Context, cs *CallSession) {
	g.log.Debug("call finished", zap.Stringer("call", cs.ID), zap.String("outcome", cs.Outcome), zap.Duration("duration", cs.Duration()))

	if err := g.pub.Publish(ctx, events.KeyCallEnded, events.NewEnvelope(events.KeyCallEnded, cs)); err != nil {
		g.log.Warn("call event not published", zap.Stringer("call", cs.ID), zap.Error(err))
	}

	if g.calllog == nil || cs.ChatID == nil {
		return
	}
	_, err := g.calllog.AppendCallLog(ctx, model.CallLog{
		Room:     model.DirectRoom(*cs.ChatID),
		CallerID: cs.CallerID,
		CalleeID: cs.CalleeID,
		Kind:     cs.Kind,
		Outcome:  cs.Outcome,
		Duration: cs.Duration(),
	})
	if err != nil {
		g.log.Warn("call log not stored", zap.Stringer("call", cs.ID), zap.Error(err))
	}
}

// notify delivers ev to the user's connection or reports it offline.
func (g *Signaling) notify(userID uuid.UUID, ev Event) error {
	s, ok := g.presence.Resolve(userID)
	if !ok {
		return errs.ErrPresenceUnavailable
	}
	s.Send(ev)
	return nil
}
