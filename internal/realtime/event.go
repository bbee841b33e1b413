// Package realtime is the in-process routing core of the chat server: the
// presence registry, live room subscriptions, the message relay, typing
// notifications and the call signaling state machine.
//
// All maps are guarded by their own mutex, held only for the map access.
// Events are delivered through Sink.Send, which never blocks.
package realtime

import (
	"encoding/json"

	"github.com/gofrs/uuid/v5"
)

// Event is one named frame exchanged with a client.
type Event struct {
	Name  string `json:"event"`
	AckID string `json:"ackId,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Sink is the outbound side of a client connection.
type Sink interface {
	// ID is unique per connection for the lifetime of the process.
	ID() uuid.UUID
	// Send enqueues ev without blocking and reports whether it was accepted.
	Send(ev Event) bool
}

// Outbound event names.
const (
	EvReceiveDirectMessage = "receive_direct_message"
	EvReceiveGroupMessage  = "receive_group_message"
	EvDirectMessageDeleted = "direct_message_deleted"
	EvGroupMessageDeleted  = "group_message_deleted"
	EvUserTypingDirect     = "user_typing_direct"
	EvUserStopTypingDirect = "user_stop_typing_direct"
	EvUserTypingGroup      = "user_typing_group"
	EvUserStopTypingGroup  = "user_stop_typing_group"
	EvUserStatusChange     = "user_status_change"
	EvIncomingCall         = "incoming_call"
	EvCallAccepted         = "call_accepted"
	EvCallRejected         = "call_rejected"
	EvCallEnded            = "call_ended"
	EvCallFailed           = "call_failed"
	EvWebRTCOffer          = "webrtc_offer"
	EvWebRTCAnswer         = "webrtc_answer"
	EvWebRTCIceCandidate   = "webrtc_ice_candidate"
)

// Call failure reasons shown to the caller.
const (
	ReasonOffline = "User is offline"
	ReasonBusy    = "User is busy"
)

// StatusChange is the payload of user_status_change.
type StatusChange struct {
	UserID   uuid.UUID `json:"userId"`
	Status   string    `json:"status"`
	LastSeen string    `json:"lastSeen,omitempty"`
}

// Typing is the payload of the typing events.
type Typing struct {
	ChatID   *uuid.UUID `json:"chatId,omitempty"`
	GroupID  *uuid.UUID `json:"groupId,omitempty"`
	UserID   uuid.UUID  `json:"userId"`
	UserName string     `json:"userName,omitempty"`
}

// IncomingCall is the payload of incoming_call.
type IncomingCall struct {
	CallID     uuid.UUID  `json:"callId"`
	CallerID   uuid.UUID  `json:"callerId"`
	CallerName string     `json:"callerName"`
	CallType   string     `json:"callType"`
	ChatID     *uuid.UUID `json:"chatId,omitempty"`
}

// CallAccepted is the payload of call_accepted.
type CallAccepted struct {
	CallID       uuid.UUID `json:"callId"`
	AnswererID   uuid.UUID `json:"answererId"`
	AnswererName string    `json:"answererName"`
}

// CallNotice is the payload of call_rejected and call_ended.
type CallNotice struct {
	From   uuid.UUID `json:"from"`
	Reason string    `json:"reason,omitempty"`
}

// CallFailed is the payload of call_failed.
type CallFailed struct {
	Message string `json:"message"`
}

// Signal carries an opaque WebRTC payload. Exactly one of the three is set.
type Signal struct {
	From      uuid.UUID       `json:"from"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}
