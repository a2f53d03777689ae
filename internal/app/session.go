package app

import (
	"encoding/json"

	"github.com/lhaverkamp/kurento-webrtc/internal/core"
	"github.com/lhaverkamp/kurento-webrtc/internal/domain"
)

// State is the per-session position in the call state machine.
type State int

const (
	StateRegistered State = iota
	StateCalling          // outbound attempt, waiting for the callee's decision
	StateRinging          // inbound attempt, reserved for one caller
	StateNegotiating      // accepted, pipeline construction in flight
	StateInCall
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateNegotiating:
		return "negotiating"
	case StateInCall:
		return "inCall"
	}
	return "unknown"
}

// Session binds one connected party's identity to its transport and holds
// its mutable negotiation state. Negotiation fields (State, PeerID,
// PendingOffer) are guarded by the orchestrator's lock, not here.
type Session struct {
	ID   core.SessionID
	User *domain.User
	Room domain.RoomName // empty in global-name deployments

	conn core.SignalConnection

	State        State
	PeerID       core.SessionID // reserved or confirmed peer; empty when idle
	PendingOffer string         // SDP offer held until the callee decides
}

func NewSession(id core.SessionID, user *domain.User, room domain.RoomName, conn core.SignalConnection) *Session {
	return &Session{ID: id, User: user, Room: room, conn: conn}
}

// Send marshals v and hands it to the transport. The transport is owned by
// the connection adapter; a full send buffer or closed socket surfaces as
// an error here and is the caller's policy decision.
func (s *Session) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.TrySend(core.Frame(data))
}

// Busy reports whether the session is reserved by or engaged in a call.
func (s *Session) Busy() bool {
	return s.State != StateRegistered
}

// ClearCall drops any reservation or pairing and returns to registered.
func (s *Session) ClearCall() {
	s.State = StateRegistered
	s.PeerID = ""
	s.PendingOffer = ""
}
