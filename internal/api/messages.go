// Package api defines the one2one signaling wire protocol. Field names
// match what the browser application sends and expects.
package api

import (
	"github.com/pion/webrtc/v4"

	"github.com/lhaverkamp/kurento-webrtc/internal/core"
)

type MessageID string

const (
	// Inbound.
	MessageRegister             = MessageID("register")
	MessageCall                 = MessageID("call")
	MessageIncomingCallResponse = MessageID("incomingCallResponse")
	MessageStop                 = MessageID("stop")
	MessageOnIceCandidate       = MessageID("onIceCandidate")
	MessagePing                 = MessageID("ping")

	// Outbound.
	MessageRegisterResponse   = MessageID("registerResponse")
	MessageJoinResponse       = MessageID("joinResponse")
	MessageIncomingCall       = MessageID("incomingCall")
	MessageCallResponse       = MessageID("callResponse")
	MessageStartCommunication = MessageID("startCommunication")
	MessageStopCommunication  = MessageID("stopCommunication")
	MessageIceCandidate       = MessageID("iceCandidate")
	MessagePong               = MessageID("pong")
	MessageError              = MessageID("error")
)

const (
	ResponseAccepted = "accepted"
	ResponseRejected = "rejected"

	CallAccept = "accept"
	CallReject = "reject"
)

// ClientMessage is the envelope for everything a browser sends.
type ClientMessage struct {
	ID           MessageID                `json:"id"`
	Name         string                   `json:"name,omitempty"`
	Room         string                   `json:"room,omitempty"`
	To           string                   `json:"to,omitempty"`
	From         string                   `json:"from,omitempty"`
	CallResponse string                   `json:"callResponse,omitempty"`
	SdpOffer     string                   `json:"sdpOffer,omitempty"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

type RegisterResponse struct {
	ID       MessageID `json:"id"`
	Response string    `json:"response"`
	Message  string    `json:"message,omitempty"`
}

// JoinResponse is fanned out to every room member (the joiner included)
// so each side learns the other's session id.
type JoinResponse struct {
	ID          MessageID      `json:"id"`
	Response    string         `json:"response"`
	MemberID    core.SessionID `json:"memberId"`
	RecipientID core.SessionID `json:"recipientId"`
}

type IncomingCall struct {
	ID   MessageID `json:"id"`
	From string    `json:"from"`
}

type CallResponse struct {
	ID        MessageID `json:"id"`
	Response  string    `json:"response"`
	SdpAnswer string    `json:"sdpAnswer,omitempty"`
	Message   string    `json:"message,omitempty"`
}

type StartCommunication struct {
	ID        MessageID `json:"id"`
	SdpAnswer string    `json:"sdpAnswer"`
}

type StopCommunication struct {
	ID      MessageID `json:"id"`
	Message string    `json:"message,omitempty"`
}

type IceCandidate struct {
	ID        MessageID               `json:"id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type Pong struct {
	ID MessageID `json:"id"`
}

type Error struct {
	ID      MessageID `json:"id"`
	Message string    `json:"message"`
}
