package app

import "errors"

// Failure classes recovered at the orchestration boundary. They never
// cross the network as raw errors; the orchestrator turns them into
// rejection messages with a human-readable reason.
var (
	ErrEmptyIdentity        = errors.New("empty username")
	ErrIdentityTaken        = errors.New("username already registered")
	ErrSessionRegistered    = errors.New("connection already registered")
	ErrPeerUnavailable      = errors.New("peer unavailable")
	ErrDeliveryFailed       = errors.New("message delivery failed")
	ErrUnknownCaller        = errors.New("unknown caller")
	ErrPipelineConstruction = errors.New("media pipeline construction failed")
	ErrDeclined             = errors.New("user declined")

	// ErrPipelineReleased is returned by construction steps that lost a
	// race against a concurrent stop or disconnect.
	ErrPipelineReleased = errors.New("pipeline already released")
)
