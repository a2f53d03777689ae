package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaService is the external media-pipeline facility (Kurento or a fake
// in tests). Every call is fallible and may block on a network round trip;
// callers pass a context and must not hold orchestrator locks across calls.
type MediaService interface {
	CreatePipeline(ctx context.Context) (MediaPipeline, error)
}

// MediaPipeline is one remotely hosted pipeline. Release must be safe to
// call more than once and tears down all endpoints created within it.
type MediaPipeline interface {
	CreateEndpoint(ctx context.Context) (MediaEndpoint, error)
	Release(ctx context.Context) error
}

// MediaEndpoint is one WebRTC endpoint inside a pipeline.
type MediaEndpoint interface {
	// Connect wires this endpoint's media output into sink.
	Connect(ctx context.Context, sink MediaEndpoint) error
	// ProcessOffer feeds an SDP offer and returns the SDP answer.
	ProcessOffer(ctx context.Context, sdpOffer string) (string, error)
	// GatherCandidates starts local candidate discovery; gathered
	// candidates arrive through the OnCandidate callback.
	GatherCandidates(ctx context.Context) error
	// OnCandidate sets the callback for locally-discovered candidates.
	OnCandidate(func(webrtc.ICECandidateInit))
	// AddCandidate applies a remotely-discovered candidate.
	AddCandidate(ctx context.Context, c webrtc.ICECandidateInit) error
}
