package orch

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lhaverkamp/kurento-webrtc/internal/api"
	"github.com/lhaverkamp/kurento-webrtc/internal/app"
	"github.com/lhaverkamp/kurento-webrtc/internal/core"
	"github.com/lhaverkamp/kurento-webrtc/internal/metrics"
)

// buildCall runs the pipeline construction sequence on its own goroutine:
// pipeline, caller endpoint, callee endpoint, bidirectional connect, then
// an SDP answer per side. Any step failing funnels into failCall. A stop
// arriving mid-flight empties the pipeline table; the late outcome then
// finds no registered handle and is absorbed by the idempotent release.
func (o *Orchestrator) buildCall(h *app.CallPipeline, callerID, calleeID core.SessionID, calleeOffer string) {
	ctx, cancel := o.opCtx()
	defer cancel()

	callerEp, calleeEp, err := o.constructPipeline(ctx, h, callerID, calleeID)
	if err != nil {
		o.failCall(h, callerID, calleeID, err)
		return
	}

	o.mu.Lock()
	caller, callerOK := o.registry.GetByID(callerID)
	callee, calleeOK := o.registry.GetByID(calleeID)
	var callerOffer string
	if callerOK {
		callerOffer = caller.PendingOffer
		caller.PendingOffer = "" // consumed
	}
	o.mu.Unlock()
	if !callerOK || !calleeOK {
		o.failCall(h, callerID, calleeID, app.ErrPeerUnavailable)
		return
	}

	callerAnswer, err := processOffer(ctx, callerEp, callerOffer)
	if err != nil {
		o.failCall(h, callerID, calleeID, err)
		return
	}
	calleeAnswer, err := processOffer(ctx, calleeEp, calleeOffer)
	if err != nil {
		o.failCall(h, callerID, calleeID, err)
		return
	}

	o.mu.Lock()
	cur, ok := o.pipelines.Lookup(callerID)
	if !ok || cur != h {
		o.mu.Unlock()
		h.Release(ctx)
		return
	}
	caller.State = app.StateInCall
	callee.State = app.StateInCall
	o.mu.Unlock()

	metrics.CallsStartedTotal.Inc()
	log.Info().Str("module", "app.orch").Str("caller", string(callerID)).Str("callee", string(calleeID)).Msg("call established")

	_ = callee.Send(api.StartCommunication{ID: api.MessageStartCommunication, SdpAnswer: calleeAnswer})
	_ = caller.Send(api.CallResponse{
		ID:        api.MessageCallResponse,
		Response:  api.ResponseAccepted,
		SdpAnswer: callerAnswer,
	})
}

func (o *Orchestrator) constructPipeline(ctx context.Context, h *app.CallPipeline, callerID, calleeID core.SessionID) (callerEp, calleeEp core.MediaEndpoint, err error) {
	if err = h.CreatePipeline(ctx); err != nil {
		return nil, nil, err
	}
	if callerEp, err = o.attachEndpoint(ctx, h, callerID); err != nil {
		return nil, nil, err
	}
	if calleeEp, err = o.attachEndpoint(ctx, h, calleeID); err != nil {
		return nil, nil, err
	}
	if err = callerEp.Connect(ctx, calleeEp); err != nil {
		return nil, nil, err
	}
	if err = calleeEp.Connect(ctx, callerEp); err != nil {
		return nil, nil, err
	}
	return callerEp, calleeEp, nil
}

// attachEndpoint creates one party's endpoint, points its local-candidate
// callback at the party's transport, drains the candidate backlog into it
// and publishes it. The drain loop snapshots the queue under the lock but
// delivers outside it, re-checking until an empty queue and the publish
// happen atomically, so candidates arriving mid-drain are neither lost nor
// reordered nor delivered twice.
func (o *Orchestrator) attachEndpoint(ctx context.Context, h *app.CallPipeline, sid core.SessionID) (core.MediaEndpoint, error) {
	ep, err := h.CreateEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	ep.OnCandidate(func(c webrtc.ICECandidateInit) {
		o.mu.Lock()
		sess, ok := o.registry.GetByID(sid)
		o.mu.Unlock()
		if !ok {
			return
		}
		_ = sess.Send(api.IceCandidate{ID: api.MessageIceCandidate, Candidate: c})
	})

	for {
		o.mu.Lock()
		queued := o.candidates.Take(sid)
		if len(queued) == 0 {
			err := h.BindEndpoint(sid, ep)
			o.mu.Unlock()
			return ep, err
		}
		o.mu.Unlock()

		for _, c := range queued {
			if err := ep.AddCandidate(ctx, c); err != nil {
				return nil, err
			}
			metrics.CandidatesForwardedTotal.Inc()
		}
	}
}

func processOffer(ctx context.Context, ep core.MediaEndpoint, offer string) (string, error) {
	answer, err := ep.ProcessOffer(ctx, offer)
	if err != nil {
		return "", err
	}
	if err := ep.GatherCandidates(ctx); err != nil {
		return "", err
	}
	return answer, nil
}

// OnIceCandidate routes a remotely-discovered candidate: forwarded when
// the session's endpoint is already published, buffered otherwise. The
// check and the enqueue happen under the orchestrator lock, the same lock
// the drain loop publishes under, which keeps the buffer-or-deliver choice
// race-free against in-flight construction.
func (o *Orchestrator) OnIceCandidate(sid core.SessionID, c webrtc.ICECandidateInit) {
	o.mu.Lock()
	var ep core.MediaEndpoint
	if h, ok := o.pipelines.Lookup(sid); ok {
		ep, _ = h.Endpoint(sid)
	}
	if ep == nil {
		o.candidates.Enqueue(sid, c)
		o.mu.Unlock()
		metrics.CandidatesBufferedTotal.Inc()
		return
	}
	o.mu.Unlock()

	ctx, cancel := o.opCtx()
	defer cancel()
	if err := ep.AddCandidate(ctx, c); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(sid)).Msg("candidate delivery failed")
		return
	}
	metrics.CandidatesForwardedTotal.Inc()
}
