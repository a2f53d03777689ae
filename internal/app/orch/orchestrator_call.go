package orch

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lhaverkamp/kurento-webrtc/internal/api"
	"github.com/lhaverkamp/kurento-webrtc/internal/app"
	"github.com/lhaverkamp/kurento-webrtc/internal/core"
	"github.com/lhaverkamp/kurento-webrtc/internal/metrics"
)

// Call starts an outbound call attempt. The callee is reserved for this
// caller before it has answered; a reserved or in-call callee rejects
// further attempts deterministically instead of being silently
// re-targeted.
func (o *Orchestrator) Call(callerID core.SessionID, to, sdpOffer string) {
	o.mu.Lock()
	caller, ok := o.registry.GetByID(callerID)
	if !ok {
		o.mu.Unlock()
		log.Warn().Str("module", "app.orch").Str("sid", string(callerID)).Msg("call from unregistered session")
		return
	}

	// A fresh attempt invalidates whatever an earlier one left behind.
	o.candidates.Clear(callerID)

	reject := func(reason, metric string) {
		o.mu.Unlock()
		metrics.CallFailuresTotal.WithLabelValues(metric).Inc()
		_ = caller.Send(api.CallResponse{
			ID:       api.MessageCallResponse,
			Response: api.ResponseRejected,
			Message:  reason,
		})
	}

	if caller.Busy() {
		reject("you are busy with another call", "busy")
		return
	}

	callee, found := o.resolvePeer(caller, to)
	if !found {
		reject(fmt.Sprintf("user %s is not registered", to), "unavailable")
		return
	}
	if callee.Busy() {
		reject(fmt.Sprintf("user %s is busy", to), "busy")
		return
	}

	caller.PendingOffer = sdpOffer
	caller.PeerID = callee.ID
	caller.State = app.StateCalling
	callee.PeerID = callerID
	callee.State = app.StateRinging
	callerName := caller.User.Name
	o.mu.Unlock()

	if err := callee.Send(api.IncomingCall{ID: api.MessageIncomingCall, From: callerName}); err != nil {
		o.mu.Lock()
		caller.ClearCall()
		callee.ClearCall()
		o.mu.Unlock()
		metrics.CallFailuresTotal.WithLabelValues("delivery").Inc()
		_ = caller.Send(api.CallResponse{
			ID:       api.MessageCallResponse,
			Response: api.ResponseRejected,
			Message:  fmt.Sprintf("%v: %v", app.ErrDeliveryFailed, err),
		})
	}
}

// IncomingCallResponse handles the callee's accept/reject decision.
func (o *Orchestrator) IncomingCallResponse(calleeID core.SessionID, from, response, sdpOffer string) {
	o.mu.Lock()
	o.candidates.Clear(calleeID)

	callee, ok := o.registry.GetByID(calleeID)
	if !ok {
		o.mu.Unlock()
		return
	}

	var caller *app.Session
	if from != "" {
		caller, _ = o.resolvePeer(callee, from)
	}
	// The caller must be resolvable and still paired with this callee; a
	// stale or spoofed response dissolves whatever half-state exists.
	if caller == nil || caller.PeerID != calleeID || callee.PeerID != caller.ID {
		handle, registered := o.pipelines.Lookup(calleeID)
		if registered {
			o.pipelines.Remove(handle, calleeID, callee.PeerID)
		}
		callee.ClearCall()
		if caller != nil {
			caller.ClearCall()
		}
		o.mu.Unlock()

		if registered {
			ctx, cancel := o.opCtx()
			handle.Release(ctx)
			cancel()
		}
		reason := fmt.Sprintf("%v: %s", app.ErrUnknownCaller, from)
		_ = callee.Send(api.StopCommunication{ID: api.MessageStopCommunication, Message: reason})
		if caller != nil {
			_ = caller.Send(api.CallResponse{
				ID:       api.MessageCallResponse,
				Response: api.ResponseRejected,
				Message:  reason,
			})
		}
		return
	}

	if response != api.CallAccept {
		caller.ClearCall()
		callee.ClearCall()
		o.mu.Unlock()
		metrics.CallFailuresTotal.WithLabelValues("declined").Inc()
		_ = caller.Send(api.CallResponse{
			ID:       api.MessageCallResponse,
			Response: api.ResponseRejected,
			Message:  app.ErrDeclined.Error(),
		})
		return
	}

	// Register the handle under both ids before construction begins so a
	// stop or a candidate arriving mid-construction can find it.
	handle := app.NewCallPipeline(o.media)
	o.pipelines.Register(handle, caller.ID, calleeID)
	caller.State = app.StateNegotiating
	callee.State = app.StateNegotiating
	callerID := caller.ID
	o.mu.Unlock()

	metrics.ActiveCalls.Inc()
	go o.buildCall(handle, callerID, calleeID, sdpOffer)
}

// failCall is the canonical error path for every construction step: full
// pipeline release, table and buffer cleanup, and notification of both
// parties. A handle that was already torn down by a concurrent stop is
// absorbed silently.
func (o *Orchestrator) failCall(h *app.CallPipeline, callerID, calleeID core.SessionID, cause error) {
	ctx, cancel := o.opCtx()
	h.Release(ctx)
	cancel()

	o.mu.Lock()
	cur, ok := o.pipelines.Lookup(callerID)
	if !ok || cur != h {
		o.mu.Unlock()
		return
	}
	o.pipelines.Remove(h, callerID, calleeID)
	o.candidates.Clear(callerID)
	o.candidates.Clear(calleeID)
	caller, _ := o.registry.GetByID(callerID)
	callee, _ := o.registry.GetByID(calleeID)
	if caller != nil {
		caller.ClearCall()
	}
	if callee != nil {
		callee.ClearCall()
	}
	o.mu.Unlock()

	metrics.ActiveCalls.Dec()
	metrics.CallFailuresTotal.WithLabelValues("pipeline").Inc()
	log.Error().Err(cause).Str("module", "app.orch").Str("caller", string(callerID)).Str("callee", string(calleeID)).Msg("call setup failed")

	reason := fmt.Sprintf("%v: %v", app.ErrPipelineConstruction, cause)
	if caller != nil {
		_ = caller.Send(api.CallResponse{
			ID:       api.MessageCallResponse,
			Response: api.ResponseRejected,
			Message:  reason,
		})
	}
	if callee != nil {
		_ = callee.Send(api.StopCommunication{ID: api.MessageStopCommunication, Message: reason})
	}
}

// Stop ends the call a session participates in. Idempotent: a session with
// no pipeline and no reservation is a no-op. With a pending reservation but
// no pipeline yet (hang-up while ringing) the reservation pair is dissolved
// and the reserved peer notified.
func (o *Orchestrator) Stop(sid core.SessionID) {
	o.mu.Lock()
	h, ok := o.pipelines.Lookup(sid)
	if !ok {
		sess, sok := o.registry.GetByID(sid)
		if !sok || sess.PeerID == "" {
			o.mu.Unlock()
			return
		}
		peer, pok := o.registry.GetByID(sess.PeerID)
		sess.ClearCall()
		var notify *app.Session
		if pok && peer.PeerID == sid {
			peer.ClearCall()
			notify = peer
		}
		o.candidates.Clear(sid)
		o.mu.Unlock()

		if notify != nil {
			_ = notify.Send(api.StopCommunication{ID: api.MessageStopCommunication, Message: "remote user hung up"})
		}
		return
	}

	sess, _ := o.registry.GetByID(sid)
	var peerID core.SessionID
	if sess != nil {
		peerID = sess.PeerID
		sess.ClearCall()
	}
	var peer *app.Session
	if peerID != "" {
		peer, _ = o.registry.GetByID(peerID)
		if peer != nil {
			peer.ClearCall()
		}
	}
	o.pipelines.Remove(h, sid, peerID)
	o.candidates.Clear(sid)
	if peerID != "" {
		o.candidates.Clear(peerID)
	}
	o.mu.Unlock()

	ctx, cancel := o.opCtx()
	h.Release(ctx)
	cancel()
	metrics.ActiveCalls.Dec()

	if peer != nil {
		_ = peer.Send(api.StopCommunication{ID: api.MessageStopCommunication, Message: "remote user hung up"})
	}
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Msg("call stopped")
}
