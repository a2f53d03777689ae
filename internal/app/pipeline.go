package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lhaverkamp/kurento-webrtc/internal/core"
)

// CallPipeline owns exactly one external media pipeline and its two
// endpoints for one connected pair. Construction steps and Release may
// race: every step re-checks the released flag after its network round
// trip, so a stop arriving mid-construction still ends with the external
// pipeline released and never with a half-alive handle.
type CallPipeline struct {
	media core.MediaService

	mu        sync.Mutex
	pipeline  core.MediaPipeline
	endpoints map[core.SessionID]core.MediaEndpoint
	released  bool
}

func NewCallPipeline(media core.MediaService) *CallPipeline {
	return &CallPipeline{
		media:     media,
		endpoints: make(map[core.SessionID]core.MediaEndpoint),
	}
}

// CreatePipeline materializes the external pipeline. If the handle was
// released while the request was in flight, the fresh pipeline is released
// immediately and ErrPipelineReleased is returned.
func (p *CallPipeline) CreatePipeline(ctx context.Context) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrPipelineReleased
	}
	p.mu.Unlock()

	pipeline, err := p.media.CreatePipeline(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		if err := pipeline.Release(ctx); err != nil {
			log.Warn().Err(err).Str("module", "app.pipeline").Msg("releasing pipeline created after teardown")
		}
		return ErrPipelineReleased
	}
	p.pipeline = pipeline
	p.mu.Unlock()
	return nil
}

// CreateEndpoint materializes an endpoint inside the pipeline. The
// endpoint is owned by the pipeline on the media server, so a concurrent
// Release of the pipeline covers it. The endpoint is not visible through
// Endpoint until BindEndpoint publishes it: candidates keep buffering
// until the buffered backlog has been drained into it.
func (p *CallPipeline) CreateEndpoint(ctx context.Context) (core.MediaEndpoint, error) {
	p.mu.Lock()
	pipeline := p.pipeline
	released := p.released
	p.mu.Unlock()
	if released || pipeline == nil {
		return nil, ErrPipelineReleased
	}

	ep, err := pipeline.CreateEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// BindEndpoint publishes the endpoint as the delivery target for a
// session's candidates.
func (p *CallPipeline) BindEndpoint(id core.SessionID, ep core.MediaEndpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrPipelineReleased
	}
	p.endpoints[id] = ep
	return nil
}

// Endpoint returns the materialized endpoint for a session, if any.
func (p *CallPipeline) Endpoint(id core.SessionID) (core.MediaEndpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, false
	}
	ep, ok := p.endpoints[id]
	return ep, ok
}

// Release tears down the external pipeline and everything in it. Idempotent
// and safe on a half-constructed handle.
func (p *CallPipeline) Release(ctx context.Context) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	pipeline := p.pipeline
	p.pipeline = nil
	p.endpoints = make(map[core.SessionID]core.MediaEndpoint)
	p.mu.Unlock()

	if pipeline == nil {
		return
	}
	if err := pipeline.Release(ctx); err != nil {
		log.Warn().Err(err).Str("module", "app.pipeline").Msg("pipeline release failed")
	}
}

// Released reports whether the handle has been torn down.
func (p *CallPipeline) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// PipelineTable maps both participants of an active call to their shared
// handle. The two entries are created and destroyed together.
type PipelineTable struct {
	mu      sync.RWMutex
	handles map[core.SessionID]*CallPipeline
}

func NewPipelineTable() *PipelineTable {
	return &PipelineTable{handles: make(map[core.SessionID]*CallPipeline)}
}

// Register installs the handle under both ids atomically.
func (t *PipelineTable) Register(h *CallPipeline, a, b core.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles[a] = h
	t.handles[b] = h
}

func (t *PipelineTable) Lookup(id core.SessionID) (*CallPipeline, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handles[id]
	return h, ok
}

// Remove deletes the entries for both ids, but only where they still point
// at h, so a late construction callback cannot evict a newer call's handle.
func (t *PipelineTable) Remove(h *CallPipeline, a, b core.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handles[a] == h {
		delete(t.handles, a)
	}
	if t.handles[b] == h {
		delete(t.handles, b)
	}
}
