// Package orch drives the one2one call state machine: registration, room
// membership, offer/answer relay and candidate exchange between two
// browser peers, with the media plane delegated to an external pipeline
// service.
package orch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lhaverkamp/kurento-webrtc/internal/api"
	"github.com/lhaverkamp/kurento-webrtc/internal/app"
	"github.com/lhaverkamp/kurento-webrtc/internal/core"
	"github.com/lhaverkamp/kurento-webrtc/internal/domain"
	"github.com/lhaverkamp/kurento-webrtc/internal/metrics"
)

const defaultCallTimeout = 30 * time.Second

// Orchestrator owns all per-process signaling state: the session registry,
// the room table, the candidate buffers and the pipeline-handle table. It
// is the single writer for negotiation state; mu serializes every compound
// read-then-write sequence that spans a session pair. Calls into the media
// service never happen while mu is held.
type Orchestrator struct {
	registry   *app.Registry
	rooms      *app.RoomManager
	candidates *app.CandidateBuffer
	pipelines  *app.PipelineTable
	media      core.MediaService

	callTimeout time.Duration

	mu sync.Mutex
}

func New(media core.MediaService, callTimeout time.Duration) *Orchestrator {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Orchestrator{
		registry:    app.NewRegistry(),
		rooms:       app.NewRoomManager(),
		candidates:  app.NewCandidateBuffer(),
		pipelines:   app.NewPipelineTable(),
		media:       media,
		callTimeout: callTimeout,
	}
}

func (o *Orchestrator) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), o.callTimeout)
}

// Register creates and registers the session for a connected party. In
// room mode (room != "") the name is unique per room and every current
// member, the joiner included, is notified of the new membership pair.
func (o *Orchestrator) Register(sid core.SessionID, conn core.SignalConnection, name, room string) {
	reject := func(reason string) {
		metrics.RegistrationFailuresTotal.Inc()
		sendTo(conn, api.RegisterResponse{
			ID:       api.MessageRegisterResponse,
			Response: api.ResponseRejected,
			Message:  reason,
		})
	}

	user, err := domain.NewUser(name)
	if err != nil {
		reject(err.Error())
		return
	}
	sess := app.NewSession(sid, user, domain.RoomName(room), conn)

	o.mu.Lock()
	if err := o.registry.Register(sess); err != nil {
		o.mu.Unlock()
		reject(err.Error())
		return
	}
	var members []*app.Session
	if room != "" {
		r := o.rooms.GetOrCreate(domain.RoomName(room))
		r.Add(sess)
		members = r.Members()
	}
	o.mu.Unlock()

	metrics.RegistrationsTotal.Inc()
	metrics.ActiveSessions.Inc()

	_ = sess.Send(api.RegisterResponse{
		ID:       api.MessageRegisterResponse,
		Response: api.ResponseAccepted,
	})
	for _, m := range members {
		_ = m.Send(api.JoinResponse{
			ID:          api.MessageJoinResponse,
			Response:    api.ResponseAccepted,
			MemberID:    sess.ID,
			RecipientID: m.ID,
		})
	}
}

// Disconnect is the transport-close path: stop any call, then remove the
// session from the registry and its room.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.Stop(sid)

	o.mu.Lock()
	sess, ok := o.registry.GetByID(sid)
	if ok {
		o.registry.Unregister(sid)
		o.rooms.RemoveMember(sess.Room, sid)
	}
	o.candidates.Clear(sid)
	o.mu.Unlock()

	if ok {
		metrics.ActiveSessions.Dec()
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Msg("session disconnected")
	}
}

// resolvePeer finds a callee/caller by name in the session's scope: within
// its room when it has one, globally otherwise.
func (o *Orchestrator) resolvePeer(from *app.Session, name string) (*app.Session, bool) {
	if from.Room != "" {
		return o.registry.GetByRoomName(from.Room, name)
	}
	return o.registry.GetByName(name)
}

func sendTo(conn core.SignalConnection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Debug().Err(err).Str("module", "app.orch").Msg("marshal failed")
		return
	}
	if err := conn.TrySend(core.Frame(data)); err != nil {
		log.Debug().Err(err).Str("module", "app.orch").Msg("send failed")
	}
}
