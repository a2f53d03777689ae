// Package signal accepts browser WebSocket connections and feeds the call
// orchestrator. Each connection gets a fresh session id, a buffered write
// pump and a read pump; close and read errors route into the
// orchestrator's stop/disconnect path.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lhaverkamp/kurento-webrtc/internal/api"
	"github.com/lhaverkamp/kurento-webrtc/internal/app/orch"
	"github.com/lhaverkamp/kurento-webrtc/internal/config"
	"github.com/lhaverkamp/kurento-webrtc/internal/core"
	"github.com/lhaverkamp/kurento-webrtc/internal/metrics"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait         = 5 * time.Second
	defaultPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Orch *orch.Orchestrator
	Cfg  *config.Config
}

func NewController(o *orch.Orchestrator, cfg *config.Config) *Controller {
	return &Controller{Orch: o, Cfg: cfg}
}

func (ctl *Controller) pingPeriod() time.Duration {
	if ctl.Cfg != nil && ctl.Cfg.PingPeriod > 0 {
		return ctl.Cfg.PingPeriod
	}
	return defaultPingPeriod
}

// wsConn implements core.SignalConnection over a gorilla connection.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame
	once sync.Once
}

func (c *wsConn) TrySend(f core.Frame) error {
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.signal").Msg("ws upgrade failed")
		return
	}

	// Session ids are connection-scoped and never reused: the browser's
	// cookie token identifies a client, not a signaling session.
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "adapters.signal").Str("sid", string(sid)).Msg("new signaling connection")
	metrics.ActiveWebSocketConnections.Inc()

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	if ctl.Cfg != nil && ctl.Cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Cfg.ReadLimit)
	}
	// A half-open connection must fail the read once pings go unanswered.
	pongWait := ctl.pingPeriod() * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "adapters.signal").Str("sid", string(sid)).Msg("signaling connection closed")
		metrics.ActiveWebSocketConnections.Dec()
		ctl.Orch.Disconnect(sid)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.dispatch(sid, c, data)
		}
	}
}

func (ctl *Controller) dispatch(sid core.SessionID, c *wsConn, data []byte) {
	var msg api.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().Err(err).Str("module", "adapters.signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendJSON(c, api.Error{ID: api.MessageError, Message: "invalid message " + string(data)})
		return
	}
	metrics.SignalMessagesTotal.WithLabelValues(string(msg.ID)).Inc()

	switch msg.ID {
	case api.MessageRegister:
		ctl.Orch.Register(sid, c, msg.Name, msg.Room)
	case api.MessageCall:
		ctl.Orch.Call(sid, msg.To, msg.SdpOffer)
	case api.MessageIncomingCallResponse:
		ctl.Orch.IncomingCallResponse(sid, msg.From, msg.CallResponse, msg.SdpOffer)
	case api.MessageStop:
		ctl.Orch.Stop(sid)
	case api.MessageOnIceCandidate:
		if msg.Candidate == nil {
			ctl.sendJSON(c, api.Error{ID: api.MessageError, Message: "onIceCandidate without candidate"})
			return
		}
		ctl.Orch.OnIceCandidate(sid, *msg.Candidate)
	case api.MessagePing:
		ctl.sendJSON(c, api.Pong{ID: api.MessagePong})
	default:
		ctl.sendJSON(c, api.Error{ID: api.MessageError, Message: "invalid message " + string(data)})
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Debug().Err(err).Str("module", "adapters.signal").Msg("marshal failed")
		return
	}
	_ = c.TrySend(b)
}
