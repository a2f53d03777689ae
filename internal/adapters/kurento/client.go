// Package kurento speaks the Kurento Media Server JSON-RPC protocol over
// a websocket and exposes it as core.MediaService. It is the only place
// that knows the media plane's wire format; the orchestrator sees
// pipelines and endpoints.
package kurento

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/lhaverkamp/kurento-webrtc/internal/core"
)

var ErrClosed = errors.New("kurento connection closed")

const (
	defaultRequestTimeout = 10 * time.Second
	writeWait             = 5 * time.Second
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("kurento error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcIncoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResult struct {
	Value     json.RawMessage `json:"value"`
	SessionID string          `json:"sessionId"`
}

type rpcOutcome struct {
	result json.RawMessage
	err    error
}

// Client is one connection to the media server. Safe for concurrent use:
// requests are correlated by id, writes serialized by a mutex.
type Client struct {
	conn       *websocket.Conn
	reqTimeout time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]chan rpcOutcome
	handlers  map[string]func(webrtc.ICECandidateInit) // by endpoint object id
	sessionID string
	closed    bool
}

// Dial connects to the media server and starts the response/event loop.
func Dial(ctx context.Context, uri string, reqTimeout time.Duration) (*Client, error) {
	if reqTimeout <= 0 {
		reqTimeout = defaultRequestTimeout
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to reach media server at %s: %w", uri, err)
	}
	c := &Client{
		conn:       conn,
		reqTimeout: reqTimeout,
		pending:    make(map[uint64]chan rpcOutcome),
		handlers:   make(map[string]func(webrtc.ICECandidateInit)),
	}
	go c.readLoop()
	log.Info().Str("module", "adapters.kurento").Str("uri", uri).Msg("connected to media server")
	return c, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]chan rpcOutcome)
	c.mu.Unlock()

	_ = c.conn.Close()
	for _, ch := range pending {
		ch <- rpcOutcome{err: ErrClosed}
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.kurento").Msg("media server connection lost")
			return
		}
		var msg rpcIncoming
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Str("module", "adapters.kurento").Msg("bad frame from media server")
			continue
		}
		switch {
		case msg.ID != nil && msg.Method == "":
			c.settle(*msg.ID, msg)
		case msg.Method == "onEvent":
			c.dispatchEvent(msg.Params)
		}
	}
}

func (c *Client) settle(id uint64, msg rpcIncoming) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		ch <- rpcOutcome{err: msg.Error}
		return
	}
	ch <- rpcOutcome{result: msg.Result}
}

type iceCandidateWire struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

func (w iceCandidateWire) toInit() webrtc.ICECandidateInit {
	mid := w.SDPMid
	idx := w.SDPMLineIndex
	return webrtc.ICECandidateInit{
		Candidate:     w.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

func initToWire(c webrtc.ICECandidateInit) iceCandidateWire {
	w := iceCandidateWire{Candidate: c.Candidate}
	if c.SDPMid != nil {
		w.SDPMid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		w.SDPMLineIndex = *c.SDPMLineIndex
	}
	return w
}

func (c *Client) dispatchEvent(params json.RawMessage) {
	var evt struct {
		Value struct {
			Object string `json:"object"`
			Type   string `json:"type"`
			Data   struct {
				Candidate iceCandidateWire `json:"candidate"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := json.Unmarshal(params, &evt); err != nil {
		log.Debug().Err(err).Str("module", "adapters.kurento").Msg("bad event from media server")
		return
	}
	switch evt.Value.Type {
	case "IceCandidateFound", "OnIceCandidate":
	default:
		return
	}

	c.mu.Lock()
	handler := c.handlers[evt.Value.Object]
	c.mu.Unlock()
	if handler != nil {
		handler(evt.Value.Data.Candidate.toInit())
	}
}

// call sends one request and waits for its reply or ctx expiry.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan rpcOutcome, 1)
	c.pending[id] = ch
	if c.sessionID != "" {
		params["sessionId"] = c.sessionID
	}
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		c.abandon(id)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.abandon(id)
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, fmt.Errorf("%s: %w", method, out.err)
		}
		var res rpcResult
		if err := json.Unmarshal(out.result, &res); err != nil {
			return nil, fmt.Errorf("%s: bad result: %w", method, err)
		}
		if res.SessionID != "" {
			c.mu.Lock()
			c.sessionID = res.SessionID
			c.mu.Unlock()
		}
		return res.Value, nil
	case <-ctx.Done():
		c.abandon(id)
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (c *Client) abandon(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) create(ctx context.Context, objType string, ctorParams map[string]any) (string, error) {
	value, err := c.call(ctx, "create", map[string]any{
		"type":              objType,
		"constructorParams": ctorParams,
	})
	if err != nil {
		return "", err
	}
	var objectID string
	if err := json.Unmarshal(value, &objectID); err != nil {
		return "", fmt.Errorf("create %s: bad object id: %w", objType, err)
	}
	return objectID, nil
}

func (c *Client) invoke(ctx context.Context, object, operation string, opParams map[string]any) (json.RawMessage, error) {
	params := map[string]any{
		"object":    object,
		"operation": operation,
	}
	if opParams != nil {
		params["operationParams"] = opParams
	}
	return c.call(ctx, "invoke", params)
}

func (c *Client) setCandidateHandler(object string, fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[object] = fn
}

func (c *Client) dropCandidateHandlers(objects []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range objects {
		delete(c.handlers, o)
	}
}

// CreatePipeline implements core.MediaService.
func (c *Client) CreatePipeline(ctx context.Context) (core.MediaPipeline, error) {
	id, err := c.create(ctx, "MediaPipeline", map[string]any{})
	if err != nil {
		return nil, err
	}
	return &pipeline{client: c, id: id}, nil
}

type pipeline struct {
	client *Client
	id     string

	mu        sync.Mutex
	endpoints []string
}

func (p *pipeline) CreateEndpoint(ctx context.Context) (core.MediaEndpoint, error) {
	id, err := p.client.create(ctx, "WebRtcEndpoint", map[string]any{
		"mediaPipeline": p.id,
	})
	if err != nil {
		return nil, err
	}
	// Subscribe while we can still fail loudly; the callback itself is
	// attached later via OnCandidate.
	if _, err := p.client.call(ctx, "subscribe", map[string]any{
		"object": id,
		"type":   "IceCandidateFound",
	}); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.endpoints = append(p.endpoints, id)
	p.mu.Unlock()
	return &endpoint{client: p.client, id: id}, nil
}

func (p *pipeline) Release(ctx context.Context) error {
	p.mu.Lock()
	endpoints := p.endpoints
	p.endpoints = nil
	p.mu.Unlock()
	p.client.dropCandidateHandlers(endpoints)

	_, err := p.client.call(ctx, "release", map[string]any{"object": p.id})
	return err
}

type endpoint struct {
	client *Client
	id     string
}

func (e *endpoint) Connect(ctx context.Context, sink core.MediaEndpoint) error {
	sinkEp, ok := sink.(*endpoint)
	if !ok {
		return fmt.Errorf("connect: sink is not a kurento endpoint")
	}
	_, err := e.client.invoke(ctx, e.id, "connect", map[string]any{"sink": sinkEp.id})
	return err
}

func (e *endpoint) ProcessOffer(ctx context.Context, sdpOffer string) (string, error) {
	value, err := e.client.invoke(ctx, e.id, "processOffer", map[string]any{"offer": sdpOffer})
	if err != nil {
		return "", err
	}
	var answer string
	if err := json.Unmarshal(value, &answer); err != nil {
		return "", fmt.Errorf("processOffer: bad answer: %w", err)
	}
	return answer, nil
}

func (e *endpoint) GatherCandidates(ctx context.Context) error {
	_, err := e.client.invoke(ctx, e.id, "gatherCandidates", nil)
	return err
}

func (e *endpoint) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	e.client.setCandidateHandler(e.id, fn)
}

func (e *endpoint) AddCandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	_, err := e.client.invoke(ctx, e.id, "addIceCandidate", map[string]any{
		"candidate": initToWire(c),
	})
	return err
}
