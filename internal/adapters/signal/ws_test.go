package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lhaverkamp/kurento-webrtc/internal/app/orch"
	"github.com/lhaverkamp/kurento-webrtc/internal/config"
	"github.com/lhaverkamp/kurento-webrtc/internal/core"
)

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ctl := NewController(orch.New(nil, time.Second), cfg)
	r := gin.New()
	r.GET("/one2one", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/one2one"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return m
}

func TestHandleSignal_RegisterRoundTrip(t *testing.T) {
	_, conn := newTestServer(t, &config.Config{ReadLimit: 32768})

	if err := conn.WriteJSON(map[string]any{"id": "register", "name": "alice"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := readMsg(t, conn)
	if m["id"] != "registerResponse" || m["response"] != "accepted" {
		t.Fatalf("expected accepted registerResponse, got %v", m)
	}
}

func TestHandleSignal_Ping(t *testing.T) {
	_, conn := newTestServer(t, &config.Config{ReadLimit: 32768})

	if err := conn.WriteJSON(map[string]any{"id": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := readMsg(t, conn); m["id"] != "pong" {
		t.Fatalf("expected pong, got %v", m)
	}
}

func TestHandleSignal_InvalidMessages(t *testing.T) {
	_, conn := newTestServer(t, &config.Config{ReadLimit: 32768})

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := readMsg(t, conn); m["id"] != "error" {
		t.Fatalf("expected error for malformed json, got %v", m)
	}

	if err := conn.WriteJSON(map[string]any{"id": "no-such-op"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := readMsg(t, conn); m["id"] != "error" {
		t.Fatalf("expected error for unknown id, got %v", m)
	}

	if err := conn.WriteJSON(map[string]any{"id": "onIceCandidate"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := readMsg(t, conn); m["id"] != "error" {
		t.Fatalf("expected error for candidate-less onIceCandidate, got %v", m)
	}
}

func TestHandleSignal_UnresponsivePeerTimedOut(t *testing.T) {
	_, conn := newTestServer(t, &config.Config{ReadLimit: 32768, PingPeriod: 30 * time.Millisecond})

	// The client never reads, so server pings are never answered; the
	// pong-refreshed read deadline must fail the connection instead of
	// letting it linger half-open.
	time.Sleep(300 * time.Millisecond)

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			t.Fatalf("server kept the half-open connection alive")
		}
		return
	}
}

func TestHandleSignal_ResponsivePeerOutlivesPingPeriod(t *testing.T) {
	_, conn := newTestServer(t, &config.Config{ReadLimit: 32768, PingPeriod: 50 * time.Millisecond})

	// A client blocked in its read loop answers protocol pings, so the
	// session must survive well past several ping periods.
	got := make(chan map[string]any, 4)
	fail := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fail <- err
				return
			}
			var m map[string]any
			if err := json.Unmarshal(data, &m); err != nil {
				fail <- err
				return
			}
			got <- m
		}
	}()

	time.Sleep(250 * time.Millisecond)

	if err := conn.WriteJSON(map[string]any{"id": "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case m := <-got:
		if m["id"] != "pong" {
			t.Fatalf("expected pong, got %v", m)
		}
	case err := <-fail:
		t.Fatalf("connection died despite answered pings: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for pong")
	}
}

func TestWSConn_BackpressureDropsInsteadOfBlocking(t *testing.T) {
	c := &wsConn{send: make(chan core.Frame, 1)}
	if err := c.TrySend([]byte("one")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.TrySend([]byte("two")); err != ErrBackpressure {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
}
