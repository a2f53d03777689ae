package kurento

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type kmsRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params struct {
		Type              string         `json:"type"`
		Object            string         `json:"object"`
		Operation         string         `json:"operation"`
		ConstructorParams map[string]any `json:"constructorParams"`
		OperationParams   map[string]any `json:"operationParams"`
	} `json:"params"`
}

// fakeKMS answers create/invoke/subscribe/release the way the media
// server does and pushes one IceCandidateFound event after each
// gatherCandidates.
func fakeKMS(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		objects := 0
		var lastEndpoint string
		reply := func(id uint64, value any) {
			result := map[string]any{"sessionId": "kms-session"}
			if value != nil {
				result["value"] = value
			}
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
		}

		for {
			var req kmsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			switch req.Method {
			case "create":
				objects++
				objectID := fmt.Sprintf("%s/%d", req.Params.Type, objects)
				if req.Params.Type == "WebRtcEndpoint" {
					if req.Params.ConstructorParams["mediaPipeline"] == nil {
						t.Errorf("endpoint created without a pipeline")
					}
					lastEndpoint = objectID
				}
				reply(req.ID, objectID)
			case "subscribe":
				reply(req.ID, "sub/1")
			case "release":
				reply(req.ID, nil)
			case "invoke":
				switch req.Params.Operation {
				case "processOffer":
					offer, _ := req.Params.OperationParams["offer"].(string)
					if offer == "bad" {
						_ = conn.WriteJSON(map[string]any{
							"jsonrpc": "2.0", "id": req.ID,
							"error": map[string]any{"code": 40101, "message": "SDP parse error"},
						})
						continue
					}
					reply(req.ID, "answer:"+offer)
				case "gatherCandidates":
					reply(req.ID, nil)
					_ = conn.WriteJSON(map[string]any{
						"jsonrpc": "2.0", "method": "onEvent",
						"params": map[string]any{
							"value": map[string]any{
								"object": lastEndpoint,
								"type":   "IceCandidateFound",
								"data": map[string]any{
									"candidate": map[string]any{
										"candidate": "candidate:gathered", "sdpMid": "audio", "sdpMLineIndex": 0,
									},
								},
							},
						},
					})
				default:
					reply(req.ID, nil)
				}
			default:
				t.Errorf("unexpected method %s", req.Method)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialFake(t *testing.T) *Client {
	t.Helper()
	srv := fakeKMS(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := Dial(context.Background(), url, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestClient_PipelineLifecycle(t *testing.T) {
	c := dialFake(t)
	ctx := context.Background()

	p, err := c.CreatePipeline(ctx)
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	ep, err := p.CreateEndpoint(ctx)
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}

	answer, err := ep.ProcessOffer(ctx, "v=0 offer")
	if err != nil {
		t.Fatalf("process offer: %v", err)
	}
	if answer != "answer:v=0 offer" {
		t.Fatalf("unexpected answer %q", answer)
	}

	if err := ep.AddCandidate(ctx, webrtc.ICECandidateInit{Candidate: "candidate:remote"}); err != nil {
		t.Fatalf("add candidate: %v", err)
	}
	if err := p.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestClient_GatheredCandidateReachesHandler(t *testing.T) {
	c := dialFake(t)
	ctx := context.Background()

	p, err := c.CreatePipeline(ctx)
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	ep, err := p.CreateEndpoint(ctx)
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}

	got := make(chan webrtc.ICECandidateInit, 1)
	ep.OnCandidate(func(cand webrtc.ICECandidateInit) {
		select {
		case got <- cand:
		default:
		}
	})

	if err := ep.GatherCandidates(ctx); err != nil {
		t.Fatalf("gather: %v", err)
	}

	select {
	case cand := <-got:
		if cand.Candidate != "candidate:gathered" {
			t.Fatalf("unexpected candidate %q", cand.Candidate)
		}
		if cand.SDPMid == nil || *cand.SDPMid != "audio" {
			t.Fatalf("expected sdpMid audio, got %v", cand.SDPMid)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for gathered candidate")
	}
}

func TestClient_ConnectTwoEndpoints(t *testing.T) {
	c := dialFake(t)
	ctx := context.Background()

	p, err := c.CreatePipeline(ctx)
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	a, err := p.CreateEndpoint(ctx)
	if err != nil {
		t.Fatalf("create endpoint a: %v", err)
	}
	b, err := p.CreateEndpoint(ctx)
	if err != nil {
		t.Fatalf("create endpoint b: %v", err)
	}
	if err := a.Connect(ctx, b); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := b.Connect(ctx, a); err != nil {
		t.Fatalf("connect back: %v", err)
	}
}

func TestClient_ServerErrorSurfaced(t *testing.T) {
	c := dialFake(t)
	ctx := context.Background()

	p, err := c.CreatePipeline(ctx)
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	ep, err := p.CreateEndpoint(ctx)
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}

	_, err = ep.ProcessOffer(ctx, "bad")
	if err == nil || !strings.Contains(err.Error(), "SDP parse error") {
		t.Fatalf("expected server error surfaced, got %v", err)
	}
}

func TestClient_CallAfterCloseFails(t *testing.T) {
	c := dialFake(t)
	c.Close()
	if _, err := c.CreatePipeline(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCandidateWireMapping(t *testing.T) {
	mid := "video"
	idx := uint16(1)
	w := initToWire(webrtc.ICECandidateInit{Candidate: "candidate:x", SDPMid: &mid, SDPMLineIndex: &idx})
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back iceCandidateWire
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Candidate != "candidate:x" || back.SDPMid != "video" || back.SDPMLineIndex != 1 {
		t.Fatalf("wire mapping lost fields: %+v", back)
	}
	init := back.toInit()
	if init.SDPMid == nil || *init.SDPMid != "video" || init.SDPMLineIndex == nil || *init.SDPMLineIndex != 1 {
		t.Fatalf("round trip lost pointers: %+v", init)
	}
}
