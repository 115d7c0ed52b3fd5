package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"minotaur.dev/internal/config"
	"minotaur.dev/internal/host"
	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/maze/gen"
	"minotaur.dev/internal/observerproto"
)

func startServer(t *testing.T, opts ...func(*Server)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Seed = 7
	cfg.ChunkSize = 4
	cfg.ChunksX = 3
	cfg.ChunksY = 3
	cfg.PathWidth = 4
	cfg.PathSpread = 6
	cfg.Stream.UpdateIntervalMs = 0
	cfg.Stream.UnloadPadding = 10

	logger := log.New(&bytes.Buffer{}, "", 0)
	h, err := host.New(cfg, gen.NewEller(gen.Options{Seed: cfg.Seed}), nil, logger)
	if err != nil {
		t.Fatalf("host.New: %v", err)
	}
	h.Start(maze.P(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()

	srv := NewServer(h, logger)
	for _, o := range opts {
		o(srv)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", srv.BootstrapHandler())
	mux.HandleFunc("/v1/ws", srv.WSHandler())
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// await reads until a message of type typ arrives and returns it raw.
func await(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var hdr struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(b, &hdr)
		if hdr.Type == typ {
			return b
		}
	}
}

func subscribe(pos [3]float32) observerproto.SubscribeMsg {
	return observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, Pos: &pos}
}

func position(pos [3]float32) observerproto.PositionMsg {
	return observerproto.PositionMsg{Type: observerproto.TypePosition, ProtocolVersion: observerproto.Version, Pos: pos}
}

func TestWS_StreamsChunksAndFollowsObserver(t *testing.T) {
	_, ts := startServer(t)
	conn := dial(t, ts)
	send(t, conn, subscribe([3]float32{20, 0, 20}))

	var chunk observerproto.ChunkMsg
	if err := json.Unmarshal(await(t, conn, observerproto.TypeChunk), &chunk); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if chunk.CX != 0 || chunk.CY != 0 || chunk.Encoding != observerproto.EncodingDump {
		t.Fatalf("chunk=%+v", chunk)
	}
	walls, err := chunk.DecodeWalls()
	if err != nil || len(walls) != 16 {
		t.Fatalf("walls=%v err=%v", walls, err)
	}

	send(t, conn, position([3]float32{100, 0, 20}))
	var evict observerproto.ChunkEvictMsg
	if err := json.Unmarshal(await(t, conn, observerproto.TypeChunkEvict), &evict); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if evict.CX != 0 || evict.CY != 0 {
		t.Fatalf("evict=%+v", evict)
	}
	if err := json.Unmarshal(await(t, conn, observerproto.TypeChunk), &chunk); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if chunk.CX != 2 || chunk.CY != 0 {
		t.Fatalf("chunk=%+v", chunk)
	}
}

func TestWS_RateLimitsPositions(t *testing.T) {
	srv, ts := startServer(t, func(s *Server) {
		s.PositionRate = 0.001
		s.PositionBurst = 1
	})
	conn := dial(t, ts)
	send(t, conn, subscribe([3]float32{20, 0, 20}))
	send(t, conn, position([3]float32{21, 0, 20}))
	send(t, conn, position([3]float32{22, 0, 20}))

	var e observerproto.ErrorMsg
	if err := json.Unmarshal(await(t, conn, observerproto.TypeError), &e); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if e.Code != observerproto.ErrRateLimit {
		t.Fatalf("error=%+v", e)
	}
	if srv.RateLimited() != 1 {
		t.Fatalf("limited=%d", srv.RateLimited())
	}
}

func TestWS_RejectsUnknownMessages(t *testing.T) {
	_, ts := startServer(t)
	conn := dial(t, ts)
	send(t, conn, observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version})
	send(t, conn, map[string]string{"type": "TELEPORT", "protocol_version": observerproto.Version})

	var e observerproto.ErrorMsg
	if err := json.Unmarshal(await(t, conn, observerproto.TypeError), &e); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if e.Code != observerproto.ErrBadRequest || !strings.Contains(e.Message, "TELEPORT") {
		t.Fatalf("error=%+v", e)
	}
}

func TestWS_HandshakeRequiresSubscribe(t *testing.T) {
	_, ts := startServer(t)
	conn := dial(t, ts)
	send(t, conn, position([3]float32{0, 0, 0}))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err=%v", err)
	}
}

func TestBootstrap(t *testing.T) {
	_, ts := startServer(t)
	resp, err := http.Get(ts.URL + "/v1/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ProtocolVersion != observerproto.Version || b.MazeParams.ChunkSize != 4 || b.Algorithm != "ellers" {
		t.Fatalf("bootstrap=%+v", b)
	}

	post, err := http.Post(ts.URL+"/v1/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", post.StatusCode)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9000": true,
		"[::1]:443":      true,
		"10.0.0.7:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
