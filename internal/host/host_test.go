package host

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"minotaur.dev/internal/config"
	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/maze/gen"
	"minotaur.dev/internal/observerproto"
	"minotaur.dev/internal/persistence/snapshot"
)

// testConfig is a 3x3 grid of 4x4 chunks, 40 units a side. Streaming keeps
// chunks whose centre is closer than 40.
func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Seed = 5
	cfg.ChunkSize = 4
	cfg.ChunksX = 3
	cfg.ChunksY = 3
	cfg.PathWidth = 4
	cfg.PathSpread = 6
	cfg.DistanceVariability = 1
	cfg.Stream.UpdateIntervalMs = 0
	cfg.Stream.UnloadPadding = 10
	return cfg
}

func newTestHost(t *testing.T, cfg config.Config) *Host {
	t.Helper()
	alg := gen.NewEller(gen.Options{Seed: cfg.Seed, RowsPerStep: cfg.RowsPerStep})
	h, err := New(cfg, alg, nil, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

type clock struct{ t time.Time }

func (c *clock) next() time.Time {
	c.t = c.t.Add(33 * time.Millisecond)
	return c.t
}

// settle runs frames until generation and every queued pass are done.
func settle(t *testing.T, h *Host, c *clock) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		h.Frame(c.next())
		if h.maze.Generated() && h.sched.Pending() == 0 {
			// One more frame so due sessions start (and finish) a pass.
			h.Frame(c.next())
			if h.sched.Pending() == 0 {
				return
			}
		}
	}
	t.Fatalf("host did not settle: generated=%v pending=%d", h.maze.Generated(), h.sched.Pending())
}

func join(h *Host, id string, pos *mgl32.Vec3, dataCap int) (progress, data chan []byte) {
	progress = make(chan []byte, 1)
	data = make(chan []byte, dataCap)
	h.handleJoin(ObserverJoinRequest{SessionID: id, ProgressOut: progress, DataOut: data, Pos: pos})
	return progress, data
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				return append(out, "closed")
			}
			var hdr struct {
				Type string `json:"type"`
				CX   int    `json:"cx"`
				CY   int    `json:"cy"`
			}
			_ = json.Unmarshal(b, &hdr)
			out = append(out, hdr.Type+" "+maze.P(hdr.CX, hdr.CY).String())
		default:
			return out
		}
	}
}

func TestGenerateThenStreamToObserver(t *testing.T) {
	h := newTestHost(t, testConfig())
	if !h.Start(h.layout.StartPos()) {
		t.Fatalf("Start refused")
	}
	if h.Start(h.layout.StartPos()) {
		t.Fatalf("second Start accepted while generating")
	}
	pos := mgl32.Vec3{20, 0, 20}
	progress, data := join(h, "obs1", &pos, 16)

	c := &clock{t: time.Unix(1000, 0)}
	settle(t, h, c)

	if got := strings.Join(drain(data), ","); got != "CHUNK (0, 0)" {
		t.Fatalf("data=%s", got)
	}
	var p observerproto.ProgressMsg
	if err := json.Unmarshal(<-progress, &p); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Stage != string(maze.EventGenerationFinish) || p.Fraction != 1 || p.MazeID != h.maze.ID() {
		t.Fatalf("progress=%+v", p)
	}
	if got := h.maze.Reachable(maze.P(0, 0)); got != h.maze.SizeX()*h.maze.SizeY() {
		t.Fatalf("reachable=%d", got)
	}

	m := h.Metrics()
	if !m.Generated || m.Sessions != 1 || m.LoadedChunks != 1 || m.ChunksGenerated != 9 || m.NodesPerChunk != 16 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestMoveEvictsBeforeLoading(t *testing.T) {
	h := newTestHost(t, testConfig())
	h.Start(maze.P(0, 0))
	pos := mgl32.Vec3{20, 0, 20}
	_, data := join(h, "obs1", &pos, 16)
	c := &clock{t: time.Unix(0, 0)}
	settle(t, h, c)
	drain(data)

	h.handleMove(ObserverMoveRequest{SessionID: "obs1", Pos: mgl32.Vec3{100, 0, 20}})
	settle(t, h, c)
	if got := strings.Join(drain(data), ","); got != "CHUNK_EVICT (0, 0),CHUNK (2, 0)" {
		t.Fatalf("data=%s", got)
	}
}

func TestObserverWithoutPositionGetsNothing(t *testing.T) {
	h := newTestHost(t, testConfig())
	h.Start(maze.P(0, 0))
	_, data := join(h, "idle", nil, 16)
	settle(t, h, &clock{})
	if got := drain(data); len(got) != 0 {
		t.Fatalf("data=%v", got)
	}
}

func TestLeaveClosesChannels(t *testing.T) {
	h := newTestHost(t, testConfig())
	h.Start(maze.P(0, 0))
	pos := mgl32.Vec3{20, 0, 20}
	progress, data := join(h, "obs1", &pos, 16)
	settle(t, h, &clock{})
	drain(data)

	h.handleLeave("obs1")
	if got := drain(data); len(got) != 1 || got[0] != "closed" {
		t.Fatalf("data after leave=%v", got)
	}
	for range progress {
	}
	if h.Metrics().Sessions != 1 {
		// Metrics lag until the next frame.
		t.Fatalf("metrics refreshed early")
	}
	h.Frame(time.Unix(99, 0))
	if h.Metrics().Sessions != 0 {
		t.Fatalf("metrics=%+v", h.Metrics())
	}
}

func TestSlowObserverIsDropped(t *testing.T) {
	h := newTestHost(t, testConfig())
	h.Start(maze.P(0, 0))
	pos := mgl32.Vec3{20, 0, 20}
	_, data := join(h, "slow", &pos, 0)
	c := &clock{}
	settle(t, h, c)
	h.Frame(c.next())
	if _, ok := h.sessions["slow"]; ok {
		t.Fatalf("session with a full data channel should be dropped")
	}
	if _, ok := <-data; ok {
		t.Fatalf("data channel should be closed")
	}
}

func TestRejoinReplacesSession(t *testing.T) {
	h := newTestHost(t, testConfig())
	_, oldData := join(h, "obs1", nil, 4)
	join(h, "obs1", nil, 4)
	if _, ok := <-oldData; ok {
		t.Fatalf("old session channel should be closed")
	}
	if len(h.sessions) != 1 {
		t.Fatalf("sessions=%d", len(h.sessions))
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	cfg := testConfig()
	h := newTestHost(t, cfg)
	sink := make(chan snapshot.MazeV1, 1)
	h.SetSnapshotSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Before generation there is nothing to capture.
	h.handleSnapshot(snapshotReq{Resp: make(chan snapshotResp, 1)}, time.Unix(1, 0))
	if len(sink) != 0 {
		t.Fatalf("snapshot of ungenerated maze")
	}

	h.Start(maze.P(0, 0))
	settle(t, h, &clock{})

	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	if _, err := h.RequestSnapshot(ctx); err != nil {
		t.Fatalf("RequestSnapshot: %v", err)
	}
	h.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := <-sink

	r, err := Restore(cfg, snap, nil, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if r.Start(maze.P(0, 0)) {
		t.Fatalf("restored maze must not regenerate")
	}
	b := r.Bootstrap()
	if !b.Generated || b.MazeID != h.maze.ID() || b.Algorithm != "ellers" || b.Fraction != 1 {
		t.Fatalf("bootstrap=%+v", b)
	}
	for y := 0; y < h.maze.SizeY(); y++ {
		for x := 0; x < h.maze.SizeX(); x++ {
			a, _ := h.maze.Node(x, y)
			n, _ := r.maze.Node(x, y)
			if a.Walls() != n.Walls() {
				t.Fatalf("node (%d, %d) walls %d != %d", x, y, n.Walls(), a.Walls())
			}
		}
	}

	// A restored host streams straight away.
	pos := mgl32.Vec3{60, 0, 60}
	progress, data := join(r, "obs", &pos, 8)
	settle(t, r, &clock{t: time.Unix(5, 0)})
	if got := strings.Join(drain(data), ","); got != "CHUNK (1, 1)" {
		t.Fatalf("data=%s", got)
	}
	var p observerproto.ProgressMsg
	_ = json.Unmarshal(<-progress, &p)
	if p.Text != "Loaded maze" {
		t.Fatalf("progress=%+v", p)
	}

	other := cfg
	other.ChunksX = 2
	if _, err := Restore(other, snap, nil, nil); err == nil {
		t.Fatalf("grid mismatch accepted")
	}
}

func TestRequestSnapshotWithoutSink(t *testing.T) {
	h := newTestHost(t, testConfig())
	resp := make(chan snapshotResp, 1)
	h.handleSnapshot(snapshotReq{Resp: resp}, time.Unix(1, 0))
	if r := <-resp; r.Err == "" {
		t.Fatalf("expected error")
	}
}

func TestBootstrapBeforeGeneration(t *testing.T) {
	h := newTestHost(t, testConfig())
	b := h.Bootstrap()
	if b.Generated || b.Algorithm != "ellers" || b.MazeParams.Start != [2]int{6, 6} || b.MazeParams.ChunkEncoding != "DUMP" {
		t.Fatalf("bootstrap=%+v", b)
	}
}
