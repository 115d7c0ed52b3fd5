package maze

import (
	"strings"
	"testing"

	"minotaur.dev/internal/sched"
)

func newTestMaze(t *testing.T, size, cx, cy int, sink EventSink) *Maze {
	t.Helper()
	m, err := New(Config{ID: "m1", ChunkSize: size, ChunksX: cx, ChunksY: cy, Variability: 1.5, Seed: 7}, sink, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func fill(m *Maze) {
	for x := 0; x < m.ChunksX(); x++ {
		for y := 0; y < m.ChunksY(); y++ {
			m.AddChunk(x, y)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	for _, cfg := range []Config{
		{ChunkSize: 0, ChunksX: 1, ChunksY: 1},
		{ChunkSize: 4, ChunksX: 0, ChunksY: 1},
		{ChunkSize: 4, ChunksX: 1, ChunksY: -1},
		{ChunkSize: 4, ChunksX: 1, ChunksY: 1, Variability: -1},
	} {
		if _, err := New(cfg, nil, nil); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
	m, err := New(Config{ChunkSize: 2, ChunksX: 1, ChunksY: 1}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.ID() == "" {
		t.Fatalf("expected generated id")
	}
}

func TestNodeResolvesChunkAndLocal(t *testing.T) {
	m := newTestMaze(t, 2, 2, 2, nil)
	fill(m)
	n, ok := m.Node(3, 3)
	if !ok {
		t.Fatalf("Node(3,3) missing")
	}
	if n.LocalPos != P(1, 1) || n.GlobalPos != P(3, 3) {
		t.Fatalf("node local=%v global=%v", n.LocalPos, n.GlobalPos)
	}
	cp, lp := m.Decompose(3, 3)
	if cp != P(1, 1) || lp != P(1, 1) {
		t.Fatalf("decompose chunk=%v local=%v", cp, lp)
	}
	c, _ := m.Chunk(1, 1)
	if cn, _ := c.Node(1, 1); cn != n {
		t.Fatalf("node not owned by chunk (1,1)")
	}
}

func TestCoordinateRoundTrip(t *testing.T) {
	m := newTestMaze(t, 5, 3, 2, nil)
	fill(m)
	for x := 0; x < m.SizeX(); x++ {
		for y := 0; y < m.SizeY(); y++ {
			cp, lp := m.Decompose(x, y)
			if got := P(cp.X*5+lp.X, cp.Y*5+lp.Y); got != P(x, y) {
				t.Fatalf("round trip %d,%d -> %v", x, y, got)
			}
			n, ok := m.Node(x, y)
			if !ok || n.GlobalPos != P(x, y) {
				t.Fatalf("node %d,%d: ok=%v", x, y, ok)
			}
		}
	}
}

func TestOutOfRangeLookups(t *testing.T) {
	m := newTestMaze(t, 2, 2, 2, nil)
	if _, ok := m.Chunk(0, 0); ok {
		t.Fatalf("chunk should not exist before AddChunk")
	}
	fill(m)
	for _, p := range []Pos{{-1, 0}, {0, -1}, {4, 0}, {0, 4}, {-3, -3}} {
		if _, ok := m.Node(p.X, p.Y); ok {
			t.Fatalf("Node%v should be absent", p)
		}
	}
	if _, ok := m.Chunk(2, 0); ok {
		t.Fatalf("chunk (2,0) out of range")
	}
	m.AddChunk(5, 5)
	if m.ChunkCount() != 4 {
		t.Fatalf("AddChunk out of range changed count: %d", m.ChunkCount())
	}
}

func TestNegativeDecompose(t *testing.T) {
	m := newTestMaze(t, 4, 1, 1, nil)
	cp, lp := m.Decompose(-1, -5)
	if cp != P(-1, -2) || lp != P(3, 3) {
		t.Fatalf("decompose(-1,-5) chunk=%v local=%v", cp, lp)
	}
}

func TestAddChunkIsStable(t *testing.T) {
	m := newTestMaze(t, 3, 1, 1, nil)
	m.AddChunk(0, 0)
	c1, _ := m.Chunk(0, 0)
	m.AddChunk(0, 0)
	c2, _ := m.Chunk(0, 0)
	if c1 != c2 {
		t.Fatalf("AddChunk replaced existing chunk")
	}
	if !c1.Initialized() {
		t.Fatalf("chunk not initialized")
	}
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			n, ok := c1.Node(x, y)
			if !ok || n.Walls() != AllWalls {
				t.Fatalf("node %d,%d not fully walled", x, y)
			}
			if n.Offset.Y() != 0 || n.Offset.X() < -1.5 || n.Offset.X() > 1.5 {
				t.Fatalf("bad jitter %v", n.Offset)
			}
		}
	}
}

func TestWallEditsIdempotent(t *testing.T) {
	n := &Node{walls: AllWalls}
	n.RemoveWall(WallLeft)
	once := n.Walls()
	n.RemoveWall(WallLeft)
	if n.Walls() != once {
		t.Fatalf("second remove changed mask %d -> %d", once, n.Walls())
	}
	n.AddWall(WallLeft)
	n.AddWall(WallLeft)
	if n.Walls() != AllWalls {
		t.Fatalf("add wall: %d", n.Walls())
	}
	n.SetWalls(0xFF)
	if n.Walls() != AllWalls {
		t.Fatalf("SetWalls should mask unknown bits: %d", n.Walls())
	}
	if WallString(WallTop|WallRight) != "T--R" {
		t.Fatalf("WallString=%q", WallString(WallTop|WallRight))
	}
}

func TestRemoveWallBetweenMirrors(t *testing.T) {
	m := newTestMaze(t, 2, 2, 1, nil)
	fill(m)
	cases := []struct {
		a, b   Pos
		wa, wb uint8
	}{
		{P(1, 0), P(2, 0), WallRight, WallLeft},
		{P(1, 1), P(0, 1), WallLeft, WallRight},
		{P(3, 1), P(3, 0), WallTop, WallBottom},
		{P(2, 0), P(2, 1), WallBottom, WallTop},
	}
	for _, tc := range cases {
		m.RemoveWallBetween(tc.a, tc.b)
		na, _ := m.Node(tc.a.X, tc.a.Y)
		nb, _ := m.Node(tc.b.X, tc.b.Y)
		if na.HasWall(tc.wa) || nb.HasWall(tc.wb) {
			t.Fatalf("%v-%v: walls %s %s", tc.a, tc.b, WallString(na.Walls()), WallString(nb.Walls()))
		}
	}
	// Edge of the maze: only the in-range side is touched.
	m.RemoveWallBetween(P(0, 0), P(-1, 0))
	n, _ := m.Node(0, 0)
	if n.HasWall(WallLeft) {
		t.Fatalf("left wall should be open")
	}
	if m.Open(P(0, 0), WallLeft) {
		t.Fatalf("edge must not count as open")
	}
}

func TestDumpRoundTrip(t *testing.T) {
	m := newTestMaze(t, 3, 2, 2, nil)
	fill(m)
	m.RemoveWallBetween(P(3, 4), P(4, 4))
	c, _ := m.Chunk(1, 1)
	dump := c.Dump()
	if !strings.HasPrefix(dump, "1x1x0y0y") {
		t.Fatalf("dump prefix: %q", dump[:12])
	}
	if strings.HasSuffix(dump, "^") {
		t.Fatalf("trailing separator not trimmed")
	}
	if got := strings.Count(dump, "^"); got != 8 {
		t.Fatalf("separators=%d want 8", got)
	}
	back, err := ParseChunk(dump, 3)
	if err != nil {
		t.Fatalf("ParseChunk: %v", err)
	}
	if back.Dump() != dump {
		t.Fatalf("dump mismatch:\n%s\n%s", dump, back.Dump())
	}
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			a, _ := c.Node(x, y)
			b, _ := back.Node(x, y)
			if a.GlobalPos != b.GlobalPos || a.Walls() != b.Walls() || a.Offset != b.Offset {
				t.Fatalf("node %d,%d differs", x, y)
			}
		}
	}
}

func TestParseChunkRejects(t *testing.T) {
	for _, s := range []string{
		"",
		"0x0x",
		"0x0x0y0y0,0y15",
		"0x0x0y0y0,0y15^0y0y0,0y15^1y0y0,0y15^1y1y0,0y15",
		"0x0x0y0y0;0y15^0y1y0,0y15^1y0y0,0y15^1y1y0,0y15",
		"0x0x0y0y0,0y15^0y1y0,0y15^1y0y0,0y15^2y1y0,0y15",
		"axbx0y0y0,0y15",
	} {
		if _, err := ParseChunk(s, 2); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestImportChunk(t *testing.T) {
	src := newTestMaze(t, 2, 2, 1, nil)
	fill(src)
	dst := newTestMaze(t, 2, 2, 1, nil)
	for x := 0; x < 2; x++ {
		c, _ := src.Chunk(x, 0)
		back, err := ParseChunk(c.Dump(), 2)
		if err != nil {
			t.Fatalf("ParseChunk: %v", err)
		}
		if err := dst.ImportChunk(back); err != nil {
			t.Fatalf("ImportChunk: %v", err)
		}
	}
	if err := dst.MarkGenerated("ellers"); err != nil {
		t.Fatalf("MarkGenerated: %v", err)
	}
	if !dst.Generated() || dst.Algorithm() != "ellers" {
		t.Fatalf("generated=%v alg=%q", dst.Generated(), dst.Algorithm())
	}
	wrong, _ := ParseChunk("5x0x0y0y0,0y15^1y0y0,0y15^0y1y0,0y15^1y1y0,0y15", 2)
	if err := dst.ImportChunk(wrong); err == nil {
		t.Fatalf("expected out-of-grid import to fail")
	}
}

type carveAll struct{}

func (carveAll) Name() string { return "carve-all" }

func (carveAll) Generate(m *Maze, start Pos) sched.Task {
	done := false
	return sched.Func(func() bool {
		if done {
			return false
		}
		m.Emit(Event{Kind: EventGenerationBegin})
		for x := 0; x+1 < m.SizeX(); x++ {
			m.RemoveWallBetween(P(x, 0), P(x+1, 0))
		}
		m.Emit(Event{Kind: EventGenerationFinish})
		done = true
		return false
	})
}

func TestGenerateEventOrder(t *testing.T) {
	var got []Event
	m := newTestMaze(t, 2, 2, 3, SinkFunc(func(e Event) { got = append(got, e) }))
	task := m.Generate(carveAll{}, P(0, 0))
	if m.ChunkCount() != 0 {
		t.Fatalf("Generate must not do work before stepping")
	}
	steps := sched.Run(task)
	if !m.Generated() || m.Generating() {
		t.Fatalf("generated=%v generating=%v", m.Generated(), m.Generating())
	}
	// begin, 6 chunks, finish with algorithm handoff, algorithm step
	if steps != 9 {
		t.Fatalf("steps=%d", steps)
	}
	if len(got) != 2+2*6+2 {
		t.Fatalf("events=%d", len(got))
	}
	if got[0].Kind != EventChunkPrePopulationBegin || got[13].Kind != EventChunkPrePopulationFinish {
		t.Fatalf("prepopulation bracket wrong: %v %v", got[0].Kind, got[13].Kind)
	}
	want := []Pos{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}
	for i, p := range want {
		b, f := got[1+2*i], got[2+2*i]
		if b.Kind != EventChunkGenerationBegin || f.Kind != EventChunkGenerationFinish {
			t.Fatalf("chunk %d kinds %v %v", i, b.Kind, f.Kind)
		}
		if *b.Chunk != p || *f.Chunk != p {
			t.Fatalf("chunk %d at %v/%v want %v", i, *b.Chunk, *f.Chunk, p)
		}
	}
	if got[14].Kind != EventGenerationBegin || !got[14].Cancellable() {
		t.Fatalf("generation begin: %+v", got[14])
	}
	for _, e := range got {
		if e.MazeID != "m1" {
			t.Fatalf("event without maze id: %+v", e)
		}
		if e.Kind != EventGenerationBegin && e.Cancellable() {
			t.Fatalf("%s should not be cancellable", e.Kind)
		}
	}
	if m.Algorithm() != "carve-all" {
		t.Fatalf("algorithm=%q", m.Algorithm())
	}
}

func TestPathAndReachable(t *testing.T) {
	m := newTestMaze(t, 2, 2, 1, nil)
	fill(m)
	if m.Reachable(P(0, 0)) != 1 {
		t.Fatalf("closed maze should reach only itself")
	}
	for x := 0; x < 3; x++ {
		m.RemoveWallBetween(P(x, 0), P(x+1, 0))
	}
	m.RemoveWallBetween(P(3, 0), P(3, 1))
	path := m.Path(P(0, 0), P(3, 1))
	if len(path) != 5 || path[0] != P(0, 0) || path[4] != P(3, 1) {
		t.Fatalf("path=%v", path)
	}
	if m.Reachable(P(0, 0)) != 5 {
		t.Fatalf("reachable=%d", m.Reachable(P(0, 0)))
	}
	if m.Path(P(0, 0), P(0, 1)) != nil {
		t.Fatalf("expected no path")
	}
	if m.Path(P(0, 0), P(9, 9)) != nil {
		t.Fatalf("expected nil for out of range end")
	}
}
