package gen

import (
	"bytes"
	"log"
	"testing"

	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/sched"
)

func build(t *testing.T, alg maze.Algorithm, chunkSize, cx, cy int, sink maze.EventSink) *maze.Maze {
	t.Helper()
	m, err := maze.New(maze.Config{ID: "g", ChunkSize: chunkSize, ChunksX: cx, ChunksY: cy, Variability: 2, Seed: 1}, sink, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("maze.New: %v", err)
	}
	sched.Run(m.Generate(alg, maze.P(0, 0)))
	if !m.Generated() {
		t.Fatalf("maze not generated")
	}
	return m
}

func wallGrid(m *maze.Maze) []uint8 {
	out := make([]uint8, 0, m.SizeX()*m.SizeY())
	for y := 0; y < m.SizeY(); y++ {
		for x := 0; x < m.SizeX(); x++ {
			n, _ := m.Node(x, y)
			out = append(out, n.Walls())
		}
	}
	return out
}

// checkPerfect asserts every cell is reachable and the passage graph is a
// tree, with mirrored walls and a closed outer boundary.
func checkPerfect(t *testing.T, m *maze.Maze) {
	t.Helper()
	w, h := m.SizeX(), m.SizeY()
	edges := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n, _ := m.Node(x, y)
			if x+1 < w {
				r, _ := m.Node(x+1, y)
				if n.HasWall(maze.WallRight) != r.HasWall(maze.WallLeft) {
					t.Fatalf("unmirrored wall between %d,%d and %d,%d", x, y, x+1, y)
				}
				if !n.HasWall(maze.WallRight) {
					edges++
				}
			} else if !n.HasWall(maze.WallRight) {
				t.Fatalf("outer right wall open at %d,%d", x, y)
			}
			if y+1 < h {
				d, _ := m.Node(x, y+1)
				if n.HasWall(maze.WallBottom) != d.HasWall(maze.WallTop) {
					t.Fatalf("unmirrored wall between %d,%d and %d,%d", x, y, x, y+1)
				}
				if !n.HasWall(maze.WallBottom) {
					edges++
				}
			} else if !n.HasWall(maze.WallBottom) {
				t.Fatalf("outer bottom wall open at %d,%d", x, y)
			}
			if x == 0 && !n.HasWall(maze.WallLeft) {
				t.Fatalf("outer left wall open at %d,%d", x, y)
			}
			if y == 0 && !n.HasWall(maze.WallTop) {
				t.Fatalf("outer top wall open at %d,%d", x, y)
			}
		}
	}
	if got := m.Reachable(maze.P(0, 0)); got != w*h {
		t.Fatalf("reachable=%d want %d", got, w*h)
	}
	if edges != w*h-1 {
		t.Fatalf("passages=%d want %d (cycle or gap)", edges, w*h-1)
	}
}

func TestEllerSmallMirrored(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		m := build(t, NewEller(Options{Seed: seed}), 2, 2, 2, nil)
		checkPerfect(t, m)
	}
}

func TestEllerConnectivity(t *testing.T) {
	for _, dims := range [][3]int{{4, 4, 4}, {3, 5, 2}, {1, 7, 1}, {5, 1, 3}} {
		m := build(t, NewEller(Options{Seed: 99, RowsPerStep: 3}), dims[0], dims[1], dims[2], nil)
		checkPerfect(t, m)
	}
}

func TestEllerDeterministic(t *testing.T) {
	a := wallGrid(build(t, NewEller(Options{Seed: 42}), 4, 3, 3, nil))
	b := wallGrid(build(t, NewEller(Options{Seed: 42}), 4, 3, 3, nil))
	if !bytes.Equal(a, b) {
		t.Fatalf("same seed produced different walls")
	}
	c := wallGrid(build(t, NewEller(Options{Seed: 43}), 4, 3, 3, nil))
	if bytes.Equal(a, c) {
		t.Fatalf("different seeds produced identical 12x12 mazes")
	}
}

func TestEllerPartitionHolds(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	m, err := maze.New(maze.Config{ChunkSize: 4, ChunksX: 4, ChunksY: 3}, nil, logger)
	if err != nil {
		t.Fatalf("maze.New: %v", err)
	}
	for x := 0; x < 4; x++ {
		for y := 0; y < 3; y++ {
			m.AddChunk(x, y)
		}
	}
	run := NewEller(Options{Seed: 5, Logger: logger}).newRun(m)
	for run.Step() {
		if err := run.rows.validate(false); err != nil {
			t.Fatalf("row %d: %v", run.row, err)
		}
		for _, s := range run.rows.sets {
			for _, x := range s.cols {
				if !run.openTop[x] && run.row < run.height {
					t.Fatalf("row %d: column %d carried without a downward passage", run.row, x)
				}
			}
		}
	}
	if buf.Len() != 0 {
		t.Fatalf("invariant diagnostics logged:\n%s", buf.String())
	}
	if err := run.rows.validate(true); err != nil {
		t.Fatalf("final row: %v", err)
	}
	if len(run.rows.sets) != 1 {
		t.Fatalf("last row should end in a single set, got %d", len(run.rows.sets))
	}
}

func TestRowSetsMergeRefusesBadIndices(t *testing.T) {
	var buf bytes.Buffer
	rs := newRowSets(4, log.New(&buf, "", 0))
	rs.assignSingletons()
	for _, pair := range [][2]int{{-1, 0}, {0, 4}, {2, 2}, {7, 1}} {
		if rs.merge(pair[0], pair[1]) {
			t.Fatalf("merge(%d,%d) should be refused", pair[0], pair[1])
		}
	}
	if buf.Len() == 0 {
		t.Fatalf("expected refusal to be logged")
	}
	if len(rs.sets) != 4 {
		t.Fatalf("sets=%d", len(rs.sets))
	}
	if !rs.merge(1, 3) {
		t.Fatalf("valid merge refused")
	}
	if len(rs.sets) != 3 || rs.owner[3] != rs.owner[1] {
		t.Fatalf("merge result sets=%d owner=%v", len(rs.sets), rs.owner)
	}
	if err := rs.validate(true); err != nil {
		t.Fatalf("validate: %v", err)
	}
	rs.sets[0].cols = append(rs.sets[0].cols, 1)
	if err := rs.validate(true); err == nil {
		t.Fatalf("duplicate column not detected")
	}
}

func TestEllerProgressEvents(t *testing.T) {
	var events []maze.Event
	build(t, NewEller(Options{Seed: 3, RowsPerStep: 2}), 5, 1, 1, maze.SinkFunc(func(e maze.Event) {
		events = append(events, e)
	}))
	var gen []maze.Event
	for _, e := range events {
		switch e.Kind {
		case maze.EventGenerationBegin, maze.EventGenerationProgress, maze.EventGenerationFinish:
			gen = append(gen, e)
		}
	}
	if gen[0].Kind != maze.EventGenerationBegin || gen[len(gen)-1].Kind != maze.EventGenerationFinish {
		t.Fatalf("bracket: %v .. %v", gen[0].Kind, gen[len(gen)-1].Kind)
	}
	// 5 rows in batches of 2: 0, 0.4, 0.8, 1
	want := []float32{0, 0.4, 0.8, 1}
	prog := gen[1 : len(gen)-1]
	if len(prog) != len(want) {
		t.Fatalf("progress events=%d want %d", len(prog), len(want))
	}
	for i, e := range prog {
		if e.Fraction != want[i] {
			t.Fatalf("progress[%d]=%v want %v", i, e.Fraction, want[i])
		}
	}
}

func TestBacktrackerPerfect(t *testing.T) {
	for seed := int64(0); seed < 5; seed++ {
		var last float32 = -1
		m := build(t, NewBacktracker(Options{Seed: seed, RowsPerStep: 1}), 3, 2, 3, maze.SinkFunc(func(e maze.Event) {
			if e.Kind != maze.EventGenerationProgress {
				return
			}
			if e.Fraction <= last {
				t.Fatalf("progress not increasing: %v after %v", e.Fraction, last)
			}
			last = e.Fraction
		}))
		checkPerfect(t, m)
		if last != 1 {
			t.Fatalf("final progress=%v", last)
		}
	}
}

func TestRegenerateOverCarvedMaze(t *testing.T) {
	m := build(t, NewEller(Options{Seed: 3, RowsPerStep: 2}), 3, 2, 2, nil)
	for seed := int64(10); seed < 14; seed++ {
		sched.Run(m.Generate(NewBacktracker(Options{Seed: seed, RowsPerStep: 1}), maze.P(2, 2)))
		checkPerfect(t, m)
		sched.Run(m.Generate(NewEller(Options{Seed: seed, RowsPerStep: 1}), maze.P(0, 0)))
		checkPerfect(t, m)
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"ellers", " Backtracker "} {
		alg, err := ByName(name, Options{})
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if alg.Name() == "" {
			t.Fatalf("empty name")
		}
	}
	if _, err := ByName("prim", Options{}); err == nil {
		t.Fatalf("expected unknown algorithm error")
	}
	if got := Names(); len(got) != 2 || got[0] != "backtracker" {
		t.Fatalf("Names=%v", got)
	}
}
