package maze

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/google/uuid"

	"minotaur.dev/internal/sched"
)

// Algorithm carves passages into a pre-populated maze. The returned task is
// stepped by the caller's scheduler and owns all generation events.
type Algorithm interface {
	Name() string
	Generate(m *Maze, start Pos) sched.Task
}

type Config struct {
	ID          string
	ChunkSize   int
	ChunksX     int
	ChunksY     int
	Variability float32
	Seed        int64
}

type Maze struct {
	cfg    Config
	chunks map[Pos]*Chunk
	rng    *rand.Rand
	sink   EventSink
	logger *log.Logger

	generating bool
	generated  bool
	algorithm  string
}

func New(cfg Config, sink EventSink, logger *log.Logger) (*Maze, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", cfg.ChunkSize)
	}
	if cfg.ChunksX <= 0 || cfg.ChunksY <= 0 {
		return nil, fmt.Errorf("chunk grid must be > 0, got %dx%d", cfg.ChunksX, cfg.ChunksY)
	}
	if cfg.Variability < 0 {
		return nil, fmt.Errorf("variability must be >= 0, got %v", cfg.Variability)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if sink == nil {
		sink = Discard
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Maze{
		cfg:    cfg,
		chunks: make(map[Pos]*Chunk, cfg.ChunksX*cfg.ChunksY),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		sink:   sink,
		logger: logger,
	}, nil
}

func (m *Maze) ID() string        { return m.cfg.ID }
func (m *Maze) Config() Config    { return m.cfg }
func (m *Maze) ChunkSize() int    { return m.cfg.ChunkSize }
func (m *Maze) ChunksX() int      { return m.cfg.ChunksX }
func (m *Maze) ChunksY() int      { return m.cfg.ChunksY }
func (m *Maze) SizeX() int        { return m.cfg.ChunksX * m.cfg.ChunkSize }
func (m *Maze) SizeY() int        { return m.cfg.ChunksY * m.cfg.ChunkSize }
func (m *Maze) Generated() bool   { return m.generated }
func (m *Maze) Generating() bool  { return m.generating }
func (m *Maze) Algorithm() string { return m.algorithm }
func (m *Maze) ChunkCount() int   { return len(m.chunks) }
func (m *Maze) Logger() *log.Logger {
	return m.logger
}

// Emit forwards e to the maze's sink, stamping the maze id.
func (m *Maze) Emit(e Event) {
	e.MazeID = m.cfg.ID
	m.sink.WriteEvent(e)
}

// InMaze reports whether chunk coordinate (x, y) lies in the chunk grid.
func (m *Maze) InMaze(x, y int) bool {
	return x >= 0 && x < m.cfg.ChunksX && y >= 0 && y < m.cfg.ChunksY
}

// InBounds reports whether global node coordinate (x, y) lies in the maze.
func (m *Maze) InBounds(x, y int) bool {
	return x >= 0 && x < m.SizeX() && y >= 0 && y < m.SizeY()
}

func (m *Maze) Chunk(x, y int) (*Chunk, bool) {
	if !m.InMaze(x, y) {
		return nil, false
	}
	c, ok := m.chunks[Pos{X: x, Y: y}]
	return c, ok
}

// AddChunk creates and initializes the chunk at (x, y). Out-of-range or
// existing coordinates are left alone.
func (m *Maze) AddChunk(x, y int) {
	if !m.InMaze(x, y) {
		return
	}
	p := Pos{X: x, Y: y}
	if _, ok := m.chunks[p]; ok {
		return
	}
	c := newChunk(p, m.cfg.ChunkSize)
	c.initialize(m.rng, m.cfg.Variability)
	m.chunks[p] = c
}

// ImportChunk installs a fully initialized chunk, replacing any existing
// one at the same coordinate.
func (m *Maze) ImportChunk(c *Chunk) error {
	if c == nil || !c.initialized {
		return fmt.Errorf("import: chunk not initialized")
	}
	if !m.InMaze(c.pos.X, c.pos.Y) {
		return fmt.Errorf("import: chunk %s outside %dx%d grid", c.pos, m.cfg.ChunksX, m.cfg.ChunksY)
	}
	if c.size != m.cfg.ChunkSize {
		return fmt.Errorf("import: chunk %s size %d, maze uses %d", c.pos, c.size, m.cfg.ChunkSize)
	}
	m.chunks[c.pos] = c
	return nil
}

// MarkGenerated flags a maze assembled from imported chunks as complete.
// It fails unless every chunk is present.
func (m *Maze) MarkGenerated(algorithm string) error {
	if len(m.chunks) != m.cfg.ChunksX*m.cfg.ChunksY {
		return fmt.Errorf("maze %s: %d of %d chunks present", m.cfg.ID, len(m.chunks), m.cfg.ChunksX*m.cfg.ChunksY)
	}
	m.generated = true
	m.algorithm = algorithm
	return nil
}

// Decompose splits a global node coordinate into chunk and local parts.
func (m *Maze) Decompose(gx, gy int) (chunk, local Pos) {
	s := m.cfg.ChunkSize
	return Pos{X: floorDiv(gx, s), Y: floorDiv(gy, s)}, Pos{X: mod(gx, s), Y: mod(gy, s)}
}

func (m *Maze) Node(gx, gy int) (*Node, bool) {
	cp, lp := m.Decompose(gx, gy)
	c, ok := m.Chunk(cp.X, cp.Y)
	if !ok {
		return nil, false
	}
	return c.Node(lp.X, lp.Y)
}

// RemoveWallBetween opens the shared wall between two orthogonally
// adjacent cells on both sides. Missing cells are skipped.
func (m *Maze) RemoveWallBetween(cur, next Pos) {
	var w uint8
	switch {
	case next.X > cur.X:
		w = WallRight
	case next.X < cur.X:
		w = WallLeft
	case next.Y < cur.Y:
		w = WallTop
	default:
		w = WallBottom
	}
	if n, ok := m.Node(cur.X, cur.Y); ok {
		n.RemoveWall(w)
	}
	if n, ok := m.Node(next.X, next.Y); ok {
		n.RemoveWall(opposite(w))
	}
}

// Open reports whether a cell can be left through side w. Edges of the
// maze count as closed.
func (m *Maze) Open(p Pos, w uint8) bool {
	n, ok := m.Node(p.X, p.Y)
	if !ok || n.HasWall(w) {
		return false
	}
	var q Pos
	switch w {
	case WallTop:
		q = p.Up(1)
	case WallBottom:
		q = p.Down(1)
	case WallLeft:
		q = p.Left(1)
	case WallRight:
		q = p.Right(1)
	default:
		return false
	}
	_, ok = m.Node(q.X, q.Y)
	return ok
}

// Generate returns the full generation task: pre-populate every chunk, one
// per step, then hand over to alg.
func (m *Maze) Generate(alg Algorithm, start Pos) sched.Task {
	return &generateTask{m: m, alg: alg, start: start}
}

type genStage uint8

const (
	genPrePopBegin genStage = iota
	genChunks
	genPrePopFinish
	genAlgorithm
	genDone
)

type generateTask struct {
	m     *Maze
	alg   Algorithm
	start Pos

	stage genStage
	next  int
	inner sched.Task
}

func (t *generateTask) Step() bool {
	m := t.m
	switch t.stage {
	case genPrePopBegin:
		m.generating = true
		m.generated = false
		m.Emit(Event{Kind: EventChunkPrePopulationBegin})
		t.stage = genChunks
		return true
	case genChunks:
		total := m.cfg.ChunksX * m.cfg.ChunksY
		if t.next < total {
			x, y := t.next/m.cfg.ChunksY, t.next%m.cfg.ChunksY
			p := Pos{X: x, Y: y}
			m.Emit(Event{Kind: EventChunkGenerationBegin, Chunk: &p})
			m.AddChunk(x, y)
			c, ok := m.Chunk(x, y)
			if !ok {
				m.logger.Printf("maze %s: chunk %s missing after creation", m.cfg.ID, p)
			} else if !c.initialized {
				c.initialize(m.rng, m.cfg.Variability)
			}
			m.Emit(Event{Kind: EventChunkGenerationFinish, Chunk: &p})
			t.next++
			if t.next < total {
				return true
			}
		}
		t.stage = genPrePopFinish
		return true
	case genPrePopFinish:
		m.Emit(Event{Kind: EventChunkPrePopulationFinish})
		if t.alg == nil {
			m.logger.Printf("maze %s: no generation algorithm", m.cfg.ID)
			m.generating = false
			t.stage = genDone
			return false
		}
		m.logger.Printf("maze %s: generating using %s", m.cfg.ID, t.alg.Name())
		m.algorithm = t.alg.Name()
		t.inner = t.alg.Generate(m, t.start)
		t.stage = genAlgorithm
		return true
	case genAlgorithm:
		if t.inner != nil && t.inner.Step() {
			return true
		}
		m.generating = false
		m.generated = true
		t.stage = genDone
		return false
	}
	return false
}
