package gen

import (
	"fmt"
	"log"
	"math/rand"

	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/sched"
)

const (
	JoinRightChance = 0.5
	DownChance      = 0.5
)

// Eller carves a perfect maze row by row. Algorithm rows map to maze Y and
// columns to maze X.
type Eller struct {
	Seed        int64
	RowsPerStep int
	Logger      *log.Logger
}

func NewEller(opts Options) *Eller {
	return &Eller{Seed: opts.Seed, RowsPerStep: opts.RowsPerStep, Logger: opts.Logger}
}

func (e *Eller) Name() string { return "ellers" }

// Generate ignores start: every row is processed top to bottom regardless.
func (e *Eller) Generate(m *maze.Maze, start maze.Pos) sched.Task {
	return e.newRun(m)
}

func (e *Eller) newRun(m *maze.Maze) *ellerRun {
	per := e.RowsPerStep
	if per <= 0 {
		per = 1
	}
	logger := e.Logger
	if logger == nil {
		logger = m.Logger()
	}
	w := m.SizeX()
	return &ellerRun{
		m:      m,
		rng:    rand.New(rand.NewSource(e.Seed)),
		per:    per,
		width:  w,
		height: m.SizeY(),
		rows:   newRowSets(w, logger),
		walls:  make([]uint8, w),
		logger: logger,
	}
}

type ellerRun struct {
	m      *maze.Maze
	rng    *rand.Rand
	per    int
	width  int
	height int
	logger *log.Logger

	rows    *rowSets
	walls   []uint8 // current row
	openTop []bool  // columns carved down into the current row

	started bool
	row     int
}

func (r *ellerRun) Step() bool {
	if !r.started {
		r.started = true
		r.m.Emit(maze.Event{Kind: maze.EventGenerationBegin})
		r.m.Emit(maze.Event{Kind: maze.EventGenerationProgress, Fraction: 0})
		return true
	}
	for i := 0; i < r.per && r.row < r.height; i++ {
		r.carveRow(r.row, r.row == r.height-1)
		r.row++
	}
	r.m.Emit(maze.Event{Kind: maze.EventGenerationProgress, Fraction: float32(r.row) / float32(r.height)})
	if r.row < r.height {
		return true
	}
	r.m.Emit(maze.Event{Kind: maze.EventGenerationFinish})
	return false
}

func (r *ellerRun) carveRow(y int, last bool) {
	rs := r.rows
	for x := range r.walls {
		r.walls[x] = maze.AllWalls
		if r.openTop != nil && r.openTop[x] {
			r.walls[x] &^= maze.WallTop
		}
	}

	rs.assignSingletons()
	if err := rs.validate(true); err != nil {
		r.logger.Printf("ellers row %d: %v", y, err)
	}

	for x := 0; x+1 < r.width; x++ {
		a, b := rs.owner[x], rs.owner[x+1]
		if a == b {
			continue
		}
		if !last && r.rng.Float64() >= JoinRightChance {
			continue
		}
		if rs.merge(rs.indexOf(a), rs.indexOf(b)) {
			r.walls[x] &^= maze.WallRight
			r.walls[x+1] &^= maze.WallLeft
		}
	}

	if last {
		r.copyRow(y)
		return
	}

	down := make([]bool, r.width)
	for _, s := range rs.sets {
		carved := 0
		for _, x := range s.cols {
			if r.rng.Float64() < DownChance {
				down[x] = true
				carved++
			}
		}
		if carved == 0 {
			down[s.cols[r.rng.Intn(len(s.cols))]] = true
		}
	}
	for x, d := range down {
		if d {
			r.walls[x] &^= maze.WallBottom
		}
	}
	rs.carry(down)
	if err := rs.validate(false); err != nil {
		r.logger.Printf("ellers row %d: %v", y, err)
	}
	r.openTop = down
	r.copyRow(y)
}

func (r *ellerRun) copyRow(y int) {
	for x, w := range r.walls {
		n, ok := r.m.Node(x, y)
		if !ok {
			r.logger.Printf("ellers: node %d,%d missing", x, y)
			continue
		}
		n.SetWalls(w)
	}
}

type colSet struct {
	id   int
	cols []int
}

// rowSets is the ordered list of disjoint column sets for the current row.
type rowSets struct {
	width  int
	sets   []*colSet
	owner  []int // column -> set id, -1 when unassigned
	nextID int
	logger *log.Logger
}

func newRowSets(width int, logger *log.Logger) *rowSets {
	owner := make([]int, width)
	for i := range owner {
		owner[i] = -1
	}
	return &rowSets{width: width, owner: owner, logger: logger}
}

func (rs *rowSets) assignSingletons() {
	for x, id := range rs.owner {
		if id >= 0 {
			continue
		}
		s := &colSet{id: rs.nextID, cols: []int{x}}
		rs.nextID++
		rs.sets = append(rs.sets, s)
		rs.owner[x] = s.id
	}
}

func (rs *rowSets) indexOf(id int) int {
	for i, s := range rs.sets {
		if s.id == id {
			return i
		}
	}
	return -1
}

// merge absorbs set b into set a, by list index. Invalid indices are
// logged and refused.
func (rs *rowSets) merge(a, b int) bool {
	if a < 0 || b < 0 || a >= len(rs.sets) || b >= len(rs.sets) || a == b {
		rs.logger.Printf("ellers: refusing merge of sets %d and %d (have %d)", a, b, len(rs.sets))
		return false
	}
	dst, src := rs.sets[a], rs.sets[b]
	dst.cols = append(dst.cols, src.cols...)
	for _, x := range src.cols {
		rs.owner[x] = dst.id
	}
	rs.sets = append(rs.sets[:b], rs.sets[b+1:]...)
	if err := rs.validate(true); err != nil {
		rs.logger.Printf("ellers: after merge: %v", err)
	}
	return true
}

// carry keeps only the columns carved down; the rest become unassigned.
func (rs *rowSets) carry(down []bool) {
	kept := rs.sets[:0]
	for _, s := range rs.sets {
		cols := s.cols[:0]
		for _, x := range s.cols {
			if down[x] {
				cols = append(cols, x)
			} else {
				rs.owner[x] = -1
			}
		}
		s.cols = cols
		if len(cols) > 0 {
			kept = append(kept, s)
		}
	}
	rs.sets = kept
}

// validate checks the sets are disjoint, non-empty and agree with owner.
// With full set, they must also cover every column.
func (rs *rowSets) validate(full bool) error {
	seen := make([]bool, rs.width)
	n := 0
	for _, s := range rs.sets {
		if len(s.cols) == 0 {
			return fmt.Errorf("set %d is empty", s.id)
		}
		for _, x := range s.cols {
			if x < 0 || x >= rs.width {
				return fmt.Errorf("set %d holds column %d outside [0,%d)", s.id, x, rs.width)
			}
			if seen[x] {
				return fmt.Errorf("column %d in more than one set", x)
			}
			if rs.owner[x] != s.id {
				return fmt.Errorf("column %d owner %d, listed in set %d", x, rs.owner[x], s.id)
			}
			seen[x] = true
			n++
		}
	}
	if full && n != rs.width {
		return fmt.Errorf("sets cover %d of %d columns", n, rs.width)
	}
	return nil
}
