package gen

import (
	"math/rand"

	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/sched"
)

// Backtracker is a randomized depth-first search carver.
type Backtracker struct {
	Seed        int64
	RowsPerStep int
}

func NewBacktracker(opts Options) *Backtracker {
	return &Backtracker{Seed: opts.Seed, RowsPerStep: opts.RowsPerStep}
}

func (b *Backtracker) Name() string { return "backtracker" }

func (b *Backtracker) Generate(m *maze.Maze, start maze.Pos) sched.Task {
	per := b.RowsPerStep
	if per <= 0 {
		per = 1
	}
	if !m.InBounds(start.X, start.Y) {
		start = maze.Pos{}
	}
	w, h := m.SizeX(), m.SizeY()
	return &backtrackRun{
		m:       m,
		rng:     rand.New(rand.NewSource(b.Seed)),
		budget:  per * w,
		total:   w * h,
		start:   start,
		visited: make(map[maze.Pos]bool, w*h),
	}
}

type backtrackRun struct {
	m      *maze.Maze
	rng    *rand.Rand
	budget int
	total  int
	start  maze.Pos

	started bool
	stack   []maze.Pos
	visited map[maze.Pos]bool
}

func (r *backtrackRun) Step() bool {
	if !r.started {
		r.started = true
		r.m.Emit(maze.Event{Kind: maze.EventGenerationBegin})
		r.m.Emit(maze.Event{Kind: maze.EventGenerationProgress, Fraction: 0})
		r.visit(r.start)
		return true
	}
	before := len(r.visited)
	for i := 0; i < r.budget && len(r.stack) > 0; i++ {
		curr := r.stack[len(r.stack)-1]
		var candidates []maze.Pos
		for _, next := range curr.Neighbors() {
			if r.m.InBounds(next.X, next.Y) && !r.visited[next] {
				candidates = append(candidates, next)
			}
		}
		if len(candidates) == 0 {
			r.stack = r.stack[:len(r.stack)-1]
			continue
		}
		next := candidates[r.rng.Intn(len(candidates))]
		r.visit(next)
		r.m.RemoveWallBetween(curr, next)
	}
	if len(r.stack) > 0 {
		if len(r.visited) > before {
			r.m.Emit(maze.Event{Kind: maze.EventGenerationProgress, Fraction: float32(len(r.visited)) / float32(r.total)})
		}
		return true
	}
	if len(r.visited) > before || before < r.total {
		r.m.Emit(maze.Event{Kind: maze.EventGenerationProgress, Fraction: 1})
	}
	r.m.Emit(maze.Event{Kind: maze.EventGenerationFinish})
	return false
}

// visit closes every wall of p before it joins the tree, so passages left
// by an earlier run on the same maze cannot survive.
func (r *backtrackRun) visit(p maze.Pos) {
	if n, ok := r.m.Node(p.X, p.Y); ok {
		n.SetWalls(maze.AllWalls)
	}
	r.visited[p] = true
	r.stack = append(r.stack, p)
}
