package stream

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"minotaur.dev/internal/layout"
	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/sched"
)

// Handle is whatever the renderer produced for a loaded chunk.
type Handle interface {
	Dispose()
}

// Renderer turns a chunk snapshot into a live handle.
type Renderer interface {
	Render(maze.ChunkSnapshot) (Handle, error)
}

// Observer is a tracked viewpoint. ok is false while it has no position.
type Observer interface {
	Position() (pos mgl32.Vec3, ok bool)
}

// Point is an observer fixed at a world position.
type Point mgl32.Vec3

func (p Point) Position() (mgl32.Vec3, bool) { return mgl32.Vec3(p), true }

type Config struct {
	UpdateInterval time.Duration
	UnloadPadding  float32
}

type loadedChunk struct {
	handle    Handle
	destroyed bool
}

// Manager keeps the set of rendered chunks in line with observer
// positions. It is driven from a single goroutine: Tick hands out one
// pass at a time as a sched.Task.
type Manager struct {
	maze   *maze.Maze
	layout layout.Layout
	render Renderer
	cfg    Config
	sink   maze.EventSink
	logger *log.Logger

	loaded    map[maze.Pos]*loadedChunk
	busy      bool
	lastCheck time.Time
	disabled  bool

	passes    uint64
	loads     uint64
	evictions uint64
}

func NewManager(m *maze.Maze, l layout.Layout, r Renderer, cfg Config, sink maze.EventSink, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	if sink == nil {
		sink = maze.Discard
	}
	mgr := &Manager{
		maze:   m,
		layout: l,
		render: r,
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		loaded: make(map[maze.Pos]*loadedChunk),
	}
	if r == nil {
		mgr.Disable("no chunk renderer")
	}
	return mgr
}

// Disable stops all future passes. Already loaded chunks stay loaded
// until Clear.
func (mgr *Manager) Disable(reason string) {
	if mgr.disabled {
		return
	}
	mgr.disabled = true
	mgr.logger.Printf("chunk streaming disabled: %s", reason)
}

func (mgr *Manager) Disabled() bool { return mgr.disabled }
func (mgr *Manager) Busy() bool     { return mgr.busy }

// RequiredDistance is the radius within which chunk centres stay loaded.
func (mgr *Manager) RequiredDistance() float32 {
	return mgr.layout.ChunkWorldSize()*3/4 + mgr.cfg.UnloadPadding
}

func (mgr *Manager) IsLoaded(p maze.Pos) bool {
	_, ok := mgr.loaded[p]
	return ok
}

// Loaded returns loaded chunk coordinates in x-major order.
func (mgr *Manager) Loaded() []maze.Pos {
	out := make([]maze.Pos, 0, len(mgr.loaded))
	for p := range mgr.loaded {
		out = append(out, p)
	}
	sortPos(out)
	return out
}

type Stats struct {
	Loaded    int    `json:"loaded"`
	Passes    uint64 `json:"passes"`
	Loads     uint64 `json:"loads"`
	Evictions uint64 `json:"evictions"`
	Busy      bool   `json:"busy"`
	Disabled  bool   `json:"disabled"`
}

func (mgr *Manager) Stats() Stats {
	return Stats{
		Loaded:    len(mgr.loaded),
		Passes:    mgr.passes,
		Loads:     mgr.loads,
		Evictions: mgr.evictions,
		Busy:      mgr.busy,
		Disabled:  mgr.disabled,
	}
}

// NextCheckIn is the time left until Tick will start another pass.
func (mgr *Manager) NextCheckIn(now time.Time) time.Duration {
	if mgr.lastCheck.IsZero() {
		return 0
	}
	d := mgr.cfg.UpdateInterval - now.Sub(mgr.lastCheck)
	if d < 0 {
		return 0
	}
	return d
}

// Tick starts a reconciliation pass when the maze is generated, the
// interval has elapsed and no pass is running. Skipped ticks are not
// queued. The caller steps the returned task until it reports done.
func (mgr *Manager) Tick(now time.Time, observers []Observer) (sched.Task, bool) {
	if mgr.disabled || mgr.busy || !mgr.maze.Generated() {
		return nil, false
	}
	if !mgr.lastCheck.IsZero() && now.Sub(mgr.lastCheck) < mgr.cfg.UpdateInterval {
		return nil, false
	}
	mgr.busy = true
	mgr.lastCheck = now
	mgr.passes++

	var positions []mgl32.Vec3
	for _, o := range observers {
		if o == nil {
			continue
		}
		if p, ok := o.Position(); ok {
			positions = append(positions, p)
		}
	}
	r := mgr.RequiredDistance()
	return &pass{mgr: mgr, positions: positions, reqSq: r * r}, true
}

// Clear disposes every loaded chunk.
func (mgr *Manager) Clear() {
	for _, p := range mgr.Loaded() {
		mgr.evict(p)
	}
}

func (mgr *Manager) inRange(p maze.Pos, positions []mgl32.Vec3, reqSq float32) bool {
	c := mgr.layout.ChunkCenter(p)
	for _, o := range positions {
		if layout.DistSq(c, o) < reqSq {
			return true
		}
	}
	return false
}

func (mgr *Manager) evict(p maze.Pos) {
	lc, ok := mgr.loaded[p]
	if !ok {
		return
	}
	delete(mgr.loaded, p)
	if !lc.destroyed {
		lc.destroyed = true
		if lc.handle != nil {
			lc.handle.Dispose()
		}
	}
	mgr.evictions++
	mgr.emit(maze.EventChunkEvict, p)
}

func (mgr *Manager) load(p maze.Pos) error {
	if _, ok := mgr.loaded[p]; ok {
		return nil
	}
	c, ok := mgr.maze.Chunk(p.X, p.Y)
	if !ok {
		return nil
	}
	h, err := mgr.render.Render(c.Snapshot())
	if err != nil {
		return fmt.Errorf("render chunk %s: %w", p, err)
	}
	mgr.loaded[p] = &loadedChunk{handle: h}
	mgr.loads++
	mgr.emit(maze.EventChunkLoad, p)
	return nil
}

func (mgr *Manager) emit(kind maze.EventKind, p maze.Pos) {
	mgr.sink.WriteEvent(maze.Event{Kind: kind, MazeID: mgr.maze.ID(), Chunk: &p})
}

type passStage uint8

const (
	stageScanLoaded passStage = iota
	stageEvict
	stageLoad
	stageDone
)

// pass is one reconciliation: mark loaded chunks no observer needs, evict
// them, then load missing chunks near each observer. Each Step handles one
// chunk.
type pass struct {
	mgr       *Manager
	positions []mgl32.Vec3
	reqSq     float32

	stage  passStage
	scan   []maze.Pos
	i      int
	marked []maze.Pos
	obs    int
	coord  int
}

func (p *pass) Step() bool {
	mgr := p.mgr
	for {
		switch p.stage {
		case stageScanLoaded:
			if p.scan == nil {
				p.scan = mgr.Loaded()
			}
			if p.i < len(p.scan) {
				c := p.scan[p.i]
				p.i++
				if !mgr.inRange(c, p.positions, p.reqSq) {
					p.marked = append(p.marked, c)
				}
				return true
			}
			p.stage, p.i = stageEvict, 0
		case stageEvict:
			if p.i < len(p.marked) {
				mgr.evict(p.marked[p.i])
				p.i++
				return true
			}
			p.stage = stageLoad
		case stageLoad:
			if mgr.disabled || p.obs >= len(p.positions) {
				return p.finish()
			}
			cy := mgr.maze.ChunksY()
			if p.coord >= mgr.maze.ChunksX()*cy {
				p.obs++
				p.coord = 0
				continue
			}
			c := maze.Pos{X: p.coord / cy, Y: p.coord % cy}
			p.coord++
			if !mgr.IsLoaded(c) && mgr.inRange(c, p.positions[p.obs:p.obs+1], p.reqSq) {
				if err := mgr.load(c); err != nil {
					mgr.Disable(err.Error())
					return p.finish()
				}
			}
			return true
		default:
			return false
		}
	}
}

func (p *pass) finish() bool {
	p.stage = stageDone
	p.mgr.busy = false
	return false
}

func sortPos(ps []maze.Pos) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].X != ps[j].X {
			return ps[i].X < ps[j].X
		}
		return ps[i].Y < ps[j].Y
	})
}
