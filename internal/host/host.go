package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"minotaur.dev/internal/config"
	"minotaur.dev/internal/layout"
	"minotaur.dev/internal/lifecycle"
	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/observerproto"
	"minotaur.dev/internal/persistence/snapshot"
	"minotaur.dev/internal/sched"
	"minotaur.dev/internal/stream"
)

const generateTask = "generate"

type snapshotReq struct {
	Resp chan snapshotResp
}

type snapshotResp struct {
	CreatedUnix int64
	Err         string
}

// Host owns one maze and everything that touches it: the scheduler that
// time-slices generation and streaming, and the observer sessions. All of
// that state belongs to the Run goroutine; other goroutines talk to it
// through the request channels.
type Host struct {
	cfg      config.Config
	layout   layout.Layout
	alg      maze.Algorithm
	algName  string
	maze     *maze.Maze
	sched    *sched.Scheduler
	progress *lifecycle.Progress
	sink     maze.EventSink
	logger   *log.Logger

	sessions map[string]*session

	join     chan ObserverJoinRequest
	move     chan ObserverMoveRequest
	leave    chan string
	snapshot chan snapshotReq
	stop     chan struct{}
	stopOnce sync.Once

	snapshotSink chan<- snapshot.MazeV1

	frames  uint64
	metrics metricsBox
}

// New builds a host for a fresh maze. Generation starts with Start.
func New(cfg config.Config, alg maze.Algorithm, sink maze.EventSink, logger *log.Logger) (*Host, error) {
	if alg == nil {
		return nil, errors.New("host: nil algorithm")
	}
	h := newHost(cfg, sink, logger)
	h.alg = alg
	h.algName = alg.Name()
	m, err := maze.New(cfg.MazeConfig(), h.sink, h.logger)
	if err != nil {
		return nil, err
	}
	h.maze = m
	h.publish(time.Time{})
	return h, nil
}

// Restore builds a host around a maze read back from a snapshot. The maze
// is already generated, so observers can stream it right away.
func Restore(cfg config.Config, snap snapshot.MazeV1, sink maze.EventSink, logger *log.Logger) (*Host, error) {
	h := newHost(cfg, sink, logger)
	m, err := snapshot.Restore(snap, h.sink, h.logger)
	if err != nil {
		return nil, err
	}
	if m.ChunkSize() != cfg.ChunkSize || m.ChunksX() != cfg.ChunksX || m.ChunksY() != cfg.ChunksY {
		return nil, fmt.Errorf("snapshot grid %dx%dx%d does not match config %dx%dx%d",
			m.ChunkSize(), m.ChunksX(), m.ChunksY(), cfg.ChunkSize, cfg.ChunksX, cfg.ChunksY)
	}
	h.maze = m
	h.algName = m.Algorithm()
	h.progress.MarkGenerated(m.ID(), m.ChunkCount())
	h.publish(time.Time{})
	return h, nil
}

func newHost(cfg config.Config, sink maze.EventSink, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.Default()
	}
	h := &Host{
		cfg:      cfg,
		layout:   cfg.Layout(),
		sched:    sched.New(),
		progress: &lifecycle.Progress{},
		logger:   logger,
		sessions: map[string]*session{},
		join:     make(chan ObserverJoinRequest, 64),
		move:     make(chan ObserverMoveRequest, 1024),
		leave:    make(chan string, 64),
		snapshot: make(chan snapshotReq, 8),
		stop:     make(chan struct{}),
	}
	h.sink = lifecycle.Multi(h.progress, sink, maze.SinkFunc(h.broadcastProgress))
	return h
}

func (h *Host) SetSnapshotSink(ch chan<- snapshot.MazeV1) { h.snapshotSink = ch }

func (h *Host) Join() chan<- ObserverJoinRequest { return h.join }
func (h *Host) Move() chan<- ObserverMoveRequest { return h.move }
func (h *Host) Leave() chan<- string             { return h.leave }
func (h *Host) Progress() lifecycle.Status       { return h.progress.Status() }
func (h *Host) Layout() layout.Layout            { return h.layout }
func (h *Host) Config() config.Config            { return h.cfg }

// Maze is only safe to use from the Run goroutine, or before Run starts.
func (h *Host) Maze() *maze.Maze { return h.maze }

// Start queues generation from start. It reports false when the maze is
// already generated or generating.
func (h *Host) Start(start maze.Pos) bool {
	if h.alg == nil || h.maze.Generated() || h.maze.Generating() || h.sched.Running(generateTask) {
		return false
	}
	h.sched.Go(generateTask, h.maze.Generate(h.alg, start))
	return true
}

func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.FrameInterval())
	defer ticker.Stop()
	defer h.closeSessions()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		case req := <-h.join:
			h.handleJoin(req)
		case req := <-h.move:
			h.handleMove(req)
		case id := <-h.leave:
			h.handleLeave(id)
		case req := <-h.snapshot:
			h.handleSnapshot(req, time.Now())
		case now := <-ticker.C:
			h.Frame(now)
		}
	}
}

func (h *Host) Stop() { h.stopOnce.Do(func() { close(h.stop) }) }

// Frame starts a streaming pass for every session that is due, then spends
// one frame budget on queued work.
func (h *Host) Frame(now time.Time) int {
	for _, id := range h.sessionIDs() {
		s := h.sessions[id]
		if s.mgr.Disabled() {
			h.logger.Printf("observer %s dropped: %s", id, s.reason())
			h.dropSession(id)
			continue
		}
		if task, ok := s.mgr.Tick(now, []stream.Observer{s}); ok {
			h.sched.Go("stream:"+id, task)
		}
	}
	n := h.sched.Frame(h.cfg.FrameBudget())
	h.frames++
	h.publish(now)
	return n
}

// RequestSnapshot asks the loop goroutine to capture the maze and hand it
// to the snapshot sink. Safe to call from other goroutines.
func (h *Host) RequestSnapshot(ctx context.Context) (createdUnix int64, err error) {
	resp := make(chan snapshotResp, 1)
	select {
	case h.snapshot <- snapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.CreatedUnix, errors.New(r.Err)
		}
		return r.CreatedUnix, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Host) handleSnapshot(req snapshotReq, now time.Time) {
	resp := snapshotResp{CreatedUnix: now.Unix()}
	if h.snapshotSink == nil {
		resp.Err = "snapshot sink not configured"
	} else if snap, err := snapshot.Capture(h.maze, now); err != nil {
		resp.Err = err.Error()
	} else {
		select {
		case h.snapshotSink <- snap:
		default:
			resp.Err = "snapshot sink backpressure"
		}
	}
	select {
	case req.Resp <- resp:
	default:
		// Caller gave up; don't block the loop.
	}
}

// Bootstrap describes the maze for observers that are about to connect.
// Safe to call from other goroutines.
func (h *Host) Bootstrap() observerproto.BootstrapResponse {
	st := h.progress.Status()
	start := h.layout.StartPos()
	return observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		MazeID:          h.maze.ID(),
		Algorithm:       h.algName,
		Generated:       st.Generated,
		Stage:           st.Stage,
		Fraction:        st.Fraction,
		MazeParams: observerproto.MazeParams{
			ChunkSize:        h.cfg.ChunkSize,
			ChunksX:          h.cfg.ChunksX,
			ChunksY:          h.cfg.ChunksY,
			PathWidth:        h.cfg.PathWidth,
			PathSpread:       h.cfg.PathSpread,
			PathHeight:       h.cfg.PathHeight,
			Seed:             h.cfg.Seed,
			Start:            [2]int{start.X, start.Y},
			UpdateIntervalMs: h.cfg.Stream.UpdateIntervalMs,
			UnloadPadding:    h.cfg.Stream.UnloadPadding,
			ChunkEncoding:    h.cfg.Stream.ChunkEncoding,
		},
	}
}

func (h *Host) sessionIDs() []string {
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
