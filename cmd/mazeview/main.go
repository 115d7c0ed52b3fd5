package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/go-gl/mathgl/mgl32"

	"minotaur.dev/internal/config"
	"minotaur.dev/internal/layout"
	"minotaur.dev/internal/lifecycle"
	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/maze/gen"
	"minotaur.dev/internal/persistence/snapshot"
	"minotaur.dev/internal/render/term"
	"minotaur.dev/internal/sched"
	"minotaur.dev/internal/stream"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to maze.yaml (empty for built-in defaults)")
		snapPath   = flag.String("snapshot", "", "view a saved maze instead of generating one")
		logPath    = flag.String("log", "", "write logs to this file (default: discard)")
	)
	flag.Parse()

	logger := log.New(io.Discard, "", 0)
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("open log: %v", err)
		}
		defer f.Close()
		logger = log.New(f, "[mazeview] ", log.LstdFlags|log.Lmicroseconds)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	progress := &lifecycle.Progress{}
	sink := lifecycle.Multi(progress, lifecycle.LogSink{Logger: logger})
	s := sched.New()

	var m *maze.Maze
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			log.Fatalf("read snapshot: %v", err)
		}
		if m, err = snapshot.Restore(snap, sink, logger); err != nil {
			log.Fatalf("restore: %v", err)
		}
		cfg.ChunkSize, cfg.ChunksX, cfg.ChunksY = m.ChunkSize(), m.ChunksX(), m.ChunksY()
		progress.MarkGenerated(m.ID(), m.ChunkCount())
	} else {
		alg, err := gen.ByName(cfg.Algorithm, cfg.GenOptions())
		if err != nil {
			log.Fatalf("algorithm: %v", err)
		}
		if m, err = maze.New(cfg.MazeConfig(), sink, logger); err != nil {
			log.Fatalf("maze: %v", err)
		}
		s.Go("generate", m.Generate(alg, cfg.Layout().StartPos()))
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatalf("screen: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("screen: %v", err)
	}
	defer screen.Fini()

	v := newViewer(m, cfg, s, progress, logger)
	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	ticker := time.NewTicker(cfg.FrameInterval())
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			if !v.handle(ev) {
				return
			}
		case now := <-ticker.C:
			v.frame(now, cfg.FrameBudget())
			w, h := screen.Size()
			v.render.Draw(screen, v.view(w, h, now))
		}
	}
}

// viewer walks an observer through the maze and streams chunks around it.
type viewer struct {
	maze     *maze.Maze
	layout   layout.Layout
	sched    *sched.Scheduler
	progress *lifecycle.Progress
	render   *term.Renderer
	mgr      *stream.Manager

	at       maze.Pos
	showPath bool
}

func newViewer(m *maze.Maze, cfg config.Config, s *sched.Scheduler, p *lifecycle.Progress, logger *log.Logger) *viewer {
	r := term.NewRenderer()
	l := cfg.Layout()
	return &viewer{
		maze:     m,
		layout:   l,
		sched:    s,
		progress: p,
		render:   r,
		mgr:      stream.NewManager(m, l, r, cfg.StreamConfig(), nil, logger),
		at:       l.StartPos(),
	}
}

// Position implements stream.Observer: the centre of the current node.
func (v *viewer) Position() (mgl32.Vec3, bool) {
	if !v.maze.Generated() {
		return mgl32.Vec3{}, false
	}
	half := v.layout.Cell() / 2
	return v.layout.NodeWorldPos(v.maze, v.at, 0).Add(mgl32.Vec3{half, 0, half}), true
}

func (v *viewer) frame(now time.Time, budget time.Duration) {
	if task, ok := v.mgr.Tick(now, []stream.Observer{v}); ok {
		v.sched.Go("stream", task)
	}
	v.sched.Frame(budget)
}

// handle applies a key press and reports whether to keep running.
func (v *viewer) handle(ev tcell.Event) bool {
	key, ok := ev.(*tcell.EventKey)
	if !ok {
		return true
	}
	switch key.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyUp:
		v.step(maze.WallTop, v.at.Up(1))
	case tcell.KeyDown:
		v.step(maze.WallBottom, v.at.Down(1))
	case tcell.KeyLeft:
		v.step(maze.WallLeft, v.at.Left(1))
	case tcell.KeyRight:
		v.step(maze.WallRight, v.at.Right(1))
	case tcell.KeyRune:
		switch key.Rune() {
		case 'q':
			return false
		case 'p':
			v.showPath = !v.showPath
		}
	}
	return true
}

func (v *viewer) step(w uint8, to maze.Pos) {
	if v.maze.Generated() && v.maze.Open(v.at, w) {
		v.at = to
	}
}

func (v *viewer) view(w, h int, now time.Time) term.View {
	st := v.progress.Status()
	ms := v.mgr.Stats()
	sx, sz := v.layout.MazeWorldSize()
	info := []string{
		st.Text,
		fmt.Sprintf("Loaded chunks: %d  Generated chunks: %d  Nodes per chunk: %d", ms.Loaded, st.ChunksGenerated, v.maze.ChunkSize()*v.maze.ChunkSize()),
		fmt.Sprintf("Maze size: %.0f x %.0f  Next check: %.1fs  Position: %s", sx, sz, v.mgr.NextCheckIn(now).Seconds(), v.at),
		"arrows move  p path  q quit",
	}
	out := term.View{
		Origin:      maze.Pos{X: v.at.X - w/4, Y: v.at.Y - (h-len(info))/4},
		Observer:    v.at,
		HasObserver: v.maze.Generated(),
		Info:        info,
	}
	if v.showPath && v.maze.Generated() {
		out.Path = v.maze.Path(v.at, maze.P(v.maze.SizeX()-1, v.maze.SizeY()-1))
	}
	return out
}
