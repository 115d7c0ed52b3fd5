package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"minotaur.dev/internal/config"
	"minotaur.dev/internal/host"
	"minotaur.dev/internal/lifecycle"
	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/maze/gen"
	persistlog "minotaur.dev/internal/persistence/log"
	"minotaur.dev/internal/persistence/snapshot"
	"minotaur.dev/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/maze.yaml", "path to maze.yaml (empty for built-in defaults)")
		mazeID     = flag.String("maze", "", "maze id (default: maze_id from config, else maze_1)")
		seed       = flag.Int64("seed", 0, "override the config seed (used only when generating a fresh maze)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (events + snapshot metadata)")
		verbose    = flag.Bool("v", false, "log per-chunk and streaming events")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		snapOnGen  = flag.Bool("snapshot_on_generate", true, "write a snapshot once generation finishes")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[mazed] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if id := strings.TrimSpace(*mazeID); id != "" {
		cfg.MazeID = id
	}
	if cfg.MazeID == "" {
		cfg.MazeID = "maze_1"
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}

	mazeDir := filepath.Join(*dataDir, "mazes", cfg.MazeID)
	_ = os.MkdirAll(mazeDir, 0o755)

	// Optional: read-model index backend (does not affect generation).
	idx, err := openRuntimeIndex(mazeDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfig("maze.yaml", cfg); err != nil {
			logger.Printf("index backend: upsert config: %v", err)
		}
	}

	eventLog := persistlog.NewEventLogger(mazeDir)
	defer eventLog.Close()

	mirror, err := openMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	defer mirror.Close()

	sinks := []maze.EventSink{lifecycle.LogSink{Logger: logger, Verbose: *verbose}, eventLog}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	sink := lifecycle.Multi(sinks...)

	// Create host (fresh or resumed from snapshot).
	var h *host.Host
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(mazeDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.MazeID != cfg.MazeID {
			logger.Fatalf("snapshot maze id mismatch: config=%s snap=%s", cfg.MazeID, snap.Header.MazeID)
		}
		// The snapshot is authoritative for seed and jitter.
		cfg.Seed = snap.Seed
		cfg.DistanceVariability = snap.Variability
		h, err = host.Restore(cfg, snap, sink, logger)
		if err != nil {
			logger.Fatalf("restore: %v", err)
		}
		if idx != nil {
			idx.RegisterMaze(h.Maze().Config(), h.Maze().Algorithm())
		}
		logger.Printf("resumed from snapshot=%s chunks=%d", filepath.Base(snapshotToLoad), h.Maze().ChunkCount())
	} else {
		alg, err := gen.ByName(cfg.Algorithm, gen.Options{Seed: cfg.Seed, RowsPerStep: cfg.RowsPerStep, Logger: logger})
		if err != nil {
			logger.Fatalf("algorithm: %v", err)
		}
		h, err = host.New(cfg, alg, sink, logger)
		if err != nil {
			logger.Fatalf("host: %v", err)
		}
		if idx != nil {
			idx.RegisterMaze(h.Maze().Config(), alg.Name())
		}
		h.Start(h.Layout().StartPos())
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.MazeV1, 2)
	h.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(mazeDir, "snapshots", snapshot.FileName(snap.Header.MazeID, snap.Header.CreatedUnix))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				logger.Printf("snapshot written: %s", path)
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
				mirror.Enqueue(path)
			}
		}
	}()

	go func() {
		if err := h.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("host stopped: %v", err)
		}
	}()

	if *snapOnGen && snapshotToLoad == "" {
		go snapshotWhenGenerated(ctx, h, logger)
	}

	obsSrv := observer.NewServer(h, logger)
	obsSrv.AllowRemote = envBool("MAZE_ALLOW_REMOTE_OBSERVERS", false)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, h.Metrics(), obsSrv.RateLimited(), idx, eventLog)
		if mirror != nil {
			writeMirrorMetrics(rw, mirror.Stats())
		}
	})
	mux.HandleFunc("/v1/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/ws", obsSrv.WSHandler())

	enableAdminHTTP := envBool("MAZE_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("MAZE_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Progress lifecycle.Status `json:"progress"`
				Metrics  host.Metrics     `json:"metrics"`
			}{
				Progress: h.Progress(),
				Metrics:  h.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			created, err := h.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "created_unix": created})
		})
	} else {
		logger.Printf("admin endpoints disabled (MAZE_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("maze %s: listening on %s", cfg.MazeID, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func snapshotWhenGenerated(ctx context.Context, h *host.Host, logger *log.Logger) {
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !h.Progress().Generated {
			continue
		}
		ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := h.RequestSnapshot(ctx2)
		cancel()
		if err != nil {
			logger.Printf("snapshot after generation: %v", err)
		}
		return
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// latestSnapshot picks the newest <id>-<unix>.snap.zst in the maze dir.
func latestSnapshot(mazeDir string) string {
	dir := filepath.Join(mazeDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestUnix int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		i := strings.LastIndexByte(base, '-')
		if i < 0 {
			continue
		}
		unix, err := strconv.ParseInt(base[i+1:], 10, 64)
		if err != nil {
			continue
		}
		if best == "" || unix > bestUnix {
			bestUnix = unix
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func isLoopbackRemote(remoteAddr string) bool {
	addr := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		addr = h
	}
	addr = strings.TrimPrefix(addr, "[")
	addr = strings.TrimSuffix(addr, "]")
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
