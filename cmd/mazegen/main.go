package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"minotaur.dev/internal/config"
	"minotaur.dev/internal/lifecycle"
	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/maze/gen"
	"minotaur.dev/internal/persistence/snapshot"
	"minotaur.dev/internal/render/term"
	"minotaur.dev/internal/sched"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to maze.yaml (empty for built-in defaults)")
		algorithm  = flag.String("algorithm", "", "override algorithm ("+strings.Join(gen.Names(), ", ")+")")
		seed       = flag.Int64("seed", 0, "override seed")
		chunks     = flag.String("chunks", "", "override grid as <chunks_x>x<chunks_y>")
		chunkSize  = flag.Int("chunk_size", 0, "override chunk size")
		ascii      = flag.Bool("ascii", true, "print the maze as ASCII")
		solve      = flag.Bool("solve", true, "mark the path from the top-left to the bottom-right node")
		dump       = flag.String("dump", "", "print the textual dump of chunk <cx>,<cy>")
		out        = flag.String("out", "", "write a snapshot to this path")
		verbose    = flag.Bool("v", false, "log every lifecycle event")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[mazegen] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *algorithm != "" {
		cfg.Algorithm = *algorithm
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *chunkSize > 0 {
		cfg.ChunkSize = *chunkSize
	}
	if *chunks != "" {
		x, y, err := parsePair(*chunks, "x")
		if err != nil {
			logger.Fatalf("-chunks: %v", err)
		}
		cfg.ChunksX, cfg.ChunksY = x, y
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	alg, err := gen.ByName(cfg.Algorithm, gen.Options{Seed: cfg.Seed, RowsPerStep: cfg.RowsPerStep, Logger: logger})
	if err != nil {
		logger.Fatalf("algorithm: %v", err)
	}
	m, err := maze.New(cfg.MazeConfig(), lifecycle.LogSink{Logger: logger, Verbose: *verbose}, logger)
	if err != nil {
		logger.Fatalf("maze: %v", err)
	}

	start := time.Now()
	steps := sched.Run(m.Generate(alg, cfg.Layout().StartPos()))
	logger.Printf("generated %dx%d nodes with %s in %d steps (%s)", m.SizeX(), m.SizeY(), alg.Name(), steps, time.Since(start).Round(time.Microsecond))

	if n := m.Reachable(maze.P(0, 0)); n != m.SizeX()*m.SizeY() {
		logger.Printf("warning: only %d of %d nodes reachable", n, m.SizeX()*m.SizeY())
	}

	if *ascii {
		var path []maze.Pos
		if *solve {
			path = m.Path(maze.P(0, 0), maze.P(m.SizeX()-1, m.SizeY()-1))
		}
		fmt.Print(term.ASCII(m, path))
	}

	if *dump != "" {
		cx, cy, err := parsePair(*dump, ",")
		if err != nil {
			logger.Fatalf("-dump: %v", err)
		}
		c, ok := m.Chunk(cx, cy)
		if !ok {
			logger.Fatalf("-dump: no chunk (%d, %d)", cx, cy)
		}
		fmt.Println(c.Dump())
	}

	if *out != "" {
		snap, err := snapshot.Capture(m, time.Now())
		if err != nil {
			logger.Fatalf("snapshot: %v", err)
		}
		if err := snapshot.WriteSnapshot(*out, snap); err != nil {
			logger.Fatalf("snapshot: %v", err)
		}
		logger.Printf("snapshot written: %s", *out)
	}
}

func parsePair(s, sep string) (int, int, error) {
	a, b, ok := strings.Cut(s, sep)
	if !ok {
		return 0, 0, fmt.Errorf("want <a>%s<b>, got %q", sep, s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
