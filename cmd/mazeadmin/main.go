package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"minotaur.dev/internal/maze"
	persistlog "minotaur.dev/internal/persistence/log"
	"minotaur.dev/internal/persistence/snapshot"
	"minotaur.dev/internal/render/term"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("mazeadmin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	mazeID := fs.String("maze", "", "maze id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "mazes")
	if *mazeID != "" {
		base = filepath.Join(base, *mazeID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	mazeID := fs.String("maze", "", "maze id")
	kind := fs.String("kind", "", "only print events of this kind")
	_ = fs.Parse(args)

	if strings.TrimSpace(*mazeID) == "" {
		fmt.Fprintln(os.Stderr, "missing -maze")
		os.Exit(2)
	}
	files, err := eventFiles(filepath.Join(*dataDir, "mazes", *mazeID))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}
	for _, path := range files {
		if err := printEvents(os.Stdout, path, *kind); err != nil {
			fmt.Fprintln(os.Stderr, "read events:", err)
			os.Exit(1)
		}
	}
}

// eventFiles lists a maze's event logs oldest first. The file still being
// written by a running server may end in a truncated frame.
func eventFiles(mazeDir string) ([]string, error) {
	dir := filepath.Join(mazeDir, "events")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

func printEvents(w io.Writer, path, kind string) error {
	events, err := persistlog.ReadEvents(path)
	for _, e := range events {
		if kind != "" && e.Kind != kind {
			continue
		}
		writeJSON(w, e)
	}
	return err
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	mazeID := fs.String("maze", "", "maze id (used to find the latest snapshot)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	headerOnly := fs.Bool("header", false, "only print the snapshot header")
	chunk := fs.String("chunk", "", "print the dump of chunk cx,cy")
	ascii := fs.Bool("ascii", false, "draw the whole maze")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*mazeID) == "" {
			fmt.Fprintln(os.Stderr, "missing -maze or -snapshot")
			os.Exit(2)
		}
		path = latestSnapshot(filepath.Join(*dataDir, "mazes", *mazeID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run mazed until it writes one")
		os.Exit(2)
	}

	if *headerOnly {
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		writeJSON(os.Stdout, h)
		return
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if *chunk != "" {
		dump, err := chunkDump(snap, *chunk)
		if err != nil {
			fmt.Fprintln(os.Stderr, "chunk:", err)
			os.Exit(2)
		}
		fmt.Print(dump)
		return
	}
	writeJSON(os.Stdout, summarize(path, snap))
	if *ascii {
		m, err := snapshot.Restore(snap, nil, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, "restore:", err)
			os.Exit(1)
		}
		fmt.Print(term.ASCII(m, nil))
	}
}

type snapshotSummary struct {
	Path        string   `json:"path"`
	MazeID      string   `json:"maze_id"`
	CreatedUnix int64    `json:"created_unix"`
	Algorithm   string   `json:"algorithm"`
	Seed        int64    `json:"seed"`
	ChunkSize   int      `json:"chunk_size"`
	ChunksX     int      `json:"chunks_x"`
	ChunksY     int      `json:"chunks_y"`
	Variability float32  `json:"distance_variability"`
	Chunks      int      `json:"chunks"`
	Missing     []string `json:"missing,omitempty"`
}

func summarize(path string, snap snapshot.MazeV1) snapshotSummary {
	s := snapshotSummary{
		Path:        path,
		MazeID:      snap.Header.MazeID,
		CreatedUnix: snap.Header.CreatedUnix,
		Algorithm:   snap.Algorithm,
		Seed:        snap.Seed,
		ChunkSize:   snap.ChunkSize,
		ChunksX:     snap.ChunksX,
		ChunksY:     snap.ChunksY,
		Variability: snap.Variability,
		Chunks:      len(snap.Chunks),
	}
	have := make(map[maze.Pos]bool, len(snap.Chunks))
	for _, c := range snap.Chunks {
		have[maze.P(c.CX, c.CY)] = true
	}
	for x := 0; x < snap.ChunksX; x++ {
		for y := 0; y < snap.ChunksY; y++ {
			if p := maze.P(x, y); !have[p] {
				s.Missing = append(s.Missing, p.String())
			}
		}
	}
	return s
}

func chunkDump(snap snapshot.MazeV1, coords string) (string, error) {
	cx, cy, err := parsePair(coords)
	if err != nil {
		return "", err
	}
	for _, c := range snap.Chunks {
		if c.CX == cx && c.CY == cy {
			return c.Dump, nil
		}
	}
	return "", fmt.Errorf("chunk %s not in snapshot", maze.P(cx, cy))
}

func parsePair(s string) (int, int, error) {
	a, b, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("expected cx,cy")
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

// latestSnapshot picks the newest <maze>-<unix>.snap.zst in mazeDir/snapshots.
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

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
