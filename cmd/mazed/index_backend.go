package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/persistence/indexdb"
	"minotaur.dev/internal/persistence/snapshot"
)

type runtimeIndex interface {
	maze.EventSink
	Close() error
	UpsertConfig(name string, v any) error
	RegisterMaze(cfg maze.Config, algorithm string)
	RecordSnapshot(path string, snap snapshot.MazeV1)
	Stats() indexdb.Stats
}

func openRuntimeIndex(mazeDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("MAZE_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(mazeDir, "index", "maze.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported MAZE_INDEX_BACKEND: %s", backend)
	}
}
