package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"minotaur.dev/internal/persistence/objstore"
)

// openMirror builds the optional bucket mirror for snapshot files. It is
// off unless MAZE_MIRROR is set.
func openMirror(dataDir string, logger *log.Logger) (*objstore.Mirror, error) {
	if !envBool("MAZE_MIRROR", false) {
		return nil, nil
	}
	creds := objstore.Credentials{
		Endpoint:        os.Getenv("MAZE_MIRROR_ENDPOINT"),
		Bucket:          os.Getenv("MAZE_MIRROR_BUCKET"),
		Region:          os.Getenv("MAZE_MIRROR_REGION"),
		AccessKeyID:     os.Getenv("MAZE_MIRROR_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("MAZE_MIRROR_SECRET_ACCESS_KEY"),
	}
	b, err := objstore.NewBucket(creds)
	if err != nil {
		return nil, fmt.Errorf("MAZE_MIRROR=true: %w", err)
	}
	return objstore.NewMirror(b, dataDir, objstore.MirrorOptions{
		Prefix:  strings.TrimSpace(os.Getenv("MAZE_MIRROR_PREFIX")),
		Workers: envInt("MAZE_MIRROR_WORKERS", 1),
		Logger:  logger,
	}), nil
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeMirrorMetrics(w io.Writer, s objstore.Stats) {
	fmt.Fprintf(w, "# HELP maze_mirror_queue_depth Snapshot mirror queue depth.\n")
	fmt.Fprintf(w, "# TYPE maze_mirror_queue_depth gauge\n")
	fmt.Fprintf(w, "maze_mirror_queue_depth %d\n", s.QueueDepth)
	fmt.Fprintf(w, "maze_mirror_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(w, "# HELP maze_mirror_total Snapshot mirror counters.\n")
	fmt.Fprintf(w, "# TYPE maze_mirror_total counter\n")
	fmt.Fprintf(w, "maze_mirror_total{kind=%q} %d\n", "enqueued", s.Enqueued)
	fmt.Fprintf(w, "maze_mirror_total{kind=%q} %d\n", "dropped", s.Dropped)
	fmt.Fprintf(w, "maze_mirror_total{kind=%q} %d\n", "uploaded", s.Uploaded)
	fmt.Fprintf(w, "maze_mirror_total{kind=%q} %d\n", "failed", s.Failed)

	fmt.Fprintf(w, "# HELP maze_mirror_last_unix Unix time of the last upload outcome.\n")
	fmt.Fprintf(w, "# TYPE maze_mirror_last_unix gauge\n")
	fmt.Fprintf(w, "maze_mirror_last_unix{outcome=%q} %d\n", "success", s.LastSuccessUnix)
	fmt.Fprintf(w, "maze_mirror_last_unix{outcome=%q} %d\n", "error", s.LastErrorUnix)
}
