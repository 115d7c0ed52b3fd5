package main

import (
	"fmt"
	"io"

	"minotaur.dev/internal/host"
	persistlog "minotaur.dev/internal/persistence/log"
)

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// writeMetrics emits a minimal Prometheus exposition.
func writeMetrics(w io.Writer, m host.Metrics, rateLimited uint64, idx runtimeIndex, events *persistlog.EventLogger) {
	id := m.MazeID

	fmt.Fprintf(w, "# HELP maze_generated Whether generation has finished (0/1).\n")
	fmt.Fprintf(w, "# TYPE maze_generated gauge\n")
	fmt.Fprintf(w, "maze_generated{maze=%q} %d\n", id, boolGauge(m.Generated))

	fmt.Fprintf(w, "# HELP maze_generation_fraction Generation progress (0..1).\n")
	fmt.Fprintf(w, "# TYPE maze_generation_fraction gauge\n")
	fmt.Fprintf(w, "maze_generation_fraction{maze=%q} %.4f\n", id, m.Fraction)

	fmt.Fprintf(w, "# HELP maze_chunks_generated Chunks created by pre-population.\n")
	fmt.Fprintf(w, "# TYPE maze_chunks_generated gauge\n")
	fmt.Fprintf(w, "maze_chunks_generated{maze=%q} %d\n", id, m.ChunksGenerated)

	fmt.Fprintf(w, "# HELP maze_nodes_per_chunk Nodes in one chunk.\n")
	fmt.Fprintf(w, "# TYPE maze_nodes_per_chunk gauge\n")
	fmt.Fprintf(w, "maze_nodes_per_chunk{maze=%q} %d\n", id, m.NodesPerChunk)

	fmt.Fprintf(w, "# HELP maze_size_nodes Maze size in nodes per axis.\n")
	fmt.Fprintf(w, "# TYPE maze_size_nodes gauge\n")
	fmt.Fprintf(w, "maze_size_nodes{maze=%q,axis=%q} %d\n", id, "x", m.SizeX)
	fmt.Fprintf(w, "maze_size_nodes{maze=%q,axis=%q} %d\n", id, "y", m.SizeY)

	fmt.Fprintf(w, "# HELP maze_observers Connected observer sessions.\n")
	fmt.Fprintf(w, "# TYPE maze_observers gauge\n")
	fmt.Fprintf(w, "maze_observers{maze=%q} %d\n", id, m.Sessions)

	fmt.Fprintf(w, "# HELP maze_loaded_chunks Chunks loaded across observer sessions.\n")
	fmt.Fprintf(w, "# TYPE maze_loaded_chunks gauge\n")
	fmt.Fprintf(w, "maze_loaded_chunks{maze=%q} %d\n", id, m.LoadedChunks)

	fmt.Fprintf(w, "# HELP maze_stream_total Streaming counters.\n")
	fmt.Fprintf(w, "# TYPE maze_stream_total counter\n")
	fmt.Fprintf(w, "maze_stream_total{maze=%q,kind=%q} %d\n", id, "passes", m.Passes)
	fmt.Fprintf(w, "maze_stream_total{maze=%q,kind=%q} %d\n", id, "loads", m.Loads)
	fmt.Fprintf(w, "maze_stream_total{maze=%q,kind=%q} %d\n", id, "evictions", m.Evictions)
	fmt.Fprintf(w, "maze_stream_total{maze=%q,kind=%q} %d\n", id, "position_rate_limited", rateLimited)

	fmt.Fprintf(w, "# HELP maze_stream_next_check_ms Time until the next streaming pass (-1 with no observers).\n")
	fmt.Fprintf(w, "# TYPE maze_stream_next_check_ms gauge\n")
	fmt.Fprintf(w, "maze_stream_next_check_ms{maze=%q} %d\n", id, m.NextCheckMs)

	fmt.Fprintf(w, "# HELP maze_sched_pending Tasks queued on the frame scheduler.\n")
	fmt.Fprintf(w, "# TYPE maze_sched_pending gauge\n")
	fmt.Fprintf(w, "maze_sched_pending{maze=%q} %d\n", id, m.SchedPending)

	fmt.Fprintf(w, "# HELP maze_sched_total Scheduler counters.\n")
	fmt.Fprintf(w, "# TYPE maze_sched_total counter\n")
	fmt.Fprintf(w, "maze_sched_total{maze=%q,kind=%q} %d\n", id, "steps", m.SchedSteps)
	fmt.Fprintf(w, "maze_sched_total{maze=%q,kind=%q} %d\n", id, "finished", m.SchedFinished)
	fmt.Fprintf(w, "maze_sched_total{maze=%q,kind=%q} %d\n", id, "frames", m.Frames)

	if events != nil {
		fmt.Fprintf(w, "# HELP maze_eventlog_total Event log counters.\n")
		fmt.Fprintf(w, "# TYPE maze_eventlog_total counter\n")
		fmt.Fprintf(w, "maze_eventlog_total{kind=%q} %d\n", "dropped", events.Dropped())
		fmt.Fprintf(w, "maze_eventlog_total{kind=%q} %d\n", "errors", events.Errors())
	}

	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(w, "# HELP maze_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(w, "# TYPE maze_index_queue_depth gauge\n")
	fmt.Fprintf(w, "maze_index_queue_depth %d\n", s.QueueDepth)
	fmt.Fprintf(w, "maze_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(w, "# HELP maze_index_drop_total Index writes dropped under backpressure.\n")
	fmt.Fprintf(w, "# TYPE maze_index_drop_total counter\n")
	fmt.Fprintf(w, "maze_index_drop_total{kind=%q} %d\n", "maze", s.DropMazeTotal)
	fmt.Fprintf(w, "maze_index_drop_total{kind=%q} %d\n", "event", s.DropEventTotal)
	fmt.Fprintf(w, "maze_index_drop_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
}
