package host

import (
	"sync"
	"time"
)

// Metrics is a copy of the loop's counters, refreshed every frame.
type Metrics struct {
	MazeID          string  `json:"maze_id"`
	Algorithm       string  `json:"algorithm"`
	Generated       bool    `json:"generated"`
	Generating      bool    `json:"generating"`
	Stage           string  `json:"stage"`
	Fraction        float32 `json:"fraction"`
	ChunksGenerated int     `json:"chunks_generated"`
	NodesPerChunk   int     `json:"nodes_per_chunk"`
	SizeX           int     `json:"size_x"`
	SizeY           int     `json:"size_y"`

	Sessions     int    `json:"sessions"`
	LoadedChunks int    `json:"loaded_chunks"`
	Passes       uint64 `json:"passes"`
	Loads        uint64 `json:"loads"`
	Evictions    uint64 `json:"evictions"`
	// NextCheckMs is the shortest wait until any session's next pass.
	NextCheckMs int64 `json:"next_check_ms"`

	SchedPending  int    `json:"sched_pending"`
	SchedSteps    uint64 `json:"sched_steps"`
	SchedFinished uint64 `json:"sched_finished"`
	Frames        uint64 `json:"frames"`
}

type metricsBox struct {
	mu sync.RWMutex
	m  Metrics
}

// Metrics is safe to call from other goroutines.
func (h *Host) Metrics() Metrics {
	h.metrics.mu.RLock()
	defer h.metrics.mu.RUnlock()
	return h.metrics.m
}

func (h *Host) publish(now time.Time) {
	st := h.progress.Status()
	steps, finished := h.sched.Stats()
	m := Metrics{
		MazeID:          h.maze.ID(),
		Algorithm:       h.algName,
		Generated:       h.maze.Generated(),
		Generating:      h.maze.Generating(),
		Stage:           st.Stage,
		Fraction:        st.Fraction,
		ChunksGenerated: h.maze.ChunkCount(),
		NodesPerChunk:   h.maze.ChunkSize() * h.maze.ChunkSize(),
		SizeX:           h.maze.SizeX(),
		SizeY:           h.maze.SizeY(),
		Sessions:        len(h.sessions),
		NextCheckMs:     -1,
		SchedPending:    h.sched.Pending(),
		SchedSteps:      steps,
		SchedFinished:   finished,
		Frames:          h.frames,
	}
	for _, s := range h.sessions {
		ms := s.mgr.Stats()
		m.LoadedChunks += ms.Loaded
		m.Passes += ms.Passes
		m.Loads += ms.Loads
		m.Evictions += ms.Evictions
		if now.IsZero() {
			continue
		}
		if d := s.mgr.NextCheckIn(now).Milliseconds(); m.NextCheckMs < 0 || d < m.NextCheckMs {
			m.NextCheckMs = d
		}
	}
	h.metrics.mu.Lock()
	h.metrics.m = m
	h.metrics.mu.Unlock()
}
