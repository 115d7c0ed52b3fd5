package lifecycle

import (
	"log"
	"strconv"
	"sync"

	"minotaur.dev/internal/maze"
)

// Recorder keeps every event in order. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []maze.Event
}

func (r *Recorder) WriteEvent(e maze.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []maze.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]maze.Event(nil), r.events...)
}

// Multi fans each event out to every non-nil sink in order.
func Multi(sinks ...maze.EventSink) maze.EventSink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []maze.EventSink

func (m multi) WriteEvent(e maze.Event) {
	for _, s := range m {
		s.WriteEvent(e)
	}
}

// LogSink writes generation milestones to a logger. Per-chunk and
// streaming events are only logged when Verbose is set.
type LogSink struct {
	Logger  *log.Logger
	Verbose bool
}

func (s LogSink) WriteEvent(e maze.Event) {
	l := s.Logger
	if l == nil {
		l = log.Default()
	}
	switch e.Kind {
	case maze.EventChunkGenerationBegin, maze.EventChunkGenerationFinish, maze.EventChunkLoad, maze.EventChunkEvict:
		if s.Verbose && e.Chunk != nil {
			l.Printf("maze %s: %s %s", e.MazeID, e.Kind, *e.Chunk)
		}
		return
	}
	l.Printf("maze %s: %s", e.MazeID, Describe(e))
}

// Describe is the progress text shown to users for e.
func Describe(e maze.Event) string {
	switch e.Kind {
	case maze.EventChunkPrePopulationBegin:
		return "Pre-populating chunks"
	case maze.EventChunkPrePopulationFinish:
		return "Pre-populated chunks"
	case maze.EventChunkGenerationBegin, maze.EventChunkGenerationFinish:
		if e.Chunk != nil {
			return "Generating chunk " + e.Chunk.String()
		}
		return "Generating chunks"
	case maze.EventGenerationBegin:
		return "Generating maze"
	case maze.EventGenerationProgress:
		return "Generating maze: " + percent(e.Fraction)
	case maze.EventGenerationFinish:
		return "Generated maze"
	case maze.EventChunkLoad:
		return "Loaded chunk"
	case maze.EventChunkEvict:
		return "Unloaded chunk"
	}
	return string(e.Kind)
}

func percent(f float32) string {
	p := int(f*100 + 0.5)
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return strconv.Itoa(p) + "%"
}
