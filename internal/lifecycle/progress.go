package lifecycle

import (
	"sync"

	"minotaur.dev/internal/maze"
)

// Status is a point-in-time view of a maze's generation.
type Status struct {
	MazeID          string  `json:"maze_id"`
	Stage           string  `json:"stage"`
	Text            string  `json:"text"`
	Fraction        float32 `json:"fraction"`
	ChunksGenerated int     `json:"chunks_generated"`
	Generated       bool    `json:"generated"`
}

// Progress folds events into the latest Status. Readers on other
// goroutines (HTTP handlers, metrics) call Status.
type Progress struct {
	mu sync.RWMutex
	st Status
}

func (p *Progress) WriteEvent(e maze.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.Kind {
	case maze.EventChunkLoad, maze.EventChunkEvict:
		return
	case maze.EventChunkPrePopulationBegin:
		p.st = Status{}
	case maze.EventChunkGenerationFinish:
		p.st.ChunksGenerated++
	case maze.EventGenerationBegin:
		p.st.Fraction = 0
	case maze.EventGenerationProgress:
		if e.Fraction > p.st.Fraction {
			p.st.Fraction = e.Fraction
		}
	case maze.EventGenerationFinish:
		p.st.Fraction = 1
		p.st.Generated = true
	}
	p.st.MazeID = e.MazeID
	p.st.Stage = string(e.Kind)
	p.st.Text = Describe(e)
}

// MarkGenerated records a maze that was restored rather than generated.
func (p *Progress) MarkGenerated(mazeID string, chunks int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st = Status{
		MazeID:          mazeID,
		Stage:           string(maze.EventGenerationFinish),
		Text:            "Loaded maze",
		Fraction:        1,
		ChunksGenerated: chunks,
		Generated:       true,
	}
}

func (p *Progress) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.st
}
