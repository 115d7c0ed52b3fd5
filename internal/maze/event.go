package maze

type EventKind string

const (
	EventGenerationBegin          EventKind = "GENERATION_BEGIN"
	EventGenerationProgress       EventKind = "GENERATION_PROGRESS"
	EventGenerationFinish         EventKind = "GENERATION_FINISH"
	EventChunkPrePopulationBegin  EventKind = "CHUNK_PREPOPULATION_BEGIN"
	EventChunkPrePopulationFinish EventKind = "CHUNK_PREPOPULATION_FINISH"
	EventChunkGenerationBegin     EventKind = "CHUNK_GENERATION_BEGIN"
	EventChunkGenerationFinish    EventKind = "CHUNK_GENERATION_FINISH"
	EventChunkLoad                EventKind = "CHUNK_LOAD"
	EventChunkEvict               EventKind = "CHUNK_EVICT"
)

// Event is a lifecycle notification. Chunk is set for chunk-scoped kinds and
// Fraction for progress.
type Event struct {
	Kind     EventKind `json:"kind"`
	MazeID   string    `json:"maze_id"`
	Chunk    *Pos      `json:"chunk,omitempty"`
	Fraction float32   `json:"fraction,omitempty"`
}

// Cancellable reports whether a listener may ask to cancel the event.
// Nothing acts on such a request; generation always runs to the end.
func (e Event) Cancellable() bool {
	return e.Kind == EventGenerationBegin
}

// EventSink receives lifecycle events synchronously, in emission order.
// Implementations must not block.
type EventSink interface {
	WriteEvent(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) WriteEvent(e Event) { f(e) }

type discard struct{}

func (discard) WriteEvent(Event) {}

// Discard drops every event.
var Discard EventSink = discard{}
