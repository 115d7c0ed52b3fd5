package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"minotaur.dev/internal/maze"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventEntry is one line of the lifecycle event log.
type EventEntry struct {
	TS       string    `json:"ts"`
	Kind     string    `json:"kind"`
	MazeID   string    `json:"maze_id"`
	Chunk    *maze.Pos `json:"chunk,omitempty"`
	Fraction float32   `json:"fraction,omitempty"`
}

// EventLogger persists lifecycle events off the caller's goroutine.
// WriteEvent never blocks; when the queue is full the event is dropped
// and counted.
type EventLogger struct {
	w   *JSONLZstdWriter
	now func() time.Time

	ch     chan EventEntry
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	dropped atomic.Uint64
	errs    atomic.Uint64
	lastErr atomic.Value // string
}

func NewEventLogger(mazeDir string) *EventLogger {
	l := &EventLogger{
		w:    NewJSONLZstdWriter(filepath.Join(mazeDir, "events"), "events"),
		now:  time.Now,
		ch:   make(chan EventEntry, 4096),
		done: make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *EventLogger) WriteEvent(e maze.Event) {
	if l.closed.Load() {
		return
	}
	entry := EventEntry{
		TS:       l.now().UTC().Format(time.RFC3339Nano),
		Kind:     string(e.Kind),
		MazeID:   e.MazeID,
		Chunk:    e.Chunk,
		Fraction: e.Fraction,
	}
	select {
	case l.ch <- entry:
	default:
		l.dropped.Add(1)
	}
}

func (l *EventLogger) loop() {
	defer close(l.done)
	for e := range l.ch {
		if err := l.w.Write(e); err != nil {
			l.errs.Add(1)
			l.lastErr.Store(err.Error())
		}
	}
}

func (l *EventLogger) Dropped() uint64 { return l.dropped.Load() }
func (l *EventLogger) Errors() uint64  { return l.errs.Load() }

func (l *EventLogger) LastError() string {
	s, _ := l.lastErr.Load().(string)
	return s
}

// Close drains queued events and closes the current file.
func (l *EventLogger) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		<-l.done
		err = l.w.Close()
	})
	return err
}

// ReadEvents decodes a closed event log file.
func ReadEvents(path string) ([]EventEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []EventEntry
	jd := json.NewDecoder(dec)
	for {
		var e EventEntry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, e)
	}
}
