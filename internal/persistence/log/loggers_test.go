package log

import (
	"path/filepath"
	"testing"
	"time"

	"minotaur.dev/internal/maze"
)

func TestJSONLZstdWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "events")
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	if err := w.Write(map[string]int{"a": 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"a": 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "events-*.jsonl.zst"))
	if len(files) != 2 {
		t.Fatalf("files=%v", files)
	}
	if filepath.Base(files[0]) != "events-2026-03-01-10.jsonl.zst" {
		t.Fatalf("first file=%s", files[0])
	}
}

func TestEventLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)
	p := maze.P(2, 3)
	l.WriteEvent(maze.Event{Kind: maze.EventGenerationBegin, MazeID: "m"})
	l.WriteEvent(maze.Event{Kind: maze.EventChunkGenerationFinish, MazeID: "m", Chunk: &p})
	l.WriteEvent(maze.Event{Kind: maze.EventGenerationProgress, MazeID: "m", Fraction: 0.25})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	l.WriteEvent(maze.Event{Kind: maze.EventGenerationFinish, MazeID: "m"})

	files, _ := filepath.Glob(filepath.Join(dir, "events", "events-*.jsonl.zst"))
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	got, err := ReadEvents(files[0])
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries=%d", len(got))
	}
	if got[1].Chunk == nil || *got[1].Chunk != p || got[2].Fraction != 0.25 {
		t.Fatalf("entries=%+v", got)
	}
	if l.Dropped() != 0 || l.Errors() != 0 {
		t.Fatalf("dropped=%d errors=%d last=%q", l.Dropped(), l.Errors(), l.LastError())
	}
}
