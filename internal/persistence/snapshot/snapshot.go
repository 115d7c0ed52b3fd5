package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"minotaur.dev/internal/maze"
)

const Version = 1

type Header struct {
	Version     int    `json:"version"`
	MazeID      string `json:"maze_id"`
	CreatedUnix int64  `json:"created_unix"`
}

type MazeV1 struct {
	Header Header `json:"header"`

	Seed        int64   `json:"seed"`
	Algorithm   string  `json:"algorithm"`
	ChunkSize   int     `json:"chunk_size"`
	ChunksX     int     `json:"chunks_x"`
	ChunksY     int     `json:"chunks_y"`
	Variability float32 `json:"distance_variability"`

	// Chunks hold textual chunk dumps in x-major order.
	Chunks []ChunkV1 `json:"chunks"`
}

type ChunkV1 struct {
	CX   int    `json:"cx"`
	CY   int    `json:"cy"`
	Dump string `json:"dump"`
}

// Capture copies a generated maze into a snapshot.
func Capture(m *maze.Maze, now time.Time) (MazeV1, error) {
	if !m.Generated() {
		return MazeV1{}, fmt.Errorf("maze %s: not generated", m.ID())
	}
	cfg := m.Config()
	snap := MazeV1{
		Header:      Header{Version: Version, MazeID: cfg.ID, CreatedUnix: now.Unix()},
		Seed:        cfg.Seed,
		Algorithm:   m.Algorithm(),
		ChunkSize:   cfg.ChunkSize,
		ChunksX:     cfg.ChunksX,
		ChunksY:     cfg.ChunksY,
		Variability: cfg.Variability,
	}
	for x := 0; x < cfg.ChunksX; x++ {
		for y := 0; y < cfg.ChunksY; y++ {
			c, ok := m.Chunk(x, y)
			if !ok {
				return MazeV1{}, fmt.Errorf("maze %s: chunk %d,%d missing", cfg.ID, x, y)
			}
			snap.Chunks = append(snap.Chunks, ChunkV1{CX: x, CY: y, Dump: c.Dump()})
		}
	}
	return snap, nil
}

// Restore rebuilds a generated maze from a snapshot.
func Restore(snap MazeV1, sink maze.EventSink, logger *log.Logger) (*maze.Maze, error) {
	if snap.Header.Version != Version {
		return nil, fmt.Errorf("snapshot version %d unsupported", snap.Header.Version)
	}
	m, err := maze.New(maze.Config{
		ID:          snap.Header.MazeID,
		ChunkSize:   snap.ChunkSize,
		ChunksX:     snap.ChunksX,
		ChunksY:     snap.ChunksY,
		Variability: snap.Variability,
		Seed:        snap.Seed,
	}, sink, logger)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", snap.Header.MazeID, err)
	}
	for _, cv := range snap.Chunks {
		c, err := maze.ParseChunk(cv.Dump, snap.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", snap.Header.MazeID, err)
		}
		if c.Pos() != maze.P(cv.CX, cv.CY) {
			return nil, fmt.Errorf("snapshot %s: chunk %d,%d holds dump for %s", snap.Header.MazeID, cv.CX, cv.CY, c.Pos())
		}
		if err := m.ImportChunk(c); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", snap.Header.MazeID, err)
		}
	}
	if err := m.MarkGenerated(snap.Algorithm); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return m, nil
}

// WriteSnapshot stores snap as zstd(JSON header line + gob body).
func WriteSnapshot(path string, snap MazeV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap MazeV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (MazeV1, error) {
	var snap MazeV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the leading header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// FileName is the conventional snapshot file name for a maze.
func FileName(mazeID string, createdUnix int64) string {
	return fmt.Sprintf("%s-%d.snap.zst", mazeID, createdUnix)
}
