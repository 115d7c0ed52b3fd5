package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/persistence/snapshot"
)

// SQLiteIndex is a queryable read model of mazes, their lifecycle events and
// snapshots. Writes are queued to a single writer goroutine and dropped
// when it falls behind; the event log stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropMaze     atomic.Uint64
	dropEvent    atomic.Uint64
	dropSnapshot atomic.Uint64

	now func() time.Time
}

type reqKind int

const (
	reqMaze reqKind = iota + 1
	reqEvent
	reqSnapshot
)

type req struct {
	kind reqKind

	maze     MazeRow
	event    eventRow
	snapshot snapshotRow
}

type MazeRow struct {
	MazeID      string  `json:"maze_id"`
	Algorithm   string  `json:"algorithm"`
	Seed        int64   `json:"seed"`
	ChunkSize   int     `json:"chunk_size"`
	ChunksX     int     `json:"chunks_x"`
	ChunksY     int     `json:"chunks_y"`
	Stage       string  `json:"stage"`
	Fraction    float64 `json:"fraction"`
	Generated   bool    `json:"generated"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	Snapshots   int     `json:"snapshots"`
	LastEventAt string  `json:"last_event_at,omitempty"`
}

type eventRow struct {
	MazeID   string
	Kind     string
	CX, CY   sql.NullInt64
	Fraction float64
	At       string
}

type snapshotRow struct {
	MazeID  string
	Path    string
	Seed    int64
	Chunks  int
	Created int64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		ch:  make(chan req, 65536),
		now: time.Now,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS mazes (
			maze_id TEXT PRIMARY KEY,
			algorithm TEXT NOT NULL,
			seed INTEGER NOT NULL,
			chunk_size INTEGER NOT NULL,
			chunks_x INTEGER NOT NULL,
			chunks_y INTEGER NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			fraction REAL NOT NULL DEFAULT 0,
			generated INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			maze_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			cx INTEGER,
			cy INTEGER,
			fraction REAL NOT NULL DEFAULT 0,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_maze_seq ON events(maze_id, seq);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			maze_id TEXT NOT NULL,
			created_unix INTEGER NOT NULL,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			PRIMARY KEY (maze_id, created_unix)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		if s.ch != nil {
			close(s.ch)
		}
		s.wg.Wait()
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropMazeTotal     uint64 `json:"drop_maze_total"`
	DropEventTotal    uint64 `json:"drop_event_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropMazeTotal:     s.dropMaze.Load(),
		DropEventTotal:    s.dropEvent.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) stamp() string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteIndex) RegisterMaze(cfg maze.Config, algorithm string) {
	if s == nil || s.closed.Load() {
		return
	}
	at := s.stamp()
	r := MazeRow{
		MazeID:    cfg.ID,
		Algorithm: algorithm,
		Seed:      cfg.Seed,
		ChunkSize: cfg.ChunkSize,
		ChunksX:   cfg.ChunksX,
		ChunksY:   cfg.ChunksY,
		CreatedAt: at,
		UpdatedAt: at,
	}
	select {
	case s.ch <- req{kind: reqMaze, maze: r}:
	default:
		s.dropMaze.Add(1)
	}
}

// WriteEvent implements maze.EventSink.
func (s *SQLiteIndex) WriteEvent(e maze.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	r := eventRow{MazeID: e.MazeID, Kind: string(e.Kind), Fraction: float64(e.Fraction), At: s.stamp()}
	if e.Chunk != nil {
		r.CX = sql.NullInt64{Int64: int64(e.Chunk.X), Valid: true}
		r.CY = sql.NullInt64{Int64: int64(e.Chunk.Y), Valid: true}
	}
	select {
	case s.ch <- req{kind: reqEvent, event: r}:
	default:
		s.dropEvent.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.MazeV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		MazeID:  snap.Header.MazeID,
		Path:    path,
		Seed:    snap.Seed,
		Chunks:  len(snap.Chunks),
		Created: snap.Header.CreatedUnix,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertConfig stores the applied configuration under name, keyed by the
// digest of its canonical JSON.
func (s *SQLiteIndex) UpsertConfig(name string, v any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`, name, digest, string(b), s.stamp()); err != nil {
		return err
	}
	return tx.Commit()
}

// ListMazes reads the current maze rows, newest first.
func (s *SQLiteIndex) ListMazes(ctx context.Context) ([]MazeRow, error) {
	return ListMazes(ctx, s.db)
}

func ListMazes(ctx context.Context, db *sql.DB) ([]MazeRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT m.maze_id, m.algorithm, m.seed, m.chunk_size, m.chunks_x, m.chunks_y,
		       m.stage, m.fraction, m.generated, m.created_at, m.updated_at,
		       (SELECT COUNT(*) FROM snapshots s WHERE s.maze_id = m.maze_id),
		       COALESCE((SELECT MAX(at) FROM events e WHERE e.maze_id = m.maze_id), '')
		FROM mazes m
		ORDER BY m.created_at DESC, m.maze_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MazeRow
	for rows.Next() {
		var r MazeRow
		var gen int
		if err := rows.Scan(&r.MazeID, &r.Algorithm, &r.Seed, &r.ChunkSize, &r.ChunksX, &r.ChunksY,
			&r.Stage, &r.Fraction, &gen, &r.CreatedAt, &r.UpdatedAt, &r.Snapshots, &r.LastEventAt); err != nil {
			return nil, err
		}
		r.Generated = gen != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertMaze, _ := s.db.Prepare(`INSERT INTO mazes(maze_id,algorithm,seed,chunk_size,chunks_x,chunks_y,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(maze_id) DO UPDATE SET algorithm=excluded.algorithm, seed=excluded.seed, chunk_size=excluded.chunk_size,
		chunks_x=excluded.chunks_x, chunks_y=excluded.chunks_y, updated_at=excluded.updated_at`)
	insertEvent, _ := s.db.Prepare(`INSERT INTO events(maze_id,kind,cx,cy,fraction,at) VALUES(?,?,?,?,?,?)`)
	updateStage, _ := s.db.Prepare(`UPDATE mazes SET stage=?, fraction=MAX(fraction, ?), generated=MAX(generated, ?), updated_at=? WHERE maze_id=?`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(maze_id,created_unix,path,seed,chunks) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertMaze, insertEvent, updateStage, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		// Commit when idle so readers on the shared connection are not held up.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqMaze:
			m := r.maze
			if insertMaze != nil {
				if _, err := tx.Stmt(insertMaze).Exec(m.MazeID, m.Algorithm, m.Seed, m.ChunkSize, m.ChunksX, m.ChunksY, m.CreatedAt, m.UpdatedAt); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqEvent:
			e := r.event
			if insertEvent != nil {
				if _, err := tx.Stmt(insertEvent).Exec(e.MazeID, e.Kind, e.CX, e.CY, e.Fraction, e.At); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			if stage, frac, gen, ok := stageUpdate(e); ok && updateStage != nil {
				if _, err := tx.Stmt(updateStage).Exec(stage, frac, gen, e.At, e.MazeID); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(sn.MazeID, sn.Created, sn.Path, sn.Seed, sn.Chunks); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}

// stageUpdate maps generation events onto the mazes row. Streaming events
// leave the row alone.
func stageUpdate(e eventRow) (stage string, fraction float64, generated int, ok bool) {
	switch maze.EventKind(e.Kind) {
	case maze.EventChunkLoad, maze.EventChunkEvict:
		return "", 0, 0, false
	case maze.EventGenerationFinish:
		return e.Kind, 1, 1, true
	}
	return e.Kind, e.Fraction, 0, true
}
