package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"minotaur.dev/internal/persistence/indexdb"
)

const dbUsage = "usage: mazeadmin db [-data ./data] [-maze MAZE|-db PATH] [-limit N] [-kind KIND] mazes|snapshots|events|configs"

type dbQuery struct {
	MazeID string
	Kind   string
	Limit  int
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	mazeID := fs.String("maze", "", "maze id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	kind := fs.String("kind", "", "event kind filter (events)")
	_ = fs.Parse(args)

	q := "mazes"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*mazeID) == "" {
			fmt.Fprintln(os.Stderr, "missing -maze or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "mazes", *mazeID, "index", "maze.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	err = runQuery(context.Background(), db, q, dbQuery{MazeID: *mazeID, Kind: strings.TrimSpace(*kind), Limit: *limit}, os.Stdout)
	if uq, ok := err.(unknownQueryError); ok {
		fmt.Fprintln(os.Stderr, uq.Error())
		fmt.Fprintln(os.Stderr, dbUsage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}

type unknownQueryError string

func (e unknownQueryError) Error() string { return "unknown query: " + string(e) }

// runQuery prints one JSON object per row of the named query.
func runQuery(ctx context.Context, db *sql.DB, q string, opts dbQuery, w io.Writer) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	switch q {
	case "mazes":
		rows, err := indexdb.ListMazes(ctx, db)
		if err != nil {
			return err
		}
		for _, r := range rows {
			writeJSON(w, r)
		}
		return nil

	case "snapshots":
		query := `SELECT maze_id,created_unix,path,seed,chunks FROM snapshots ORDER BY created_unix DESC LIMIT ?`
		args := []any{opts.Limit}
		if opts.MazeID != "" {
			query = `SELECT maze_id,created_unix,path,seed,chunks FROM snapshots WHERE maze_id=? ORDER BY created_unix DESC LIMIT ?`
			args = []any{opts.MazeID, opts.Limit}
		}
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				MazeID      string `json:"maze_id"`
				CreatedUnix int64  `json:"created_unix"`
				Path        string `json:"path"`
				Seed        int64  `json:"seed"`
				Chunks      int    `json:"chunks"`
			}
			if err := rows.Scan(&r.MazeID, &r.CreatedUnix, &r.Path, &r.Seed, &r.Chunks); err != nil {
				return err
			}
			writeJSON(w, r)
		}
		return rows.Err()

	case "events":
		query := `SELECT seq,maze_id,kind,cx,cy,fraction,at FROM events WHERE (?='' OR maze_id=?) AND (?='' OR kind=?) ORDER BY seq DESC LIMIT ?`
		rows, err := db.QueryContext(ctx, query, opts.MazeID, opts.MazeID, opts.Kind, opts.Kind, opts.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq      int64   `json:"seq"`
				MazeID   string  `json:"maze_id"`
				Kind     string  `json:"kind"`
				CX       *int64  `json:"cx,omitempty"`
				CY       *int64  `json:"cy,omitempty"`
				Fraction float64 `json:"fraction"`
				At       string  `json:"at"`
			}
			if err := rows.Scan(&r.Seq, &r.MazeID, &r.Kind, &r.CX, &r.CY, &r.Fraction, &r.At); err != nil {
				return err
			}
			writeJSON(w, r)
		}
		return rows.Err()

	case "configs":
		rows, err := db.QueryContext(ctx, `SELECT name,digest,updated_at FROM configs ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				return err
			}
			writeJSON(w, r)
		}
		return rows.Err()
	}
	return unknownQueryError(q)
}
