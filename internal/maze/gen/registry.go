package gen

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"minotaur.dev/internal/maze"
)

type Options struct {
	Seed int64
	// RowsPerStep bounds the work of one scheduler step. The backtracker
	// treats it as rows' worth of cells.
	RowsPerStep int
	Logger      *log.Logger
}

var registry = map[string]func(Options) maze.Algorithm{
	"ellers":      func(o Options) maze.Algorithm { return NewEller(o) },
	"backtracker": func(o Options) maze.Algorithm { return NewBacktracker(o) },
}

func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func ByName(name string, opts Options) (maze.Algorithm, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	return f(opts), nil
}
