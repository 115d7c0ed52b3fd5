package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"minotaur.dev/internal/layout"
	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/maze/gen"
	"minotaur.dev/internal/stream"
)

const (
	EncodingDump = "DUMP"
	EncodingRLE  = "RLE"
)

type Config struct {
	MazeID    string `yaml:"maze_id"`
	Seed      int64  `yaml:"seed"`
	Algorithm string `yaml:"algorithm"`

	ChunkSize           int     `yaml:"chunk_size"`
	ChunksX             int     `yaml:"chunks_x"`
	ChunksY             int     `yaml:"chunks_y"`
	PathWidth           float32 `yaml:"path_width"`
	PathSpread          float32 `yaml:"path_spread"`
	PathHeight          float32 `yaml:"path_height"`
	DistanceVariability float32 `yaml:"distance_variability"`

	RowsPerStep   int `yaml:"rows_per_step"`
	FrameRateHz   int `yaml:"frame_rate_hz"`
	FrameBudgetMs int `yaml:"frame_budget_ms"`

	Stream StreamSpec `yaml:"stream"`
}

type StreamSpec struct {
	UpdateIntervalMs int     `yaml:"update_interval_ms"`
	UnloadPadding    float32 `yaml:"unload_padding"`
	ChunkEncoding    string  `yaml:"chunk_encoding"`
}

// Load reads a maze.yaml. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("maze.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("maze.yaml: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Algorithm:           "ellers",
		ChunkSize:           16,
		ChunksX:             4,
		ChunksY:             4,
		PathWidth:           15,
		PathSpread:          30,
		PathHeight:          25,
		DistanceVariability: 7.4,
		RowsPerStep:         1,
		FrameRateHz:         30,
		FrameBudgetMs:       4,
		Stream: StreamSpec{
			UpdateIntervalMs: 1000,
			UnloadPadding:    100,
			ChunkEncoding:    EncodingDump,
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.MazeID = strings.TrimSpace(c.MazeID)
	c.Algorithm = strings.ToLower(strings.TrimSpace(c.Algorithm))
	c.Stream.ChunkEncoding = strings.ToUpper(strings.TrimSpace(c.Stream.ChunkEncoding))
	if c.Algorithm == "" {
		c.Algorithm = "ellers"
	}
	if c.Stream.ChunkEncoding == "" {
		c.Stream.ChunkEncoding = EncodingDump
	}
	if c.RowsPerStep == 0 {
		c.RowsPerStep = 1
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0")
	}
	if c.ChunksX <= 0 || c.ChunksY <= 0 {
		return fmt.Errorf("chunks_x and chunks_y must be > 0")
	}
	if c.PathWidth <= 0 {
		return fmt.Errorf("path_width must be > 0")
	}
	if c.PathSpread < 0 {
		return fmt.Errorf("path_spread must be >= 0")
	}
	if c.PathHeight <= 0 {
		return fmt.Errorf("path_height must be > 0")
	}
	if c.DistanceVariability < 0 {
		return fmt.Errorf("distance_variability must be >= 0")
	}
	if c.RowsPerStep < 0 {
		return fmt.Errorf("rows_per_step must be >= 0")
	}
	if c.FrameRateHz <= 0 {
		return fmt.Errorf("frame_rate_hz must be > 0")
	}
	if c.FrameBudgetMs <= 0 || c.FrameBudgetMs > 1000/c.FrameRateHz {
		return fmt.Errorf("frame_budget_ms must be in (0, %d]", 1000/c.FrameRateHz)
	}
	if c.Stream.UpdateIntervalMs < 0 {
		return fmt.Errorf("stream.update_interval_ms must be >= 0")
	}
	if c.Stream.UnloadPadding < 0 {
		return fmt.Errorf("stream.unload_padding must be >= 0")
	}
	switch c.Stream.ChunkEncoding {
	case EncodingDump, EncodingRLE:
	default:
		return fmt.Errorf("unknown stream.chunk_encoding: %q", c.Stream.ChunkEncoding)
	}
	for _, n := range gen.Names() {
		if n == c.Algorithm {
			return nil
		}
	}
	return fmt.Errorf("unknown algorithm: %q (have %s)", c.Algorithm, strings.Join(gen.Names(), ", "))
}

func (c Config) MazeConfig() maze.Config {
	return maze.Config{
		ID:          c.MazeID,
		ChunkSize:   c.ChunkSize,
		ChunksX:     c.ChunksX,
		ChunksY:     c.ChunksY,
		Variability: c.DistanceVariability,
		Seed:        c.Seed,
	}
}

func (c Config) Layout() layout.Layout {
	return layout.Layout{
		ChunkSize:  c.ChunkSize,
		ChunksX:    c.ChunksX,
		ChunksY:    c.ChunksY,
		PathWidth:  c.PathWidth,
		PathSpread: c.PathSpread,
		PathHeight: c.PathHeight,
	}
}

func (c Config) StreamConfig() stream.Config {
	return stream.Config{
		UpdateInterval: time.Duration(c.Stream.UpdateIntervalMs) * time.Millisecond,
		UnloadPadding:  c.Stream.UnloadPadding,
	}
}

func (c Config) GenOptions() gen.Options {
	return gen.Options{Seed: c.Seed, RowsPerStep: c.RowsPerStep}
}

func (c Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FrameRateHz)
}

func (c Config) FrameBudget() time.Duration {
	return time.Duration(c.FrameBudgetMs) * time.Millisecond
}
