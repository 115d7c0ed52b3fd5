package maze

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// Chunk is a fixed-size square block of nodes, stored row-major.
type Chunk struct {
	pos   Pos
	size  int
	nodes []*Node

	initialized bool
}

func newChunk(pos Pos, size int) *Chunk {
	return &Chunk{pos: pos, size: size, nodes: make([]*Node, size*size)}
}

func (c *Chunk) Pos() Pos          { return c.pos }
func (c *Chunk) Size() int         { return c.size }
func (c *Chunk) Initialized() bool { return c.initialized }

func (c *Chunk) InChunk(x, y int) bool {
	return x >= 0 && x < c.size && y >= 0 && y < c.size
}

func (c *Chunk) index(x, y int) int {
	// x fastest, then y
	return c.size*y + x
}

func (c *Chunk) Node(x, y int) (*Node, bool) {
	if !c.InChunk(x, y) {
		return nil, false
	}
	n := c.nodes[c.index(x, y)]
	return n, n != nil
}

func (c *Chunk) GlobalPos(x, y int) Pos {
	return Pos{X: c.size*c.pos.X + x, Y: c.size*c.pos.Y + y}
}

// initialize allocates every node with all walls set. Jitter is drawn as an
// integer in [-100v, 100v] and scaled by 1/100 so dumps stay short.
func (c *Chunk) initialize(rng *rand.Rand, variability float32) {
	if c.initialized {
		return
	}
	lim := int(100 * variability)
	jitter := func() float32 {
		if lim <= 0 {
			return 0
		}
		return float32(rng.Intn(2*lim+1)-lim) / 100
	}
	for x := 0; x < c.size; x++ {
		for y := 0; y < c.size; y++ {
			off := mgl32.Vec3{jitter(), 0, jitter()}
			c.nodes[c.index(x, y)] = &Node{
				LocalPos:  Pos{X: x, Y: y},
				GlobalPos: c.GlobalPos(x, y),
				Offset:    off,
				walls:     AllWalls,
			}
		}
	}
	c.initialized = true
}

// NodeSnapshot is a detached copy of a node.
type NodeSnapshot struct {
	Local  Pos
	Global Pos
	Offset mgl32.Vec3
	Walls  uint8
}

// ChunkSnapshot is what the render side receives on load; it shares no
// memory with the maze.
type ChunkSnapshot struct {
	Pos         Pos
	Size        int
	Initialized bool
	Nodes       []NodeSnapshot
}

func (s ChunkSnapshot) Node(x, y int) NodeSnapshot {
	return s.Nodes[s.Size*y+x]
}

func (c *Chunk) Snapshot() ChunkSnapshot {
	out := ChunkSnapshot{Pos: c.pos, Size: c.size, Initialized: c.initialized, Nodes: make([]NodeSnapshot, len(c.nodes))}
	for i, n := range c.nodes {
		if n == nil {
			continue
		}
		out.Nodes[i] = NodeSnapshot{Local: n.LocalPos, Global: n.GlobalPos, Offset: n.Offset, Walls: n.walls}
	}
	return out
}

// WallMasks returns the wall bitmask of every node in row-major order.
func (c *Chunk) WallMasks() []byte {
	out := make([]byte, len(c.nodes))
	for i, n := range c.nodes {
		if n != nil {
			out[i] = n.walls
		}
	}
	return out
}

// WallMasks returns the wall bitmask of every node in row-major order.
func (s ChunkSnapshot) WallMasks() []byte {
	out := make([]byte, len(s.Nodes))
	for i, n := range s.Nodes {
		out[i] = n.Walls
	}
	return out
}

// Dump renders the chunk in the textual debug format:
//
//	<cx>x<cy>x<lx>y<ly>y<offX>,<offZ>y<walls>^...
//
// with the trailing separator trimmed.
func (c *Chunk) Dump() string { return c.Snapshot().Dump() }

func (s ChunkSnapshot) Dump() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(s.Pos.X))
	b.WriteByte('x')
	b.WriteString(strconv.Itoa(s.Pos.Y))
	b.WriteByte('x')
	if !s.Initialized {
		return b.String()
	}
	for i, n := range s.Nodes {
		if i > 0 {
			b.WriteByte('^')
		}
		b.WriteString(strconv.Itoa(n.Local.X))
		b.WriteByte('y')
		b.WriteString(strconv.Itoa(n.Local.Y))
		b.WriteByte('y')
		b.WriteString(formatFloat(n.Offset.X()))
		b.WriteByte(',')
		b.WriteString(formatFloat(n.Offset.Z()))
		b.WriteByte('y')
		b.WriteString(strconv.Itoa(int(n.Walls)))
	}
	return b.String()
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}

// ParseChunk reads a chunk back from its Dump form. Every node of a
// size x size chunk must be present exactly once.
func ParseChunk(s string, size int) (*Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("bad chunk size %d", size)
	}
	parts := strings.SplitN(s, "x", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("chunk dump: missing header")
	}
	cx, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("chunk dump: x: %w", err)
	}
	cy, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("chunk dump: y: %w", err)
	}
	c := newChunk(Pos{X: cx, Y: cy}, size)
	if parts[2] == "" {
		return nil, fmt.Errorf("chunk dump %d,%d: no nodes", cx, cy)
	}
	for i, rec := range strings.Split(parts[2], "^") {
		f := strings.Split(rec, "y")
		if len(f) != 4 {
			return nil, fmt.Errorf("chunk dump %d,%d: node %d: want 4 fields, got %d", cx, cy, i, len(f))
		}
		lx, err1 := strconv.Atoi(f[0])
		ly, err2 := strconv.Atoi(f[1])
		walls, err3 := strconv.ParseUint(f[3], 10, 8)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("chunk dump %d,%d: node %d: bad integer field", cx, cy, i)
		}
		offX, offZ, ok := strings.Cut(f[2], ",")
		if !ok {
			return nil, fmt.Errorf("chunk dump %d,%d: node %d: bad offset %q", cx, cy, i, f[2])
		}
		ox, err1 := strconv.ParseFloat(offX, 32)
		oz, err2 := strconv.ParseFloat(offZ, 32)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("chunk dump %d,%d: node %d: bad offset %q", cx, cy, i, f[2])
		}
		if !c.InChunk(lx, ly) {
			return nil, fmt.Errorf("chunk dump %d,%d: node %d out of chunk: %d,%d", cx, cy, i, lx, ly)
		}
		idx := c.index(lx, ly)
		if c.nodes[idx] != nil {
			return nil, fmt.Errorf("chunk dump %d,%d: duplicate node %d,%d", cx, cy, lx, ly)
		}
		c.nodes[idx] = &Node{
			LocalPos:  Pos{X: lx, Y: ly},
			GlobalPos: c.GlobalPos(lx, ly),
			Offset:    mgl32.Vec3{float32(ox), 0, float32(oz)},
			walls:     uint8(walls) & AllWalls,
		}
	}
	for _, n := range c.nodes {
		if n == nil {
			return nil, fmt.Errorf("chunk dump %d,%d: incomplete, want %d nodes", cx, cy, size*size)
		}
	}
	c.initialized = true
	return c, nil
}
