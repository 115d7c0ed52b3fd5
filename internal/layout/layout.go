package layout

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"minotaur.dev/internal/maze"
)

// Layout places maze nodes and chunks in world space. Y is up; the maze
// lies on the X/Z plane with maze Y mapped to world Z.
type Layout struct {
	ChunkSize  int
	ChunksX    int
	ChunksY    int
	PathWidth  float32
	PathSpread float32
	PathHeight float32
}

// Cell is the world-space pitch between neighbouring nodes.
func (l Layout) Cell() float32 { return l.PathWidth + l.PathSpread }

func (l Layout) WorldToNode(v mgl32.Vec3) maze.Pos {
	c := float64(l.Cell())
	return maze.Pos{
		X: int(math.Floor(float64(v.X()) / c)),
		Y: int(math.Floor(float64(v.Z()) / c)),
	}
}

// NodeWorldPos returns the floor corner of the node at p, offset by its
// jitter. Missing nodes get no jitter.
func (l Layout) NodeWorldPos(m *maze.Maze, p maze.Pos, y float32) mgl32.Vec3 {
	c := l.Cell()
	v := mgl32.Vec3{float32(p.X) * c, y, float32(p.Y) * c}
	if n, ok := m.Node(p.X, p.Y); ok {
		v = v.Add(n.Offset)
	}
	return v
}

func (l Layout) ChunkWorldSize() float32 { return float32(l.ChunkSize) * l.Cell() }

func (l Layout) ChunkWorldPos(c maze.Pos) mgl32.Vec3 {
	s := l.ChunkWorldSize()
	return mgl32.Vec3{float32(c.X) * s, 0, float32(c.Y) * s}
}

func (l Layout) ChunkCenter(c maze.Pos) mgl32.Vec3 {
	half := l.ChunkWorldSize() / 2
	return l.ChunkWorldPos(c).Add(mgl32.Vec3{half, 0, half})
}

// ChunkOf returns the chunk coordinate containing world position v.
func (l Layout) ChunkOf(v mgl32.Vec3) maze.Pos {
	s := float64(l.ChunkWorldSize())
	return maze.Pos{
		X: int(math.Floor(float64(v.X()) / s)),
		Y: int(math.Floor(float64(v.Z()) / s)),
	}
}

// MazeWorldSize is the extent of the walkable area on X and Z. The last
// spread is dropped since no path follows it.
func (l Layout) MazeWorldSize() (x, z float32) {
	s := l.ChunkWorldSize()
	return float32(l.ChunksX)*s - l.PathSpread, float32(l.ChunksY)*s - l.PathSpread
}

// StartPos is the node at the middle of the maze.
func (l Layout) StartPos() maze.Pos {
	return maze.Pos{X: l.ChunksX * l.ChunkSize / 2, Y: l.ChunksY * l.ChunkSize / 2}
}

// DistSq is the squared world distance between a and b, height included.
func DistSq(a, b mgl32.Vec3) float32 {
	return a.Sub(b).LenSqr()
}
