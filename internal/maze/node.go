package maze

import (
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	WallTop    uint8 = 1
	WallBottom uint8 = 2
	WallLeft   uint8 = 4
	WallRight  uint8 = 8

	AllWalls = WallTop | WallBottom | WallLeft | WallRight
)

// Node is one maze cell. Offset is a per-node jitter applied on the planar
// axes (X and Z) when the cell is placed in world space.
type Node struct {
	LocalPos  Pos
	GlobalPos Pos
	Offset    mgl32.Vec3

	walls uint8
}

func (n *Node) Walls() uint8 { return n.walls }

func (n *Node) HasWall(w uint8) bool { return n.walls&w == w }

func (n *Node) AddWall(w uint8) { n.walls |= w & AllWalls }

func (n *Node) RemoveWall(w uint8) { n.walls &^= w }

func (n *Node) SetWalls(w uint8) { n.walls = w & AllWalls }

// WallString renders the mask as a compact T/B/L/R string for logs.
func WallString(w uint8) string {
	var b strings.Builder
	for _, x := range []struct {
		bit uint8
		c   byte
	}{{WallTop, 'T'}, {WallBottom, 'B'}, {WallLeft, 'L'}, {WallRight, 'R'}} {
		if w&x.bit != 0 {
			b.WriteByte(x.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// opposite returns the wall on the neighbouring cell that faces w.
func opposite(w uint8) uint8 {
	switch w {
	case WallTop:
		return WallBottom
	case WallBottom:
		return WallTop
	case WallLeft:
		return WallRight
	case WallRight:
		return WallLeft
	}
	return 0
}
