package maze

import "strconv"

// Pos is a grid coordinate. Depending on context it addresses a node
// (global or chunk-local) or a chunk.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func P(x, y int) Pos { return Pos{X: x, Y: y} }

func (p Pos) Left(i int) Pos  { return Pos{X: p.X - i, Y: p.Y} }
func (p Pos) Right(i int) Pos { return Pos{X: p.X + i, Y: p.Y} }
func (p Pos) Up(i int) Pos    { return Pos{X: p.X, Y: p.Y - i} }
func (p Pos) Down(i int) Pos  { return Pos{X: p.X, Y: p.Y + i} }

func (p Pos) String() string {
	return "(" + strconv.Itoa(p.X) + ", " + strconv.Itoa(p.Y) + ")"
}

// Neighbors returns the four orthogonal neighbours in TOP, BOTTOM, LEFT,
// RIGHT order, matching the wall bit order.
func (p Pos) Neighbors() [4]Pos {
	return [4]Pos{p.Up(1), p.Down(1), p.Left(1), p.Right(1)}
}

func floorDiv(a, b int) int {
	q := a / b
	r := a % b
	if r != 0 && ((r < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
