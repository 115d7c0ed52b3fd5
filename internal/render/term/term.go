package term

import (
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"

	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/stream"
)

var (
	wallStyle     = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	floorStyle    = tcell.StyleDefault
	pathStyle     = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	observerStyle = tcell.StyleDefault.Foreground(tcell.ColorYellow).Reverse(true)
	infoStyle     = tcell.StyleDefault.Foreground(tcell.ColorSilver)
)

// Canvas is the part of tcell.Screen the painter needs.
type Canvas interface {
	SetContent(x, y int, primary rune, combining []rune, style tcell.Style)
}

// Renderer keeps the chunks streamed to a terminal view. It implements
// stream.Renderer and is used from the goroutine that drives the manager.
type Renderer struct {
	chunks map[maze.Pos]maze.ChunkSnapshot
}

func NewRenderer() *Renderer {
	return &Renderer{chunks: map[maze.Pos]maze.ChunkSnapshot{}}
}

func (r *Renderer) Render(s maze.ChunkSnapshot) (stream.Handle, error) {
	r.chunks[s.Pos] = s
	return handle{r: r, p: s.Pos}, nil
}

type handle struct {
	r *Renderer
	p maze.Pos
}

func (h handle) Dispose() { delete(h.r.chunks, h.p) }

// Loaded returns the chunks currently held, x-major.
func (r *Renderer) Loaded() []maze.Pos {
	out := make([]maze.Pos, 0, len(r.chunks))
	for p := range r.chunks {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

// View selects what Draw shows. Origin is the maze node drawn at the
// top-left of the screen.
type View struct {
	Origin      maze.Pos
	Observer    maze.Pos
	HasObserver bool
	Path        []maze.Pos
	Info        []string
}

// Draw paints loaded chunks, the path, the observer and the info lines,
// then shows the screen.
func (r *Renderer) Draw(screen tcell.Screen, v View) {
	screen.Clear()
	for _, p := range r.Loaded() {
		s := r.chunks[p]
		for _, n := range s.Nodes {
			paintNode(screen, 2*(n.Global.X-v.Origin.X), 2*(n.Global.Y-v.Origin.Y), n.Walls)
		}
	}
	for _, p := range v.Path {
		if r.holds(p) {
			mark(screen, v.Origin, p, '.', pathStyle)
		}
	}
	if v.HasObserver {
		mark(screen, v.Origin, v.Observer, '@', observerStyle)
	}
	_, h := screen.Size()
	for i, line := range v.Info {
		drawText(screen, 0, h-len(v.Info)+i, line, infoStyle)
	}
	screen.Show()
}

func (r *Renderer) holds(p maze.Pos) bool {
	for _, s := range r.chunks {
		g := s.Pos
		if p.X >= g.X*s.Size && p.X < (g.X+1)*s.Size && p.Y >= g.Y*s.Size && p.Y < (g.Y+1)*s.Size {
			return true
		}
	}
	return false
}

// paintNode draws one node as a 3x3 block whose edges are shared with its
// neighbours. (sx, sy) is the top-left corner.
func paintNode(c Canvas, sx, sy int, walls uint8) {
	for _, d := range [][2]int{{0, 0}, {2, 0}, {0, 2}, {2, 2}} {
		c.SetContent(sx+d[0], sy+d[1], '+', nil, wallStyle)
	}
	edge := func(x, y int, w uint8, r rune) {
		if walls&w != 0 {
			c.SetContent(x, y, r, nil, wallStyle)
		} else {
			c.SetContent(x, y, ' ', nil, floorStyle)
		}
	}
	edge(sx+1, sy, maze.WallTop, '-')
	edge(sx+1, sy+2, maze.WallBottom, '-')
	edge(sx, sy+1, maze.WallLeft, '|')
	edge(sx+2, sy+1, maze.WallRight, '|')
	c.SetContent(sx+1, sy+1, ' ', nil, floorStyle)
}

func mark(c Canvas, origin, p maze.Pos, r rune, st tcell.Style) {
	c.SetContent(2*(p.X-origin.X)+1, 2*(p.Y-origin.Y)+1, r, nil, st)
}

func drawText(c Canvas, x, y int, s string, st tcell.Style) {
	for _, r := range s {
		c.SetContent(x, y, r, nil, st)
		x++
	}
}

type runeGrid struct {
	w, h  int
	cells []rune
}

func (g *runeGrid) SetContent(x, y int, r rune, _ []rune, _ tcell.Style) {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return
	}
	g.cells[y*g.w+x] = r
}

// ASCII draws the whole maze, marking path cells with '.'. Missing nodes
// are left blank.
func ASCII(m *maze.Maze, path []maze.Pos) string {
	g := &runeGrid{w: 2*m.SizeX() + 1, h: 2*m.SizeY() + 1}
	g.cells = make([]rune, g.w*g.h)
	for i := range g.cells {
		g.cells[i] = ' '
	}
	for y := 0; y < m.SizeY(); y++ {
		for x := 0; x < m.SizeX(); x++ {
			if n, ok := m.Node(x, y); ok {
				paintNode(g, 2*x, 2*y, n.Walls())
			}
		}
	}
	for _, p := range path {
		mark(g, maze.Pos{}, p, '.', pathStyle)
	}
	var b strings.Builder
	for y := 0; y < g.h; y++ {
		b.WriteString(strings.TrimRight(string(g.cells[y*g.w:(y+1)*g.w]), " "))
		b.WriteByte('\n')
	}
	return b.String()
}
