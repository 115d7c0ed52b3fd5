package maze

var sides = [4]uint8{WallTop, WallBottom, WallLeft, WallRight}

// Reachable counts the cells reachable from start through open walls.
func (m *Maze) Reachable(start Pos) int {
	if _, ok := m.Node(start.X, start.Y); !ok {
		return 0
	}
	visited := map[Pos]bool{start: true}
	queue := []Pos{start}
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		for i, next := range curr.Neighbors() {
			if visited[next] || !m.Open(curr, sides[i]) {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
	return len(visited)
}

// Path returns the shortest open route from start to end inclusive, or nil.
func (m *Maze) Path(start, end Pos) []Pos {
	if _, ok := m.Node(start.X, start.Y); !ok {
		return nil
	}
	if _, ok := m.Node(end.X, end.Y); !ok {
		return nil
	}
	queue := []Pos{start}
	cameFrom := make(map[Pos]Pos)
	visited := map[Pos]bool{start: true}

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]

		if curr == end {
			var path []Pos
			for curr != start {
				path = append(path, curr)
				curr = cameFrom[curr]
			}
			path = append(path, start)
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}

		for i, next := range curr.Neighbors() {
			if visited[next] || !m.Open(curr, sides[i]) {
				continue
			}
			visited[next] = true
			cameFrom[next] = curr
			queue = append(queue, next)
		}
	}
	return nil
}
