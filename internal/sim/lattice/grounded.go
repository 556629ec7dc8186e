package lattice

// IsGrounded reports whether every Full cell reaches the y=0 layer through a
// chain of Full cells in the 26-cell neighborhood. An all-Void lattice is
// grounded.
func (l *Lattice) IsGrounded() bool {
	if l.groundedKnown {
		return l.grounded
	}
	l.grounded = l.floodGround()
	l.groundedKnown = true
	return l.grounded
}

func (l *Lattice) floodGround() bool {
	if l.full == 0 {
		return true
	}
	r := l.r
	visited := make([]bool, len(l.cells))
	queue := make([]int, 0, l.full)

	for x := 0; x < r; x++ {
		for z := 0; z < r; z++ {
			i := l.index(Coord{X: x, Y: 0, Z: z})
			if l.cells[i] == Full {
				visited[i] = true
				queue = append(queue, i)
			}
		}
	}
	if len(queue) == 0 {
		return false
	}

	reached := 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		reached++
		c := l.coord(i)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for dz := -1; dz <= 1; dz++ {
					if dx == 0 && dy == 0 && dz == 0 {
						continue
					}
					n := Coord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
					if !l.InBounds(n) {
						continue
					}
					j := l.index(n)
					if visited[j] || l.cells[j] != Full {
						continue
					}
					visited[j] = true
					queue = append(queue, j)
				}
			}
		}
	}
	return reached == l.full
}
