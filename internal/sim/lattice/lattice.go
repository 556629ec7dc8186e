package lattice

import (
	"crypto/sha256"
	"fmt"

	"nanofab.ai/internal/sim/encoding"
)

// MaxResolution is the largest R the target-model header byte can express.
const MaxResolution = 250

type Cell uint8

const (
	Void Cell = iota
	Full
)

func (c Cell) String() string {
	if c == Full {
		return "Full"
	}
	return "Void"
}

type Coord struct {
	X int
	Y int
	Z int
}

func (c Coord) String() string { return fmt.Sprintf("(%d, %d, %d)", c.X, c.Y, c.Z) }

func (c Coord) Add(d encoding.Delta) Coord {
	return Coord{X: c.X + d.DX, Y: c.Y + d.DY, Z: c.Z + d.DZ}
}

func (c Coord) Sub(o Coord) encoding.Delta {
	return encoding.Delta{DX: c.X - o.X, DY: c.Y - o.Y, DZ: c.Z - o.Z}
}

func (c Coord) IsOrigin() bool { return c == Coord{} }

func (c Coord) ToArray() [3]int { return [3]int{c.X, c.Y, c.Z} }

// BoundsError is returned for any coordinate outside [0, R).
type BoundsError struct {
	Pos        Coord
	Resolution int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("coordinate %s outside lattice of resolution %d", e.Pos, e.Resolution)
}

// Lattice is an R*R*R grid stored as one flat slice indexed x*R*R + y*R + z.
type Lattice struct {
	r     int
	cells []Cell
	full  int

	dirty bool
	hash  [32]byte

	groundedKnown bool
	grounded      bool
}

func New(r int) (*Lattice, error) {
	if r <= 0 || r > MaxResolution {
		return nil, fmt.Errorf("resolution %d outside [1, %d]", r, MaxResolution)
	}
	return &Lattice{r: r, cells: make([]Cell, r*r*r), dirty: true}, nil
}

func (l *Lattice) Resolution() int { return l.r }

func (l *Lattice) InBounds(c Coord) bool {
	return c.X >= 0 && c.X < l.r && c.Y >= 0 && c.Y < l.r && c.Z >= 0 && c.Z < l.r
}

func (l *Lattice) index(c Coord) int { return c.X*l.r*l.r + c.Y*l.r + c.Z }

func (l *Lattice) coord(i int) Coord {
	return Coord{X: i / (l.r * l.r), Y: (i / l.r) % l.r, Z: i % l.r}
}

func (l *Lattice) Get(c Coord) (Cell, error) {
	if !l.InBounds(c) {
		return Void, &BoundsError{Pos: c, Resolution: l.r}
	}
	return l.cells[l.index(c)], nil
}

// IsFull is Get for callers that have already bounds-checked c.
func (l *Lattice) IsFull(c Coord) bool {
	return l.InBounds(c) && l.cells[l.index(c)] == Full
}

func (l *Lattice) Set(c Coord, v Cell) error {
	if !l.InBounds(c) {
		return &BoundsError{Pos: c, Resolution: l.r}
	}
	i := l.index(c)
	old := l.cells[i]
	if old == v {
		return nil
	}
	l.cells[i] = v
	if v == Full {
		l.full++
	} else {
		l.full--
	}
	l.dirty = true
	l.groundedKnown = false
	return nil
}

func (l *Lattice) FullCount() int { return l.full }

func (l *Lattice) Volume() int { return len(l.cells) }

func (l *Lattice) Clone() *Lattice {
	cp := *l
	cp.cells = make([]Cell, len(l.cells))
	copy(cp.cells, l.cells)
	return &cp
}

// Matches reports exact cell-by-cell equality with target.
func (l *Lattice) Matches(target *Lattice) bool {
	if target == nil || l.r != target.r || l.full != target.full {
		return false
	}
	for i, c := range l.cells {
		if target.cells[i] != c {
			return false
		}
	}
	return true
}

func (l *Lattice) Digest() [32]byte {
	if l.dirty || l.hash == ([32]byte{}) {
		h := sha256.New()
		h.Write([]byte{byte(l.r)})
		buf := make([]byte, len(l.cells))
		for i, c := range l.cells {
			buf[i] = byte(c)
		}
		h.Write(buf)
		copy(l.hash[:], h.Sum(nil))
		l.dirty = false
	}
	return l.hash
}

// RawCells exports a copy of the cell states for snapshots.
func (l *Lattice) RawCells() []uint8 {
	out := make([]uint8, len(l.cells))
	for i, c := range l.cells {
		out[i] = uint8(c)
	}
	return out
}

// FromRawCells rebuilds a lattice from RawCells output.
func FromRawCells(r int, raw []uint8) (*Lattice, error) {
	l, err := New(r)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(l.cells) {
		return nil, fmt.Errorf("cells length mismatch: got %d want %d", len(raw), len(l.cells))
	}
	for i, v := range raw {
		switch Cell(v) {
		case Void:
		case Full:
			l.cells[i] = Full
			l.full++
		default:
			return nil, fmt.Errorf("invalid cell value %d at %d", v, i)
		}
	}
	return l, nil
}

// Region returns the axis-aligned box spanned by a and b, both inclusive.
func Region(a, b Coord) []Coord {
	lo := Coord{min(a.X, b.X), min(a.Y, b.Y), min(a.Z, b.Z)}
	hi := Coord{max(a.X, b.X), max(a.Y, b.Y), max(a.Z, b.Z)}
	out := make([]Coord, 0, (hi.X-lo.X+1)*(hi.Y-lo.Y+1)*(hi.Z-lo.Z+1))
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				out = append(out, Coord{x, y, z})
			}
		}
	}
	return out
}
