package world

import "nanofab.ai/internal/sim/lattice"

type cellChange struct {
	pos   lattice.Coord
	from  lattice.Cell
	to    lattice.Cell
	botID int
}

// journal is the undo log of one round. A round either commits every change
// or rollback restores the state it captured at begin.
type journal struct {
	cells     []cellChange
	bots      []Bot
	energy    int64
	harmonics Harmonics
	status    Status
}

func (w *World) begin() *journal {
	j := &journal{
		bots:      w.Bots(),
		energy:    w.energy,
		harmonics: w.harmonics,
		status:    w.status,
	}
	return j
}

// setCell records the previous value before writing. Coordinates are
// bounds-checked during planning.
func (w *World) setCell(j *journal, botID int, pos lattice.Coord, v lattice.Cell) (lattice.Cell, error) {
	from, err := w.matrix.Get(pos)
	if err != nil {
		return from, err
	}
	if from == v {
		return from, nil
	}
	if err := w.matrix.Set(pos, v); err != nil {
		return from, err
	}
	j.cells = append(j.cells, cellChange{pos: pos, from: from, to: v, botID: botID})
	return from, nil
}

func (w *World) rollback(j *journal) {
	for i := len(j.cells) - 1; i >= 0; i-- {
		c := j.cells[i]
		_ = w.matrix.Set(c.pos, c.from)
	}
	bots := make([]*Bot, 0, len(j.bots))
	for i := range j.bots {
		b := j.bots[i]
		bots = append(bots, &b)
	}
	w.bots = bots
	w.energy = j.energy
	w.harmonics = j.harmonics
	w.status = j.status
}
