package world

import (
	"nanofab.ai/internal/sim/encoding"
	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/trace"
)

// intent is one bot's validated instruction for the current round. Planning
// only reads state; apply performs the effect.
type intent struct {
	bot *Bot
	in  trace.Instruction

	// vol is the volatile coordinate set: the bot's own position plus every
	// cell the instruction reads or writes.
	vol []lattice.Coord

	target lattice.Coord   // nd target (Fill, Void, Fission, Fusion*)
	dest   lattice.Coord   // move destination
	box    []lattice.Coord // GFill/GVoid region

	partner int // index of the matched fusion half, or -1
}

// plan validates in against the pre-round state.
func (w *World) plan(b *Bot, in trace.Instruction) (*intent, error) {
	if err := in.Validate(); err != nil {
		return nil, w.wrap(KindDecode, b.ID, err)
	}
	it := &intent{bot: b, in: in, vol: []lattice.Coord{b.Pos}, partner: -1}

	switch in.Op {
	case trace.OpHalt:
		if err := w.canHalt(); err != nil {
			return nil, w.wrap(KindIllegalHalt, b.ID, err)
		}

	case trace.OpWait, trace.OpFlip:

	case trace.OpSMove:
		path, err := w.clearPath(b, b.Pos, in.LLD)
		if err != nil {
			return nil, err
		}
		it.vol = append(it.vol, path...)
		it.dest = b.Pos.Add(in.LLD)

	case trace.OpLMove:
		first, err := w.clearPath(b, b.Pos, in.SLD1)
		if err != nil {
			return nil, err
		}
		mid := b.Pos.Add(in.SLD1)
		second, err := w.clearPath(b, mid, in.SLD2)
		if err != nil {
			return nil, err
		}
		it.vol = append(it.vol, first...)
		it.vol = append(it.vol, second...)
		it.dest = mid.Add(in.SLD2)

	case trace.OpFill, trace.OpVoid, trace.OpFusionP, trace.OpFusionS:
		t, err := w.nearTarget(b, in.ND)
		if err != nil {
			return nil, err
		}
		it.target = t
		it.vol = append(it.vol, t)

	case trace.OpFission:
		t, err := w.nearTarget(b, in.ND)
		if err != nil {
			return nil, err
		}
		if _, _, _, err := splitSeeds(b.Seeds, in.M); err != nil {
			return nil, w.wrap(KindEmptySeedPool, b.ID, err)
		}
		if w.matrix.IsFull(t) {
			return nil, w.fail(KindPathBlocked, b.ID, "fission target %s is Full", t)
		}
		it.target = t
		it.vol = append(it.vol, t)

	case trace.OpGFill, trace.OpGVoid:
		corner, err := w.nearTarget(b, in.ND)
		if err != nil {
			return nil, err
		}
		far := corner.Add(in.FD)
		if !w.matrix.InBounds(far) {
			return nil, w.wrap(KindBounds, b.ID, &lattice.BoundsError{Pos: far, Resolution: w.matrix.Resolution()})
		}
		box := lattice.Region(corner, far)
		for _, c := range box {
			if c == b.Pos {
				return nil, w.fail(KindVolatileConflict, b.ID, "%s region %s..%s contains the issuing bot", in.Op, corner, far)
			}
		}
		it.box = box
		it.vol = append(it.vol, box...)
	}
	return it, nil
}

func (w *World) nearTarget(b *Bot, nd encoding.Delta) (lattice.Coord, error) {
	t := b.Pos.Add(nd)
	if !w.matrix.InBounds(t) {
		return t, w.wrap(KindBounds, b.ID, &lattice.BoundsError{Pos: t, Resolution: w.matrix.Resolution()})
	}
	return t, nil
}

// clearPath returns the cells from (excluding) start along the linear delta d,
// all of which must be in bounds and Void.
func (w *World) clearPath(b *Bot, start lattice.Coord, d encoding.Delta) ([]lattice.Coord, error) {
	n := d.MLen()
	step := encoding.Delta{DX: sign(d.DX), DY: sign(d.DY), DZ: sign(d.DZ)}
	path := make([]lattice.Coord, 0, n)
	c := start
	for i := 0; i < n; i++ {
		c = c.Add(step)
		if !w.matrix.InBounds(c) {
			return nil, w.wrap(KindBounds, b.ID, &lattice.BoundsError{Pos: c, Resolution: w.matrix.Resolution()})
		}
		if w.matrix.IsFull(c) {
			return nil, w.fail(KindPathBlocked, b.ID, "move path cell %s is Full", c)
		}
		path = append(path, c)
	}
	return path, nil
}

// apply performs a planned intent and returns its energy cost.
func (w *World) apply(j *journal, it *intent, intents []*intent) (int64, error) {
	e := w.tune.Energy
	b := it.bot
	switch it.in.Op {
	case trace.OpHalt:
		w.removeBot(b.ID)
		w.status = Halted
		return 0, nil

	case trace.OpWait:
		return 0, nil

	case trace.OpFlip:
		w.harmonics = w.harmonics.flip()
		return 0, nil

	case trace.OpSMove:
		b.Pos = it.dest
		return e.MovePerCell * int64(it.in.LLD.MLen()), nil

	case trace.OpLMove:
		b.Pos = it.dest
		return e.MovePerCell * (int64(it.in.SLD1.MLen()) + e.LMoveTurn + int64(it.in.SLD2.MLen())), nil

	case trace.OpFill:
		return w.fillCell(j, b.ID, it.target)

	case trace.OpVoid:
		return w.voidCell(j, b.ID, it.target)

	case trace.OpGFill, trace.OpGVoid:
		var total int64
		for _, c := range it.box {
			var cost int64
			var err error
			if it.in.Op == trace.OpGFill {
				cost, err = w.fillCell(j, b.ID, c)
			} else {
				cost, err = w.voidCell(j, b.ID, c)
			}
			if err != nil {
				return 0, err
			}
			total += cost
		}
		return total, nil

	case trace.OpFission:
		if _, err := w.spawnChild(b, it.target, it.in.M); err != nil {
			return 0, w.wrap(KindEmptySeedPool, b.ID, err)
		}
		return e.Fission, nil

	case trace.OpFusionP:
		w.merge(b, intents[it.partner].bot)
		return e.Fusion, nil

	case trace.OpFusionS:
		// Charged and applied by the primary half.
		return 0, nil
	}
	return 0, nil
}

func (w *World) fillCell(j *journal, botID int, c lattice.Coord) (int64, error) {
	from, err := w.setCell(j, botID, c, lattice.Full)
	if err != nil {
		return 0, w.wrap(KindBounds, botID, err)
	}
	if from == lattice.Full {
		return w.tune.Energy.FillFull, nil
	}
	return w.tune.Energy.FillVoid, nil
}

func (w *World) voidCell(j *journal, botID int, c lattice.Coord) (int64, error) {
	from, err := w.setCell(j, botID, c, lattice.Void)
	if err != nil {
		return 0, w.wrap(KindBounds, botID, err)
	}
	if from == lattice.Full {
		return w.tune.Energy.VoidFull, nil
	}
	return w.tune.Energy.VoidVoid, nil
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
