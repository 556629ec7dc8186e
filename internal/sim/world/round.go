package world

import (
	"errors"

	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/trace"
)

// Step executes one round. batch holds exactly one instruction per active bot,
// in ascending bot id order. A failed round leaves the state of the last
// committed round and moves the world to Failed.
func (w *World) Step(batch []trace.Instruction) error {
	switch w.status {
	case Halted:
		return w.abort(w.fail(KindTrailingInstructions, 0, "%d instructions after Halt", len(batch)))
	case Failed:
		return w.failure
	}
	if w.tune.MaxRounds > 0 && w.round >= w.tune.MaxRounds {
		return w.abort(w.fail(KindRoundLimit, 0, "round limit %d reached", w.tune.MaxRounds))
	}

	w.sortBots()
	if len(batch) != len(w.bots) {
		return w.abort(w.fail(KindTraceUnderrun, 0, "%d instructions for %d active bots", len(batch), len(w.bots)))
	}

	// Phase one: every intent is derived from the pre-round state.
	intents := make([]*intent, len(batch))
	for i, in := range batch {
		it, err := w.plan(w.bots[i], in)
		if err != nil {
			return w.abort(err)
		}
		intents[i] = it
	}
	if err := w.pairFusions(intents); err != nil {
		return w.abort(err)
	}
	if err := w.checkVolatile(intents); err != nil {
		return w.abort(err)
	}

	// Phase two: commit under the journal.
	j := w.begin()
	startHarmonics := w.harmonics
	startBots := len(w.bots)
	var cost int64
	for _, it := range intents {
		c, err := w.apply(j, it, intents)
		if err != nil {
			w.rollback(j)
			return w.abort(err)
		}
		cost += c
	}
	w.sortBots()
	w.charge(cost + w.globalCharge(startHarmonics, startBots))

	if w.harmonics == Low && !w.matrix.IsGrounded() {
		w.rollback(j)
		return w.abort(w.fail(KindStructuralCollapse, 0, "Full cells not grounded under Low harmonics"))
	}

	w.commit(j, intents)
	return nil
}

// globalCharge is the per-round cost of holding the lattice: the rate of the
// harmonics in force when the round started times the Full cell count, plus
// the per-bot upkeep.
func (w *World) globalCharge(h Harmonics, bots int) int64 {
	rate := w.tune.Energy.HarmonicsLowPerVoxel
	if h == High {
		rate = w.tune.Energy.HarmonicsHighPerVoxel
	}
	return rate*int64(w.matrix.FullCount()) + w.tune.Energy.ActiveBotPerRound*int64(bots)
}

func (w *World) commit(j *journal, intents []*intent) {
	round := w.round
	w.round++

	recorded := make([]RecordedInstruction, 0, len(intents))
	for _, it := range intents {
		wire, _ := trace.Append(nil, it.in)
		recorded = append(recorded, RecordedInstruction{BotID: it.bot.ID, Text: it.in.String(), Wire: wire})
	}

	cells := make([]CellDelta, 0, len(j.cells))
	for _, c := range j.cells {
		cells = append(cells, CellDelta{Pos: c.pos.ToArray(), Full: c.to == lattice.Full})
		w.audit(round, c)
	}

	if w.roundLogger == nil && w.roundSink == nil {
		return
	}
	entry := RoundLogEntry{
		WorldID:      w.cfg.ID,
		Round:        round,
		Instructions: recorded,
		Energy:       w.energy,
		Harmonics:    w.harmonics.String(),
		Bots:         len(w.bots),
		FullCells:    w.matrix.FullCount(),
		Cells:        cells,
		Halted:       w.status == Halted,
		Digest:       w.StateDigest(),
	}
	if w.roundLogger != nil {
		_ = w.roundLogger.WriteRound(entry)
	}
	if w.roundSink != nil {
		select {
		case w.roundSink <- entry:
		default:
			// Drop if the observer is backed up.
		}
	}
}

func (w *World) audit(round uint64, c cellChange) {
	if w.auditLogger == nil {
		return
	}
	action := "VOID"
	if c.to == lattice.Full {
		action = "FILL"
	}
	_ = w.auditLogger.WriteAudit(AuditEntry{
		WorldID: w.cfg.ID,
		Round:   round,
		BotID:   c.botID,
		Action:  action,
		Pos:     c.pos.ToArray(),
		From:    uint8(c.from),
		To:      uint8(c.to),
	})
}

// abort records the first fatal error. A halted world stays Halted.
func (w *World) abort(err error) error {
	var re *RunError
	if !errors.As(err, &re) {
		re = w.wrap(KindDecode, 0, err)
	}
	if w.failure == nil {
		w.failure = re
	}
	if w.status == Running {
		w.status = Failed
	}
	return re
}
