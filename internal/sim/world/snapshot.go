package world

import (
	"fmt"

	"nanofab.ai/internal/persistence/snapshot"
	"nanofab.ai/internal/sim/encoding"
	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/tuning"
)

// ExportSnapshot captures the state as of the last committed round.
func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	s := snapshot.SnapshotV1{
		Header:     snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Round: w.round},
		Resolution: w.matrix.Resolution(),
		SeedCount:  w.tune.SeedCount,
		Harmonics:  w.harmonics.String(),
		Energy:     w.energy,
		Status:     w.status.String(),
		Cells:      encoding.EncodeCellsRLE(w.matrix.RawCells()),
		Target:     encoding.EncodeCellsRLE(w.target.RawCells()),
	}
	w.sortBots()
	for _, b := range w.bots {
		seeds := make([]int, len(b.Seeds))
		copy(seeds, b.Seeds)
		s.Bots = append(s.Bots, snapshot.BotV1{ID: b.ID, Pos: b.Pos.ToArray(), Seeds: seeds})
	}
	if f := w.failure; f != nil {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		s.Failure = &snapshot.FailureV1{
			Kind:    f.Kind.String(),
			Code:    f.Kind.Code(),
			Round:   f.Round,
			BotID:   f.BotID,
			Message: msg,
		}
	}
	return s
}

// FromSnapshot rebuilds a world from s. Failed snapshots resume as Running at
// the failed round, so a corrected batch can be retried.
func FromSnapshot(s snapshot.SnapshotV1, tune tuning.Tuning) (*World, error) {
	if s.Header.Version != snapshot.Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	if s.SeedCount != tune.SeedCount {
		return nil, fmt.Errorf("snapshot seed_count %d does not match tuning %d", s.SeedCount, tune.SeedCount)
	}
	volume := s.Resolution * s.Resolution * s.Resolution
	raw, err := encoding.DecodeCellsRLE(s.Cells, volume)
	if err != nil {
		return nil, fmt.Errorf("cells: %w", err)
	}
	matrix, err := lattice.FromRawCells(s.Resolution, raw)
	if err != nil {
		return nil, err
	}
	var target *lattice.Lattice
	if s.Target != "" {
		traw, err := encoding.DecodeCellsRLE(s.Target, volume)
		if err != nil {
			return nil, fmt.Errorf("target: %w", err)
		}
		if target, err = lattice.FromRawCells(s.Resolution, traw); err != nil {
			return nil, err
		}
	}

	w, err := New(WorldConfig{ID: s.Header.WorldID, Source: matrix, Target: target, Tuning: tune})
	if err != nil {
		return nil, err
	}
	w.round = s.Header.Round
	w.energy = s.Energy
	switch s.Harmonics {
	case "Low":
		w.harmonics = Low
	case "High":
		w.harmonics = High
	default:
		return nil, fmt.Errorf("bad harmonics %q", s.Harmonics)
	}
	if s.Status == Halted.String() {
		w.status = Halted
	}

	w.bots = w.bots[:0]
	for _, b := range s.Bots {
		seeds := make([]int, len(b.Seeds))
		copy(seeds, b.Seeds)
		pos := lattice.Coord{X: b.Pos[0], Y: b.Pos[1], Z: b.Pos[2]}
		w.bots = append(w.bots, &Bot{ID: b.ID, Pos: pos, Seeds: seeds})
	}
	w.sortBots()
	if !w.IsWellFormed() {
		return nil, fmt.Errorf("snapshot at round %d is not well formed", s.Header.Round)
	}
	return w, nil
}
