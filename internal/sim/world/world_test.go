package world

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"nanofab.ai/internal/sim/encoding"
	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/trace"
	"nanofab.ai/internal/sim/tuning"
)

type d = encoding.Delta

func newTestWorld(t *testing.T, r int, target *lattice.Lattice) *World {
	t.Helper()
	return newTestWorldTuned(t, r, target, tuning.Defaults())
}

func newTestWorldTuned(t *testing.T, r int, target *lattice.Lattice, tune tuning.Tuning) *World {
	t.Helper()
	w, err := New(WorldConfig{ID: "test", Resolution: r, Target: target, Tuning: tune})
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func targetWith(t *testing.T, r int, full ...lattice.Coord) *lattice.Lattice {
	t.Helper()
	l, err := lattice.New(r)
	if err != nil {
		t.Fatalf("lattice: %v", err)
	}
	for _, c := range full {
		if err := l.Set(c, lattice.Full); err != nil {
			t.Fatalf("set %s: %v", c, err)
		}
	}
	return l
}

func wantKind(t *testing.T, res Result, kind Kind, round uint64) {
	t.Helper()
	if res.Err == nil {
		t.Fatalf("expected %s at round %d, run succeeded: %+v", kind, round, res)
	}
	if res.Err.Kind != kind || res.Err.Round != round {
		t.Fatalf("expected %s at round %d, got %v", kind, round, res.Err)
	}
	if !errors.Is(res.Err, &RunError{Kind: kind}) {
		t.Fatalf("errors.Is does not match kind %s", kind)
	}
}

func TestNewWorldInitialState(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	bots := w.Bots()
	if len(bots) != 1 || bots[0].ID != 1 || !bots[0].Pos.IsOrigin() {
		t.Fatalf("initial bots: %+v", bots)
	}
	if len(bots[0].Seeds) != 39 || bots[0].Seeds[0] != 2 || bots[0].Seeds[38] != 40 {
		t.Fatalf("initial seeds: %v", bots[0].Seeds)
	}
	if w.Harmonics() != Low || w.Energy() != 0 || w.Status() != Running {
		t.Fatalf("initial state: harmonics=%s energy=%d status=%s", w.Harmonics(), w.Energy(), w.Status())
	}
	if !w.IsWellFormed() {
		t.Fatalf("initial world not well formed")
	}
}

func TestNewWorldRejectsTargetResolution(t *testing.T) {
	_, err := New(WorldConfig{Resolution: 3, Target: targetWith(t, 4), Tuning: tuning.Defaults()})
	if err == nil {
		t.Fatalf("expected resolution mismatch error")
	}
}

func TestHaltAloneIsLegalAndSolvesEmptyTarget(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	res := w.Run(Instructions([]trace.Instruction{trace.Halt()}))
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	if !res.Halted {
		t.Fatalf("expected halted")
	}
	if res.Energy != 0 || res.Rounds != 1 {
		t.Fatalf("energy=%d rounds=%d, want 0 and 1", res.Energy, res.Rounds)
	}
	if w.ActiveBots() != 0 {
		t.Fatalf("bots after halt: %d", w.ActiveBots())
	}
	if !res.Solution {
		t.Fatalf("expected solution for empty target")
	}
}

func TestHaltAloneDoesNotSolveNonEmptyTarget(t *testing.T) {
	w := newTestWorld(t, 3, targetWith(t, 3, lattice.Coord{X: 1}))
	res := w.Run(Instructions([]trace.Instruction{trace.Halt()}))
	if res.Err != nil || !res.Halted {
		t.Fatalf("halt should be legal: %+v", res)
	}
	if res.Solution {
		t.Fatalf("halt is legal but the lattice does not match the target")
	}
}

func TestFillAboveGroundCollapses(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	res := w.Run(Instructions([]trace.Instruction{trace.Fill(d{DY: 1}), trace.Halt()}))
	wantKind(t, res, KindStructuralCollapse, 0)
	if res.Halted || res.Solution {
		t.Fatalf("failed run reported success: %+v", res)
	}
	if w.Status() != Failed {
		t.Fatalf("status: %s", w.Status())
	}
	if w.Round() != 0 || w.Energy() != 0 || w.Lattice().FullCount() != 0 {
		t.Fatalf("collapsed round was not rolled back: round=%d energy=%d full=%d", w.Round(), w.Energy(), w.Lattice().FullCount())
	}
}

func TestHaltUnderHighHarmonicsIsIllegal(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	res := w.Run(Instructions([]trace.Instruction{trace.Flip(), trace.Fill(d{DY: 1}), trace.Halt()}))
	wantKind(t, res, KindIllegalHalt, 2)
	// Round 1 fills one cell under High: 12 + 30.
	if res.Energy != 42 {
		t.Fatalf("energy: got %d want 42", res.Energy)
	}
	if c, _ := w.Cell(lattice.Coord{Y: 1}); c != lattice.Full {
		t.Fatalf("ungrounded cell should survive under High harmonics")
	}
}

func TestFillGroundLevelThenHalt(t *testing.T) {
	ins := []trace.Instruction{trace.Fill(d{DX: 1}), trace.Halt()}

	w := newTestWorld(t, 3, nil)
	res := w.Run(Instructions(ins))
	if res.Err != nil || !res.Halted {
		t.Fatalf("run: %+v", res)
	}
	// Round 0: fill 12 + 3 per Full cell; round 1: 3.
	if res.Energy != 18 {
		t.Fatalf("energy: got %d want 18", res.Energy)
	}
	if res.Solution {
		t.Fatalf("empty target must not be solved by a Full lattice")
	}

	w = newTestWorld(t, 3, targetWith(t, 3, lattice.Coord{X: 1}))
	res = w.Run(Instructions(ins))
	if !res.Halted || !res.Solution {
		t.Fatalf("expected solution: %+v", res)
	}
}

func TestRunFromEncodedTrace(t *testing.T) {
	data, err := trace.Encode([]trace.Instruction{trace.Fill(d{DX: 1}), trace.Halt()})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	w := newTestWorld(t, 3, targetWith(t, 3, lattice.Coord{X: 1}))
	res := w.Run(trace.NewReader(data))
	if !res.Solution {
		t.Fatalf("expected solution: %+v", res)
	}
}

func TestRunDecodeError(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	res := w.Run(trace.NewReader([]byte{0x00}))
	wantKind(t, res, KindDecode, 0)
	var rec *trace.RecordError
	if !errors.As(res.Err, &rec) || rec.Offset != 0 {
		t.Fatalf("expected record error at offset 0, got %v", res.Err)
	}
}

func TestFissionFusionConservesSeeds(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	initial := w.Bots()

	if err := w.Step([]trace.Instruction{trace.Fission(d{DX: 1}, 1)}); err != nil {
		t.Fatalf("fission: %v", err)
	}
	bots := w.Bots()
	if len(bots) != 2 {
		t.Fatalf("bots after fission: %+v", bots)
	}
	child := bots[1]
	if child.ID != 2 || child.Pos != (lattice.Coord{X: 1}) || !cmp.Equal(child.Seeds, []int{3}) {
		t.Fatalf("child: %+v", child)
	}
	if bots[0].Seeds[0] != 4 || len(bots[0].Seeds) != 37 {
		t.Fatalf("parent seeds: %v", bots[0].Seeds)
	}
	if !w.IsWellFormed() {
		t.Fatalf("not well formed after fission")
	}

	if err := w.Step([]trace.Instruction{trace.FusionP(d{DX: 1}), trace.FusionS(d{DX: -1})}); err != nil {
		t.Fatalf("fusion: %v", err)
	}
	if diff := cmp.Diff(initial, w.Bots()); diff != "" {
		t.Fatalf("bots after fusion (-want +got):\n%s", diff)
	}
	if w.Energy() != 0 {
		t.Fatalf("fission and fusion should cancel, energy %d", w.Energy())
	}

	res := w.Run(Instructions([]trace.Instruction{trace.Halt()}))
	if !res.Halted || !res.Solution {
		t.Fatalf("halt after fusion: %+v", res)
	}
}

func TestChildActsNextRound(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	res := w.Run(Instructions([]trace.Instruction{
		trace.Fission(d{DX: 1}, 0),
		// Round 1: bot 1, then bot 2.
		trace.Wait(), trace.SMove(d{DZ: 2}),
		trace.FusionP(d{DX: 1}),
	}))
	wantKind(t, res, KindTraceUnderrun, 2)
	bots := w.Bots()
	if len(bots) != 2 || bots[1].Pos != (lattice.Coord{X: 1, Z: 2}) {
		t.Fatalf("bots: %+v", bots)
	}
}

func setupTwoBots(t *testing.T) *World {
	t.Helper()
	w := newTestWorld(t, 3, nil)
	if err := w.Step([]trace.Instruction{trace.Fission(d{DX: 1}, 1)}); err != nil {
		t.Fatalf("fission: %v", err)
	}
	return w
}

func TestFailedRoundIsAtomic(t *testing.T) {
	cases := []struct {
		name  string
		batch []trace.Instruction
		kind  Kind
	}{
		{"shared fill target", []trace.Instruction{trace.Fill(d{DX: 1, DZ: 1}), trace.Fill(d{DZ: 1})}, KindVolatileConflict},
		{"move into other bot", []trace.Instruction{trace.Fill(d{DZ: 1}), trace.SMove(d{DX: -1})}, KindVolatileConflict},
		{"fusion without partner", []trace.Instruction{trace.FusionP(d{DX: 1}), trace.Wait()}, KindUnmatchedFusion},
		{"secondary without primary", []trace.Instruction{trace.Wait(), trace.FusionS(d{DX: -1})}, KindUnmatchedFusion},
		{"fusion pointing away", []trace.Instruction{trace.FusionP(d{DX: 1}), trace.FusionS(d{DZ: 1})}, KindUnmatchedFusion},
		{"halt with two bots", []trace.Instruction{trace.Halt(), trace.Wait()}, KindIllegalHalt},
		{"short batch", []trace.Instruction{trace.Wait()}, KindTraceUnderrun},
		{"out of bounds", []trace.Instruction{trace.Fill(d{DX: -1}), trace.Wait()}, KindBounds},
		{"collapse", []trace.Instruction{trace.Fill(d{DY: 1}), trace.Wait()}, KindStructuralCollapse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := setupTwoBots(t)
			digest := w.StateDigest()
			bots := w.Bots()
			energy := w.Energy()

			err := w.Step(tc.batch)
			if KindOf(err) != tc.kind {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
			if got := w.StateDigest(); got != digest {
				t.Fatalf("state changed by failed round")
			}
			if diff := cmp.Diff(bots, w.Bots()); diff != "" {
				t.Fatalf("bots changed (-want +got):\n%s", diff)
			}
			if w.Energy() != energy || w.Lattice().FullCount() != 0 {
				t.Fatalf("energy %d full %d after failed round", w.Energy(), w.Lattice().FullCount())
			}
			if w.Status() != Failed || w.Failure() == nil || w.Failure().Round != 1 {
				t.Fatalf("status %s failure %v", w.Status(), w.Failure())
			}
			if err := w.Step([]trace.Instruction{trace.Wait(), trace.Wait()}); KindOf(err) != tc.kind {
				t.Fatalf("failed world should keep reporting %s, got %v", tc.kind, err)
			}
		})
	}
}

func TestBoundsErrorUnwraps(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	res := w.Run(Instructions([]trace.Instruction{trace.Fill(d{DX: -1})}))
	wantKind(t, res, KindBounds, 0)
	var be *lattice.BoundsError
	if !errors.As(res.Err, &be) || be.Pos != (lattice.Coord{X: -1}) {
		t.Fatalf("expected bounds error at (-1, 0, 0), got %v", res.Err)
	}
}

func TestMoveBlockedByFullCell(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	res := w.Run(Instructions([]trace.Instruction{trace.Fill(d{DX: 1}), trace.SMove(d{DX: 2})}))
	wantKind(t, res, KindPathBlocked, 1)
}

func TestMoveCosts(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	if err := w.Step([]trace.Instruction{trace.LMove(d{DX: 1}, d{DZ: 2})}); err != nil {
		t.Fatalf("lmove: %v", err)
	}
	if got := w.Bots()[0].Pos; got != (lattice.Coord{X: 1, Z: 2}) {
		t.Fatalf("pos after lmove: %s", got)
	}
	if w.Energy() != 10 {
		t.Fatalf("lmove energy: got %d want 10", w.Energy())
	}
	if err := w.Step([]trace.Instruction{trace.SMove(d{DZ: -2})}); err != nil {
		t.Fatalf("smove: %v", err)
	}
	if w.Energy() != 14 {
		t.Fatalf("smove energy: got %d want 14", w.Energy())
	}
}

func TestEnergyDirection(t *testing.T) {
	fillThen := func(second trace.Instruction) int64 {
		w := newTestWorld(t, 3, nil)
		res := w.Run(Instructions([]trace.Instruction{trace.Fill(d{DX: 1}), second, trace.Halt()}))
		if res.Err != nil {
			t.Fatalf("run with %s: %v", second, res.Err)
		}
		return res.Energy
	}
	if voided, kept := fillThen(trace.Void(d{DX: 1})), fillThen(trace.Wait()); voided > kept {
		t.Fatalf("voiding a Full cell raised energy: %d > %d", voided, kept)
	}

	w := newTestWorld(t, 3, nil)
	if err := w.Step([]trace.Instruction{trace.Fill(d{DX: 1})}); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if w.Energy() < 0 {
		t.Fatalf("filling a Void cell lowered energy: %d", w.Energy())
	}
}

func TestGroupFill(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	if err := w.Step([]trace.Instruction{trace.GFill(d{DX: 1}, d{DX: 1, DZ: 1})}); err != nil {
		t.Fatalf("gfill: %v", err)
	}
	if got := w.Lattice().FullCount(); got != 4 {
		t.Fatalf("full cells: got %d want 4", got)
	}
	// 4 × 12 + 4 × 3.
	if w.Energy() != 60 {
		t.Fatalf("energy: got %d want 60", w.Energy())
	}
	if err := w.Step([]trace.Instruction{trace.GVoid(d{DX: 1}, d{DX: 1, DZ: 1})}); err != nil {
		t.Fatalf("gvoid: %v", err)
	}
	if got := w.Lattice().FullCount(); got != 0 {
		t.Fatalf("full cells after gvoid: %d", got)
	}
}

func TestGroupFillCoveringBotConflicts(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	res := w.Run(Instructions([]trace.Instruction{trace.GFill(d{DX: 1}, d{DX: -1, DZ: 1})}))
	wantKind(t, res, KindVolatileConflict, 0)
}

func TestFissionSeedPool(t *testing.T) {
	tune := tuning.Defaults()
	tune.SeedCount = 1
	w := newTestWorldTuned(t, 3, nil, tune)
	res := w.Run(Instructions([]trace.Instruction{trace.Fission(d{DX: 1}, 0)}))
	wantKind(t, res, KindEmptySeedPool, 0)

	w = newTestWorld(t, 3, nil)
	res = w.Run(Instructions([]trace.Instruction{trace.Fission(d{DX: 1}, 39)}))
	wantKind(t, res, KindEmptySeedPool, 0)
}

func TestTraceEndings(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	res := w.Run(Instructions([]trace.Instruction{trace.Wait()}))
	wantKind(t, res, KindIncompleteTrace, 1)

	w = newTestWorld(t, 3, nil)
	res = w.Run(Instructions([]trace.Instruction{trace.Halt(), trace.Wait()}))
	wantKind(t, res, KindTrailingInstructions, 1)
	if !res.Halted || res.Solution {
		t.Fatalf("trailing instructions: %+v", res)
	}
}

func TestRoundLimit(t *testing.T) {
	tune := tuning.Defaults()
	tune.MaxRounds = 2
	w := newTestWorldTuned(t, 3, nil, tune)
	res := w.Run(Instructions([]trace.Instruction{trace.Wait(), trace.Wait(), trace.Wait(), trace.Halt()}))
	wantKind(t, res, KindRoundLimit, 2)
}

type memRoundLogger struct{ entries []RoundLogEntry }

func (m *memRoundLogger) WriteRound(e RoundLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

type memAuditLogger struct{ entries []AuditEntry }

func (m *memAuditLogger) WriteAudit(e AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func TestRoundLogEntries(t *testing.T) {
	w := newTestWorld(t, 3, nil)
	rl := &memRoundLogger{}
	al := &memAuditLogger{}
	w.SetRoundLogger(rl)
	w.SetAuditLogger(al)
	sink := make(chan RoundLogEntry, 1)
	w.SetRoundSink(sink)

	res := w.Run(Instructions([]trace.Instruction{trace.Fill(d{DX: 1}), trace.Void(d{DX: 1}), trace.Halt()}))
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	if len(rl.entries) != 3 {
		t.Fatalf("round entries: %d", len(rl.entries))
	}
	first := rl.entries[0]
	if first.Round != 0 || first.FullCells != 1 || len(first.Cells) != 1 || !first.Cells[0].Full {
		t.Fatalf("first entry: %+v", first)
	}
	ins, err := trace.Decode(first.Instructions[0].Wire)
	if err != nil || len(ins) != 1 || ins[0] != trace.Fill(d{DX: 1}) {
		t.Fatalf("wire bytes do not decode back: %v %v", ins, err)
	}
	last := rl.entries[2]
	if !last.Halted || last.Digest != w.StateDigest() {
		t.Fatalf("last entry: %+v", last)
	}
	if len(al.entries) != 2 || al.entries[0].Action != "FILL" || al.entries[1].Action != "VOID" {
		t.Fatalf("audit entries: %+v", al.entries)
	}
	// The sink holds one entry; later rounds were dropped instead of blocking.
	if got := <-sink; got.Round != 0 {
		t.Fatalf("sink entry round: %d", got.Round)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	w := setupTwoBots(t)
	if err := w.Step([]trace.Instruction{trace.Fill(d{DZ: 1}), trace.Flip()}); err != nil {
		t.Fatalf("step: %v", err)
	}
	snap := w.ExportSnapshot()
	restored, err := FromSnapshot(snap, w.Tuning())
	if err != nil {
		t.Fatalf("from snapshot: %v", err)
	}
	if restored.StateDigest() != w.StateDigest() {
		t.Fatalf("digest mismatch after restore")
	}
	if diff := cmp.Diff(w.Bots(), restored.Bots()); diff != "" {
		t.Fatalf("bots (-want +got):\n%s", diff)
	}

	batch := []trace.Instruction{trace.Flip(), trace.Wait()}
	if err := w.Step(batch); err != nil {
		t.Fatalf("step original: %v", err)
	}
	if err := restored.Step(batch); err != nil {
		t.Fatalf("step restored: %v", err)
	}
	if restored.StateDigest() != w.StateDigest() {
		t.Fatalf("restored world diverged")
	}
}
