package worldtest

import (
	"testing"

	"nanofab.ai/internal/persistence/snapshot"
	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/trace"
	"nanofab.ai/internal/sim/tuning"
	"nanofab.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Step() feeds one round's instructions through World.Step
// - Run()/RunBytes() feed a whole trace through World.Run
// - every committed round and audit entry is recorded for assertions
//
// It avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T *testing.T
	W *world.World

	Rounds []world.RoundLogEntry
	Audits []world.AuditEntry
}

// NewHarness builds a world with default tuning at resolution r. A nil target
// means the empty lattice.
func NewHarness(t *testing.T, r int, target *lattice.Lattice) *Harness {
	t.Helper()
	return NewHarnessWithConfig(t, world.WorldConfig{ID: "test", Resolution: r, Target: target, Tuning: tuning.Defaults()})
}

func NewHarnessWithConfig(t *testing.T, cfg world.WorldConfig) *Harness {
	t.Helper()
	w, err := world.New(cfg)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewHarnessWithWorld(t, w)
}

// NewHarnessWithWorld is like NewHarness, but uses an already-constructed world
// instance. This is useful for snapshot round-trip tests.
func NewHarnessWithWorld(t *testing.T, w *world.World) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}
	h := &Harness{T: t, W: w}
	w.SetRoundLogger(h)
	w.SetAuditLogger(h)
	return h
}

func (h *Harness) WriteRound(e world.RoundLogEntry) error {
	h.Rounds = append(h.Rounds, e)
	return nil
}

func (h *Harness) WriteAudit(e world.AuditEntry) error {
	h.Audits = append(h.Audits, e)
	return nil
}

// Step executes one round; ins must hold one instruction per active bot in
// ascending bot id order.
func (h *Harness) Step(ins ...trace.Instruction) error {
	return h.W.Step(ins)
}

// MustStep fails the test if the round does not commit.
func (h *Harness) MustStep(ins ...trace.Instruction) {
	h.T.Helper()
	if err := h.W.Step(ins); err != nil {
		h.T.Fatalf("round %d: %v", h.W.Round(), err)
	}
}

func (h *Harness) Run(ins ...trace.Instruction) world.Result {
	return h.W.Run(world.Instructions(ins))
}

// RunBytes feeds raw trace bytes through the streaming decoder.
func (h *Harness) RunBytes(data []byte) world.Result {
	return h.W.Run(trace.NewReader(data))
}

func (h *Harness) Snapshot() snapshot.SnapshotV1 {
	return h.W.ExportSnapshot()
}

// Digests returns the state digest of every recorded round in order.
func (h *Harness) Digests() []string {
	out := make([]string, 0, len(h.Rounds))
	for _, r := range h.Rounds {
		out = append(out, r.Digest)
	}
	return out
}

// Target builds a resolution-r lattice with the given Full cells.
func Target(t *testing.T, r int, full ...lattice.Coord) *lattice.Lattice {
	t.Helper()
	l, err := lattice.New(r)
	if err != nil {
		t.Fatalf("lattice.New: %v", err)
	}
	for _, c := range full {
		if err := l.Set(c, lattice.Full); err != nil {
			t.Fatalf("set %s: %v", c, err)
		}
	}
	return l
}
