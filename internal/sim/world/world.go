package world

import (
	"fmt"

	"nanofab.ai/internal/sim/lattice"
	"nanofab.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID         string
	Resolution int

	// Source is the initial lattice; nil starts from an all-Void lattice.
	Source *lattice.Lattice
	// Target is the model a solution must reproduce; nil means all-Void.
	Target *lattice.Lattice

	Tuning tuning.Tuning
}

type Harmonics uint8

const (
	Low Harmonics = iota
	High
)

func (h Harmonics) String() string {
	if h == High {
		return "High"
	}
	return "Low"
}

func (h Harmonics) flip() Harmonics {
	if h == High {
		return Low
	}
	return High
}

type Status uint8

const (
	Running Status = iota
	Halted
	Failed
)

func (s Status) String() string {
	switch s {
	case Halted:
		return "Halted"
	case Failed:
		return "Failed"
	default:
		return "Running"
	}
}

// World is the single-threaded system state: harmonics, energy, bots and the
// lattice. All mutation happens inside Step.
type World struct {
	cfg  WorldConfig
	tune tuning.Tuning

	matrix *lattice.Lattice
	target *lattice.Lattice

	harmonics Harmonics
	energy    int64
	bots      []*Bot

	round   uint64
	status  Status
	failure *RunError

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	roundLogger RoundLogger
	auditLogger AuditLogger
	roundSink   chan<- RoundLogEntry
}

type RoundLogger interface {
	WriteRound(entry RoundLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// RoundLogEntry is one committed round. Wire holds the encoded instruction so
// the round can be replayed without the original trace file.
type RoundLogEntry struct {
	WorldID      string                `json:"world_id,omitempty"`
	Round        uint64                `json:"round"`
	Instructions []RecordedInstruction `json:"instructions"`
	Energy       int64                 `json:"energy"`
	Harmonics    string                `json:"harmonics"`
	Bots         int                   `json:"bots"`
	FullCells    int                   `json:"full_cells"`
	Cells        []CellDelta           `json:"cells,omitempty"`
	Halted       bool                  `json:"halted,omitempty"`
	Digest       string                `json:"digest"`
}

// CellDelta is one cell whose value changed during a round.
type CellDelta struct {
	Pos  [3]int `json:"pos"`
	Full bool   `json:"full"`
}

type RecordedInstruction struct {
	BotID int    `json:"bot_id"`
	Text  string `json:"text"`
	Wire  []byte `json:"wire"`
}

type AuditEntry struct {
	WorldID string `json:"world_id,omitempty"`
	Round   uint64 `json:"round"`
	BotID   int    `json:"bot_id"`
	Action  string `json:"action"` // FILL or VOID
	Pos     [3]int `json:"pos"`
	From    uint8  `json:"from"`
	To      uint8  `json:"to"`
}

func New(cfg WorldConfig) (*World, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	var matrix *lattice.Lattice
	if cfg.Source != nil {
		if cfg.Resolution != 0 && cfg.Resolution != cfg.Source.Resolution() {
			return nil, fmt.Errorf("source resolution %d does not match %d", cfg.Source.Resolution(), cfg.Resolution)
		}
		matrix = cfg.Source.Clone()
	} else {
		var err error
		if matrix, err = lattice.New(cfg.Resolution); err != nil {
			return nil, err
		}
	}
	cfg.Resolution = matrix.Resolution()

	target := cfg.Target
	if target == nil {
		target, _ = lattice.New(cfg.Resolution)
	} else if target.Resolution() != cfg.Resolution {
		return nil, fmt.Errorf("target resolution %d does not match %d", target.Resolution(), cfg.Resolution)
	}

	w := &World{
		cfg:       cfg,
		tune:      cfg.Tuning,
		matrix:    matrix,
		target:    target,
		harmonics: Low,
		bots:      []*Bot{newInitialBot(cfg.Tuning.SeedCount)},
	}
	return w, nil
}

func (w *World) SetRoundLogger(l RoundLogger) { w.roundLogger = l }
func (w *World) SetAuditLogger(l AuditLogger) { w.auditLogger = l }

// SetRoundSink registers a channel that receives every committed round. Sends
// never block; entries are dropped while the channel is full.
func (w *World) SetRoundSink(ch chan<- RoundLogEntry) { w.roundSink = ch }

func (w *World) Config() WorldConfig       { return w.cfg }
func (w *World) Tuning() tuning.Tuning     { return w.tune }
func (w *World) Round() uint64             { return w.round }
func (w *World) Energy() int64             { return w.energy }
func (w *World) Harmonics() Harmonics      { return w.harmonics }
func (w *World) Status() Status            { return w.status }
func (w *World) Resolution() int           { return w.matrix.Resolution() }
func (w *World) Target() *lattice.Lattice  { return w.target }
func (w *World) Failure() *RunError        { return w.failure }
func (w *World) ActiveBots() int           { return len(w.bots) }
func (w *World) Lattice() *lattice.Lattice { return w.matrix.Clone() }

func (w *World) Cell(c lattice.Coord) (lattice.Cell, error) { return w.matrix.Get(c) }

// Bots returns copies of the live bots in ascending id order.
func (w *World) Bots() []Bot {
	out := make([]Bot, 0, len(w.bots))
	for _, b := range w.bots {
		out = append(out, b.clone())
	}
	return out
}

// charge adds amount to the ledger; negative amounts are refunds.
func (w *World) charge(amount int64) { w.energy += amount }

// IsWellFormed checks the structural invariants that must hold between rounds.
func (w *World) IsWellFormed() bool {
	if w.harmonics == Low && !w.matrix.IsGrounded() {
		return false
	}
	seen := map[lattice.Coord]bool{}
	for _, b := range w.bots {
		if !w.matrix.InBounds(b.Pos) || w.matrix.IsFull(b.Pos) || seen[b.Pos] {
			return false
		}
		seen[b.Pos] = true
	}
	return w.seedsConserved()
}

// canHalt is the Halt precondition; it is separate from IsSolution.
func (w *World) canHalt() error {
	switch {
	case len(w.bots) != 1:
		return fmt.Errorf("%d active bots, want exactly 1", len(w.bots))
	case !w.bots[0].Pos.IsOrigin():
		return fmt.Errorf("bot at %s, not at origin", w.bots[0].Pos)
	case w.harmonics != Low:
		return fmt.Errorf("harmonics %s, want Low", w.harmonics)
	case !w.matrix.IsGrounded():
		return fmt.Errorf("lattice not grounded")
	}
	return nil
}

// IsSolution reports whether the current state is an accepted solution:
// harmonics Low, no live bots and the lattice equal to the target.
func (w *World) IsSolution() bool {
	return w.harmonics == Low && len(w.bots) == 0 && w.matrix.Matches(w.target)
}
