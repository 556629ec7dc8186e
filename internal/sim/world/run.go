package world

import (
	"errors"
	"io"

	"nanofab.ai/internal/sim/trace"
)

// InstructionSource yields instructions in trace order and io.EOF at the end.
// *trace.Reader satisfies it.
type InstructionSource interface {
	Next() (trace.Instruction, error)
}

type sliceSource struct {
	ins []trace.Instruction
	i   int
}

func (s *sliceSource) Next() (trace.Instruction, error) {
	if s.i >= len(s.ins) {
		return trace.Instruction{}, io.EOF
	}
	in := s.ins[s.i]
	s.i++
	return in, nil
}

// Instructions adapts an already decoded trace.
func Instructions(ins []trace.Instruction) InstructionSource {
	return &sliceSource{ins: ins}
}

// Result is the outcome of a run. Halted and Solution are separate
// predicates: a legal Halt does not imply the target was reproduced.
type Result struct {
	Rounds   uint64
	Energy   int64
	Halted   bool
	Solution bool
	Err      *RunError
}

// Run feeds src to the world round by round until Halt commits or the run
// fails.
func (w *World) Run(src InstructionSource) Result {
	for w.status == Running {
		batch, err := w.nextBatch(src)
		if err != nil {
			_ = w.abort(err)
			break
		}
		if err := w.Step(batch); err != nil {
			break
		}
	}
	if w.status == Halted && w.failure == nil {
		if _, err := src.Next(); !errors.Is(err, io.EOF) {
			_ = w.abort(w.fail(KindTrailingInstructions, 0, "trace continues after Halt"))
		}
	}
	return w.Result()
}

func (w *World) nextBatch(src InstructionSource) ([]trace.Instruction, error) {
	w.sortBots()
	batch := make([]trace.Instruction, 0, len(w.bots))
	for len(batch) < len(w.bots) {
		botID := w.bots[len(batch)].ID
		in, err := src.Next()
		if errors.Is(err, io.EOF) {
			if len(batch) == 0 {
				return nil, w.fail(KindIncompleteTrace, 0, "trace ended without Halt")
			}
			return nil, w.fail(KindTraceUnderrun, botID, "trace ended after %d of %d instructions", len(batch), len(w.bots))
		}
		if err != nil {
			return nil, w.wrap(KindDecode, botID, err)
		}
		batch = append(batch, in)
	}
	return batch, nil
}

// Result reports the current outcome without advancing the world.
func (w *World) Result() Result {
	res := Result{
		Rounds: w.round,
		Energy: w.energy,
		Halted: w.status == Halted,
		Err:    w.failure,
	}
	res.Solution = res.Halted && w.failure == nil && w.IsSolution()
	return res
}
