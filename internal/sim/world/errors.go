package world

import (
	"errors"
	"fmt"

	"nanofab.ai/internal/protocol"
)

// Kind classifies a fatal run error.
type Kind uint8

const (
	KindDecode Kind = iota + 1
	KindBounds
	KindVolatileConflict
	KindUnmatchedFusion
	KindEmptySeedPool
	KindStructuralCollapse
	KindTraceUnderrun
	KindIncompleteTrace
	KindIllegalHalt
	KindPathBlocked
	KindTrailingInstructions
	KindRoundLimit
)

var kindInfo = map[Kind]struct{ name, code string }{
	KindDecode:               {"DecodeError", protocol.ErrDecode},
	KindBounds:               {"BoundsError", protocol.ErrBounds},
	KindVolatileConflict:     {"VolatileConflict", protocol.ErrVolatileConflict},
	KindUnmatchedFusion:      {"UnmatchedFusion", protocol.ErrUnmatchedFusion},
	KindEmptySeedPool:        {"EmptySeedPool", protocol.ErrEmptySeedPool},
	KindStructuralCollapse:   {"StructuralCollapse", protocol.ErrStructuralCollapse},
	KindTraceUnderrun:        {"TraceUnderrun", protocol.ErrTraceUnderrun},
	KindIncompleteTrace:      {"IncompleteTrace", protocol.ErrIncompleteTrace},
	KindIllegalHalt:          {"IllegalHalt", protocol.ErrIllegalHalt},
	KindPathBlocked:          {"PathBlocked", protocol.ErrPathBlocked},
	KindTrailingInstructions: {"TrailingInstructions", protocol.ErrTrailingInstructions},
	KindRoundLimit:           {"RoundLimit", protocol.ErrRoundLimit},
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Code is the stable protocol error code for k.
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return protocol.ErrInternal
}

// RunError is the first violated invariant of a run. State is left as of the
// last committed round.
type RunError struct {
	Kind  Kind
	Round uint64
	BotID int
	Err   error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("round %d: %s", e.Round, e.Kind)
	if e.BotID != 0 {
		msg += fmt.Sprintf(" (bot %d)", e.BotID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// Is matches another *RunError of the same Kind, so errors.Is(err,
// &RunError{Kind: KindIllegalHalt}) works without comparing rounds.
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	return ok && t.Kind == e.Kind && t.Round == 0 && t.BotID == 0 && t.Err == nil
}

// KindOf returns the Kind carried by err, or 0.
func KindOf(err error) Kind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

func (w *World) fail(kind Kind, botID int, format string, args ...any) *RunError {
	return &RunError{Kind: kind, Round: w.round, BotID: botID, Err: fmt.Errorf(format, args...)}
}

func (w *World) wrap(kind Kind, botID int, err error) *RunError {
	return &RunError{Kind: kind, Round: w.round, BotID: botID, Err: err}
}
