package protocol

const (
	// Trace and operand decoding.
	ErrDecode = "E_DECODE"
	ErrBounds = "E_BOUNDS"

	// Round interference.
	ErrVolatileConflict = "E_VOLATILE_CONFLICT"
	ErrUnmatchedFusion  = "E_UNMATCHED_FUSION"
	ErrPathBlocked      = "E_PATH_BLOCKED"

	// Agent lifecycle and structure.
	ErrEmptySeedPool      = "E_EMPTY_SEED_POOL"
	ErrStructuralCollapse = "E_STRUCTURAL_COLLAPSE"
	ErrIllegalHalt        = "E_ILLEGAL_HALT"

	// Trace shape.
	ErrTraceUnderrun        = "E_TRACE_UNDERRUN"
	ErrIncompleteTrace      = "E_INCOMPLETE_TRACE"
	ErrTrailingInstructions = "E_TRAILING_INSTRUCTIONS"
	ErrRoundLimit           = "E_ROUND_LIMIT"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrDecode:               {},
	ErrBounds:               {},
	ErrVolatileConflict:     {},
	ErrUnmatchedFusion:      {},
	ErrPathBlocked:          {},
	ErrEmptySeedPool:        {},
	ErrStructuralCollapse:   {},
	ErrIllegalHalt:          {},
	ErrTraceUnderrun:        {},
	ErrIncompleteTrace:      {},
	ErrTrailingInstructions: {},
	ErrRoundLimit:           {},
	ErrInternal:             {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
