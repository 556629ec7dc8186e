package trace

import (
	"fmt"
	"io"
	"strings"
)

const reprPerLine = 5

// Repr renders instructions five per line, each padded to 20 columns and
// joined by " => ".
func Repr(ins []Instruction) string {
	var sb strings.Builder
	_ = WriteRepr(&sb, ins)
	return strings.TrimSuffix(sb.String(), "\n")
}

func WriteRepr(w io.Writer, ins []Instruction) error {
	for i := 0; i < len(ins); i += reprPerLine {
		end := min(i+reprPerLine, len(ins))
		parts := make([]string, 0, end-i)
		for _, in := range ins[i:end] {
			parts = append(parts, fmt.Sprintf("%-20s", in.String()))
		}
		if _, err := fmt.Fprintln(w, strings.Join(parts, " => ")); err != nil {
			return err
		}
	}
	return nil
}
