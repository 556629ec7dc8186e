package lattice

import (
	"fmt"
	"os"
	"path/filepath"
)

// Target-model files: byte 0 is the resolution R, followed by R*R*R bits,
// least significant bit first, at bit offset 8 + x*R*R + y*R + z.

func DecodeModel(data []byte) (*Lattice, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("model: empty file")
	}
	r := int(data[0])
	l, err := New(r)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	want := modelSize(r)
	if len(data) < want {
		return nil, fmt.Errorf("model: truncated: got %d bytes want %d", len(data), want)
	}
	for i := range l.cells {
		bit := 8 + i
		if data[bit/8]&(1<<(bit%8)) != 0 {
			l.cells[i] = Full
			l.full++
		}
	}
	return l, nil
}

func EncodeModel(l *Lattice) []byte {
	out := make([]byte, modelSize(l.r))
	out[0] = byte(l.r)
	for i, c := range l.cells {
		if c != Full {
			continue
		}
		bit := 8 + i
		out[bit/8] |= 1 << (bit % 8)
	}
	return out
}

func ReadModel(path string) (*Lattice, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l, err := DecodeModel(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return l, nil
}

func WriteModel(path string, l *Lattice) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, EncodeModel(l), 0o644)
}

func modelSize(r int) int {
	bits := 8 + r*r*r
	return (bits + 7) / 8
}
