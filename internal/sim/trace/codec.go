package trace

import (
	"errors"
	"fmt"
	"io"

	"nanofab.ai/internal/sim/encoding"
)

const (
	byteHalt = 0b1111_1111
	byteWait = 0b1111_1110
	byteFlip = 0b1111_1101
)

// Opcode families selected by the low three bits of the first byte.
const (
	famGVoid   = 0b000
	famGFill   = 0b001
	famVoid    = 0b010
	famFill    = 0b011
	famMove    = 0b100
	famFission = 0b101
	famFusionS = 0b110
	famFusionP = 0b111
)

const (
	nibbleSMove = 0b0100
	nibbleLMove = 0b1100
)

// RecordError locates a decode failure in the byte stream.
type RecordError struct {
	Offset int
	Byte   byte
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("trace offset %d (0x%02x): %v", e.Offset, e.Byte, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Reader decodes instructions one record at a time.
type Reader struct {
	data []byte
	off  int
	n    int
}

func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Offset is the byte offset of the next record.
func (r *Reader) Offset() int { return r.off }

// Count is the number of records decoded so far.
func (r *Reader) Count() int { return r.n }

func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Next returns io.EOF once the stream is exhausted on a record boundary.
func (r *Reader) Next() (Instruction, error) {
	if r.off >= len(r.data) {
		return Instruction{}, io.EOF
	}
	in, size, err := decodeRecord(r.data[r.off:])
	if err != nil {
		return Instruction{}, &RecordError{Offset: r.off, Byte: r.data[r.off], Err: err}
	}
	r.off += size
	r.n++
	return in, nil
}

// Decode reads a complete trace.
func Decode(data []byte) ([]Instruction, error) {
	r := NewReader(data)
	var out []Instruction
	for {
		in, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, in)
	}
}

func need(b []byte, n int) error {
	if len(b) < n {
		return &encoding.DecodeError{Field: "record", Value: len(b), Msg: fmt.Sprintf("truncated, need %d bytes", n)}
	}
	return nil
}

func decodeRecord(b []byte) (Instruction, int, error) {
	switch b[0] {
	case byteHalt:
		return Halt(), 1, nil
	case byteWait:
		return Wait(), 1, nil
	case byteFlip:
		return Flip(), 1, nil
	}

	first := b[0]
	fam := first & 0b111
	if fam == famMove {
		return decodeMove(b)
	}

	nd, err := encoding.DecodeNear(first >> 3)
	if err != nil {
		return Instruction{}, 0, err
	}
	switch fam {
	case famGVoid, famGFill:
		if err := need(b, 4); err != nil {
			return Instruction{}, 0, err
		}
		fd, err := encoding.DecodeFar(b[1], b[2], b[3])
		if err != nil {
			return Instruction{}, 0, err
		}
		if fam == famGFill {
			return GFill(nd, fd), 4, nil
		}
		return GVoid(nd, fd), 4, nil
	case famVoid:
		return Void(nd), 1, nil
	case famFill:
		return Fill(nd), 1, nil
	case famFission:
		if err := need(b, 2); err != nil {
			return Instruction{}, 0, err
		}
		return Fission(nd, int(b[1])), 2, nil
	case famFusionS:
		return FusionS(nd), 1, nil
	default:
		return FusionP(nd), 1, nil
	}
}

func decodeMove(b []byte) (Instruction, int, error) {
	if err := need(b, 2); err != nil {
		return Instruction{}, 0, err
	}
	first, second := b[0], b[1]
	switch first & 0x0F {
	case nibbleSMove:
		if first>>6 != 0 || second>>5 != 0 {
			return Instruction{}, 0, &encoding.DecodeError{Field: "smove", Value: int(second), Msg: "reserved bits set"}
		}
		lld, err := encoding.DecodeLongLinear((first>>4)&0b11, second&0x1F)
		if err != nil {
			return Instruction{}, 0, err
		}
		return SMove(lld), 2, nil
	case nibbleLMove:
		sld1, err := encoding.DecodeShortLinear((first>>4)&0b11, second&0x0F)
		if err != nil {
			return Instruction{}, 0, err
		}
		sld2, err := encoding.DecodeShortLinear(first>>6, second>>4)
		if err != nil {
			return Instruction{}, 0, err
		}
		return LMove(sld1, sld2), 2, nil
	default:
		return Instruction{}, 0, &encoding.DecodeError{Field: "opcode", Value: int(first), Msg: "unknown move pattern"}
	}
}

// Append encodes in onto buf.
func Append(buf []byte, in Instruction) ([]byte, error) {
	if err := in.Validate(); err != nil {
		return buf, err
	}
	switch in.Op {
	case OpHalt:
		return append(buf, byteHalt), nil
	case OpWait:
		return append(buf, byteWait), nil
	case OpFlip:
		return append(buf, byteFlip), nil
	case OpSMove:
		a, i, err := encoding.EncodeLongLinear(in.LLD)
		if err != nil {
			return buf, err
		}
		return append(buf, a<<4|nibbleSMove, i), nil
	case OpLMove:
		a1, i1, err := encoding.EncodeShortLinear(in.SLD1)
		if err != nil {
			return buf, err
		}
		a2, i2, err := encoding.EncodeShortLinear(in.SLD2)
		if err != nil {
			return buf, err
		}
		return append(buf, a2<<6|a1<<4|nibbleLMove, i2<<4|i1), nil
	}

	nd, err := encoding.EncodeNear(in.ND)
	if err != nil {
		return buf, err
	}
	switch in.Op {
	case OpGFill, OpGVoid:
		fd, err := encoding.EncodeFar(in.FD)
		if err != nil {
			return buf, err
		}
		fam := byte(famGVoid)
		if in.Op == OpGFill {
			fam = famGFill
		}
		return append(buf, nd<<3|fam, fd[0], fd[1], fd[2]), nil
	case OpVoid:
		return append(buf, nd<<3|famVoid), nil
	case OpFill:
		return append(buf, nd<<3|famFill), nil
	case OpFission:
		return append(buf, nd<<3|famFission, byte(in.M)), nil
	case OpFusionS:
		return append(buf, nd<<3|famFusionS), nil
	default:
		return append(buf, nd<<3|famFusionP), nil
	}
}

func Encode(ins []Instruction) ([]byte, error) {
	buf := make([]byte, 0, len(ins)*2)
	for i, in := range ins {
		var err error
		buf, err = Append(buf, in)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, in, err)
		}
	}
	return buf, nil
}

// EncodedLen is the wire size of an instruction.
func EncodedLen(op Op) int {
	switch op {
	case OpSMove, OpLMove, OpFission:
		return 2
	case OpGFill, OpGVoid:
		return 4
	default:
		return 1
	}
}
