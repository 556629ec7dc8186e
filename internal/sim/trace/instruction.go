package trace

import (
	"fmt"

	"nanofab.ai/internal/sim/encoding"
)

type Op uint8

const (
	OpHalt Op = iota + 1
	OpWait
	OpFlip
	OpSMove
	OpLMove
	OpFission
	OpFill
	OpVoid
	OpGFill
	OpGVoid
	OpFusionP
	OpFusionS
)

var opNames = map[Op]string{
	OpHalt:    "Halt",
	OpWait:    "Wait",
	OpFlip:    "Flip",
	OpSMove:   "SMove",
	OpLMove:   "LMove",
	OpFission: "Fission",
	OpFill:    "Fill",
	OpVoid:    "Void",
	OpGFill:   "GFill",
	OpGVoid:   "GVoid",
	OpFusionP: "FusionP",
	OpFusionS: "FusionS",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Instruction is one decoded trace record. Only the operands used by Op are set:
// ND for Fill/Void/GFill/GVoid/Fission/FusionP/FusionS, LLD for SMove,
// SLD1/SLD2 for LMove, FD for GFill/GVoid and M for Fission.
type Instruction struct {
	Op   Op
	ND   encoding.Delta
	LLD  encoding.Delta
	SLD1 encoding.Delta
	SLD2 encoding.Delta
	FD   encoding.Delta
	M    int
}

func Halt() Instruction { return Instruction{Op: OpHalt} }
func Wait() Instruction { return Instruction{Op: OpWait} }
func Flip() Instruction { return Instruction{Op: OpFlip} }

func SMove(lld encoding.Delta) Instruction { return Instruction{Op: OpSMove, LLD: lld} }

func LMove(sld1, sld2 encoding.Delta) Instruction {
	return Instruction{Op: OpLMove, SLD1: sld1, SLD2: sld2}
}

func Fill(nd encoding.Delta) Instruction { return Instruction{Op: OpFill, ND: nd} }
func Void(nd encoding.Delta) Instruction { return Instruction{Op: OpVoid, ND: nd} }

func GFill(nd, fd encoding.Delta) Instruction { return Instruction{Op: OpGFill, ND: nd, FD: fd} }
func GVoid(nd, fd encoding.Delta) Instruction { return Instruction{Op: OpGVoid, ND: nd, FD: fd} }

func Fission(nd encoding.Delta, m int) Instruction {
	return Instruction{Op: OpFission, ND: nd, M: m}
}

func FusionP(nd encoding.Delta) Instruction { return Instruction{Op: OpFusionP, ND: nd} }
func FusionS(nd encoding.Delta) Instruction { return Instruction{Op: OpFusionS, ND: nd} }

func (in Instruction) String() string {
	switch in.Op {
	case OpHalt, OpWait, OpFlip:
		return in.Op.String()
	case OpSMove:
		return fmt.Sprintf("SMove %s", in.LLD)
	case OpLMove:
		return fmt.Sprintf("LMove %s %s", in.SLD1, in.SLD2)
	case OpFission:
		return fmt.Sprintf("Fission %s | %d", in.ND, in.M)
	case OpGFill, OpGVoid:
		return fmt.Sprintf("%s %s %s", in.Op, in.ND, in.FD)
	default:
		return fmt.Sprintf("%s %s", in.Op, in.ND)
	}
}

// Validate checks every operand against its delta kind.
func (in Instruction) Validate() error {
	bad := func(field string, d encoding.Delta) error {
		return &encoding.DecodeError{Field: field, Msg: fmt.Sprintf("%s: illegal %s", in.Op, d)}
	}
	switch in.Op {
	case OpHalt, OpWait, OpFlip:
		return nil
	case OpSMove:
		if !in.LLD.IsLongLinear() {
			return bad("lld", in.LLD)
		}
	case OpLMove:
		if !in.SLD1.IsShortLinear() {
			return bad("sld1", in.SLD1)
		}
		if !in.SLD2.IsShortLinear() {
			return bad("sld2", in.SLD2)
		}
	case OpFission:
		if !in.ND.IsNear() {
			return bad("nd", in.ND)
		}
		if in.M < 0 || in.M > 0xFF {
			return &encoding.DecodeError{Field: "m", Value: in.M, Msg: "seed count out of range"}
		}
	case OpFill, OpVoid, OpFusionP, OpFusionS:
		if !in.ND.IsNear() {
			return bad("nd", in.ND)
		}
	case OpGFill, OpGVoid:
		if !in.ND.IsNear() {
			return bad("nd", in.ND)
		}
		if !in.FD.IsFar() {
			return bad("fd", in.FD)
		}
	default:
		return &encoding.DecodeError{Field: "opcode", Value: int(in.Op), Msg: "unknown op"}
	}
	return nil
}
