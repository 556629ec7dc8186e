package encoding

import "fmt"

const (
	ShortLinearMax = 5
	LongLinearMax  = 15
	FarMax         = 30
)

// Delta is a coordinate difference. It carries no position.
type Delta struct {
	DX int
	DY int
	DZ int
}

func (d Delta) String() string { return fmt.Sprintf("<%d, %d, %d>", d.DX, d.DY, d.DZ) }

func (d Delta) IsZero() bool { return d.DX == 0 && d.DY == 0 && d.DZ == 0 }

// MLen is the Manhattan length.
func (d Delta) MLen() int { return abs(d.DX) + abs(d.DY) + abs(d.DZ) }

// CLen is the Chebyshev length.
func (d Delta) CLen() int { return max(abs(d.DX), abs(d.DY), abs(d.DZ)) }

func (d Delta) Neg() Delta { return Delta{-d.DX, -d.DY, -d.DZ} }

func (d Delta) IsNear() bool {
	m := d.MLen()
	return d.CLen() == 1 && m >= 1 && m <= 2
}

func (d Delta) isLinear() bool {
	nz := 0
	for _, v := range [3]int{d.DX, d.DY, d.DZ} {
		if v != 0 {
			nz++
		}
	}
	return nz == 1
}

func (d Delta) IsShortLinear() bool { return d.isLinear() && d.MLen() <= ShortLinearMax }

func (d Delta) IsLongLinear() bool { return d.isLinear() && d.MLen() <= LongLinearMax }

func (d Delta) IsFar() bool {
	return abs(d.DX) <= FarMax && abs(d.DY) <= FarMax && abs(d.DZ) <= FarMax
}

// DecodeError reports an operand encoding outside its kind's legal range.
type DecodeError struct {
	Field string
	Value int
	Msg   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s (value %d)", e.Field, e.Msg, e.Value)
}

func decodeErr(field string, v int, msg string) error {
	return &DecodeError{Field: field, Value: v, Msg: msg}
}

// DecodeNear reads a 5-bit base-3 near delta, x digit most significant.
func DecodeNear(b uint8) (Delta, error) {
	if b >= 27 {
		return Delta{}, decodeErr("nd", int(b), "out of range")
	}
	v := int(b)
	d := Delta{
		DX: v/9 - 1,
		DY: (v/3)%3 - 1,
		DZ: v%3 - 1,
	}
	if !d.IsNear() {
		return Delta{}, decodeErr("nd", int(b), "not a near delta")
	}
	return d, nil
}

func EncodeNear(d Delta) (uint8, error) {
	if !d.IsNear() {
		return 0, decodeErr("nd", 0, fmt.Sprintf("%s is not a near delta", d))
	}
	return uint8((d.DX+1)*9 + (d.DY+1)*3 + (d.DZ + 1)), nil
}

// DecodeLinear maps axis 1/2/3 to x/y/z and mag-max to the signed component.
func DecodeLinear(axis, mag uint8, maxLen int) (Delta, error) {
	if int(mag) > 2*maxLen {
		return Delta{}, decodeErr("linear.magnitude", int(mag), fmt.Sprintf("exceeds %d", 2*maxLen))
	}
	v := int(mag) - maxLen
	if v == 0 {
		return Delta{}, decodeErr("linear.magnitude", int(mag), "zero length")
	}
	switch axis {
	case 1:
		return Delta{DX: v}, nil
	case 2:
		return Delta{DY: v}, nil
	case 3:
		return Delta{DZ: v}, nil
	default:
		return Delta{}, decodeErr("linear.axis", int(axis), "invalid axis")
	}
}

// EncodeLinear is the inverse of DecodeLinear.
func EncodeLinear(d Delta, maxLen int) (axis, mag uint8, err error) {
	if !d.isLinear() || d.MLen() > maxLen {
		return 0, 0, decodeErr("linear", maxLen, fmt.Sprintf("%s is not a linear delta", d))
	}
	switch {
	case d.DX != 0:
		return 1, uint8(d.DX + maxLen), nil
	case d.DY != 0:
		return 2, uint8(d.DY + maxLen), nil
	default:
		return 3, uint8(d.DZ + maxLen), nil
	}
}

func DecodeShortLinear(axis, mag uint8) (Delta, error) {
	return DecodeLinear(axis, mag, ShortLinearMax)
}

func DecodeLongLinear(axis, mag uint8) (Delta, error) {
	return DecodeLinear(axis, mag, LongLinearMax)
}

func EncodeShortLinear(d Delta) (uint8, uint8, error) { return EncodeLinear(d, ShortLinearMax) }

func EncodeLongLinear(d Delta) (uint8, uint8, error) { return EncodeLinear(d, LongLinearMax) }

func DecodeFar(bx, by, bz uint8) (Delta, error) {
	for _, b := range [3]uint8{bx, by, bz} {
		if b > 2*FarMax {
			return Delta{}, decodeErr("fd", int(b), "out of range")
		}
	}
	return Delta{DX: int(bx) - FarMax, DY: int(by) - FarMax, DZ: int(bz) - FarMax}, nil
}

func EncodeFar(d Delta) ([3]uint8, error) {
	if !d.IsFar() {
		return [3]uint8{}, decodeErr("fd", 0, fmt.Sprintf("%s is not a far delta", d))
	}
	return [3]uint8{uint8(d.DX + FarMax), uint8(d.DY + FarMax), uint8(d.DZ + FarMax)}, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
