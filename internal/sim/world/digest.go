package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// StateDigest hashes everything a committed round can change. Two worlds with
// equal digests are indistinguishable to later rounds.
func (w *World) StateDigest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, w.round)
	h.Write([]byte{byte(w.harmonics), byte(w.status)})
	digestWriteI64(h, &tmp, w.energy)

	digestWriteU64(h, &tmp, uint64(len(w.bots)))
	for _, b := range w.bots {
		digestWriteI64(h, &tmp, int64(b.ID))
		digestWriteI64(h, &tmp, int64(b.Pos.X))
		digestWriteI64(h, &tmp, int64(b.Pos.Y))
		digestWriteI64(h, &tmp, int64(b.Pos.Z))
		digestWriteU64(h, &tmp, uint64(len(b.Seeds)))
		for _, s := range b.Seeds {
			digestWriteI64(h, &tmp, int64(s))
		}
	}

	ld := w.matrix.Digest()
	h.Write(ld[:])
	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}
