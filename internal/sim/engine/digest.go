package engine

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"lukechampine.com/blake3"
)

// Digest hashes a snapshot in ascending unit id order. Two snapshots with the
// same tick and unit set always produce the same digest.
func Digest(s Snapshot) string {
	h := blake3.New(32, nil)
	var tmp [8]byte

	writeU64(h, &tmp, s.tick)
	writeU64(h, &tmp, uint64(len(s.units)))
	for _, id := range s.IDs() {
		u := s.units[id]
		writeU64(h, &tmp, uint64(len(id)))
		h.Write([]byte(id))
		writeF64(h, &tmp, u.Position.X)
		writeF64(h, &tmp, u.Position.Y)
		writeF64(h, &tmp, u.Destination.X)
		writeF64(h, &tmp, u.Destination.Y)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

func writeU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func writeF64(h hashWriter, tmp *[8]byte, v float64) {
	writeU64(h, tmp, math.Float64bits(v))
}
