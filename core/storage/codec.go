// Vector<->BLOB codec for embeddings stored as binary columns.
// Grounded on the teacher's archivalist embedding codec idiom:
// encoding/binary + math.Float32bits, one IEEE-754 float32 per 4 bytes,
// little-endian.
package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector packs a []float32 into a little-endian byte slice for
// storage in a BLOB/BYTEA column.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a byte slice produced by EncodeVector back into
// a []float32. Returns an error if the length is not a multiple of 4.
func DecodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("storage: vector blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v, nil
}
