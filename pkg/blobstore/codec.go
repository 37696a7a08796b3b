package blobstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFloats converts a float32 vector into its little-endian byte
// payload. Unlike a general-purpose serialization format this carries no
// length prefix: the blob handle already records the payload's byte
// length, and the caller's dimensionality is assumed uniform across a
// relation (spec §3).
func EncodeFloats(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeFloats is the inverse of EncodeFloats.
func DecodeFloats(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("blobstore: payload length %d is not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// ValidateFloats rejects NaN and infinite components, the two values that
// would silently poison every downstream distance computation.
func ValidateFloats(vec []float32) error {
	for _, v := range vec {
		if v != v || math.IsInf(float64(v), 0) {
			return fmt.Errorf("blobstore: vector contains NaN or Inf")
		}
	}
	return nil
}
