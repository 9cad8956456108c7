package gpuflow

import (
	"encoding/binary"
	"math"
)

// Float32Bytes encodes v as little-endian bytes for CreateBufferInit.
func Float32Bytes(v ...float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// Uint32Bytes encodes v as little-endian bytes.
func Uint32Bytes(v ...uint32) []byte {
	out := make([]byte, 4*len(v))
	for i, u := range v {
		binary.LittleEndian.PutUint32(out[i*4:], u)
	}
	return out
}
