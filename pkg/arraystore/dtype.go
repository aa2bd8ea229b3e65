package arraystore

import (
	"encoding/binary"
	"math"

	"github.com/chunklab/chunkbench/pkg/errors"
)

// DType identifies a fixed-width numeric element type. All multi-byte values
// are stored little-endian.
type DType string

const (
	Uint16  DType = "uint16"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Size returns the element width in bytes, or 0 for an unknown type.
func (d DType) Size() int {
	switch d {
	case Uint16, Int16:
		return 2
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// Valid reports whether d is a supported element type.
func (d DType) Valid() bool { return d.Size() > 0 }

func (d DType) validate() error {
	if !d.Valid() {
		return errors.Newf(errors.ErrorTypeData, "unsupported element type %q", string(d))
	}
	return nil
}

// PackUint16 encodes values into a little-endian byte buffer.
func PackUint16(values []uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], v)
	}
	return out
}

// UnpackUint16 decodes a little-endian byte buffer.
func UnpackUint16(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return out
}

// PackInt32 encodes values into a little-endian byte buffer.
func PackInt32(values []int32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(v))
	}
	return out
}

// UnpackInt32 decodes a little-endian byte buffer.
func UnpackInt32(data []byte) []int32 {
	out := make([]int32, len(data)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out
}

// PackFloat64 encodes values into a little-endian byte buffer.
func PackFloat64(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

// UnpackFloat64 decodes a little-endian byte buffer.
func UnpackFloat64(data []byte) []float64 {
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return out
}
