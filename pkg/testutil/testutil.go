// Package testutil provides testing utilities for chunkbench
package testutil

import (
	"math/rand"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/chunklab/chunkbench/pkg/arraystore"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// Ramp returns n little-endian uint16 elements following a deterministic
// ramp, used as synthetic frame data in package tests.
func Ramp(n int) []byte {
	values := make([]uint16, n)
	for i := range values {
		values[i] = uint16(i % 4096)
	}
	return arraystore.PackUint16(values)
}

// Noise returns n little-endian uint16 elements drawn from seed, for data
// that should not compress to nothing.
func Noise(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	values := make([]uint16, n)
	for i := range values {
		values[i] = uint16(rng.Intn(1 << 16))
	}
	return arraystore.PackUint16(values)
}
