package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunklab/chunkbench/pkg/errors"
)

// chunkPayload builds a compressible chunk of 2-byte elements.
func chunkPayload(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	out := make([]byte, 2*n)
	v := uint16(0)
	for i := 0; i < n; i++ {
		v += uint16(rng.Intn(7))
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

func TestCompressorRoundTrips(t *testing.T) {
	payload := chunkPayload(50_000, 1)

	specs := []Spec{
		Raw{},
		Gzip{Level: 4},
		Gzip{Level: -7}, // out of range, falls back to default
		LZ4{Level: 5},
		Zstd{Level: 3},
		Blosc{Variant: BloscZstd, Level: 5, Shuffle: 1},
		Blosc{Variant: BloscLZ4, Level: 5, Shuffle: 0},
		Blosc{Variant: BloscLZ4HC, Level: 9, Shuffle: 1},
		Blosc{Variant: BloscBloscLZ, Level: 5, Shuffle: 2},
	}

	for _, spec := range specs {
		t.Run(spec.Name(), func(t *testing.T) {
			c, err := NewCompressor(spec, 2)
			require.NoError(t, err)

			enc, err := c.Encode(payload)
			require.NoError(t, err)

			dec, err := c.Decode(enc, len(payload))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, dec))
		})
	}
}

func TestGzipLevelZeroStoresRaw(t *testing.T) {
	payload := chunkPayload(20_000, 3)

	stored, err := NewCompressor(Gzip{Level: 0}, 2)
	require.NoError(t, err)
	deflated, err := NewCompressor(Gzip{Level: 6}, 2)
	require.NoError(t, err)

	encStored, err := stored.Encode(payload)
	require.NoError(t, err)
	encDeflated, err := deflated.Encode(payload)
	require.NoError(t, err)

	// Level 0 wraps the chunk in stored blocks without compressing it.
	assert.Greater(t, len(encStored), len(payload))
	assert.Less(t, len(encDeflated), len(encStored))

	dec, err := stored.Decode(encStored, len(payload))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, dec))
}

func TestCompressorReuse(t *testing.T) {
	// Pooled encoder state must not leak between chunks.
	c, err := NewCompressor(Zstd{Level: 3}, 2)
	require.NoError(t, err)

	for i := int64(0); i < 5; i++ {
		payload := chunkPayload(10_000, i)
		enc, err := c.Encode(payload)
		require.NoError(t, err)
		dec, err := c.Decode(enc, len(payload))
		require.NoError(t, err)
		require.True(t, bytes.Equal(payload, dec))
	}
}

func TestUnrealizableCodecs(t *testing.T) {
	_, err := NewCompressor(ZFP{Precision: 16}, 2)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCodec))

	_, err = NewCompressor(External{CodecName: "mystery", ID: 40000}, 2)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCodec))
}

func TestShuffleBytes(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	shuffled := shuffleBytes(src, 2)
	assert.Equal(t, []byte{1, 3, 5, 7, 2, 4, 6, 8}, shuffled)
	assert.Equal(t, src, unshuffleBytes(shuffled, 2))

	// Uneven lengths pass through untouched.
	odd := []byte{1, 2, 3}
	assert.Equal(t, odd, shuffleBytes(odd, 2))
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	c, err := NewCompressor(Gzip{Level: 4}, 2)
	require.NoError(t, err)

	payload := chunkPayload(1000, 2)
	enc, err := c.Encode(payload)
	require.NoError(t, err)

	// Claim a shorter decoded size than the stream holds.
	_, err = c.Decode(enc, len(payload)-2)
	require.Error(t, err)
}
