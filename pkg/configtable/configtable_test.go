package configtable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/codec"
	"github.com/chunklab/chunkbench/pkg/errors"
)

func TestParseCodecFamilies(t *testing.T) {
	tests := []struct {
		name string
		line string
		want codec.Spec
	}{
		{
			name: "gzip takes its level from the last field",
			line: "64,128,128 gzip NA 0 4",
			want: codec.Gzip{Level: 4},
		},
		{
			name: "lz4 takes its level from the last field",
			line: "none lz4 32004 0 5",
			want: codec.LZ4{Level: 5},
		},
		{
			name: "zstd takes its level from the last field",
			line: "true zstd 32015 0 7",
			want: codec.Zstd{Level: 7},
		},
		{
			name: "zfp takes its precision from the first parameter",
			line: "auto zfp 32013 16 0",
			want: codec.ZFP{Precision: 16},
		},
		{
			name: "blosc takes level then shuffle",
			line: "true blosc-zstd 32004 5 3",
			want: codec.Blosc{Variant: "blosc-zstd", Level: 5, Shuffle: 3},
		},
		{
			name: "NA codec means no compression",
			line: "none NA NA 0 0",
			want: codec.Raw{},
		},
		{
			name: "unknown codec is recorded by identity",
			line: "true bitshuffle 32008 0 0",
			want: codec.External{CodecName: "bitshuffle", ID: 32008},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := Parse(tt.line, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sc.Codec)
		})
	}
}

func TestParseExplicitFilterID(t *testing.T) {
	// A row may pin an explicit filter id that differs from the family
	// default; the id column is authoritative.
	sc, err := Parse("true blosc-zstd 32004 5 3", 0)
	require.NoError(t, err)
	assert.Equal(t, 32004, sc.FilterID)

	st := sc.Codec.Stored(sc.FilterID)
	assert.Equal(t, 32004, st.FilterID)
	assert.Equal(t, []int{0, 0, 0, 0, 3, 0, 5}, st.Params)
}

func TestParseChunkSpec(t *testing.T) {
	tests := []struct {
		field  string
		mode   arraystore.ChunkMode
		chunks []int
	}{
		{"none", arraystore.ChunkNone, nil},
		{"true", arraystore.ChunkAuto, nil},
		{"auto", arraystore.ChunkAuto, nil},
		{"64,128,128", arraystore.ChunkExplicit, []int{64, 128, 128}},
		{"1000,512,512", arraystore.ChunkExplicit, []int{1000, 512, 512}},
	}
	for _, tt := range tests {
		sc, err := Parse(tt.field+" gzip NA 0 4", 0)
		require.NoError(t, err, tt.field)
		assert.Equal(t, tt.mode, sc.Mode, tt.field)
		assert.Equal(t, tt.chunks, sc.Chunks, tt.field)
	}

	_, err := Parse("64,x,128 gzip NA 0 4", 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestParseLeadingIndex(t *testing.T) {
	sc, err := Parse("2 64,128,128 gzip NA 0 4", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, sc.Line)

	_, err = Parse("3 64,128,128 gzip NA 0 4", 2)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "does not match line number")
}

func TestParseArity(t *testing.T) {
	_, err := Parse("64,128,128 gzip NA 0", 7)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "line 7")
	assert.Contains(t, err.Error(), "exactly 5 parameters")

	// A six-field row whose first token is not an index is still an arity
	// problem, not an index problem.
	_, err = Parse("64,128,128 gzip NA 0 4 junk", 7)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "exactly 5 parameters")
	assert.Contains(t, err.Error(), "got 6")
}

func TestLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configs.txt")
	table := "none NA NA 0 0\n" +
		"true gzip NA 0 4\n" +
		"64,128,128 blosc-zstd 32001 5 1\n"
	require.NoError(t, os.WriteFile(path, []byte(table), 0644))

	sc, err := Lookup(path, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, sc.Line)
	assert.Equal(t, []int{64, 128, 128}, sc.Chunks)
	assert.Equal(t, codec.Blosc{Variant: "blosc-zstd", Level: 5, Shuffle: 1}, sc.Codec)

	_, err = Lookup(path, 3)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = Lookup(filepath.Join(dir, "missing.txt"), 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}
