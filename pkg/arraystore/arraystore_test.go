package arraystore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunklab/chunkbench/pkg/codec"
	"github.com/chunklab/chunkbench/pkg/errors"
)

// memSource is an in-memory ChunkSource yielding bufFrames frames per buffer.
type memSource struct {
	data      []byte
	shape     []int
	dtype     DType
	bufFrames int
	pos       int
}

func (s *memSource) MaxShape() []int { return s.shape }
func (s *memSource) DType() DType    { return s.dtype }

func (s *memSource) Next() (*Buffer, error) {
	if s.pos >= s.shape[0] {
		return nil, io.EOF
	}
	frames := s.bufFrames
	if s.pos+frames > s.shape[0] {
		frames = s.shape[0] - s.pos
	}
	frameBytes := len(s.data) / s.shape[0]
	buf := &Buffer{
		Data:   s.data[s.pos*frameBytes : (s.pos+frames)*frameBytes],
		Start:  s.pos,
		Frames: frames,
	}
	s.pos += frames
	return buf, nil
}

// grid3 builds a rank-3 uint16 array whose element (t,x,y) is a unique
// function of its coordinates, so slices are easy to predict.
func grid3(shape []int) []uint16 {
	vals := make([]uint16, shape[0]*shape[1]*shape[2])
	i := 0
	for t := 0; t < shape[0]; t++ {
		for x := 0; x < shape[1]; x++ {
			for y := 0; y < shape[2]; y++ {
				vals[i] = uint16(t*10000 + x*100 + y)
				i++
			}
		}
	}
	return vals
}

// slice3 extracts ranges from a grid3 array the slow way.
func slice3(vals []uint16, shape []int, ranges []Range) []uint16 {
	var out []uint16
	for t := ranges[0].Start; t < ranges[0].Stop; t++ {
		for x := ranges[1].Start; x < ranges[1].Stop; x++ {
			for y := ranges[2].Start; y < ranges[2].Stop; y++ {
				out = append(out, vals[(t*shape[1]+x)*shape[2]+y])
			}
		}
	}
	return out
}

func writeArray(t *testing.T, path string, desc Descriptor, data []byte, bufFrames int) {
	t.Helper()
	w, err := NewWriter(path)
	require.NoError(t, err)
	src := &memSource{data: data, shape: desc.Shape, dtype: desc.DType, bufFrames: bufFrames}
	require.NoError(t, w.CreateArray("series", desc, src, map[string]interface{}{"unit": "lumens"}))
	require.NoError(t, w.Close())
}

func TestChunkedRoundTrip(t *testing.T) {
	shape := []int{37, 8, 6}
	vals := grid3(shape)
	data := PackUint16(vals)

	descs := []Descriptor{
		{Shape: shape, DType: Uint16, Mode: ChunkExplicit, Chunks: []int{10, 5, 4}, Codec: codec.Gzip{Level: 4}},
		{Shape: shape, DType: Uint16, Mode: ChunkExplicit, Chunks: []int{37, 8, 6}, Codec: codec.Zstd{Level: 3}},
		{Shape: shape, DType: Uint16, Mode: ChunkExplicit, Chunks: []int{1, 8, 6}, Codec: codec.Raw{}},
		{Shape: shape, DType: Uint16, Mode: ChunkExplicit, Chunks: []int{10, 5, 4},
			Codec: codec.Blosc{Variant: codec.BloscZstd, Level: 5, Shuffle: 1}},
		{Shape: shape, DType: Uint16, Mode: ChunkAuto, Codec: codec.LZ4{Level: 5}},
	}

	for i, desc := range descs {
		path := filepath.Join(t.TempDir(), "c.nwbc")
		writeArray(t, path, desc, data, 7)

		c, err := Open(path)
		require.NoError(t, err, "desc %d", i)
		arr, err := c.Array("series")
		require.NoError(t, err)
		assert.Equal(t, shape, arr.Shape())
		assert.False(t, arr.Contiguous())
		assert.Equal(t, "lumens", arr.Attrs()["unit"])

		full, err := arr.Read(arr.FullRanges())
		require.NoError(t, err, "desc %d", i)
		assert.Equal(t, vals, UnpackUint16(full), "desc %d full read", i)

		// A patch crossing chunk boundaries on every axis.
		patch := []Range{{3, 17}, {2, 7}, {1, 5}}
		got, err := arr.Read(patch)
		require.NoError(t, err, "desc %d", i)
		assert.Equal(t, slice3(vals, shape, patch), UnpackUint16(got), "desc %d patch read", i)

		// Single frame.
		frame := []Range{{36, 37}, {0, 8}, {0, 6}}
		got, err = arr.Read(frame)
		require.NoError(t, err)
		assert.Equal(t, slice3(vals, shape, frame), UnpackUint16(got))

		require.NoError(t, c.Close())
	}
}

func TestContiguousRoundTrip(t *testing.T) {
	shape := []int{25, 6, 4}
	vals := grid3(shape)
	path := filepath.Join(t.TempDir(), "c.nwbc")

	desc := Descriptor{Shape: shape, DType: Uint16, Mode: ChunkNone}
	writeArray(t, path, desc, PackUint16(vals), 9)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	arr, err := c.Array("series")
	require.NoError(t, err)
	assert.True(t, arr.Contiguous())
	assert.Equal(t, codec.Stored{}, arr.Codec())

	full, err := arr.Read(arr.FullRanges())
	require.NoError(t, err)
	assert.Equal(t, vals, UnpackUint16(full))

	patch := []Range{{5, 20}, {1, 5}, {2, 4}}
	got, err := arr.Read(patch)
	require.NoError(t, err)
	assert.Equal(t, slice3(vals, shape, patch), UnpackUint16(got))
}

func TestContiguousRejectsCompression(t *testing.T) {
	desc := Descriptor{
		Shape: []int{4, 4},
		DType: Uint16,
		Mode:  ChunkNone,
		Codec: codec.Gzip{Level: 4},
	}
	_, err := desc.validate()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestDefaultChunks(t *testing.T) {
	// Full spatial extent, axis 0 sized to about one megabyte per chunk.
	chunks := DefaultChunks([]int{100000, 16, 16}, Uint16)
	assert.Equal(t, []int{2048, 16, 16}, chunks)

	// Never larger than the array itself.
	chunks = DefaultChunks([]int{10, 16, 16}, Uint16)
	assert.Equal(t, []int{10, 16, 16}, chunks)
}

func TestExplicitChunksClampToShape(t *testing.T) {
	desc := Descriptor{
		Shape:  []int{20, 8, 6},
		DType:  Uint16,
		Mode:   ChunkExplicit,
		Chunks: []int{64, 128, 128},
	}
	chunks, err := desc.validate()
	require.NoError(t, err)
	assert.Equal(t, []int{20, 8, 6}, chunks)
}

func TestReadRejectsBadRanges(t *testing.T) {
	shape := []int{10, 4, 4}
	path := filepath.Join(t.TempDir(), "c.nwbc")
	desc := Descriptor{Shape: shape, DType: Uint16, Mode: ChunkAuto, Codec: codec.Raw{}}
	writeArray(t, path, desc, PackUint16(grid3(shape)), 10)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()
	arr, err := c.Array("series")
	require.NoError(t, err)

	for _, ranges := range [][]Range{
		{{0, 10}},                 // wrong rank
		{{0, 11}, {0, 4}, {0, 4}}, // past the end
		{{-1, 2}, {0, 4}, {0, 4}}, // negative start
		{{3, 3}, {0, 4}, {0, 4}},  // empty
	} {
		_, err := arr.Read(ranges)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeShape))
	}
}

func TestPutArrayAndAttrs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.nwbc")

	w, err := NewWriter(path)
	require.NoError(t, err)
	w.SetAttr("host_name", "bench01")
	w.SetGroupAttr("o1", "batch_size", 500)

	times := []float64{0.5, 0.25, 0.125}
	require.NoError(t, w.PutArray("o1/times", Float64, []int{3}, PackFloat64(times), nil))

	idx := []int32{7, 3, 9}
	require.NoError(t, w.PutArray("o1/indices", Int32, []int{3}, PackInt32(idx), nil))

	// Duplicate names are rejected.
	err = w.PutArray("o1/times", Float64, []int{3}, PackFloat64(times), nil)
	require.Error(t, err)

	require.NoError(t, w.Close())

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "bench01", c.Attrs()["host_name"])
	assert.Equal(t, []string{"o1"}, c.Groups())
	assert.EqualValues(t, 500, c.GroupAttrs("o1")["batch_size"])
	assert.Equal(t, []string{"o1/indices", "o1/times"}, c.Names())

	arr, err := c.Array("o1/times")
	require.NoError(t, err)
	data, err := arr.Read(arr.FullRanges())
	require.NoError(t, err)
	assert.Equal(t, times, UnpackFloat64(data))
}

func TestCopyArrayPreservesEncoding(t *testing.T) {
	shape := []int{12, 4, 4}
	vals := grid3(shape)
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.nwbc")
	dstPath := filepath.Join(dir, "dst.nwbc")

	desc := Descriptor{
		Shape: shape, DType: Uint16, Mode: ChunkExplicit,
		Chunks: []int{5, 4, 4}, Codec: codec.Gzip{Level: 4},
	}
	writeArray(t, srcPath, desc, PackUint16(vals), 5)

	src, err := Open(srcPath)
	require.NoError(t, err)
	srcArr, err := src.Array("series")
	require.NoError(t, err)

	w, err := NewWriter(dstPath)
	require.NoError(t, err)
	require.NoError(t, w.CopyArray("series", srcArr))
	require.NoError(t, w.Close())
	require.NoError(t, src.Close())

	dst, err := Open(dstPath)
	require.NoError(t, err)
	defer dst.Close()
	arr, err := dst.Array("series")
	require.NoError(t, err)

	assert.Equal(t, "gzip", arr.Codec().Name)
	assert.Equal(t, []int{5, 4, 4}, arr.Chunks())
	assert.Equal(t, "lumens", arr.Attrs()["unit"])

	data, err := arr.Read(arr.FullRanges())
	require.NoError(t, err)
	assert.Equal(t, vals, UnpackUint16(data))
}

func TestCreateArrayRejectsShortSource(t *testing.T) {
	shape := []int{10, 4, 4}
	short := PackUint16(grid3([]int{8, 4, 4}))
	path := filepath.Join(t.TempDir(), "c.nwbc")

	w, err := NewWriter(path)
	require.NoError(t, err)
	src := &memSource{data: short, shape: []int{8, 4, 4}, dtype: Uint16, bufFrames: 8}

	desc := Descriptor{Shape: shape, DType: Uint16, Mode: ChunkAuto, Codec: codec.Raw{}}
	err = w.CreateArray("series", desc, src, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeShape))
	w.Abort()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "aborted writer must remove its file")
}

func TestOpenRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	// Not a container at all.
	junk := filepath.Join(dir, "junk.nwbc")
	require.NoError(t, os.WriteFile(junk, []byte("this is not a container file at all......"), 0644))
	_, err := Open(junk)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCorrupt))

	// Too short.
	stub := filepath.Join(dir, "stub.nwbc")
	require.NoError(t, os.WriteFile(stub, []byte("NWBC"), 0644))
	_, err = Open(stub)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCorrupt))

	// Valid front, truncated tail.
	good := filepath.Join(dir, "good.nwbc")
	shape := []int{6, 4, 4}
	desc := Descriptor{Shape: shape, DType: Uint16, Mode: ChunkAuto, Codec: codec.Raw{}}
	writeArray(t, good, desc, PackUint16(grid3(shape)), 6)
	raw, err := os.ReadFile(good)
	require.NoError(t, err)
	trunc := filepath.Join(dir, "trunc.nwbc")
	require.NoError(t, os.WriteFile(trunc, raw[:len(raw)-10], 0644))
	_, err = Open(trunc)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCorrupt))

	// Missing entirely.
	_, err = Open(filepath.Join(dir, "absent.nwbc"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRankOneArrays(t *testing.T) {
	vals := make([]float64, 40)
	for i := range vals {
		vals[i] = float64(i) / 4
	}
	path := filepath.Join(t.TempDir(), "c.nwbc")

	w, err := NewWriter(path)
	require.NoError(t, err)
	desc := Descriptor{Shape: []int{40}, DType: Float64, Mode: ChunkExplicit,
		Chunks: []int{16}, Codec: codec.Gzip{Level: 4}}
	src := &memSource{data: PackFloat64(vals), shape: []int{40}, dtype: Float64, bufFrames: 13}
	require.NoError(t, w.CreateArray("series", desc, src, nil))
	require.NoError(t, w.Close())

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()
	arr, err := c.Array("series")
	require.NoError(t, err)

	got, err := arr.Read([]Range{{10, 30}})
	require.NoError(t, err)
	assert.Equal(t, vals[10:30], UnpackFloat64(got))
}
