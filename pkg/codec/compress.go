package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/chunklab/chunkbench/pkg/errors"
)

// Compressor encodes and decodes single chunks. Implementations are safe for
// sequential reuse; expensive encoder state is pooled per instance, following
// the same pattern as pooled gzip/zstd writers in streaming pipelines.
type Compressor interface {
	// Encode compresses one chunk.
	Encode(src []byte) ([]byte, error)

	// Decode decompresses one chunk. dstSize is the exact decoded byte
	// length, which the chunk layout always knows in advance.
	Decode(src []byte, dstSize int) ([]byte, error)
}

// NewCompressor realizes a codec Spec. elemSize is the array element width in
// bytes; the blosc shuffle pre-filter operates on element boundaries.
// ZFP and External specs have no realization in this build and return an
// ErrorTypeCodec error.
func NewCompressor(spec Spec, elemSize int) (Compressor, error) {
	switch s := spec.(type) {
	case Raw:
		return rawCompressor{}, nil
	case Gzip:
		return newGzipCompressor(s.Level), nil
	case LZ4:
		return newLZ4Compressor(s.Level), nil
	case Zstd:
		return newZstdCompressor(s.Level), nil
	case ZFP:
		return nil, errors.Newf(errors.ErrorTypeCodec,
			"no encoder registered for zfp (filter id %d)", FilterIDZFP)
	case Blosc:
		return newBloscCompressor(s, elemSize)
	case External:
		return nil, errors.Newf(errors.ErrorTypeCodec,
			"no encoder registered for external filter %q (id %d)", s.CodecName, s.ID)
	}
	return nil, errors.Newf(errors.ErrorTypeCodec, "unhandled codec spec %T", spec)
}

// rawCompressor is the identity codec.
type rawCompressor struct{}

func (rawCompressor) Encode(src []byte) ([]byte, error) { return src, nil }

func (rawCompressor) Decode(src []byte, dstSize int) ([]byte, error) {
	if len(src) != dstSize {
		return nil, errors.Newf(errors.ErrorTypeData,
			"raw chunk length %d does not match expected %d", len(src), dstSize)
	}
	return src, nil
}

// gzipCompressor wraps klauspost gzip with pooled writer/reader instances.
type gzipCompressor struct {
	level      int
	writerPool sync.Pool
	readerPool sync.Pool
}

func newGzipCompressor(level int) *gzipCompressor {
	// Level 0 is a valid deflate setting meaning stored blocks, matching the
	// HDF5 convention; only out-of-range levels fall back to the default.
	if level < gzip.NoCompression || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	gc := &gzipCompressor{level: level}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gc.level)
		return w
	}
	gc.readerPool.New = func() interface{} {
		return new(gzip.Reader)
	}
	return gc
}

func (gc *gzipCompressor) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(src) / 2)

	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decode(src []byte, dstSize int) ([]byte, error) {
	r := gc.readerPool.Get().(*gzip.Reader)
	defer gc.readerPool.Put(r)

	if err := r.Reset(bytes.NewReader(src)); err != nil {
		return nil, err
	}
	return readExact(r, dstSize)
}

// lz4Compressor wraps pierrec lz4 frame compression.
type lz4Compressor struct {
	level lz4.CompressionLevel
}

func newLZ4Compressor(level int) *lz4Compressor {
	return &lz4Compressor{level: lz4Level(level)}
}

func lz4Level(n int) lz4.CompressionLevel {
	switch {
	case n <= 0:
		return lz4.Fast
	case n == 1:
		return lz4.Level1
	case n == 2:
		return lz4.Level2
	case n == 3:
		return lz4.Level3
	case n == 4:
		return lz4.Level4
	case n == 5:
		return lz4.Level5
	case n == 6:
		return lz4.Level6
	case n == 7:
		return lz4.Level7
	case n == 8:
		return lz4.Level8
	default:
		return lz4.Level9
	}
}

func (lc *lz4Compressor) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(src) / 2)

	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lc.level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lc *lz4Compressor) Decode(src []byte, dstSize int) ([]byte, error) {
	return readExact(lz4.NewReader(bytes.NewReader(src)), dstSize)
}

// zstdCompressor wraps klauspost zstd with pooled encoder/decoder instances.
type zstdCompressor struct {
	level       zstd.EncoderLevel
	encoderPool sync.Pool
	decoderPool sync.Pool
}

func newZstdCompressor(level int) *zstdCompressor {
	zc := &zstdCompressor{level: zstd.EncoderLevelFromZstd(level)}
	zc.encoderPool.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zc.level))
		return enc
	}
	zc.decoderPool.New = func() interface{} {
		dec, _ := zstd.NewReader(nil)
		return dec
	}
	return zc
}

func (zc *zstdCompressor) Encode(src []byte) ([]byte, error) {
	enc := zc.encoderPool.Get().(*zstd.Encoder)
	defer zc.encoderPool.Put(enc)
	return enc.EncodeAll(src, nil), nil
}

func (zc *zstdCompressor) Decode(src []byte, dstSize int) ([]byte, error) {
	dec := zc.decoderPool.Get().(*zstd.Decoder)
	defer zc.decoderPool.Put(dec)

	dst, err := dec.DecodeAll(src, make([]byte, 0, dstSize))
	if err != nil {
		return nil, err
	}
	if len(dst) != dstSize {
		return nil, errors.Newf(errors.ErrorTypeData,
			"zstd chunk decoded to %d bytes, expected %d", len(dst), dstSize)
	}
	return dst, nil
}

// bloscCompressor applies an optional byte-shuffle pre-filter followed by the
// variant's inner compressor.
type bloscCompressor struct {
	inner    Compressor
	elemSize int
	shuffle  bool
}

func newBloscCompressor(spec Blosc, elemSize int) (*bloscCompressor, error) {
	if elemSize <= 0 {
		elemSize = 1
	}

	var inner Compressor
	switch spec.Variant {
	case BloscZstd:
		inner = newZstdCompressor(spec.Level)
	case BloscLZ4:
		inner = newLZ4Compressor(spec.Level)
	case BloscLZ4HC:
		// lz4hc is lz4 with the high-compression match finder, which the
		// frame encoder selects through its level option.
		inner = newLZ4Compressor(maxInt(spec.Level, 4))
	case BloscBloscLZ:
		// blosclz is an lz77-family byte codec; s2 is the closest stand-in
		// available as a pure-Go library.
		inner = s2Compressor{}
	default:
		return nil, errors.Newf(errors.ErrorTypeCodec, "unknown blosc variant %q", spec.Variant)
	}

	return &bloscCompressor{
		inner:    inner,
		elemSize: elemSize,
		shuffle:  spec.Shuffle != 0,
	}, nil
}

func (bc *bloscCompressor) Encode(src []byte) ([]byte, error) {
	if bc.shuffle {
		src = shuffleBytes(src, bc.elemSize)
	}
	return bc.inner.Encode(src)
}

func (bc *bloscCompressor) Decode(src []byte, dstSize int) ([]byte, error) {
	dst, err := bc.inner.Decode(src, dstSize)
	if err != nil {
		return nil, err
	}
	if bc.shuffle {
		dst = unshuffleBytes(dst, bc.elemSize)
	}
	return dst, nil
}

// s2Compressor wraps klauspost s2 block compression.
type s2Compressor struct{}

func (s2Compressor) Encode(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

func (s2Compressor) Decode(src []byte, dstSize int) ([]byte, error) {
	dst, err := s2.Decode(nil, src)
	if err != nil {
		return nil, err
	}
	if len(dst) != dstSize {
		return nil, errors.Newf(errors.ErrorTypeData,
			"s2 chunk decoded to %d bytes, expected %d", len(dst), dstSize)
	}
	return dst, nil
}

// shuffleBytes rearranges src so that byte j of every element is grouped
// together: [all byte 0s][all byte 1s]... Grouping equal-significance bytes
// improves compressibility of fixed-width numeric data.
func shuffleBytes(src []byte, elemSize int) []byte {
	if elemSize <= 1 || len(src)%elemSize != 0 {
		return src
	}
	numElems := len(src) / elemSize
	out := make([]byte, len(src))
	for i := 0; i < numElems; i++ {
		for j := 0; j < elemSize; j++ {
			out[j*numElems+i] = src[i*elemSize+j]
		}
	}
	return out
}

// unshuffleBytes reverses shuffleBytes.
func unshuffleBytes(src []byte, elemSize int) []byte {
	if elemSize <= 1 || len(src)%elemSize != 0 {
		return src
	}
	numElems := len(src) / elemSize
	out := make([]byte, len(src))
	for i := 0; i < numElems; i++ {
		for j := 0; j < elemSize; j++ {
			out[i*elemSize+j] = src[j*numElems+i]
		}
	}
	return out
}

func readExact(r io.Reader, n int) ([]byte, error) {
	dst := make([]byte, n)
	if _, err := io.ReadFull(r, dst); err != nil {
		return nil, err
	}
	// A well-formed chunk has nothing past the expected length.
	var probe [1]byte
	if m, _ := r.Read(probe[:]); m != 0 {
		return nil, errors.New(errors.ErrorTypeData, "chunk decoded past expected length")
	}
	return dst, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
