// Package arraystore implements the chunked array container that benchmark
// configurations are written into and read back from.
//
// A container is a single file holding named multi-dimensional arrays plus
// free-form attributes at the container, group and array level. Array data is
// tiled into fixed-shape chunks, each independently passed through a
// compression codec; a contiguous (unchunked, uncompressed) layout is also
// supported. Chunk blobs stream to the file first and the self-describing
// header is written as a JSON trailer located by a fixed-size footer, so
// creating an array never buffers more than one chunk row in memory.
//
// On-disk layout:
//
//	[magic "NWBC" | u32 version]
//	[chunk blobs ...]
//	[JSON header]
//	[u64 header offset | u64 header length | magic "CEND"]
package arraystore

import (
	"github.com/chunklab/chunkbench/pkg/codec"
	"github.com/chunklab/chunkbench/pkg/errors"
)

const (
	magic       = "NWBC"
	footerMagic = "CEND"
	version     = 1

	headerSize = 8  // magic + version
	footerSize = 20 // header offset + header length + footer magic

	// defaultChunkBytes is the target chunk payload for auto-chosen shapes.
	defaultChunkBytes = 1 << 20
)

// ChunkMode selects how an array is physically tiled.
type ChunkMode int

const (
	// ChunkExplicit uses the chunk shape given in the descriptor.
	ChunkExplicit ChunkMode = iota
	// ChunkAuto lets the store pick a chunk shape.
	ChunkAuto
	// ChunkNone stores the array contiguously. Contiguous arrays cannot be
	// compressed.
	ChunkNone
)

// Descriptor describes the target layout of a new array.
type Descriptor struct {
	Shape    []int
	DType    DType
	Mode     ChunkMode
	Chunks   []int // required for ChunkExplicit
	Codec    codec.Spec
	FilterID int // explicit external filter id from the config row, 0 = default
}

// Extent locates one chunk blob (or the single contiguous run) in the file.
type Extent struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// arrayMeta is the persisted descriptor of one array.
type arrayMeta struct {
	Shape   []int                  `json:"shape"`
	DType   DType                  `json:"dtype"`
	Chunks  []int                  `json:"chunks,omitempty"` // nil = contiguous
	Codec   codec.Stored           `json:"codec"`
	Attrs   map[string]interface{} `json:"attrs,omitempty"`
	Extents []Extent               `json:"extents"`
}

// fileHeader is the JSON trailer of a container file.
type fileHeader struct {
	Version int                               `json:"version"`
	Attrs   map[string]interface{}            `json:"attrs,omitempty"`
	Groups  map[string]map[string]interface{} `json:"groups,omitempty"`
	Arrays  map[string]*arrayMeta             `json:"arrays"`
}

// Buffer is one block of frames produced by a ChunkSource. Data holds Frames
// consecutive frames in row-major order, starting at frame index Start along
// axis 0.
type Buffer struct {
	Data   []byte
	Start  int
	Frames int
}

// ChunkSource produces ordered, non-overlapping, size-bounded buffers that
// cover a known total extent along axis 0. The maximum shape and element type
// are declared up front so the store can lay the array out before iteration.
// Next returns io.EOF after the final buffer.
type ChunkSource interface {
	Next() (*Buffer, error)
	MaxShape() []int
	DType() DType
}

// validate checks descriptor invariants and resolves the effective chunk
// shape (nil for contiguous).
func (d *Descriptor) validate() ([]int, error) {
	if len(d.Shape) == 0 {
		return nil, errors.New(errors.ErrorTypeShape, "array shape is empty")
	}
	for i, n := range d.Shape {
		if n <= 0 {
			return nil, errors.Newf(errors.ErrorTypeShape, "shape dimension %d is %d", i, n)
		}
	}
	if err := d.DType.validate(); err != nil {
		return nil, err
	}

	switch d.Mode {
	case ChunkNone:
		if _, raw := d.Codec.(codec.Raw); d.Codec != nil && !raw {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"contiguous layout disables compression, got codec %q", d.Codec.Name())
		}
		return nil, nil
	case ChunkAuto:
		return DefaultChunks(d.Shape, d.DType), nil
	case ChunkExplicit:
		if len(d.Chunks) != len(d.Shape) {
			return nil, errors.Newf(errors.ErrorTypeShape,
				"chunk rank %d does not match array rank %d", len(d.Chunks), len(d.Shape))
		}
		chunks := make([]int, len(d.Chunks))
		for i, c := range d.Chunks {
			if c <= 0 {
				return nil, errors.Newf(errors.ErrorTypeShape, "chunk dimension %d is %d", i, c)
			}
			if c > d.Shape[i] {
				c = d.Shape[i]
			}
			chunks[i] = c
		}
		return chunks, nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unknown chunk mode %d", d.Mode)
}

// DefaultChunks picks a chunk shape for an array: full spatial extent, with
// the axis-0 extent sized so one chunk holds roughly one megabyte.
func DefaultChunks(shape []int, dtype DType) []int {
	frameBytes := dtype.Size()
	for _, n := range shape[1:] {
		frameBytes *= n
	}
	c0 := 1
	if frameBytes > 0 {
		c0 = defaultChunkBytes / frameBytes
	}
	if c0 < 1 {
		c0 = 1
	}
	if c0 > shape[0] {
		c0 = shape[0]
	}
	chunks := make([]int, len(shape))
	chunks[0] = c0
	copy(chunks[1:], shape[1:])
	return chunks
}

// product returns the element count of a shape.
func product(shape []int) int {
	p := 1
	for _, n := range shape {
		p *= n
	}
	return p
}

// ceilDiv returns ceil(a/b) for positive b.
func ceilDiv(a, b int) int { return (a + b - 1) / b }

// storedCodec resolves the persisted codec identity for a descriptor.
func (d *Descriptor) storedCodec() codec.Stored {
	spec := d.Codec
	if spec == nil {
		spec = codec.Raw{}
	}
	return spec.Stored(d.FilterID)
}
