// Package chunksource provides streaming frame sources for the configured
// writer. A source yields ordered, non-overlapping buffers of at most
// bufferFrames frames covering a known axis-0 extent exactly once, and
// declares its maximum shape and element type before iteration so the array
// store can lay the target array out up front.
//
// Two backings exist: ArraySource reads windows of an already-stored array
// (pass-through selection, no host-side resampling), and TIFFSource decodes
// one image file per frame from a directory.
package chunksource

import (
	"io"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/errors"
)

// DefaultBufferFrames bounds resident decoded data when no explicit buffer
// size is configured.
const DefaultBufferFrames = 1000

// ArraySource streams fixed-size frame windows from a stored array.
type ArraySource struct {
	arr    *arraystore.Array
	buffer int
	pos    int
}

// NewArraySource creates a source over arr yielding bufferFrames frames per
// buffer.
func NewArraySource(arr *arraystore.Array, bufferFrames int) (*ArraySource, error) {
	if bufferFrames <= 0 {
		bufferFrames = DefaultBufferFrames
	}
	if len(arr.Shape()) == 0 {
		return nil, errors.New(errors.ErrorTypeShape, "source array has no shape")
	}
	return &ArraySource{arr: arr, buffer: bufferFrames}, nil
}

// MaxShape returns the full shape of the backing array.
func (s *ArraySource) MaxShape() []int { return s.arr.Shape() }

// DType returns the element type of the backing array.
func (s *ArraySource) DType() arraystore.DType { return s.arr.DType() }

// Next reads the next window. The final buffer may be shorter; after it,
// Next returns io.EOF.
func (s *ArraySource) Next() (*arraystore.Buffer, error) {
	shape := s.arr.Shape()
	total := shape[0]
	if s.pos >= total {
		return nil, io.EOF
	}

	frames := s.buffer
	if s.pos+frames > total {
		frames = total - s.pos
	}

	ranges := make([]arraystore.Range, len(shape))
	ranges[0] = arraystore.Range{Start: s.pos, Stop: s.pos + frames}
	for i := 1; i < len(shape); i++ {
		ranges[i] = arraystore.Range{Start: 0, Stop: shape[i]}
	}

	data, err := s.arr.Read(ranges)
	if err != nil {
		return nil, err
	}

	buf := &arraystore.Buffer{Data: data, Start: s.pos, Frames: frames}
	s.pos += frames
	return buf, nil
}
