package chunksource

import (
	"encoding/binary"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/image/tiff"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/errors"
)

// TIFFSource streams frames decoded from a directory of single-frame 16-bit
// grayscale TIFF files, one file per frame in sorted filename order.
//
// TIFF frames are height-major (row y, column x); stored arrays are
// width-major, so each frame is transposed to (width, height) before
// stacking. At most bufferFrames decoded frames are resident at once.
type TIFFSource struct {
	files  []string
	width  int
	height int
	buffer int
	pos    int
}

// NewTIFFSource scans dir for *.tiff and *.tif files and probes the first
// frame for dimensions. Every subsequent frame must match the first frame's
// dimensions or Next fails with a shape mismatch.
func NewTIFFSource(dir string, bufferFrames int) (*TIFFSource, error) {
	if bufferFrames <= 0 {
		bufferFrames = DefaultBufferFrames
	}

	files, err := listTIFFs(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "no TIFF files found in %s", dir)
	}

	first, err := decodeFrame(files[0])
	if err != nil {
		return nil, err
	}
	bounds := first.Bounds()

	return &TIFFSource{
		files:  files,
		width:  bounds.Dx(),
		height: bounds.Dy(),
		buffer: bufferFrames,
	}, nil
}

func listTIFFs(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.tiff", "*.tif"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to scan TIFF directory")
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// MaxShape returns (frames, width, height).
func (s *TIFFSource) MaxShape() []int {
	return []int{len(s.files), s.width, s.height}
}

// DType returns the element type; frames are 16-bit grayscale.
func (s *TIFFSource) DType() arraystore.DType { return arraystore.Uint16 }

// Frames returns the number of frame files.
func (s *TIFFSource) Frames() int { return len(s.files) }

// Next decodes and stacks the next run of frames. The final buffer may be
// shorter; after it, Next returns io.EOF.
func (s *TIFFSource) Next() (*arraystore.Buffer, error) {
	if s.pos >= len(s.files) {
		return nil, io.EOF
	}

	frames := s.buffer
	if s.pos+frames > len(s.files) {
		frames = len(s.files) - s.pos
	}

	frameBytes := s.width * s.height * 2
	data := make([]byte, frames*frameBytes)
	for i := 0; i < frames; i++ {
		img, err := decodeFrame(s.files[s.pos+i])
		if err != nil {
			return nil, err
		}
		bounds := img.Bounds()
		if bounds.Dx() != s.width || bounds.Dy() != s.height {
			return nil, errors.Newf(errors.ErrorTypeShape,
				"frame %s is %dx%d, expected %dx%d",
				filepath.Base(s.files[s.pos+i]), bounds.Dx(), bounds.Dy(), s.width, s.height)
		}
		transposeInto(data[i*frameBytes:(i+1)*frameBytes], img)
	}

	buf := &arraystore.Buffer{Data: data, Start: s.pos, Frames: frames}
	s.pos += frames
	return buf, nil
}

func decodeFrame(path string) (*image.Gray16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open TIFF frame")
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode TIFF frame")
	}
	gray, ok := img.(*image.Gray16)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData,
			"frame %s is not 16-bit grayscale", filepath.Base(path))
	}
	return gray, nil
}

// transposeInto writes the (height, width) image as a width-major
// little-endian frame: element [x][y] of the frame is pixel (x, y).
func transposeInto(dst []byte, img *image.Gray16) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			// Gray16 stores big-endian samples.
			pix := img.Pix[y*img.Stride+x*2:]
			v := uint16(pix[0])<<8 | uint16(pix[1])
			binary.LittleEndian.PutUint16(dst[(x*height+y)*2:], v)
		}
	}
}
