package export

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/image/tiff"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/errors"
	"github.com/chunklab/chunkbench/pkg/logger"
)

// progressEvery is how often frame export progress is logged.
const progressEvery = 100

// FramePath returns the per-frame TIFF path for a frame number.
func FramePath(dir string, frame int) string {
	return filepath.Join(dir, fmt.Sprintf("frame_%06d.tiff", frame))
}

// ToTIFF writes every frame of a rank-3 uint16 series as a single-frame
// 16-bit grayscale TIFF under dir. Stored frames are width-major; images
// come out height-major, undoing the ingest transpose.
func ToTIFF(inputPath, series, dir string) error {
	c, err := arraystore.Open(inputPath)
	if err != nil {
		return err
	}
	defer c.Close()

	arr, err := c.Array(series)
	if err != nil {
		return err
	}
	shape := arr.Shape()
	if len(shape) != 3 {
		return errors.Newf(errors.ErrorTypeShape,
			"TIFF export needs a rank-3 series, %q has rank %d", series, len(shape))
	}
	if arr.DType() != arraystore.Uint16 {
		return errors.Newf(errors.ErrorTypeData,
			"TIFF export needs a uint16 series, %q is %s", series, arr.DType())
	}
	frames, width, height := shape[0], shape[1], shape[2]

	if err := os.MkdirAll(dir, 0755); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create frame directory")
	}

	log := logger.With(zap.String("component", "export"))
	log.Info("exporting TIFF frames",
		zap.String("series", series),
		zap.Int("frames", frames),
		zap.String("dir", dir))

	for f := 0; f < frames; f++ {
		data, err := arr.Read([]arraystore.Range{
			{Start: f, Stop: f + 1},
			{Start: 0, Stop: width},
			{Start: 0, Stop: height},
		})
		if err != nil {
			return err
		}
		if err := writeFrame(FramePath(dir, f), data, width, height); err != nil {
			return err
		}
		if (f+1)%progressEvery == 0 {
			log.Info("frames exported", zap.Int("done", f+1), zap.Int("total", frames))
		}
	}

	log.Info("TIFF export complete", zap.Int("frames", frames), zap.String("dir", dir))
	return nil
}

// writeFrame encodes one width-major little-endian frame as Gray16, which
// stores big-endian height-major samples.
func writeFrame(path string, data []byte, width, height int) error {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			off := (x*height + y) * 2
			v := uint16(data[off]) | uint16(data[off+1])<<8
			pix := img.Pix[y*img.Stride+x*2:]
			pix[0] = byte(v >> 8)
			pix[1] = byte(v)
		}
	}

	f, err := os.Create(path) //nolint:gosec // G304: path is controlled by the caller
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create frame file")
	}
	if err := tiff.Encode(f, img, nil); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to encode frame")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close frame file")
	}
	return nil
}
