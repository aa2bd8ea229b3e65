// Package export converts stored series to external analysis formats.
//
// Both exporters stream: they read bounded windows of the source series and
// never materialize the whole recording.
package export

import (
	"bufio"
	"os"

	"go.uber.org/zap"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/errors"
	"github.com/chunklab/chunkbench/pkg/logger"
)

// BinaryOptions controls a flat-binary export.
type BinaryOptions struct {
	// MaxChannels caps how many leading channels are written.
	MaxChannels int
	// WindowSamples is the number of samples streamed per read window.
	WindowSamples int
}

// ToBinary streams a rank-2 series (samples x channels) into a flat
// time-major binary file of native little-endian elements, the layout raw
// ephys sorters consume. Channels beyond MaxChannels are dropped.
func ToBinary(inputPath, series, outputPath string, opts BinaryOptions) error {
	if opts.MaxChannels <= 0 || opts.WindowSamples <= 0 {
		return errors.New(errors.ErrorTypeConfig, "max channels and window samples must be positive")
	}

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
	if len(shape) != 2 {
		return errors.Newf(errors.ErrorTypeShape,
			"binary export needs a rank-2 series, %q has rank %d", series, len(shape))
	}
	samples, channels := shape[0], shape[1]
	if channels > opts.MaxChannels {
		channels = opts.MaxChannels
	}

	log := logger.With(zap.String("component", "export"))
	log.Info("exporting binary",
		zap.String("series", series),
		zap.Int("samples", samples),
		zap.Int("channels", channels),
		zap.String("output", outputPath))

	f, err := os.Create(outputPath) //nolint:gosec // G304: path is controlled by the caller
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create binary output")
	}
	out := bufio.NewWriterSize(f, 1<<20)

	for start := 0; start < samples; start += opts.WindowSamples {
		stop := start + opts.WindowSamples
		if stop > samples {
			stop = samples
		}
		data, err := arr.Read([]arraystore.Range{
			{Start: start, Stop: stop},
			{Start: 0, Stop: channels},
		})
		if err != nil {
			f.Close()
			os.Remove(outputPath)
			return err
		}
		if _, err := out.Write(data); err != nil {
			f.Close()
			os.Remove(outputPath)
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write binary output")
		}
	}

	if err := out.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush binary output")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close binary output")
	}

	log.Info("binary export complete", zap.String("output", outputPath))
	return nil
}
