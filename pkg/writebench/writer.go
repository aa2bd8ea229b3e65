// Package writebench materializes storage configurations.
//
// A configured write streams a reference series through a chunk source into
// a new array laid out per one configuration-table row, then exports the full
// container with only that array substituted. The write is streaming: memory
// held is proportional to the source buffer size, never the dataset size.
package writebench

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/chunksource"
	"github.com/chunklab/chunkbench/pkg/configtable"
	"github.com/chunklab/chunkbench/pkg/errors"
	"github.com/chunklab/chunkbench/pkg/logger"
)

const (
	bytesPerGB = 1024 * 1024 * 1024
)

// ContainerPath returns the deterministic container file path for a labeled
// configuration number.
func ContainerPath(dir, label string, number int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_Config%03d.nwbc", label, number))
}

// StatsPath returns the write-stats file path for a labeled configuration
// number.
func StatsPath(dir, label string, number int) string {
	return filepath.Join(dir, fmt.Sprintf("stats_%s_Config%03d.txt", label, number))
}

// Request describes one configured write.
type Request struct {
	Config       *configtable.StorageConfig
	ConfigNumber int

	// InputPath is the reference container supplying metadata (and frame
	// data, unless TIFFDir is set).
	InputPath  string
	SeriesName string

	// TIFFDir, when set, supplies frame data from per-frame TIFF files
	// instead of the reference array.
	TIFFDir string

	OutputLabel string
	OutputDir   string
}

// Result reports one configured write. SizeKnown is false when no output
// file could be produced; the run is still reported rather than aborted.
type Result struct {
	ConfigNumber int
	Frames       int
	WriteSeconds float64
	FileSizeGB   float64
	SizeKnown    bool
	OutputPath   string
	ExportError  string
}

// Writer runs configured writes.
type Writer struct {
	log          *zap.Logger
	bufferFrames int
}

// New creates a Writer holding at most bufferFrames source frames resident.
func New(bufferFrames int) *Writer {
	return &Writer{
		log:          logger.With(zap.String("component", "writebench")),
		bufferFrames: bufferFrames,
	}
}

// Run executes one configured write. Parsing and lookup failures propagate;
// a failed export is reported in the Result with the partial output removed.
func (w *Writer) Run(req Request) (*Result, error) {
	ref, err := arraystore.Open(req.InputPath)
	if err != nil {
		return nil, err
	}
	defer ref.Close()

	refArr, err := ref.Array(req.SeriesName)
	if err != nil {
		return nil, err
	}

	source, err := w.buildSource(req, refArr)
	if err != nil {
		return nil, err
	}

	desc := req.Config.Descriptor(source.MaxShape(), source.DType())
	outputPath := ContainerPath(req.OutputDir, req.OutputLabel, req.ConfigNumber)

	res := &Result{
		ConfigNumber: req.ConfigNumber,
		Frames:       source.MaxShape()[0],
		OutputPath:   outputPath,
	}

	w.log.Info("writing configuration",
		zap.Int("config_number", req.ConfigNumber),
		zap.String("codec", req.Config.CodecName),
		zap.Ints("chunks", desc.Chunks),
		zap.String("output", outputPath))

	start := time.Now()
	err = w.export(ref, refArr, req.SeriesName, desc, source, outputPath)
	res.WriteSeconds = time.Since(start).Seconds()

	if err != nil {
		// The partial output has been removed; report the configuration with
		// its size unavailable instead of aborting the whole run.
		res.ExportError = err.Error()
		w.log.Error("export failed", zap.Int("config_number", req.ConfigNumber), zap.Error(err))
		return res, nil
	}

	if st, err := os.Stat(outputPath); err == nil {
		res.FileSizeGB = float64(st.Size()) / bytesPerGB
		res.SizeKnown = true
	}

	w.log.Info("configuration written",
		zap.Int("config_number", req.ConfigNumber),
		zap.Float64("write_seconds", res.WriteSeconds),
		zap.Float64("file_size_gb", res.FileSizeGB))

	return res, nil
}

// buildSource selects the frame source and validates it against the
// reference array.
func (w *Writer) buildSource(req Request, refArr *arraystore.Array) (arraystore.ChunkSource, error) {
	if req.TIFFDir == "" {
		return chunksource.NewArraySource(refArr, w.bufferFrames)
	}

	source, err := chunksource.NewTIFFSource(req.TIFFDir, w.bufferFrames)
	if err != nil {
		return nil, err
	}

	refShape := refArr.Shape()
	srcShape := source.MaxShape()
	if len(refShape) != 3 {
		return nil, errors.Newf(errors.ErrorTypeShape,
			"reference series %q has rank %d, expected 3 for TIFF ingest", req.SeriesName, len(refShape))
	}
	if srcShape[0] != refShape[0] {
		return nil, errors.Newf(errors.ErrorTypeShape,
			"number of TIFF files (%d) does not match reference series frame count (%d)",
			srcShape[0], refShape[0]).
			WithDetail("tiff_frames", srcShape[0]).
			WithDetail("reference_frames", refShape[0])
	}
	if srcShape[1] != refShape[1] || srcShape[2] != refShape[2] {
		return nil, errors.Newf(errors.ErrorTypeShape,
			"TIFF frame dimensions (%dx%d) do not match reference series dimensions (%dx%d)",
			srcShape[1], srcShape[2], refShape[1], refShape[2]).
			WithDetail("tiff_dims", srcShape[1:]).
			WithDetail("reference_dims", refShape[1:])
	}
	if source.DType() != refArr.DType() {
		return nil, errors.Newf(errors.ErrorTypeShape,
			"TIFF element type %q does not match reference series type %q",
			source.DType(), refArr.DType())
	}
	return source, nil
}

// export clones the reference container into outputPath with the named
// series rebuilt from source under desc. All other arrays and every
// attribute carry over verbatim. On failure no partial output file remains.
func (w *Writer) export(ref *arraystore.Container, refArr *arraystore.Array, series string, desc arraystore.Descriptor, source arraystore.ChunkSource, outputPath string) error {
	out, err := arraystore.NewWriter(outputPath)
	if err != nil {
		return err
	}

	out.SetAttrs(ref.Attrs())
	for _, group := range ref.Groups() {
		for k, v := range ref.GroupAttrs(group) {
			out.SetGroupAttr(group, k, v)
		}
	}

	for _, name := range ref.Names() {
		if name == series {
			// The rebuilt series keeps the reference metadata: sampling
			// rate, starting time, unit, conversion, resolution, comments,
			// description and dimensions all live in the array attributes.
			if err := out.CreateArray(name, desc, source, attrCopy(refArr.Attrs())); err != nil {
				out.Abort()
				return err
			}
			continue
		}
		arr, err := ref.Array(name)
		if err != nil {
			out.Abort()
			return err
		}
		if err := out.CopyArray(name, arr); err != nil {
			out.Abort()
			return err
		}
	}

	return out.Close()
}

func attrCopy(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
