// Package check scans directories of container files for corruption.
//
// A scan attempts to open every container and decode a sample of each array
// inside it. Failures are collected, never fatal: a batch write interrupted
// mid-run leaves truncated files behind, and the scan's job is to find all
// of them in one pass. Files whose failure matches a known-corruption
// fingerprint can optionally be deleted.
package check

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/errors"
	"github.com/chunklab/chunkbench/pkg/logger"
)

// probeFrames bounds how much of each array a scan decodes.
const probeFrames = 2

// Failure is one unreadable container.
type Failure struct {
	Path    string
	Err     error
	Deleted bool
}

// Report summarizes one scan.
type Report struct {
	Checked  int
	Failures []Failure
}

// OK reports whether every scanned file opened and decoded.
func (r *Report) OK() bool { return len(r.Failures) == 0 }

// Options control a scan.
type Options struct {
	// Pattern globs the files to scan within the directory.
	Pattern string
	// DeleteFingerprint, when non-empty, deletes any failing file whose
	// error text contains this substring.
	DeleteFingerprint string
	// Logger overrides the global logger.
	Logger *zap.Logger
}

// Scan checks every matching container under dir. Per-file failures are
// recorded and the scan continues; only listing the directory can fail.
func Scan(dir string, opts Options) (*Report, error) {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = "*.nwbc"
	}

	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to list directory")
	}
	sort.Strings(paths)

	log := opts.Logger
	if log == nil {
		log = logger.With(zap.String("component", "check"))
	}
	report := &Report{}

	for _, path := range paths {
		report.Checked++
		if err := checkFile(path); err != nil {
			f := Failure{Path: path, Err: err}
			if opts.DeleteFingerprint != "" && strings.Contains(err.Error(), opts.DeleteFingerprint) {
				if rmErr := os.Remove(path); rmErr == nil {
					f.Deleted = true
					log.Warn("deleted corrupt file", zap.String("path", path))
				} else {
					log.Error("failed to delete corrupt file",
						zap.String("path", path), zap.Error(rmErr))
				}
			}
			report.Failures = append(report.Failures, f)
			log.Error("container failed check", zap.String("path", path), zap.Error(err))
			continue
		}
		log.Info("container ok", zap.String("path", path))
	}

	log.Info("scan complete",
		zap.Int("checked", report.Checked),
		zap.Int("failed", len(report.Failures)))
	return report, nil
}

// checkFile opens one container and decodes a leading slice of every array,
// exercising the codec path, not just the metadata trailer.
func checkFile(path string) error {
	c, err := arraystore.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, name := range c.Names() {
		arr, err := c.Array(name)
		if err != nil {
			return err
		}
		ranges := arr.FullRanges()
		if len(ranges) > 0 && ranges[0].Stop > probeFrames {
			ranges[0].Stop = probeFrames
		}
		if _, err := arr.Read(ranges); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeCorrupt,
				"array %q is unreadable", name)
		}
	}
	return nil
}
