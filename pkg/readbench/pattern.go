// Package readbench measures cold-cache read performance of stored series.
//
// Each access pattern models one way downstream analysis touches a recording:
// a sequential full scan, random single frames, random spatial patches and
// random temporal windows. Every timed unit follows the same protocol: drop
// the file's page cache, open the container, read, close. Random draws come
// from a single seeded source threaded through the run, so the same seed
// visits the same coordinates in every storage configuration.
package readbench

import (
	"math/rand"
	"time"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/cachecontrol"
	"github.com/chunklab/chunkbench/pkg/config"
	"github.com/chunklab/chunkbench/pkg/errors"
	"github.com/chunklab/chunkbench/pkg/resultsink"
)

// Clock abstracts wall time so pattern timing is testable.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type wallClock struct{}

func (wallClock) Now() time.Time                  { return time.Now() }
func (wallClock) Since(t time.Time) time.Duration { return time.Since(t) }

// WallClock returns the real-time clock.
func WallClock() Clock { return wallClock{} }

// SeriesReader is one opened series inside a container.
type SeriesReader interface {
	Shape() []int
	Read(ranges []arraystore.Range) ([]byte, error)
	Close() error
}

// Opener opens the benchmarked series. Patterns call it after every cache
// drop so each timed unit starts from a closed file.
type Opener func() (SeriesReader, error)

// Env carries everything a pattern needs for one run.
type Env struct {
	// Path is the container file whose cache is dropped before timed units.
	Path string
	Open Opener

	Dropper  cachecontrol.Dropper
	Clock    Clock
	Rand     *rand.Rand
	Settings config.ReadSettings
}

// coldOpen drops the page cache for the benchmarked file and opens it.
func (env *Env) coldOpen() (SeriesReader, error) {
	if err := env.Dropper.Drop(env.Path); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to drop page cache")
	}
	return env.Open()
}

// probeShape opens the series once, untimed, to learn its shape before any
// sampling.
func (env *Env) probeShape() ([]int, error) {
	r, err := env.Open()
	if err != nil {
		return nil, err
	}
	shape := append([]int(nil), r.Shape()...)
	if err := r.Close(); err != nil {
		return nil, err
	}
	return shape, nil
}

// Result is one pattern's measurements.
type Result struct {
	// Group names the result group the datasets land in.
	Group       string
	Description string

	// Times is the primary per-unit timing series summary statistics are
	// derived from.
	Times []float64

	Datasets []resultsink.Dataset
	Attrs    map[string]interface{}
}

// Pattern is one benchmark access pattern.
type Pattern interface {
	Name() string
	Group() string
	Description() string
	Run(env *Env) (*Result, error)
}

// Registry holds patterns in registration order. Order matters: patterns
// consume draws from the shared random source, so reordering them changes
// every sampled coordinate.
type Registry struct {
	patterns []Pattern
	byName   map[string]Pattern
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Pattern)}
}

// Register adds a pattern. Re-registering a name replaces the earlier
// pattern in place.
func (r *Registry) Register(p Pattern) {
	if _, ok := r.byName[p.Name()]; ok {
		for i, q := range r.patterns {
			if q.Name() == p.Name() {
				r.patterns[i] = p
				break
			}
		}
	} else {
		r.patterns = append(r.patterns, p)
	}
	r.byName[p.Name()] = p
}

// Patterns returns the registered patterns in order.
func (r *Registry) Patterns() []Pattern {
	return append([]Pattern(nil), r.patterns...)
}

// Get returns the named pattern.
func (r *Registry) Get(name string) (Pattern, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown access pattern %q", name)
	}
	return p, nil
}

// DefaultRegistry returns the standard pattern suite in its canonical order.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SequentialBatches{})
	r.Register(RandomFrames{})
	r.Register(SpatialPatches{})
	r.Register(TemporalWindows{})
	return r
}

// fullSpatial returns ranges selecting frames [start, stop) with every
// non-leading axis complete.
func fullSpatial(shape []int, start, stop int) []arraystore.Range {
	ranges := make([]arraystore.Range, len(shape))
	ranges[0] = arraystore.Range{Start: start, Stop: stop}
	for i := 1; i < len(shape); i++ {
		ranges[i] = arraystore.Range{Start: 0, Stop: shape[i]}
	}
	return ranges
}

// originSpan is the number of valid window origins along an axis. A window
// larger than the axis still has the single origin 0.
func originSpan(dim, window int) int {
	span := dim - window + 1
	if span < 1 {
		span = 1
	}
	return span
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
