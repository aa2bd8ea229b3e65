package readbench

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/cachecontrol"
	"github.com/chunklab/chunkbench/pkg/config"
	"github.com/chunklab/chunkbench/pkg/errors"
	"github.com/chunklab/chunkbench/pkg/logger"
	"github.com/chunklab/chunkbench/pkg/resultsink"
	"github.com/chunklab/chunkbench/pkg/writebench"
)

// Runner benchmarks one stored configuration against the full pattern suite.
type Runner struct {
	settings config.ReadSettings
	registry *Registry
	dropper  cachecontrol.Dropper
	clock    Clock
}

// NewRunner creates a runner over the standard pattern suite with the real
// clock and the platform's cache dropper.
func NewRunner(settings config.ReadSettings) *Runner {
	return &Runner{
		settings: settings,
		registry: DefaultRegistry(),
		dropper:  cachecontrol.New(),
		clock:    WallClock(),
	}
}

// WithRegistry replaces the pattern suite.
func (r *Runner) WithRegistry(reg *Registry) *Runner {
	r.registry = reg
	return r
}

// WithDropper replaces the cache dropper.
func (r *Runner) WithDropper(d cachecontrol.Dropper) *Runner {
	r.dropper = d
	return r
}

// WithClock replaces the clock.
func (r *Runner) WithClock(c Clock) *Runner {
	r.clock = c
	return r
}

// Request identifies the stored configuration to benchmark.
type Request struct {
	ConfigNumber int
	InputDir     string
	SeriesName   string
	Label        string
	OutputDir    string
}

// Run benchmarks every registered pattern against the configuration's
// container, strictly in registration order, and persists one result file.
// The first pattern failure aborts the run: patterns share the random
// source, so a partial suite is not comparable across configurations.
func (r *Runner) Run(req Request) (string, error) {
	inputPath := writebench.ContainerPath(req.InputDir, req.Label, req.ConfigNumber)
	if _, err := os.Stat(inputPath); err != nil {
		return "", errors.Wrapf(err, errors.ErrorTypeNotFound,
			"no container for configuration %d at %s", req.ConfigNumber, inputPath)
	}

	env := &Env{
		Path: inputPath,
		Open: func() (SeriesReader, error) {
			return openSeries(inputPath, req.SeriesName)
		},
		Dropper:  r.dropper,
		Clock:    r.clock,
		Rand:     rand.New(rand.NewSource(r.settings.Seed)),
		Settings: r.settings,
	}

	resultPath := resultsink.ResultPath(req.OutputDir, req.Label, req.ConfigNumber)
	sink, err := resultsink.Create(resultPath)
	if err != nil {
		return "", err
	}
	sink.WriteAttrs(map[string]interface{}{
		"config_number": req.ConfigNumber,
		"input_file":    inputPath,
		"series_name":   req.SeriesName,
		"seed":          r.settings.Seed,
	})

	ctx := context.WithValue(context.Background(), logger.ConfigNumberKey, req.ConfigNumber)
	ctx = context.WithValue(ctx, logger.LabelKey, req.Label)

	log := logger.WithContext(ctx)
	log.Info("benchmarking configuration",
		zap.String("input", inputPath),
		zap.String("output", resultPath))

	for _, p := range r.registry.Patterns() {
		plog := logger.WithContext(context.WithValue(ctx, logger.PatternKey, p.Name()))
		fmt.Printf("\n[%s] %s\n", strings.ToUpper(p.Name()), p.Description())

		res, err := p.Run(env)
		if err != nil {
			sink.Abort()
			return "", errors.Wrapf(err, errors.ErrorTypeInternal,
				"pattern %s failed", p.Name())
		}
		printSummary(res)
		plog.Debug("pattern complete", zap.Int("samples", len(res.Times)))

		if err := sink.WriteGroup(res.Group, res.Datasets, res.Attrs, res.Times); err != nil {
			sink.Abort()
			return "", err
		}
	}

	if err := sink.Close(); err != nil {
		return "", err
	}

	log.Info("benchmark complete", zap.String("results", resultPath))
	return resultPath, nil
}

func printSummary(res *Result) {
	st := resultsink.Summarize(res.Times)
	fmt.Printf("  Iterations: %d\n", len(res.Times))
	fmt.Printf("  Total time: %.3fs\n", st.Total)
	fmt.Printf("  Mean time:  %.4fs (std %.4fs)\n", st.Mean, st.Std)
}

// containerReader adapts an opened container array to SeriesReader.
type containerReader struct {
	c   *arraystore.Container
	arr *arraystore.Array
}

func openSeries(path, series string) (SeriesReader, error) {
	c, err := arraystore.Open(path)
	if err != nil {
		return nil, err
	}
	arr, err := c.Array(series)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &containerReader{c: c, arr: arr}, nil
}

func (r *containerReader) Shape() []int { return r.arr.Shape() }

func (r *containerReader) Read(ranges []arraystore.Range) ([]byte, error) {
	return r.arr.Read(ranges)
}

func (r *containerReader) Close() error { return r.c.Close() }
