package readbench

import (
	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/resultsink"
)

// RandomFrames reads single frames at uniformly random positions. All
// indices are drawn up front, then each read is its own cold-cache unit.
type RandomFrames struct{}

func (RandomFrames) Name() string  { return "o2" }
func (RandomFrames) Group() string { return "o2_random_frames" }
func (RandomFrames) Description() string {
	return "random single-frame reads"
}

func (p RandomFrames) Run(env *Env) (*Result, error) {
	count := env.Settings.RandomFrames

	shape, err := env.probeShape()
	if err != nil {
		return nil, err
	}
	frames := shape[0]

	indices := make([]int32, count)
	for i := range indices {
		indices[i] = int32(env.Rand.Intn(frames))
	}

	times := make([]float64, 0, count)
	for _, idx := range indices {
		r, err := env.coldOpen()
		if err != nil {
			return nil, err
		}

		t0 := env.Clock.Now()
		_, err = r.Read(fullSpatial(shape, int(idx), int(idx)+1))
		elapsed := env.Clock.Since(t0).Seconds()
		if err != nil {
			r.Close()
			return nil, err
		}
		times = append(times, elapsed)

		if err := r.Close(); err != nil {
			return nil, err
		}
	}

	return &Result{
		Group:       p.Group(),
		Description: p.Description(),
		Times:       times,
		Datasets: []resultsink.Dataset{
			{
				Name:  "read_times",
				DType: arraystore.Float64,
				Shape: []int{count},
				Data:  arraystore.PackFloat64(times),
			},
			{
				Name:  "frame_indices",
				DType: arraystore.Int32,
				Shape: []int{count},
				Data:  arraystore.PackInt32(indices),
			},
		},
		Attrs: map[string]interface{}{
			"sample_count": count,
			"n_frames":     frames,
		},
	}, nil
}

// TemporalWindows reads contiguous frame windows starting at uniformly
// random positions. Starts are drawn so every window fits; when the series
// is shorter than the window, origin 0 is the only draw and the window is
// clamped to the series end.
type TemporalWindows struct{}

func (TemporalWindows) Name() string  { return "o4" }
func (TemporalWindows) Group() string { return "o4_temporal_windows" }
func (TemporalWindows) Description() string {
	return "random temporal-window reads"
}

func (p TemporalWindows) Run(env *Env) (*Result, error) {
	count := env.Settings.WindowCount
	window := env.Settings.WindowFrames

	shape, err := env.probeShape()
	if err != nil {
		return nil, err
	}
	frames := shape[0]
	span := originSpan(frames, window)

	starts := make([]int32, count)
	for i := range starts {
		starts[i] = int32(env.Rand.Intn(span))
	}

	times := make([]float64, 0, count)
	for _, start := range starts {
		r, err := env.coldOpen()
		if err != nil {
			return nil, err
		}

		stop := minInt(int(start)+window, frames)
		t0 := env.Clock.Now()
		_, err = r.Read(fullSpatial(shape, int(start), stop))
		elapsed := env.Clock.Since(t0).Seconds()
		if err != nil {
			r.Close()
			return nil, err
		}
		times = append(times, elapsed)

		if err := r.Close(); err != nil {
			return nil, err
		}
	}

	return &Result{
		Group:       p.Group(),
		Description: p.Description(),
		Times:       times,
		Datasets: []resultsink.Dataset{
			{
				Name:  "read_times",
				DType: arraystore.Float64,
				Shape: []int{count},
				Data:  arraystore.PackFloat64(times),
			},
			{
				Name:  "window_starts",
				DType: arraystore.Int32,
				Shape: []int{count},
				Data:  arraystore.PackInt32(starts),
			},
		},
		Attrs: map[string]interface{}{
			"window_count":  count,
			"window_frames": window,
			"n_frames":      frames,
		},
	}, nil
}
