package readbench

import (
	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/resultsink"
)

// SequentialBatches scans the whole series front to back in fixed-size
// frame batches, repeated several times. Each repeat is one cold-cache
// unit: the cache is dropped and the file reopened once per repeat, then
// every batch within it is timed individually on the same open handle.
type SequentialBatches struct{}

func (SequentialBatches) Name() string  { return "o1" }
func (SequentialBatches) Group() string { return "o1_sequential_batches" }
func (SequentialBatches) Description() string {
	return "sequential full-frame batch scan"
}

func (p SequentialBatches) Run(env *Env) (*Result, error) {
	batch := env.Settings.BatchSize
	repeats := env.Settings.Repeats

	shape, err := env.probeShape()
	if err != nil {
		return nil, err
	}
	frames := shape[0]
	batches := ceilDiv(frames, batch)

	batchTimes := make([]float64, 0, repeats*batches)
	repeatTotals := make([]float64, 0, repeats)
	batchFrames := make([]int32, batches)
	for b := 0; b < batches; b++ {
		start := b * batch
		batchFrames[b] = int32(minInt(start+batch, frames) - start)
	}

	for rep := 0; rep < repeats; rep++ {
		r, err := env.coldOpen()
		if err != nil {
			return nil, err
		}

		repStart := env.Clock.Now()
		for b := 0; b < batches; b++ {
			start := b * batch
			stop := minInt(start+batch, frames)

			t0 := env.Clock.Now()
			if _, err := r.Read(fullSpatial(shape, start, stop)); err != nil {
				r.Close()
				return nil, err
			}
			batchTimes = append(batchTimes, env.Clock.Since(t0).Seconds())
		}
		repeatTotals = append(repeatTotals, env.Clock.Since(repStart).Seconds())

		if err := r.Close(); err != nil {
			return nil, err
		}
	}

	return &Result{
		Group:       p.Group(),
		Description: p.Description(),
		Times:       batchTimes,
		Datasets: []resultsink.Dataset{
			{
				Name:  "batch_times",
				DType: arraystore.Float64,
				Shape: []int{repeats, batches},
				Data:  arraystore.PackFloat64(batchTimes),
			},
			{
				Name:  "repeat_totals",
				DType: arraystore.Float64,
				Shape: []int{repeats},
				Data:  arraystore.PackFloat64(repeatTotals),
			},
			{
				Name:  "batch_frames",
				DType: arraystore.Int32,
				Shape: []int{batches},
				Data:  arraystore.PackInt32(batchFrames),
			},
		},
		Attrs: map[string]interface{}{
			"batch_size": batch,
			"repeats":    repeats,
			"n_frames":   frames,
		},
	}, nil
}
