package readbench

import (
	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/errors"
	"github.com/chunklab/chunkbench/pkg/resultsink"
)

// SpatialPatches reads a square spatial patch at uniformly random origins,
// scanning the full time axis in sequential batches restricted to the
// patch. Each patch location is one cold-cache unit. A patch wider than an
// axis is clamped to the axis extent, with origin 0 the only valid draw.
type SpatialPatches struct{}

func (SpatialPatches) Name() string  { return "o3" }
func (SpatialPatches) Group() string { return "o3_spatial_patches" }
func (SpatialPatches) Description() string {
	return "random spatial-patch time scans"
}

func (p SpatialPatches) Run(env *Env) (*Result, error) {
	locations := env.Settings.PatchCount
	patch := env.Settings.PatchSize
	batch := env.Settings.BatchSize

	shape, err := env.probeShape()
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 {
		return nil, errors.Newf(errors.ErrorTypeShape,
			"spatial-patch pattern needs a rank-3 series, got rank %d", len(shape))
	}
	frames, width, height := shape[0], shape[1], shape[2]
	pw := minInt(patch, width)
	ph := minInt(patch, height)
	batches := ceilDiv(frames, batch)

	origins := make([]int32, 2*locations)
	for l := 0; l < locations; l++ {
		origins[2*l] = int32(env.Rand.Intn(originSpan(width, patch)))
		origins[2*l+1] = int32(env.Rand.Intn(originSpan(height, patch)))
	}

	batchTimes := make([]float64, 0, locations*batches)
	locationTotals := make([]float64, 0, locations)

	for l := 0; l < locations; l++ {
		x := int(origins[2*l])
		y := int(origins[2*l+1])

		r, err := env.coldOpen()
		if err != nil {
			return nil, err
		}

		locStart := env.Clock.Now()
		for b := 0; b < batches; b++ {
			start := b * batch
			stop := minInt(start+batch, frames)
			ranges := []arraystore.Range{
				{Start: start, Stop: stop},
				{Start: x, Stop: x + pw},
				{Start: y, Stop: y + ph},
			}

			t0 := env.Clock.Now()
			if _, err := r.Read(ranges); err != nil {
				r.Close()
				return nil, err
			}
			batchTimes = append(batchTimes, env.Clock.Since(t0).Seconds())
		}
		locationTotals = append(locationTotals, env.Clock.Since(locStart).Seconds())

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
				Shape: []int{locations, batches},
				Data:  arraystore.PackFloat64(batchTimes),
			},
			{
				Name:  "location_totals",
				DType: arraystore.Float64,
				Shape: []int{locations},
				Data:  arraystore.PackFloat64(locationTotals),
			},
			{
				Name:  "patch_origins",
				DType: arraystore.Int32,
				Shape: []int{locations, 2},
				Data:  arraystore.PackInt32(origins),
			},
		},
		Attrs: map[string]interface{}{
			"patch_count": locations,
			"patch_size":  patch,
			"batch_size":  batch,
			"n_frames":    frames,
		},
	}, nil
}
