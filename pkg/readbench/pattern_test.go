package readbench

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/config"
)

// fakeClock advances a fixed step per Since call.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0), step: time.Millisecond}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Since(time.Time) time.Duration {
	c.now = c.now.Add(c.step)
	return c.step
}

// fakeDropper counts cache drops.
type fakeDropper struct {
	drops int
}

func (d *fakeDropper) Drop(string) error {
	d.drops++
	return nil
}

// fakeReader serves a zero-filled series of the given shape and records
// every selection it is asked for.
type fakeReader struct {
	shape []int
	reads *[][]arraystore.Range
}

func (r *fakeReader) Shape() []int { return r.shape }

func (r *fakeReader) Read(ranges []arraystore.Range) ([]byte, error) {
	n := 2
	for i, rg := range ranges {
		if rg.Start < 0 || rg.Stop > r.shape[i] || rg.Start >= rg.Stop {
			panic("fake read out of bounds")
		}
		n *= rg.Stop - rg.Start
	}
	recorded := make([]arraystore.Range, len(ranges))
	copy(recorded, ranges)
	*r.reads = append(*r.reads, recorded)
	return make([]byte, n), nil
}

func (r *fakeReader) Close() error { return nil }

func fakeEnv(shape []int, settings config.ReadSettings) (*Env, *fakeDropper, *[][]arraystore.Range, *int) {
	dropper := &fakeDropper{}
	reads := &[][]arraystore.Range{}
	opens := new(int)
	env := &Env{
		Path: "/nonexistent/bench.nwbc",
		Open: func() (SeriesReader, error) {
			*opens++
			return &fakeReader{shape: shape, reads: reads}, nil
		},
		Dropper:  dropper,
		Clock:    newFakeClock(),
		Rand:     rand.New(rand.NewSource(settings.Seed)),
		Settings: settings,
	}
	return env, dropper, reads, opens
}

func testSettings() config.ReadSettings {
	return config.ReadSettings{
		BatchSize:    500,
		Repeats:      2,
		RandomFrames: 10,
		PatchCount:   5,
		PatchSize:    96,
		WindowCount:  8,
		WindowFrames: 100,
		Seed:         20220622,
	}
}

func TestSequentialBatchesColdUnits(t *testing.T) {
	settings := testSettings()
	env, dropper, reads, opens := fakeEnv([]int{1205, 8, 8}, settings)

	res, err := SequentialBatches{}.Run(env)
	require.NoError(t, err)

	// One untimed probe plus one cold open per repeat.
	assert.Equal(t, settings.Repeats+1, *opens)
	assert.Equal(t, settings.Repeats, dropper.drops)

	// ceil(1205/500) = 3 batches, the last one short.
	assert.Len(t, res.Times, settings.Repeats*3)
	assert.Equal(t, []arraystore.Range{{Start: 1000, Stop: 1205}, {Start: 0, Stop: 8}, {Start: 0, Stop: 8}},
		(*reads)[2], "final batch covers the remainder")

	var batchFrames []int32
	for _, ds := range res.Datasets {
		if ds.Name == "batch_frames" {
			batchFrames = arraystore.UnpackInt32(ds.Data)
		}
	}
	assert.Equal(t, []int32{500, 500, 205}, batchFrames)
}

func TestRandomFramesDeterministicDraws(t *testing.T) {
	settings := testSettings()

	run := func() []int32 {
		env, dropper, reads, _ := fakeEnv([]int{3000, 4, 4}, settings)
		res, err := RandomFrames{}.Run(env)
		require.NoError(t, err)
		require.Equal(t, settings.RandomFrames, dropper.drops)
		require.Len(t, *reads, settings.RandomFrames)

		for _, ds := range res.Datasets {
			if ds.Name == "frame_indices" {
				return arraystore.UnpackInt32(ds.Data)
			}
		}
		t.Fatal("frame_indices dataset missing")
		return nil
	}

	first := run()
	second := run()
	assert.Equal(t, first, second, "same seed must sample the same frames")

	for _, idx := range first {
		assert.GreaterOrEqual(t, idx, int32(0))
		assert.Less(t, idx, int32(3000))
	}
}

func TestSpatialPatchesDegenerateOrigins(t *testing.T) {
	settings := testSettings()
	// Patch (96) larger than both spatial axes: origin 0 is the only draw
	// and the window clamps to the axis extent.
	env, _, reads, _ := fakeEnv([]int{600, 32, 16}, settings)

	res, err := SpatialPatches{}.Run(env)
	require.NoError(t, err)

	for _, sel := range *reads {
		assert.Equal(t, arraystore.Range{Start: 0, Stop: 32}, sel[1])
		assert.Equal(t, arraystore.Range{Start: 0, Stop: 16}, sel[2])
	}

	for _, ds := range res.Datasets {
		if ds.Name == "patch_origins" {
			for _, o := range arraystore.UnpackInt32(ds.Data) {
				assert.Equal(t, int32(0), o)
			}
		}
	}

	// 5 locations x ceil(600/500) = 2 batches.
	assert.Len(t, res.Times, 10)
}

func TestSpatialPatchesWithinBounds(t *testing.T) {
	settings := testSettings()
	settings.PatchSize = 16
	env, _, reads, _ := fakeEnv([]int{600, 128, 64}, settings)

	_, err := SpatialPatches{}.Run(env)
	require.NoError(t, err)

	for _, sel := range *reads {
		assert.Equal(t, 16, sel[1].Stop-sel[1].Start)
		assert.Equal(t, 16, sel[2].Stop-sel[2].Start)
		assert.LessOrEqual(t, sel[1].Stop, 128)
		assert.LessOrEqual(t, sel[2].Stop, 64)
	}
}

func TestSpatialPatchesNeedsRankThree(t *testing.T) {
	env, _, _, _ := fakeEnv([]int{600, 64}, testSettings())
	_, err := SpatialPatches{}.Run(env)
	require.Error(t, err)
}

func TestTemporalWindowsClampToSeries(t *testing.T) {
	settings := testSettings()
	// Series shorter than the window: every start is 0 and the read stops
	// at the final frame.
	env, dropper, reads, _ := fakeEnv([]int{60, 4, 4}, settings)

	_, err := TemporalWindows{}.Run(env)
	require.NoError(t, err)
	assert.Equal(t, settings.WindowCount, dropper.drops)

	for _, sel := range *reads {
		assert.Equal(t, arraystore.Range{Start: 0, Stop: 60}, sel[0])
	}
}

func TestTemporalWindowsFit(t *testing.T) {
	settings := testSettings()
	env, _, reads, _ := fakeEnv([]int{1000, 4, 4}, settings)

	_, err := TemporalWindows{}.Run(env)
	require.NoError(t, err)

	for _, sel := range *reads {
		assert.Equal(t, settings.WindowFrames, sel[0].Stop-sel[0].Start)
		assert.LessOrEqual(t, sel[0].Stop, 1000)
	}
}

func TestRegistryOrder(t *testing.T) {
	reg := DefaultRegistry()
	var names []string
	for _, p := range reg.Patterns() {
		names = append(names, p.Group())
	}
	assert.Equal(t, []string{
		"o1_sequential_batches",
		"o2_random_frames",
		"o3_spatial_patches",
		"o4_temporal_windows",
	}, names)

	_, err := reg.Get("o2")
	require.NoError(t, err)
	_, err = reg.Get("o9")
	require.Error(t, err)
}
