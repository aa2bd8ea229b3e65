package resultsink

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunklab/chunkbench/pkg/arraystore"
)

func TestSummarize(t *testing.T) {
	st := Summarize([]float64{1, 2, 3, 4})
	assert.InDelta(t, 10.0, st.Total, 1e-12)
	assert.InDelta(t, 2.5, st.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), st.Std, 1e-12, "population standard deviation")
	assert.InDelta(t, 1.0, st.Min, 1e-12)
	assert.InDelta(t, 4.0, st.Max, 1e-12)

	assert.Equal(t, Stats{}, Summarize(nil))
}

func TestSinkWritesGroupsAndHost(t *testing.T) {
	dir := t.TempDir()
	path := ResultPath(dir, "test", 12)
	assert.Contains(t, path, "read_test_Config012.nwbc")

	s, err := Create(path)
	require.NoError(t, err)

	times := []float64{0.5, 0.25}
	err = s.WriteGroup("o2_random_frames",
		[]Dataset{
			{Name: "read_times", DType: arraystore.Float64, Shape: []int{2},
				Data: arraystore.PackFloat64(times)},
			{Name: "frame_indices", DType: arraystore.Int32, Shape: []int{2},
				Data: arraystore.PackInt32([]int32{5, 9})},
		},
		map[string]interface{}{"sample_count": 2},
		times)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	c, err := arraystore.Open(path)
	require.NoError(t, err)
	defer c.Close()

	// Host provenance lands at the container level.
	assert.NotNil(t, c.Attrs()["logical_cpus"])

	attrs := c.GroupAttrs("o2_random_frames")
	require.NotNil(t, attrs)
	assert.EqualValues(t, 2, attrs["sample_count"])
	assert.InDelta(t, 0.75, attrs["total_time_s"].(float64), 1e-12)
	assert.InDelta(t, 0.375, attrs["mean_time_s"].(float64), 1e-12)
	assert.InDelta(t, 0.25, attrs["min_time_s"].(float64), 1e-12)
	assert.InDelta(t, 0.5, attrs["max_time_s"].(float64), 1e-12)

	arr, err := c.Array("o2_random_frames/read_times")
	require.NoError(t, err)
	data, err := arr.Read(arr.FullRanges())
	require.NoError(t, err)
	assert.Equal(t, times, arraystore.UnpackFloat64(data))
}
