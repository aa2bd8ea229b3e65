package check

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/testutil"
)

func writeGood(t *testing.T, path string) {
	t.Helper()
	w, err := arraystore.NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.PutArray("series", arraystore.Uint16, []int{10, 4, 4},
		testutil.Ramp(10*4*4), nil))
	require.NoError(t, w.Close())
}

func TestScanReportsAndContinues(t *testing.T) {
	dir := t.TempDir()

	writeGood(t, filepath.Join(dir, "a.nwbc"))
	writeGood(t, filepath.Join(dir, "c.nwbc"))

	// A truncated file in the middle of the listing must not stop the scan.
	raw, err := os.ReadFile(filepath.Join(dir, "a.nwbc"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.nwbc"), raw[:len(raw)-6], 0644))

	report, err := Scan(dir, Options{Logger: testutil.TestLogger(t)})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Path, "b.nwbc")
	assert.False(t, report.Failures[0].Deleted)
	assert.False(t, report.OK())

	// The corrupt file is still on disk.
	_, err = os.Stat(filepath.Join(dir, "b.nwbc"))
	require.NoError(t, err)
}

func TestScanDeleteFingerprint(t *testing.T) {
	dir := t.TempDir()
	writeGood(t, filepath.Join(dir, "a.nwbc"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.nwbc"),
		[]byte("garbage that is long enough to read a footer from......"), 0644))

	report, err := Scan(dir, Options{
		DeleteFingerprint: "bad magic",
		Logger:            testutil.TestLogger(t),
	})
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.True(t, report.Failures[0].Deleted)
	_, err = os.Stat(filepath.Join(dir, "b.nwbc"))
	assert.True(t, os.IsNotExist(err))

	// The healthy file survives.
	_, err = os.Stat(filepath.Join(dir, "a.nwbc"))
	require.NoError(t, err)
}

func TestScanEmptyDir(t *testing.T) {
	report, err := Scan(t.TempDir(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
	assert.True(t, report.OK())
}
