package readbench

import (
	"io"
	"os"

	"github.com/chunklab/chunkbench/pkg/cachecontrol"
	"github.com/chunklab/chunkbench/pkg/errors"
)

// VerifyResult reports one cache-drop verification: the same data read
// cold, immediately re-read warm, then re-read after a fresh drop. Dropping
// works when the post-drop read is closer to the cold read than to the
// warm one.
type VerifyResult struct {
	ColdSeconds      float64
	WarmSeconds      float64
	AfterDropSeconds float64
	BytesRead        int64
}

// Effective reports whether the drop measurably evicted the file: the
// post-drop read must be slower than the midpoint between warm and cold.
func (v *VerifyResult) Effective() bool {
	return v.AfterDropSeconds > (v.ColdSeconds+v.WarmSeconds)/2
}

// VerifyRaw checks cache dropping with plain sequential file reads of up to
// limit bytes (the whole file when limit <= 0).
func VerifyRaw(path string, limit int64, dropper cachecontrol.Dropper, clock Clock) (*VerifyResult, error) {
	read := func() (float64, int64, error) {
		f, err := os.Open(path) //nolint:gosec // G304: path is controlled by the caller
		if err != nil {
			return 0, 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to open file for verification")
		}
		defer f.Close()

		var src io.Reader = f
		if limit > 0 {
			src = io.LimitReader(f, limit)
		}

		t0 := clock.Now()
		n, err := io.Copy(io.Discard, src)
		elapsed := clock.Since(t0).Seconds()
		if err != nil {
			return 0, 0, errors.Wrap(err, errors.ErrorTypeFile, "verification read failed")
		}
		return elapsed, n, nil
	}

	return verify(path, dropper, read)
}

// VerifySeries checks cache dropping with decoded series reads of the first
// frames of the named array.
func VerifySeries(path, series string, frames int, dropper cachecontrol.Dropper, clock Clock) (*VerifyResult, error) {
	read := func() (float64, int64, error) {
		r, err := openSeries(path, series)
		if err != nil {
			return 0, 0, err
		}
		defer r.Close()

		shape := r.Shape()
		stop := minInt(frames, shape[0])

		t0 := clock.Now()
		data, err := r.Read(fullSpatial(shape, 0, stop))
		elapsed := clock.Since(t0).Seconds()
		if err != nil {
			return 0, 0, err
		}
		return elapsed, int64(len(data)), nil
	}

	return verify(path, dropper, read)
}

func verify(path string, dropper cachecontrol.Dropper, read func() (float64, int64, error)) (*VerifyResult, error) {
	if err := dropper.Drop(path); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to drop page cache")
	}
	cold, n, err := read()
	if err != nil {
		return nil, err
	}

	warm, _, err := read()
	if err != nil {
		return nil, err
	}

	if err := dropper.Drop(path); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to drop page cache")
	}
	after, _, err := read()
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		ColdSeconds:      cold,
		WarmSeconds:      warm,
		AfterDropSeconds: after,
		BytesRead:        n,
	}, nil
}
