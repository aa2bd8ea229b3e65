package writebench

import (
	"fmt"
	"os"

	"github.com/chunklab/chunkbench/pkg/errors"
)

// statsHeader matches the column layout of the historical stats tables.
const statsHeader = "configNo n_frames t_write(s) file_size(Gb) total_t(s)\n"

// WriteStats appends one stats line for a configured write.
// totalSeconds is the wall-clock time of the whole run, including config
// lookup and source setup; Result.WriteSeconds covers the export alone.
func WriteStats(path string, res *Result, totalSeconds float64) error {
	size := "N/A"
	if res.SizeKnown {
		size = fmt.Sprintf("%v", res.FileSizeGB)
	}
	line := fmt.Sprintf("%d %d %.4f %s %.4f\n",
		res.ConfigNumber, res.Frames, res.WriteSeconds, size, totalSeconds)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to open stats file")
	}
	defer f.Close()

	if _, err := f.WriteString(statsHeader + line); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write stats")
	}
	return nil
}
