// Package resultsink persists benchmark results.
//
// Each benchmarked configuration gets one container file; each access
// pattern writes one group holding its raw timing arrays and sample
// coordinates as datasets, with derived summary statistics attached as group
// attributes. Container-level attributes record the host environment the
// measurements were taken on.
package resultsink

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/montanaflynn/stats"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/chunklab/chunkbench/pkg/arraystore"
	"github.com/chunklab/chunkbench/pkg/logger"
)

// ResultPath returns the result container path for a labeled configuration
// number.
func ResultPath(dir, label string, number int) string {
	return filepath.Join(dir, fmt.Sprintf("read_%s_Config%03d.nwbc", label, number))
}

// Dataset is one timing or coordinate array to persist within a group.
type Dataset struct {
	Name  string
	DType arraystore.DType
	Shape []int
	Data  []byte
}

// Stats holds the derived summary statistics of a timing series.
type Stats struct {
	Total float64
	Mean  float64
	Std   float64
	Min   float64
	Max   float64
}

// Summarize computes summary statistics over a timing series. Std is the
// population standard deviation. An empty series yields zeros.
func Summarize(times []float64) Stats {
	if len(times) == 0 {
		return Stats{}
	}
	total, _ := stats.Sum(times)
	mean, _ := stats.Mean(times)
	std, _ := stats.StandardDeviationPopulation(times)
	min, _ := stats.Min(times)
	max, _ := stats.Max(times)
	return Stats{Total: total, Mean: mean, Std: std, Min: min, Max: max}
}

// Sink writes one result container.
type Sink struct {
	w   *arraystore.Writer
	log *zap.Logger
}

// Create opens a result container at path and records the host environment
// in its attributes.
func Create(path string) (*Sink, error) {
	w, err := arraystore.NewWriter(path)
	if err != nil {
		return nil, err
	}

	s := &Sink{w: w, log: logger.With(zap.String("component", "resultsink"))}
	s.recordHost()
	return s, nil
}

// recordHost attaches host provenance attributes. Failures to probe the
// host are logged and skipped; they never fail the benchmark.
func (s *Sink) recordHost() {
	s.w.SetAttr("logical_cpus", runtime.NumCPU())

	if info, err := host.Info(); err == nil {
		s.w.SetAttr("host_name", info.Hostname)
		s.w.SetAttr("host_os", info.OS)
		s.w.SetAttr("kernel_version", info.KernelVersion)
	} else {
		s.log.Warn("failed to probe host info", zap.Error(err))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.w.SetAttr("total_memory_bytes", vm.Total)
	} else {
		s.log.Warn("failed to probe memory", zap.Error(err))
	}

	if counts, err := cpu.Counts(true); err == nil {
		s.w.SetAttr("cpu_count", counts)
	}
}

// WriteAttrs attaches container-level attributes.
func (s *Sink) WriteAttrs(attrs map[string]interface{}) {
	for k, v := range attrs {
		s.w.SetAttr(k, v)
	}
}

// WriteGroup persists one access pattern's result: every dataset as an
// array under the group, the pattern's sample metadata as group attributes,
// and summary statistics over times when present.
func (s *Sink) WriteGroup(group string, datasets []Dataset, attrs map[string]interface{}, times []float64) error {
	for _, ds := range datasets {
		name := group + "/" + ds.Name
		if err := s.w.PutArray(name, ds.DType, ds.Shape, ds.Data, nil); err != nil {
			return err
		}
	}

	for k, v := range attrs {
		s.w.SetGroupAttr(group, k, v)
	}

	if len(times) > 0 {
		st := Summarize(times)
		s.w.SetGroupAttr(group, "total_time_s", st.Total)
		s.w.SetGroupAttr(group, "mean_time_s", st.Mean)
		s.w.SetGroupAttr(group, "std_time_s", st.Std)
		s.w.SetGroupAttr(group, "min_time_s", st.Min)
		s.w.SetGroupAttr(group, "max_time_s", st.Max)
	}
	return nil
}

// Close finalizes the result container.
func (s *Sink) Close() error { return s.w.Close() }

// Abort discards the result container.
func (s *Sink) Abort() { s.w.Abort() }

// Path returns the output file path.
func (s *Sink) Path() string { return s.w.Path() }
