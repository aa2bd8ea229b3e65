package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chunklab/chunkbench/pkg/cachecontrol"
	"github.com/chunklab/chunkbench/pkg/check"
	"github.com/chunklab/chunkbench/pkg/config"
	"github.com/chunklab/chunkbench/pkg/configtable"
	"github.com/chunklab/chunkbench/pkg/export"
	"github.com/chunklab/chunkbench/pkg/logger"
	"github.com/chunklab/chunkbench/pkg/readbench"
	"github.com/chunklab/chunkbench/pkg/writebench"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	var logLevel, settingsFile string

	root := &cobra.Command{
		Use:   "chunkbench",
		Short: "Chunkbench - chunked-storage benchmarking for large recordings",
		Long: `Chunkbench materializes storage configurations (chunk layout + compression)
for large imaging and ephys recordings, then benchmarks cold-cache read
performance across realistic access patterns.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: logLevel, Encoding: "console"})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&settingsFile, "settings", "", "Path to settings YAML file (optional)")

	// Version command
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Chunkbench v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(writeCmd(&settingsFile))
	root.AddCommand(readCmd(&settingsFile))
	root.AddCommand(checkCmd())
	root.AddCommand(exportBinaryCmd(&settingsFile))
	root.AddCommand(exportTIFFCmd())
	root.AddCommand(cacheVerifyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadSettings reads the settings file, or defaults when none is given.
func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		return config.DefaultSettings(), nil
	}
	return config.Load(path)
}

func writeCmd(settingsFile *string) *cobra.Command {
	var table, input, series, tiffDir, label, outDir string
	var number int

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Materialize one storage configuration",
		Long: `Write one storage configuration: look up a row of the configuration table,
stream the reference series through it into a new container, and append a
stats line. A failed export is recorded with file size N/A, not fatal.

Example:
  chunkbench write --table configs.txt --config-number 3 \
    --input ref.nwbc --series TwoPhotonSeries --label ophys --outdir out/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(*settingsFile)
			if err != nil {
				return err
			}

			cfg, err := configtable.Lookup(table, number)
			if err != nil {
				return err
			}

			start := time.Now()
			w := writebench.New(settings.Write.BufferFrames)
			res, err := w.Run(writebench.Request{
				Config:       cfg,
				ConfigNumber: number,
				InputPath:    input,
				SeriesName:   series,
				TIFFDir:      tiffDir,
				OutputLabel:  label,
				OutputDir:    outDir,
			})
			if err != nil {
				return err
			}
			total := time.Since(start).Seconds()

			statsPath := writebench.StatsPath(outDir, label, number)
			if err := writebench.WriteStats(statsPath, res, total); err != nil {
				return err
			}

			if res.ExportError != "" {
				logger.Warn("configuration not materialized",
					zap.Int("config_number", number),
					zap.String("reason", res.ExportError))
			}
			fmt.Printf("Config %d: %d frames, write %.2fs, total %.2fs (stats: %s)\n",
				number, res.Frames, res.WriteSeconds, total, statsPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "Path to the storage configuration table (required)")
	cmd.Flags().IntVar(&number, "config-number", 0, "Configuration number to write (required)")
	cmd.Flags().StringVar(&input, "input", "", "Reference container file (required)")
	cmd.Flags().StringVar(&series, "series", "", "Name of the series array to rewrite (required)")
	cmd.Flags().StringVar(&tiffDir, "tiff-dir", "", "Directory of per-frame TIFFs to ingest instead of the reference data")
	cmd.Flags().StringVar(&label, "label", "", "Output label used in file names (required)")
	cmd.Flags().StringVar(&outDir, "outdir", ".", "Output directory")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.MarkFlagRequired("config-number")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("series")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func readCmd(settingsFile *string) *cobra.Command {
	var inDir, series, label, outDir string
	var number int

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Benchmark cold-cache reads of one stored configuration",
		Long: `Run the full access-pattern suite against one previously written
configuration and persist a result container.

Example:
  chunkbench read --config-number 3 --indir out/ \
    --series TwoPhotonSeries --label ophys --outdir out/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(*settingsFile)
			if err != nil {
				return err
			}

			runner := readbench.NewRunner(settings.Read)
			resultPath, err := runner.Run(readbench.Request{
				ConfigNumber: number,
				InputDir:     inDir,
				SeriesName:   series,
				Label:        label,
				OutputDir:    outDir,
			})
			if err != nil {
				return err
			}
			fmt.Printf("\nResults written to %s\n", resultPath)
			return nil
		},
	}

	cmd.Flags().IntVar(&number, "config-number", 0, "Configuration number to benchmark (required)")
	cmd.Flags().StringVar(&inDir, "indir", ".", "Directory holding written configurations")
	cmd.Flags().StringVar(&series, "series", "", "Name of the benchmarked series array (required)")
	cmd.Flags().StringVar(&label, "label", "", "Label used in file names (required)")
	cmd.Flags().StringVar(&outDir, "outdir", ".", "Output directory for result files")
	_ = cmd.MarkFlagRequired("config-number")
	_ = cmd.MarkFlagRequired("series")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func checkCmd() *cobra.Command {
	var pattern, fingerprint string

	cmd := &cobra.Command{
		Use:   "check [dir]",
		Short: "Scan a directory of containers for corruption",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			report, err := check.Scan(dir, check.Options{
				Pattern:           pattern,
				DeleteFingerprint: fingerprint,
			})
			if err != nil {
				return err
			}

			for _, f := range report.Failures {
				status := "FAILED"
				if f.Deleted {
					status = "DELETED"
				}
				fmt.Printf("%s  %s: %v\n", status, f.Path, f.Err)
			}
			fmt.Printf("Checked %d files, %d failed\n", report.Checked, len(report.Failures))
			if !report.OK() {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "*.nwbc", "Glob pattern for files to check")
	cmd.Flags().StringVar(&fingerprint, "delete-fingerprint", "", "Delete failing files whose error contains this substring")
	return cmd
}

func exportBinaryCmd(settingsFile *string) *cobra.Command {
	var input, series, output string

	cmd := &cobra.Command{
		Use:   "export-binary",
		Short: "Export a rank-2 series to a flat time-major binary file",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(*settingsFile)
			if err != nil {
				return err
			}
			return export.ToBinary(input, series, output, export.BinaryOptions{
				MaxChannels:   settings.Export.MaxChannels,
				WindowSamples: settings.Export.WindowSamples,
			})
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Container file (required)")
	cmd.Flags().StringVar(&series, "series", "", "Name of the series array (required)")
	cmd.Flags().StringVar(&output, "output", "", "Output binary file (required)")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("series")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func exportTIFFCmd() *cobra.Command {
	var input, series, outDir string

	cmd := &cobra.Command{
		Use:   "export-tiff",
		Short: "Export a rank-3 series to per-frame TIFF files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return export.ToTIFF(input, series, outDir)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Container file (required)")
	cmd.Flags().StringVar(&series, "series", "", "Name of the series array (required)")
	cmd.Flags().StringVar(&outDir, "outdir", ".", "Output directory for frame files")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("series")
	return cmd
}

func cacheVerifyCmd() *cobra.Command {
	var series string
	var limit int64
	var frames int

	cmd := &cobra.Command{
		Use:   "cache-verify <file>",
		Short: "Verify that page-cache dropping works on this system",
		Long: `Read the same data cold, warm and after a fresh cache drop, and report
whether the drop measurably evicted the file. With --series the check uses
decoded store reads instead of raw file reads.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dropper := cachecontrol.New()
			clock := readbench.WallClock()

			var res *readbench.VerifyResult
			var err error
			if series != "" {
				res, err = readbench.VerifySeries(args[0], series, frames, dropper, clock)
			} else {
				res, err = readbench.VerifyRaw(args[0], limit, dropper, clock)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Bytes read:  %d\n", res.BytesRead)
			fmt.Printf("Cold read:   %.4fs\n", res.ColdSeconds)
			fmt.Printf("Warm read:   %.4fs (%.1fx speedup)\n",
				res.WarmSeconds, speedup(res.ColdSeconds, res.WarmSeconds))
			fmt.Printf("After drop:  %.4fs\n", res.AfterDropSeconds)
			if res.Effective() {
				fmt.Println("Cache dropping is working: post-drop reads are cold again.")
				return nil
			}
			fmt.Println("WARNING: cache dropping appears ineffective on this system.")
			os.Exit(1)
			return nil
		},
	}

	cmd.Flags().StringVar(&series, "series", "", "Verify with decoded reads of this series array")
	cmd.Flags().IntVar(&frames, "frames", 100, "Frames to read per pass with --series")
	cmd.Flags().Int64Var(&limit, "bytes", 256<<20, "Bytes to read per pass without --series (0 = whole file)")
	return cmd
}

func speedup(cold, warm float64) float64 {
	if warm <= 0 {
		return 0
	}
	return cold / warm
}
