// Package config provides benchmark settings for chunkbench.
//
// Settings control the write pipeline's buffering and every access pattern's
// parameters. They load from a YAML file with ${VAR} environment
// substitution; absent fields keep their defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings is the full benchmark configuration.
type Settings struct {
	Write  WriteSettings  `yaml:"write"`
	Read   ReadSettings   `yaml:"read"`
	Export ExportSettings `yaml:"export"`
}

// WriteSettings controls the configured writer.
type WriteSettings struct {
	// BufferFrames bounds how many decoded frames a chunk source holds
	// resident at once.
	BufferFrames int `yaml:"buffer_frames"`
}

// ReadSettings controls the read access patterns. Seed drives every random
// draw: the same seed reproduces the same sampled indices and origins across
// runs and across storage configurations.
type ReadSettings struct {
	BatchSize    int   `yaml:"batch_size"`
	Repeats      int   `yaml:"repeats"`
	RandomFrames int   `yaml:"random_frames"`
	PatchCount   int   `yaml:"patch_count"`
	PatchSize    int   `yaml:"patch_size"`
	WindowCount  int   `yaml:"window_count"`
	WindowFrames int   `yaml:"window_frames"`
	Seed         int64 `yaml:"seed"`
}

// ExportSettings controls the binary and TIFF exporters.
type ExportSettings struct {
	// MaxChannels caps how many channels the binary exporter writes.
	MaxChannels int `yaml:"max_channels"`
	// WindowSamples is the number of axis-0 samples streamed per window.
	WindowSamples int `yaml:"window_samples"`
}

// DefaultSettings returns the settings used when no file overrides them.
func DefaultSettings() *Settings {
	return &Settings{
		Write: WriteSettings{
			BufferFrames: 10000,
		},
		Read: ReadSettings{
			BatchSize:    500,
			Repeats:      5,
			RandomFrames: 50,
			PatchCount:   50,
			PatchSize:    96,
			WindowCount:  50,
			WindowFrames: 100,
			Seed:         20220622,
		},
		Export: ExportSettings{
			MaxChannels:   384,
			WindowSamples: 100000,
		},
	}
}

// Validate checks that every setting is usable.
func (s *Settings) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"write.buffer_frames", s.Write.BufferFrames},
		{"read.batch_size", s.Read.BatchSize},
		{"read.repeats", s.Read.Repeats},
		{"read.random_frames", s.Read.RandomFrames},
		{"read.patch_count", s.Read.PatchCount},
		{"read.patch_size", s.Read.PatchSize},
		{"read.window_count", s.Read.WindowCount},
		{"read.window_frames", s.Read.WindowFrames},
		{"export.max_channels", s.Export.MaxChannels},
		{"export.window_samples", s.Export.WindowSamples},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", c.name, c.value)
		}
	}
	return nil
}

// Load reads settings from a YAML file over the defaults.
func Load(filePath string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is controlled by the caller
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), settings); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Save writes settings to a YAML file.
func Save(filePath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
