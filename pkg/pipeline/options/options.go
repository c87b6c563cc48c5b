// Copyright (c) 2025 A Bit of Help, Inc.

// Package options provides configuration options for the sensor pipeline.
package options

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBatchSize is the number of records per batch artifact
	DefaultBatchSize = 10

	// DefaultDeviceID identifies the simulated sensor
	DefaultDeviceID = "sensor-sim-001"

	// DefaultSampleInterval is the period between two readings
	DefaultSampleInterval = time.Second

	// DefaultKeyPath is where the encryption key is loaded from or created at
	DefaultKeyPath = "./key/encryption.key"

	// DefaultOutputDir receives the batch artifacts
	DefaultOutputDir = "./output"

	// DefaultRunDuration bounds a run; zero means run until interrupted
	DefaultRunDuration = 5 * time.Minute

	// DefaultShutdownGrace is how long a drain may take after a stop signal
	DefaultShutdownGrace = 30 * time.Second

	// DefaultHashAlgorithm is the integrity digest recorded in metadata
	DefaultHashAlgorithm = "sha256"

	// DefaultLogLevel is the minimum zap level
	DefaultLogLevel = "info"
)

// Sampler kinds.
const (
	SamplerSimulated = "simulated"
	SamplerDevice    = "device"
)

// PipelineOptions contains configuration options for the sensor pipeline
type PipelineOptions struct {
	// BatchSize is the number of records that triggers a flush
	BatchSize int `yaml:"batch_size"`

	// DeviceID is stamped on every simulated sample
	DeviceID string `yaml:"device_id"`

	// SampleInterval is the period between readings
	SampleInterval time.Duration `yaml:"sample_interval"`

	// KeyPath locates the 32-byte key file
	KeyPath string `yaml:"key_path"`

	// OutputDir receives the batch artifacts
	OutputDir string `yaml:"output_dir"`

	// RunDuration bounds the run; zero means unlimited
	RunDuration time.Duration `yaml:"run_duration"`

	// ShutdownGrace bounds the drain after a stop signal
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// HashAlgorithm is sha256 or blake3
	HashAlgorithm string `yaml:"hash_algorithm"`

	// Sampler is simulated or device
	Sampler string `yaml:"sampler"`

	// DevicePath is the NDJSON source read by the device sampler
	DevicePath string `yaml:"device_path"`

	// CompressArtifacts brotli-compresses the batch artifacts
	CompressArtifacts bool `yaml:"compress_artifacts"`

	// LogLevel is the minimum zap level
	LogLevel string `yaml:"log_level"`
}

// DefaultPipelineOptions returns a PipelineOptions with default values
func DefaultPipelineOptions() *PipelineOptions {
	return &PipelineOptions{
		BatchSize:      DefaultBatchSize,
		DeviceID:       DefaultDeviceID,
		SampleInterval: DefaultSampleInterval,
		KeyPath:        DefaultKeyPath,
		OutputDir:      DefaultOutputDir,
		RunDuration:    DefaultRunDuration,
		ShutdownGrace:  DefaultShutdownGrace,
		HashAlgorithm:  DefaultHashAlgorithm,
		Sampler:        SamplerSimulated,
		LogLevel:       DefaultLogLevel,
	}
}

// LoadFile overlays the YAML document at path onto opts. Keys that do not
// name an option are rejected. An empty document leaves opts unchanged.
func LoadFile(path string, opts *PipelineOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(opts); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// BindFlags registers one flag per option on fs, using the current values of
// opts as defaults. Parsing fs writes straight into opts.
func (o *PipelineOptions) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.BatchSize, "batch-size", o.BatchSize, "records per batch artifact")
	fs.StringVar(&o.DeviceID, "device-id", o.DeviceID, "device identifier stamped on simulated samples")
	fs.DurationVar(&o.SampleInterval, "sample-interval", o.SampleInterval, "time between readings")
	fs.StringVar(&o.KeyPath, "key-path", o.KeyPath, "path of the 32-byte encryption key (created if missing)")
	fs.StringVarP(&o.OutputDir, "output-dir", "o", o.OutputDir, "directory receiving batch artifacts")
	fs.DurationVar(&o.RunDuration, "run-duration", o.RunDuration, "stop after this long (0 runs until interrupted)")
	fs.DurationVar(&o.ShutdownGrace, "shutdown-grace", o.ShutdownGrace, "time allowed to drain after a stop signal")
	fs.StringVar(&o.HashAlgorithm, "hash-algorithm", o.HashAlgorithm, "integrity digest: sha256 or blake3")
	fs.StringVar(&o.Sampler, "sampler", o.Sampler, "reading source: simulated or device")
	fs.StringVar(&o.DevicePath, "device-path", o.DevicePath, "newline-delimited JSON source for the device sampler")
	fs.BoolVar(&o.CompressArtifacts, "compress", o.CompressArtifacts, "brotli-compress batch artifacts")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "minimum log level")
}

// Validate reports every invalid option at once.
func (o *PipelineOptions) Validate() error {
	var problems []string

	if o.BatchSize < 1 {
		problems = append(problems, fmt.Sprintf("batch_size must be positive, got %d", o.BatchSize))
	}
	if o.SampleInterval <= 0 {
		problems = append(problems, fmt.Sprintf("sample_interval must be positive, got %s", o.SampleInterval))
	}
	if o.RunDuration < 0 {
		problems = append(problems, fmt.Sprintf("run_duration must not be negative, got %s", o.RunDuration))
	}
	if o.ShutdownGrace <= 0 {
		problems = append(problems, fmt.Sprintf("shutdown_grace must be positive, got %s", o.ShutdownGrace))
	}
	if strings.TrimSpace(o.DeviceID) == "" {
		problems = append(problems, "device_id must not be empty")
	}
	if strings.TrimSpace(o.KeyPath) == "" {
		problems = append(problems, "key_path must not be empty")
	}
	if strings.TrimSpace(o.OutputDir) == "" {
		problems = append(problems, "output_dir must not be empty")
	}

	switch o.HashAlgorithm {
	case "sha256", "blake3":
	default:
		problems = append(problems, fmt.Sprintf("hash_algorithm must be sha256 or blake3, got %q", o.HashAlgorithm))
	}

	switch o.Sampler {
	case SamplerSimulated:
	case SamplerDevice:
		if strings.TrimSpace(o.DevicePath) == "" {
			problems = append(problems, "device_path is required when sampler is device")
		}
	default:
		problems = append(problems, fmt.Sprintf("sampler must be %s or %s, got %q", SamplerSimulated, SamplerDevice, o.Sampler))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid options: %s", strings.Join(problems, "; "))
	}
	return nil
}
