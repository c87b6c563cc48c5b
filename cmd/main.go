// Copyright (c) 2025 A Bit of Help, Inc.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/logger"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/pipeline/options"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/stats"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/utils"
	"github.com/abitofhelp/secure_sensor_pipeline/pkg/verifier"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const programName = "sensor-pipeline"

// ExitFunc is a function that exits the program with a given status code
type ExitFunc func(int)

// DefaultExitFunc is the default implementation of ExitFunc
var DefaultExitFunc = os.Exit

// RunFunc runs the sensor pipeline
type RunFunc func(ctx context.Context, log *zap.Logger, opts *options.PipelineOptions) (*stats.Stats, error)

// VerifyFunc verifies one batch artifact
type VerifyFunc func(ctx context.Context, log *zap.Logger, path string, opts *options.PipelineOptions) (*verifier.Report, error)

// cli is the parsed command line.
type cli struct {
	opts       *options.PipelineOptions
	configPath string
	verifyPath string
}

// parseArgs resolves options from defaults, then the optional --config file,
// then flags.
func parseArgs(args []string, stderr io.Writer) (*cli, error) {
	c := &cli{}

	// Find --config first so flags can override the file.
	pre := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	pre.StringVarP(&c.configPath, "config", "c", "", "")
	_ = pre.Parse(args)

	opts := options.DefaultPipelineOptions()
	if c.configPath != "" {
		if err := options.LoadFile(c.configPath, opts); err != nil {
			return nil, err
		}
	}

	fs := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [flags]\n\n", programName)
		fmt.Fprintln(stderr, "Samples sensor readings, encrypts them and writes batch artifacts.")
		fmt.Fprintln(stderr, "With --verify, checks an existing artifact instead.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}
	fs.StringVarP(&c.configPath, "config", "c", c.configPath, "YAML file with pipeline options")
	fs.StringVar(&c.verifyPath, "verify", "", "verify the given batch artifact and exit")
	opts.BindFlags(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	c.opts = opts
	return c, nil
}

// run is the main logic of the application, extracted for testability
func run(c *cli, log *zap.Logger, exit ExitFunc, runPipeline RunFunc, verify VerifyFunc) {
	// Create a context with cancellation for safety
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if c.verifyPath != "" {
		report, err := verify(ctx, log, c.verifyPath, c.opts)
		if err != nil {
			if customErrors.IsAuthenticationError(err) {
				log.Error("Artifact failed authentication", zap.String("path", c.verifyPath), zap.Error(err))
			} else {
				log.Error("Failed to verify artifact", zap.String("path", c.verifyPath), zap.Error(err))
			}
			exit(1)
			return
		}
		fmt.Printf("%s: %d of %d records verified\n", report.Path, report.Verified, report.Records)
		return
	}

	// Defer the cleanup function to ensure signal handling is properly cleaned up
	cleanup := utils.SetupGracefulShutdown(cancel, log, utils.ShutdownConfig{
		Grace: c.opts.ShutdownGrace,
		Exit:  utils.ExitFunc(exit),
	})
	defer cleanup()

	pipelineStats, err := runPipeline(ctx, log, c.opts)
	if err != nil {
		if customErrors.IsCancellationError(err) {
			log.Warn("Run was canceled before it started", zap.Error(err))
		} else if customErrors.IsKeyCorruptError(err) {
			log.Error("Encryption key is unusable", zap.String("key_path", c.opts.KeyPath), zap.Error(err))
		} else if customErrors.IsIOError(err) {
			log.Error("I/O error during run", zap.Error(err))
		} else {
			log.Error("Pipeline failed", zap.Error(err))
		}
		if pipelineStats != nil {
			pipelineStats.DisplaySummary(log, c.opts.DeviceID, c.opts.OutputDir)
		}
		exit(1)
		return
	}

	// Display summary
	pipelineStats.DisplaySummary(log, c.opts.DeviceID, c.opts.OutputDir)
}

func main() {
	c, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		DefaultExitFunc(0)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		DefaultExitFunc(1)
		return
	}

	// Initialize zap logger
	log := logger.InitLogger(c.opts.LogLevel)
	defer func() {
		// Ensure logger syncs before exit
		logger.SafeSync(log)
	}()

	run(c, log, DefaultExitFunc, pipeline.Run, verifier.VerifyBatchFile)
}
