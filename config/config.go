// Package config holds the immutable parameters of a single training or
// prediction run.
package config

import (
	"flag"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"

	"github.com/tsawler/go-metal-alexnet/errs"
)

// Phase selects what a run does.
type Phase string

const (
	// Train builds, trains, evaluates and saves a model.
	Train Phase = "train"
	// Test loads a previously saved model and only predicts.
	Test Phase = "test"
)

// Format selects the checkpoint encoding of the saved model.
type Format string

const (
	FormatJSON Format = "json"
	FormatONNX Format = "onnx"
)

// Extension returns the file extension, without the dot, for the format.
func (f Format) Extension() string {
	return string(f)
}

// RunConfig is supplied once at start and never modified afterwards.
type RunConfig struct {
	Phase    Phase
	DataDir  string
	TestDir  string
	ModelDir string
	LogDir   string

	Epoch     int
	BatchSize int

	ImageSize       int
	NumClasses      int
	ValidationSplit float64
	LearningRate    float64

	Format     Format
	Workers    int
	CacheMB    int
	Seed       int64
	UploadURI  string
	ModelName  string
	RunID      string
	EnableLogs bool
}

// Default returns the configuration used when no flags are given.
func Default() RunConfig {
	return RunConfig{
		Phase:           Train,
		DataDir:         "data",
		TestDir:         "test",
		ModelDir:        "models",
		LogDir:          "logs",
		Epoch:           200,
		BatchSize:       32,
		ImageSize:       400,
		NumClasses:      5,
		ValidationSplit: 0.2,
		LearningRate:    0.001,
		Format:          FormatJSON,
		Workers:         DefaultWorkers(),
		CacheMB:         512,
		ModelName:       "AlexNetGray",
		EnableLogs:      true,
	}
}

// DefaultWorkers sizes the decode pool from the host's logical cores.
func DefaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// RegisterFlags binds the run flags to fs, writing into cfg. cfg should hold
// the defaults before Parse is called on fs.
func RegisterFlags(fs *flag.FlagSet, cfg *RunConfig) {
	fs.Func("phase", `"train" or "test" (default "train")`, func(s string) error {
		cfg.Phase = Phase(strings.ToLower(s))
		return nil
	})
	fs.StringVar(&cfg.DataDir, "data_dir", cfg.DataDir, "Labeled training directory, one subdirectory per class")
	fs.StringVar(&cfg.TestDir, "test_dir", cfg.TestDir, "Unlabeled image directory to predict")
	fs.StringVar(&cfg.ModelDir, "model_dir", cfg.ModelDir, "Directory to output the result")
	fs.StringVar(&cfg.LogDir, "log_dir", cfg.LogDir, "Directory for TensorBoard event files and plots")
	fs.IntVar(&cfg.Epoch, "epoch", cfg.Epoch, "Number of epochs")
	fs.IntVar(&cfg.BatchSize, "batch_size", cfg.BatchSize, "Number of batch size")
	fs.IntVar(&cfg.ImageSize, "image_size", cfg.ImageSize, "Square input size in pixels")
	fs.IntVar(&cfg.NumClasses, "num_classes", cfg.NumClasses, "Expected number of classes")
	fs.Float64Var(&cfg.ValidationSplit, "validation_split", cfg.ValidationSplit, "Fraction of each class held out for validation")
	fs.Float64Var(&cfg.LearningRate, "learning_rate", cfg.LearningRate, "Initial Adam learning rate")
	fs.Func("format", `Checkpoint encoding, "json" or "onnx" (default "json")`, func(s string) error {
		cfg.Format = Format(strings.ToLower(s))
		return nil
	})
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Parallel image decode workers")
	fs.IntVar(&cfg.CacheMB, "cache_mb", cfg.CacheMB, "Decoded image cache budget in MiB (0 disables)")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed for shuffling and augmentation (0 = time based)")
	fs.StringVar(&cfg.UploadURI, "upload", cfg.UploadURI, "Optional s3://bucket/prefix to publish the saved model to")
	fs.BoolVar(&cfg.EnableLogs, "tensorboard", cfg.EnableLogs, "Write TensorBoard event files to log_dir")
}

// Parse builds a validated RunConfig from command line arguments. extra, if
// non-nil, registers additional flags (for example klog's) on the same set.
func Parse(name string, args []string, extra func(*flag.FlagSet)) (RunConfig, error) {
	cfg := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	RegisterFlags(fs, &cfg)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return RunConfig{}, errs.Config("parse flags", err)
	}
	if fs.NArg() > 0 {
		return RunConfig{}, errs.Configf("parse flags", "unexpected arguments: %v", fs.Args())
	}
	cfg.RunID = uuid.NewString()
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c RunConfig) Validate() error {
	switch c.Phase {
	case Train, Test:
	default:
		return errs.Configf("validate", "phase must be %q or %q, got %q", Train, Test, c.Phase)
	}
	switch c.Format {
	case FormatJSON, FormatONNX:
	default:
		return errs.Configf("validate", "format must be %q or %q, got %q", FormatJSON, FormatONNX, c.Format)
	}
	if c.Epoch <= 0 {
		return errs.Configf("validate", "epoch must be positive, got %d", c.Epoch)
	}
	if c.BatchSize <= 0 {
		return errs.Configf("validate", "batch size must be positive, got %d", c.BatchSize)
	}
	if c.ImageSize <= 0 {
		return errs.Configf("validate", "image size must be positive, got %d", c.ImageSize)
	}
	if c.NumClasses < 2 {
		return errs.Configf("validate", "need at least 2 classes, got %d", c.NumClasses)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return errs.Configf("validate", "validation split must be in [0, 1), got %g", c.ValidationSplit)
	}
	if c.LearningRate <= 0 {
		return errs.Configf("validate", "learning rate must be positive, got %g", c.LearningRate)
	}
	if c.Workers <= 0 {
		return errs.Configf("validate", "workers must be positive, got %d", c.Workers)
	}
	if c.CacheMB < 0 {
		return errs.Configf("validate", "cache size must not be negative, got %d", c.CacheMB)
	}
	if c.ModelDir == "" {
		return errs.Configf("validate", "model_dir must not be empty")
	}
	if c.Phase == Train && c.DataDir == "" {
		return errs.Configf("validate", "data_dir must not be empty in train phase")
	}
	if c.UploadURI != "" && !strings.HasPrefix(c.UploadURI, "s3://") {
		return errs.Configf("validate", "upload must be an s3:// URI, got %q", c.UploadURI)
	}
	return nil
}

// InputShape is the per-sample (height, width, channels) shape fed to the
// model factory. Images are always single channel.
func (c RunConfig) InputShape() [3]int {
	return [3]int{c.ImageSize, c.ImageSize, 1}
}

// String summarizes the run for the startup log line.
func (c RunConfig) String() string {
	return fmt.Sprintf("phase=%s data_dir=%s test_dir=%s model_dir=%s epoch=%d batch_size=%d image_size=%d classes=%d run=%s",
		c.Phase, c.DataDir, c.TestDir, c.ModelDir, c.Epoch, c.BatchSize, c.ImageSize, c.NumClasses, c.RunID)
}

// HostSummary describes the CPU the run executes on.
func HostSummary() string {
	return fmt.Sprintf("%s (%d physical / %d logical cores)",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores)
}
