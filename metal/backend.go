package metal

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tsawler/go-metal/training"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/callbacks"
	"github.com/tsawler/go-metal-alexnet/config"
	"github.com/tsawler/go-metal-alexnet/models/alexnet"
	"github.com/tsawler/go-metal-alexnet/pipeline"
)

// Backend builds AlexNet models on the Metal GPU.
type Backend struct {
	Options alexnet.Options
}

// NewBackend returns a backend using the default classifier head.
func NewBackend() *Backend {
	return &Backend{Options: alexnet.DefaultOptions()}
}

// Build compiles a fresh model.
func (b *Backend) Build(cfg config.RunConfig, numClasses int) (pipeline.Model, error) {
	spec, err := alexnet.Build(cfg.BatchSize, cfg.InputShape(), numClasses, b.Options)
	if err != nil {
		return nil, err
	}
	net, err := NewNetwork(spec, TrainerConfig(cfg.BatchSize, cfg.LearningRate))
	if err != nil {
		return nil, err
	}
	training.NewModelArchitecturePrinter(cfg.ModelName).PrintArchitecture(spec)
	return net, nil
}

// Load compiles the same architecture and restores the weights at path.
func (b *Backend) Load(cfg config.RunConfig, numClasses int, path string) (pipeline.Model, error) {
	spec, err := alexnet.Build(cfg.BatchSize, cfg.InputShape(), numClasses, b.Options)
	if err != nil {
		return nil, err
	}
	net, err := NewNetwork(spec, TrainerConfig(cfg.BatchSize, cfg.LearningRate))
	if err != nil {
		return nil, err
	}
	checkpoint, err := net.Restore(path, cfg.Format)
	if err != nil {
		net.Close()
		return nil, errors.Wrapf(err, "restore %s", path)
	}
	klog.Infof("Loaded %s (epoch %d, %s)", path, checkpoint.TrainingState.Epoch, checkpoint.Metadata.Description)
	return net, nil
}

// Callbacks adds the training-curve plot recorder when logging is enabled.
func (b *Backend) Callbacks(cfg config.RunConfig) []callbacks.Callback {
	if !cfg.EnableLogs {
		return nil
	}
	return []callbacks.Callback{NewCurvePlots(filepath.Join(cfg.LogDir, "plots"), cfg.ModelName)}
}
