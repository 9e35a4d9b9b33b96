package metal

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/tsawler/go-metal/checkpoints"

	"github.com/tsawler/go-metal-alexnet/config"
	"github.com/tsawler/go-metal-alexnet/persist"
)

func checkpointFormat(f config.Format) (checkpoints.CheckpointFormat, error) {
	switch f {
	case config.FormatJSON:
		return checkpoints.FormatJSON, nil
	case config.FormatONNX:
		return checkpoints.FormatONNX, nil
	}
	return 0, errors.Errorf("unsupported checkpoint format %q", f)
}

// Save writes the current weights to path in the given format.
func (n *Network) Save(path string, format config.Format, info persist.ModelInfo) error {
	cf, err := checkpointFormat(format)
	if err != nil {
		return err
	}
	checkpoint, err := n.checkpoint(info)
	if err != nil {
		return err
	}
	if err := checkpoints.NewCheckpointSaver(cf).SaveCheckpoint(checkpoint, path); err != nil {
		return errors.Wrapf(err, "save %s checkpoint", cf)
	}
	return nil
}

func (n *Network) checkpoint(info persist.ModelInfo) (*checkpoints.Checkpoint, error) {
	weights, err := checkpoints.ExtractWeightsFromTensors(n.trainer.GetParameterTensors(), n.spec)
	if err != nil {
		return nil, errors.Wrap(err, "extract weights")
	}

	tags := []string{fmt.Sprintf("epoch_%d", info.Epoch)}
	if info.RunID != "" {
		tags = append(tags, "run_"+info.RunID)
	}
	if info.ModelName != "" {
		tags = append(tags, "model_"+info.ModelName)
	}
	for _, c := range info.Classes {
		tags = append(tags, "class_"+c)
	}

	return &checkpoints.Checkpoint{
		ModelSpec: n.spec,
		Weights:   weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:        info.Epoch,
			Step:         n.steps,
			LearningRate: float32(n.LearningRate()),
			BestLoss:     float32(finiteOr(info.Loss, 0)),
			BestAccuracy: float32(info.Accuracy),
			TotalSteps:   n.steps,
		},
		Metadata: checkpoints.CheckpointMetadata{
			Version:     "1.0.0",
			Framework:   "go-metal",
			CreatedAt:   time.Now(),
			Description: info.Description,
			Tags:        tags,
		},
	}, nil
}

// Restore loads the weights of a checkpoint written by Save into n. The
// architecture must match.
func (n *Network) Restore(path string, format config.Format) (*checkpoints.Checkpoint, error) {
	cf, err := checkpointFormat(format)
	if err != nil {
		return nil, err
	}
	checkpoint, err := checkpoints.NewCheckpointSaver(cf).LoadCheckpoint(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s checkpoint", cf)
	}
	if err := checkpoints.LoadWeightsIntoTensors(checkpoint.Weights, n.trainer.GetParameterTensors()); err != nil {
		return nil, errors.Wrap(err, "load weights")
	}
	if lr := checkpoint.TrainingState.LearningRate; lr > 0 {
		n.SetLearningRate(float64(lr))
	}
	n.steps = checkpoint.TrainingState.TotalSteps
	return checkpoint, nil
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
