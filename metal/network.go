// Package metal runs the classifier on the GPU through go-metal. It adapts a
// go-metal ModelTrainer to the fit and predict interfaces and moves weights
// in and out of go-metal checkpoints.
package metal

import (
	"github.com/pkg/errors"
	"github.com/tsawler/go-metal/cgo_bridge"
	"github.com/tsawler/go-metal/layers"
	"github.com/tsawler/go-metal/training"

	"github.com/tsawler/go-metal-alexnet/fit"
)

// Adam settings used for every run.
const (
	Beta1   = 0.9
	Beta2   = 0.999
	Epsilon = 1e-7
)

// TrainerConfig is the compile step: softmax cross-entropy on integer labels,
// Adam, accuracy measured on every batch.
func TrainerConfig(batchSize int, learningRate float64) training.TrainerConfig {
	return training.TrainerConfig{
		BatchSize:     batchSize,
		LearningRate:  float32(learningRate),
		OptimizerType: cgo_bridge.Adam,
		Beta1:         Beta1,
		Beta2:         Beta2,
		Epsilon:       Epsilon,
		ProblemType:   training.Classification,
		LossFunction:  training.CrossEntropy,
		EngineType:    training.Dynamic,
	}
}

// Network owns one ModelTrainer and its GPU resources.
type Network struct {
	trainer    *training.ModelTrainer
	spec       *layers.ModelSpec
	batchSize  int
	numClasses int
	steps      int
}

// NewNetwork compiles spec for training. Close releases the GPU resources.
func NewNetwork(spec *layers.ModelSpec, config training.TrainerConfig) (*Network, error) {
	if len(spec.InputShape) != 4 || len(spec.OutputShape) != 2 {
		return nil, errors.Errorf("expected NCHW input and 2D output, got %v -> %v", spec.InputShape, spec.OutputShape)
	}

	trainer, err := training.NewModelTrainer(spec, config)
	if err != nil {
		return nil, errors.Wrap(err, "create model trainer")
	}
	if err := trainer.EnablePersistentBuffers(spec.InputShape); err != nil {
		trainer.Cleanup()
		return nil, errors.Wrap(err, "enable persistent buffers")
	}
	trainer.SetAccuracyCheckInterval(1)

	return &Network{
		trainer:    trainer,
		spec:       spec,
		batchSize:  spec.InputShape[0],
		numClasses: spec.OutputShape[1],
	}, nil
}

// TrainBatch runs one Adam step on a full batch.
func (n *Network) TrainBatch(images []float32, shape []int, labels []int32) (fit.StepResult, error) {
	if shape[0] != n.batchSize {
		return fit.StepResult{}, errors.Errorf("model is compiled for batches of %d, got %d", n.batchSize, shape[0])
	}
	labelData, err := training.NewInt32Labels(labels, []int{len(labels), 1})
	if err != nil {
		return fit.StepResult{}, errors.Wrap(err, "labels")
	}
	result, err := n.trainer.TrainBatchUnified(images, shape, labelData)
	if err != nil {
		return fit.StepResult{}, errors.Wrapf(err, "train step %d", n.steps)
	}
	n.steps++
	return fit.StepResult{
		Loss:        float64(result.Loss),
		Accuracy:    result.Accuracy,
		HasAccuracy: result.HasAccuracy,
	}, nil
}

// Predict returns softmax probabilities. Batches smaller than the compiled
// batch size are zero padded and the padding rows dropped.
func (n *Network) Predict(images []float32, shape []int) ([]float32, error) {
	count := shape[0]
	if count > n.batchSize {
		return nil, errors.Errorf("model is compiled for batches of %d, got %d", n.batchSize, count)
	}
	input, inputShape := images, shape
	if count < n.batchSize {
		perImage := len(images) / count
		input = make([]float32, n.batchSize*perImage)
		copy(input, images)
		inputShape = append([]int{n.batchSize}, shape[1:]...)
	}

	result, err := n.trainer.InferBatch(input, inputShape)
	if err != nil {
		return nil, errors.Wrap(err, "inference")
	}
	want := count * n.numClasses
	if len(result.Predictions) < want {
		return nil, errors.Errorf("expected %d logits, got %d", want, len(result.Predictions))
	}
	probs := make([]float32, want)
	copy(probs, result.Predictions[:want])
	return fit.Softmax(probs, n.numClasses), nil
}

func (n *Network) NumClasses() int { return n.numClasses }

func (n *Network) LearningRate() float64 {
	return float64(n.trainer.GetCurrentLearningRate())
}

func (n *Network) SetLearningRate(lr float64) {
	n.trainer.SetLearningRate(float32(lr))
}

// Steps is the number of optimizer steps taken so far.
func (n *Network) Steps() int { return n.steps }

// Spec returns the compiled layer specification.
func (n *Network) Spec() *layers.ModelSpec { return n.spec }

// Summary is go-metal's layer-by-layer model summary.
func (n *Network) Summary() string {
	return n.spec.Summary()
}

// Close releases the trainer.
func (n *Network) Close() {
	if n.trainer != nil {
		n.trainer.Cleanup()
		n.trainer = nil
	}
}
