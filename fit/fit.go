// Package fit drives the epoch loop: a fixed number of training steps per
// epoch, an optional validation pass, then the callbacks. It knows nothing
// about the device the network runs on.
package fit

import (
	"context"
	"fmt"
	"io"

	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/callbacks"
	"github.com/tsawler/go-metal-alexnet/errs"
	"github.com/tsawler/go-metal-alexnet/vision/dataloader"
)

// StepResult is what one optimizer step reports.
type StepResult struct {
	Loss        float64
	Accuracy    float64
	HasAccuracy bool
}

// Network is a trainable classifier over N x 1 x H x W float32 batches.
type Network interface {
	// TrainBatch runs one forward/backward/update step.
	TrainBatch(images []float32, shape []int, labels []int32) (StepResult, error)
	// Predict returns class probabilities, N x NumClasses, row major.
	Predict(images []float32, shape []int) ([]float32, error)
	NumClasses() int
	LearningRate() float64
	SetLearningRate(lr float64)
}

// BatchSource is a resettable pass over a dataset. *dataloader.DataLoader
// implements it.
type BatchSource interface {
	Reset()
	NextBatch() (dataloader.Batch, error)
	StepsPerEpoch() int
	ImageSize() int
}

// Config controls the loop.
type Config struct {
	Epochs int
	// Progress receives the per-epoch progress bars. nil disables them.
	Progress io.Writer
}

// History records what each epoch produced.
type History struct {
	Logs         []callbacks.Logs
	StoppedEarly bool
}

// Epochs is the number of epochs that completed.
func (h *History) Epochs() int {
	return len(h.Logs)
}

// Last returns the final epoch's logs.
func (h *History) Last() (callbacks.Logs, bool) {
	if len(h.Logs) == 0 {
		return callbacks.Logs{}, false
	}
	return h.Logs[len(h.Logs)-1], true
}

// control adapts a Network to callbacks.Control.
type control struct {
	net  Network
	stop bool
}

func (c *control) LearningRate() float64      { return c.net.LearningRate() }
func (c *control) SetLearningRate(lr float64) { c.net.SetLearningRate(lr) }
func (c *control) StopTraining()              { c.stop = true }

// Fit trains net for up to cfg.Epochs epochs. Each epoch runs
// train.StepsPerEpoch() steps and then, when val has at least one full
// batch, a validation pass. val may be nil.
func Fit(ctx context.Context, net Network, train, val BatchSource, cfg Config, cb callbacks.Callback) (*History, error) {
	if cfg.Epochs <= 0 {
		return nil, errs.Configf("fit", "epochs must be positive, got %d", cfg.Epochs)
	}
	steps := train.StepsPerEpoch()
	if steps == 0 {
		return nil, errs.Dataf("fit", "", "training set has fewer images than one batch, steps per epoch is 0")
	}
	valSteps := 0
	if val != nil {
		valSteps = val.StepsPerEpoch()
	}
	if valSteps == 0 {
		klog.Warning("validation set has fewer images than one batch; skipping validation")
	}
	if cb == nil {
		cb = callbacks.List{}
	}

	ctrl := &control{net: net}
	history := &History{}

	if err := cb.OnTrainBegin(ctrl); err != nil {
		return history, err
	}

	last, err := runEpochs(ctx, net, train, val, steps, valSteps, cfg, cb, ctrl, history)
	endErr := cb.OnTrainEnd(ctrl, last)
	if err != nil {
		if endErr != nil {
			klog.Warningf("train end after failure: %v", endErr)
		}
		return history, err
	}
	if endErr != nil {
		return history, endErr
	}
	return history, nil
}

// runEpochs returns the logs of the last completed epoch, also on failure, so
// that OnTrainEnd always runs once OnTrainBegin succeeded.
func runEpochs(ctx context.Context, net Network, train, val BatchSource, steps, valSteps int, cfg Config, cb callbacks.Callback, ctrl *control, history *History) (callbacks.Logs, error) {
	var last callbacks.Logs
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if cfg.Progress != nil {
			fmt.Fprintf(cfg.Progress, "Epoch %d/%d\n", epoch+1, cfg.Epochs)
		}
		logs := callbacks.Logs{Epoch: epoch, LearningRate: net.LearningRate()}

		loss, acc, err := trainEpoch(ctx, net, train, steps, cfg.Progress)
		if err != nil {
			return last, err
		}
		logs.Loss, logs.Accuracy = loss, acc

		if valSteps > 0 {
			valLoss, valAcc, err := evaluate(ctx, net, val, valSteps, cfg.Progress)
			if err != nil {
				return last, err
			}
			logs.HasValidation = true
			logs.ValLoss, logs.ValAccuracy = valLoss, valAcc
		}

		history.Logs = append(history.Logs, logs)
		last = logs
		if err := cb.OnEpochEnd(ctrl, logs); err != nil {
			return last, err
		}
		if ctrl.stop {
			history.StoppedEarly = true
			break
		}
	}
	return last, nil
}

func trainEpoch(ctx context.Context, net Network, src BatchSource, steps int, out io.Writer) (float64, float64, error) {
	src.Reset()
	size := src.ImageSize()
	bar := NewProgressBar(out, "Training", steps)

	var lossSum, accSum float64
	var seen, accSeen int
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, errs.Train("train step", err)
		}
		batch, err := src.NextBatch()
		if err != nil {
			return 0, 0, err
		}
		if batch.Size == 0 {
			return 0, 0, errs.Dataf("train step", "", "training pass ended after %d of %d steps", step, steps)
		}

		res, err := net.TrainBatch(batch.Images, []int{batch.Size, 1, size, size}, batch.Labels)
		if err != nil {
			return 0, 0, errs.Train("train step", err)
		}
		if !finite(res.Loss) {
			return 0, 0, errs.Trainf("train step", "loss became %v at step %d", res.Loss, step)
		}

		lossSum += res.Loss * float64(batch.Size)
		seen += batch.Size
		if res.HasAccuracy {
			accSum += res.Accuracy * float64(batch.Size)
			accSeen += batch.Size
		}

		metrics := map[string]float64{"loss": lossSum / float64(seen)}
		if accSeen > 0 {
			metrics["acc"] = accSum / float64(accSeen)
		}
		bar.Update(step+1, metrics)
	}
	bar.Finish()

	acc := 0.0
	if accSeen > 0 {
		acc = accSum / float64(accSeen)
	}
	return lossSum / float64(seen), acc, nil
}

func evaluate(ctx context.Context, net Network, src BatchSource, steps int, out io.Writer) (float64, float64, error) {
	src.Reset()
	size := src.ImageSize()
	classes := net.NumClasses()
	bar := NewProgressBar(out, "Validation", steps)

	var lossSum, accSum float64
	var seen int
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, errs.Train("validation step", err)
		}
		batch, err := src.NextBatch()
		if err != nil {
			return 0, 0, err
		}
		if batch.Size == 0 {
			break
		}

		probs, err := net.Predict(batch.Images, []int{batch.Size, 1, size, size})
		if err != nil {
			return 0, 0, errs.Train("validation step", err)
		}
		if len(probs) < batch.Size*classes {
			return 0, 0, errs.Trainf("validation step", "expected %d outputs, got %d", batch.Size*classes, len(probs))
		}

		n := float64(batch.Size)
		lossSum += CrossEntropy(probs, batch.Labels, classes) * n
		accSum += Accuracy(probs, batch.Labels, classes) * n
		seen += batch.Size

		bar.Update(step+1, map[string]float64{
			"val_loss": lossSum / float64(seen),
			"val_acc":  accSum / float64(seen),
		})
	}
	bar.Finish()

	if seen == 0 {
		return 0, 0, errs.Dataf("validation step", "", "validation pass produced no batches")
	}
	return lossSum / float64(seen), accSum / float64(seen), nil
}
