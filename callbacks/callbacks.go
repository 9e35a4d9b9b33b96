// Package callbacks defines the hooks the fit loop calls at the start of
// training, after each epoch and at the end, together with the monitors used
// by a run: plateau learning-rate decay, early stopping, TensorBoard event
// logging and a per-epoch log line.
package callbacks

import (
	"math"
	"sort"
	"strings"
)

// Control is the part of the trainer a callback may steer.
type Control interface {
	LearningRate() float64
	SetLearningRate(lr float64)
	StopTraining()
}

// Logs are the metrics of one finished epoch. Epoch is zero based.
type Logs struct {
	Epoch         int
	Loss          float64
	Accuracy      float64
	HasValidation bool
	ValLoss       float64
	ValAccuracy   float64
	LearningRate  float64
}

// Get looks a metric up by its Keras name. Validation metrics are absent
// when the epoch ran no validation steps.
func (l Logs) Get(name string) (float64, bool) {
	switch name {
	case "loss":
		return l.Loss, true
	case "acc", "accuracy":
		return l.Accuracy, true
	case "lr":
		return l.LearningRate, true
	case "val_loss":
		return l.ValLoss, l.HasValidation
	case "val_acc", "val_accuracy":
		return l.ValAccuracy, l.HasValidation
	}
	return 0, false
}

// Scalars returns every available metric keyed by its short name.
func (l Logs) Scalars() map[string]float64 {
	m := map[string]float64{
		"loss": l.Loss,
		"acc":  l.Accuracy,
		"lr":   l.LearningRate,
	}
	if l.HasValidation {
		m["val_loss"] = l.ValLoss
		m["val_acc"] = l.ValAccuracy
	}
	return m
}

// Available lists the metric names Scalars returns, sorted.
func (l Logs) Available() string {
	names := make([]string, 0, 5)
	for name := range l.Scalars() {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Callback observes training.
type Callback interface {
	OnTrainBegin(ctrl Control) error
	OnEpochEnd(ctrl Control, logs Logs) error
	OnTrainEnd(ctrl Control, logs Logs) error
}

// Base provides no-op hooks for embedding.
type Base struct{}

func (Base) OnTrainBegin(Control) error     { return nil }
func (Base) OnEpochEnd(Control, Logs) error { return nil }
func (Base) OnTrainEnd(Control, Logs) error { return nil }

// List calls each callback in order and stops at the first error.
type List []Callback

func (l List) OnTrainBegin(ctrl Control) error {
	for _, cb := range l {
		if err := cb.OnTrainBegin(ctrl); err != nil {
			return err
		}
	}
	return nil
}

func (l List) OnEpochEnd(ctrl Control, logs Logs) error {
	for _, cb := range l {
		if err := cb.OnEpochEnd(ctrl, logs); err != nil {
			return err
		}
	}
	return nil
}

func (l List) OnTrainEnd(ctrl Control, logs Logs) error {
	for _, cb := range l {
		if err := cb.OnTrainEnd(ctrl, logs); err != nil {
			return err
		}
	}
	return nil
}

// Mode says whether the monitored metric should fall or rise.
type Mode string

const (
	Min  Mode = "min"
	Max  Mode = "max"
	Auto Mode = "auto"
)

// resolve turns Auto into Max for accuracy-like monitors and Min otherwise.
// Unknown modes fall back to Auto.
func (m Mode) resolve(monitor string) Mode {
	switch m {
	case Min, Max:
		return m
	}
	if strings.Contains(monitor, "acc") {
		return Max
	}
	return Min
}

// worst is the starting "best" value for a mode.
func (m Mode) worst() float64 {
	if m == Max {
		return math.Inf(-1)
	}
	return math.Inf(1)
}
