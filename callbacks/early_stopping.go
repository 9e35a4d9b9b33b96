package callbacks

import (
	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/errs"
)

// EarlyStoppingConfig configures EarlyStopping.
type EarlyStoppingConfig struct {
	Monitor  string
	MinDelta float64 // minimum change that counts as an improvement
	Patience int
	Mode     Mode
	// Baseline, when set, must be beaten before any epoch counts as improving.
	Baseline *float64
}

// DefaultEarlyStoppingConfig mirrors the Keras defaults.
func DefaultEarlyStoppingConfig() EarlyStoppingConfig {
	return EarlyStoppingConfig{Monitor: "val_loss", Mode: Auto}
}

// EarlyStopping stops training once the monitored metric has not improved
// by at least MinDelta for Patience consecutive epochs.
type EarlyStopping struct {
	Base
	cfg      EarlyStoppingConfig
	mode     Mode
	minDelta float64

	best         float64
	wait         int
	stoppedEpoch int
}

// NewEarlyStopping validates cfg.
func NewEarlyStopping(cfg EarlyStoppingConfig) (*EarlyStopping, error) {
	if cfg.Patience < 0 {
		return nil, errs.Configf("early stopping", "patience must not be negative, got %d", cfg.Patience)
	}
	if cfg.Monitor == "" {
		cfg.Monitor = "val_loss"
	}
	e := &EarlyStopping{cfg: cfg, mode: cfg.Mode.resolve(cfg.Monitor)}
	e.minDelta = cfg.MinDelta
	if e.minDelta < 0 {
		e.minDelta = -e.minDelta
	}
	if e.mode == Min {
		e.minDelta = -e.minDelta
	}
	e.reset()
	return e, nil
}

func (e *EarlyStopping) reset() {
	e.wait = 0
	e.stoppedEpoch = -1
	if e.cfg.Baseline != nil {
		e.best = *e.cfg.Baseline
	} else {
		e.best = e.mode.worst()
	}
}

func (e *EarlyStopping) improved(current float64) bool {
	if e.mode == Max {
		return current-e.minDelta > e.best
	}
	return current-e.minDelta < e.best
}

// OnTrainBegin resets the tracked state.
func (e *EarlyStopping) OnTrainBegin(Control) error {
	e.reset()
	return nil
}

// OnEpochEnd requests a stop after Patience epochs without improvement.
func (e *EarlyStopping) OnEpochEnd(ctrl Control, logs Logs) error {
	current, ok := logs.Get(e.cfg.Monitor)
	if !ok {
		klog.Warningf("Early stopping conditioned on metric %q which is not available. Available metrics are: %s",
			e.cfg.Monitor, logs.Available())
		return nil
	}

	if e.improved(current) {
		e.best = current
		e.wait = 0
		return nil
	}

	e.wait++
	if e.wait >= e.cfg.Patience {
		e.stoppedEpoch = logs.Epoch
		ctrl.StopTraining()
	}
	return nil
}

// OnTrainEnd logs the epoch at which training was stopped.
func (e *EarlyStopping) OnTrainEnd(Control, Logs) error {
	if e.stoppedEpoch >= 0 {
		klog.Infof("Epoch %05d: early stopping", e.stoppedEpoch+1)
	}
	return nil
}

// StoppedEpoch returns the zero-based epoch that triggered the stop, or -1.
func (e *EarlyStopping) StoppedEpoch() int {
	return e.stoppedEpoch
}

// Best returns the best monitored value seen.
func (e *EarlyStopping) Best() float64 {
	return e.best
}
