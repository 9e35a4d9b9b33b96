package callbacks

import (
	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/errs"
)

// PlateauConfig configures ReduceLROnPlateau.
type PlateauConfig struct {
	Monitor  string  // metric to watch, "val_loss" by default
	Factor   float64 // new_lr = lr * Factor
	Patience int     // epochs with no improvement before reducing
	Mode     Mode
	MinDelta float64 // threshold for measuring the new optimum
	Cooldown int     // epochs to wait after a reduction before counting again
	MinLR    float64 // lower bound on the learning rate
}

// DefaultPlateauConfig mirrors the Keras defaults.
func DefaultPlateauConfig() PlateauConfig {
	return PlateauConfig{
		Monitor:  "val_loss",
		Factor:   0.1,
		Patience: 10,
		Mode:     Auto,
		MinDelta: 1e-4,
	}
}

// ReduceLROnPlateau reduces the learning rate when a metric has stopped
// improving. Improvement is measured against the best value seen so far.
type ReduceLROnPlateau struct {
	Base
	cfg  PlateauConfig
	mode Mode

	best            float64
	wait            int
	cooldownCounter int
	reductions      int
}

// NewReduceLROnPlateau validates cfg. A Factor of 1 or more would never
// reduce anything and is rejected.
func NewReduceLROnPlateau(cfg PlateauConfig) (*ReduceLROnPlateau, error) {
	if cfg.Factor >= 1 || cfg.Factor <= 0 {
		return nil, errs.Configf("reduce lr on plateau", "factor must be in (0, 1), got %g", cfg.Factor)
	}
	if cfg.Patience < 0 || cfg.Cooldown < 0 || cfg.MinLR < 0 {
		return nil, errs.Configf("reduce lr on plateau", "patience, cooldown and min_lr must not be negative")
	}
	if cfg.Monitor == "" {
		cfg.Monitor = "val_loss"
	}
	s := &ReduceLROnPlateau{cfg: cfg, mode: cfg.Mode.resolve(cfg.Monitor)}
	s.reset()
	return s, nil
}

func (s *ReduceLROnPlateau) reset() {
	s.best = s.mode.worst()
	s.wait = 0
	s.cooldownCounter = 0
}

func (s *ReduceLROnPlateau) improved(current float64) bool {
	if s.mode == Max {
		return current > s.best+s.cfg.MinDelta
	}
	return current < s.best-s.cfg.MinDelta
}

func (s *ReduceLROnPlateau) inCooldown() bool {
	return s.cooldownCounter > 0
}

// OnTrainBegin resets the tracked state.
func (s *ReduceLROnPlateau) OnTrainBegin(Control) error {
	s.reset()
	return nil
}

// OnEpochEnd compares the monitored metric with the best so far and reduces
// the learning rate after Patience epochs without improvement.
func (s *ReduceLROnPlateau) OnEpochEnd(ctrl Control, logs Logs) error {
	current, ok := logs.Get(s.cfg.Monitor)
	if !ok {
		klog.Warningf("Reduce LR on plateau conditioned on metric %q which is not available. Available metrics are: %s",
			s.cfg.Monitor, logs.Available())
		return nil
	}

	if s.inCooldown() {
		s.cooldownCounter--
		s.wait = 0
	}

	if s.improved(current) {
		s.best = current
		s.wait = 0
		return nil
	}
	if s.inCooldown() {
		return nil
	}

	s.wait++
	if s.wait < s.cfg.Patience {
		return nil
	}

	oldLR := ctrl.LearningRate()
	if oldLR > s.cfg.MinLR {
		newLR := oldLR * s.cfg.Factor
		if newLR < s.cfg.MinLR {
			newLR = s.cfg.MinLR
		}
		ctrl.SetLearningRate(newLR)
		s.reductions++
		klog.Infof("Epoch %05d: ReduceLROnPlateau reducing learning rate to %g.", logs.Epoch+1, newLR)
		s.cooldownCounter = s.cfg.Cooldown
		s.wait = 0
	}
	return nil
}

// Best returns the best monitored value seen.
func (s *ReduceLROnPlateau) Best() float64 {
	return s.best
}

// Reductions returns how many times the learning rate was lowered.
func (s *ReduceLROnPlateau) Reductions() int {
	return s.reductions
}
