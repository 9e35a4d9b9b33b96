package metal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-metal/cgo_bridge"
	"github.com/tsawler/go-metal/checkpoints"
	"github.com/tsawler/go-metal/training"

	"github.com/tsawler/go-metal-alexnet/callbacks"
	"github.com/tsawler/go-metal-alexnet/config"
)

func TestTrainerConfig(t *testing.T) {
	tc := TrainerConfig(32, 0.001)
	if tc.BatchSize != 32 {
		t.Errorf("Expected batch size 32, got %d", tc.BatchSize)
	}
	if tc.LearningRate != 0.001 {
		t.Errorf("Expected learning rate 0.001, got %g", tc.LearningRate)
	}
	if tc.OptimizerType != cgo_bridge.Adam {
		t.Errorf("Expected Adam, got %v", tc.OptimizerType)
	}
	if tc.Beta1 != 0.9 || tc.Beta2 != 0.999 || tc.Epsilon != 1e-7 {
		t.Errorf("Expected Adam(0.9, 0.999, 1e-7), got (%g, %g, %g)", tc.Beta1, tc.Beta2, tc.Epsilon)
	}
	if tc.ProblemType != training.Classification || tc.LossFunction != training.CrossEntropy {
		t.Error("Expected classification with cross-entropy")
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestCheckpointFormat(t *testing.T) {
	tests := []struct {
		in   config.Format
		want checkpoints.CheckpointFormat
		ok   bool
	}{
		{config.FormatJSON, checkpoints.FormatJSON, true},
		{config.FormatONNX, checkpoints.FormatONNX, true},
		{config.Format("h5"), 0, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := checkpointFormat(tt.in)
			if tt.ok != (err == nil) {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCurvePlots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	p := NewCurvePlots(dir, "AlexNetGray")

	if err := p.OnTrainBegin(nil); err != nil {
		t.Fatalf("OnTrainBegin failed: %v", err)
	}
	for epoch := 0; epoch < 3; epoch++ {
		logs := callbacks.Logs{
			Epoch:         epoch,
			Loss:          1.0 / float64(epoch+1),
			Accuracy:      0.5,
			HasValidation: true,
			ValLoss:       1.2 / float64(epoch+1),
			ValAccuracy:   0.4,
			LearningRate:  0.001,
		}
		if err := p.OnEpochEnd(nil, logs); err != nil {
			t.Fatalf("OnEpochEnd failed: %v", err)
		}
	}
	if err := p.OnTrainEnd(nil, callbacks.Logs{}); err != nil {
		t.Fatalf("OnTrainEnd failed: %v", err)
	}

	for _, name := range []string{"training_curves.json", "learning_rate.json"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Expected %s to be written: %v", name, err)
		}
		var plot map[string]interface{}
		if err := json.Unmarshal(data, &plot); err != nil {
			t.Errorf("Expected valid JSON in %s: %v", name, err)
		}
	}
}
