package metal

import (
	"os"
	"path/filepath"

	"github.com/tsawler/go-metal/training"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/callbacks"
	"github.com/tsawler/go-metal-alexnet/errs"
)

// CurvePlots collects per-epoch metrics in a go-metal VisualizationCollector
// and writes the training-curve and learning-rate plots as JSON under Dir
// when training ends.
type CurvePlots struct {
	callbacks.Base
	Dir       string
	collector *training.VisualizationCollector
}

// NewCurvePlots returns a recorder writing to dir.
func NewCurvePlots(dir, modelName string) *CurvePlots {
	collector := training.NewVisualizationCollector(modelName)
	collector.Enable()
	return &CurvePlots{Dir: dir, collector: collector}
}

func (p *CurvePlots) OnTrainBegin(callbacks.Control) error {
	p.collector.Clear()
	return nil
}

func (p *CurvePlots) OnEpochEnd(_ callbacks.Control, logs callbacks.Logs) error {
	p.collector.RecordTrainingStep(logs.Epoch, logs.Loss, logs.Accuracy, logs.LearningRate)
	if logs.HasValidation {
		p.collector.RecordValidationStep(logs.Epoch, logs.ValLoss, logs.ValAccuracy)
	}
	p.collector.RecordEpoch(logs.Epoch, logs.Loss, logs.Accuracy, logs.ValLoss, logs.ValAccuracy)
	return nil
}

func (p *CurvePlots) OnTrainEnd(callbacks.Control, callbacks.Logs) error {
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return errs.FS("create plot directory", p.Dir, err)
	}
	plots := map[string]training.PlotData{
		"training_curves.json": p.collector.GenerateTrainingCurvesPlot(),
		"learning_rate.json":   p.collector.GenerateLearningRateSchedulePlot(),
	}
	for name, plot := range plots {
		path := filepath.Join(p.Dir, name)
		data, err := plot.ToJSON()
		if err != nil {
			return errs.FS("encode plot", path, err)
		}
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			return errs.FS("write plot", path, err)
		}
		klog.V(1).Infof("Wrote %s", path)
	}
	return nil
}
