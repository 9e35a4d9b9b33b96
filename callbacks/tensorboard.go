package callbacks

import (
	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/errs"
	"github.com/tsawler/go-metal-alexnet/tensorboard"
)

// TensorBoard writes every epoch's metrics as scalar summaries to a new event
// file in LogDir. The file is opened on train begin and closed on train end.
type TensorBoard struct {
	LogDir    string
	BatchSize int

	open   func(dir string) (eventWriter, error)
	writer eventWriter
}

// eventWriter is the part of *tensorboard.Writer the callback uses.
type eventWriter interface {
	AddScalars(step int64, values map[string]float64) error
	Flush() error
	Close() error
	Path() string
}

// NewTensorBoard returns a callback writing under logDir.
func NewTensorBoard(logDir string, batchSize int) *TensorBoard {
	return &TensorBoard{LogDir: logDir, BatchSize: batchSize, open: openEventFile}
}

func openEventFile(dir string) (eventWriter, error) {
	return tensorboard.NewWriter(dir)
}

func (tb *TensorBoard) OnTrainBegin(Control) error {
	w, err := tb.open(tb.LogDir)
	if err != nil {
		return errs.FS("open event file", tb.LogDir, err)
	}
	tb.writer = w
	klog.V(1).Infof("TensorBoard events: %s (batch size %d)", w.Path(), tb.BatchSize)
	return nil
}

func (tb *TensorBoard) OnEpochEnd(_ Control, logs Logs) error {
	if tb.writer == nil {
		return nil
	}
	if err := tb.writer.AddScalars(int64(logs.Epoch), logs.Scalars()); err != nil {
		return errs.FS("write event", tb.writer.Path(), err)
	}
	if err := tb.writer.Flush(); err != nil {
		return errs.FS("flush event file", tb.writer.Path(), err)
	}
	return nil
}

func (tb *TensorBoard) OnTrainEnd(Control, Logs) error {
	if tb.writer == nil {
		return nil
	}
	path := tb.writer.Path()
	err := tb.writer.Close()
	tb.writer = nil
	if err != nil {
		return errs.FS("close event file", path, err)
	}
	return nil
}

// Path returns the current event file, or "" when none is open.
func (tb *TensorBoard) Path() string {
	if tb.writer == nil {
		return ""
	}
	return tb.writer.Path()
}
