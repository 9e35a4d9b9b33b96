package callbacks

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"
)

// EpochLogger writes one log line per epoch.
type EpochLogger struct {
	Base
	Epochs int
}

func (l *EpochLogger) OnEpochEnd(_ Control, logs Logs) error {
	klog.Info(FormatLogs(logs, l.Epochs))
	return nil
}

// FormatLogs renders logs as "Epoch 3/200 - loss: 0.4211 - acc: 0.8125 ...".
func FormatLogs(logs Logs, epochs int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Epoch %d/%d - loss: %.4f - acc: %.4f", logs.Epoch+1, epochs, logs.Loss, logs.Accuracy)
	if logs.HasValidation {
		fmt.Fprintf(&sb, " - val_loss: %.4f - val_acc: %.4f", logs.ValLoss, logs.ValAccuracy)
	}
	fmt.Fprintf(&sb, " - lr: %g", logs.LearningRate)
	return sb.String()
}
