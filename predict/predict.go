// Package predict runs a trained network over an unlabeled directory and
// maps each output to a class name.
package predict

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/errs"
	"github.com/tsawler/go-metal-alexnet/fit"
	"github.com/tsawler/go-metal-alexnet/vision/dataset"
)

// Prediction is the result for one file.
type Prediction struct {
	Filename   string
	Index      int
	Label      string
	Confidence float32
}

// Predictor is the part of a network inference needs.
type Predictor interface {
	Predict(images []float32, shape []int) ([]float32, error)
	NumClasses() int
}

// Run predicts every image src yields, in order. filenames names the images
// in the order src serves them; classes maps output indices to names.
func Run(ctx context.Context, net Predictor, src fit.BatchSource, filenames []string, classes dataset.ClassIndex) ([]Prediction, error) {
	k := net.NumClasses()
	if classes.Len() != k {
		return nil, errs.Trainf("predict", "network has %d outputs but the class index names %d classes", k, classes.Len())
	}

	src.Reset()
	size := src.ImageSize()
	steps := src.StepsPerEpoch()
	preds := make([]Prediction, 0, len(filenames))

	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return preds, errs.Train("predict", err)
		}
		batch, err := src.NextBatch()
		if err != nil {
			return preds, err
		}
		if batch.Size == 0 {
			break
		}

		probs, err := net.Predict(batch.Images, []int{batch.Size, 1, size, size})
		if err != nil {
			return preds, errs.Train("predict", err)
		}
		if len(probs) < batch.Size*k {
			return preds, errs.Trainf("predict", "expected %d outputs, got %d", batch.Size*k, len(probs))
		}

		for i := 0; i < batch.Size; i++ {
			row := probs[i*k : (i+1)*k]
			idx := fit.Argmax(row)
			label, err := classes.Label(idx)
			if err != nil {
				return preds, errs.Train("predict", err)
			}
			n := len(preds)
			name := ""
			if n < len(filenames) {
				name = filenames[n]
			}
			preds = append(preds, Prediction{Filename: name, Index: idx, Label: label, Confidence: row[idx]})
			klog.V(2).Infof("%s -> %s (%.3f)", name, label, row[idx])
		}
	}

	if len(preds) != len(filenames) {
		return preds, errs.Dataf("predict", "", "predicted %d images but %d were listed", len(preds), len(filenames))
	}
	return preds, nil
}

// Print writes the two result lines:
//
//	filenames: ['a.png', 'b.png']
//	predictions: ['cat', 'dog']
func Print(w io.Writer, preds []Prediction) error {
	names := make([]string, len(preds))
	labels := make([]string, len(preds))
	for i, p := range preds {
		names[i] = p.Filename
		labels[i] = p.Label
	}
	if _, err := fmt.Fprintf(w, "filenames: %s\n", formatList(names)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "predictions: %s\n", formatList(labels))
	return err
}

func formatList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// quote single-quotes s unless it contains a single quote.
func quote(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	return strconv.Quote(s)
}
