package fit

import (
	"math"
)

// epsilon clips probabilities before the log, as Keras' categorical
// cross-entropy does.
const epsilon = 1e-7

// Softmax converts rows of logits to probabilities in place and returns them.
func Softmax(logits []float32, classes int) []float32 {
	for start := 0; start+classes <= len(logits); start += classes {
		row := logits[start : start+classes]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxV))
			row[i] = float32(e)
			sum += e
		}
		for i := range row {
			row[i] = float32(float64(row[i]) / sum)
		}
	}
	return logits
}

// Argmax returns the index of the largest value. Ties resolve to the lowest
// index; an empty row returns -1.
func Argmax(row []float32) int {
	best := -1
	for i, v := range row {
		if best < 0 || v > row[best] {
			best = i
		}
	}
	return best
}

// CrossEntropy is the mean categorical cross-entropy of probability rows
// against integer labels.
func CrossEntropy(probs []float32, labels []int32, classes int) float64 {
	if len(labels) == 0 {
		return 0
	}
	var total float64
	for i, label := range labels {
		p := float64(probs[i*classes+int(label)])
		p = math.Min(math.Max(p, epsilon), 1-epsilon)
		total -= math.Log(p)
	}
	return total / float64(len(labels))
}

// Accuracy is the fraction of rows whose argmax equals the label.
func Accuracy(probs []float32, labels []int32, classes int) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i, label := range labels {
		if Argmax(probs[i*classes:(i+1)*classes]) == int(label) {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// finite reports whether v is neither NaN nor infinite.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
