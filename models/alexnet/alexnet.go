// Package alexnet builds the AlexNet-style classifier for square grayscale
// inputs.
//
// go-metal has no pooling layer the compiler accepts, so the spatial
// reductions that AlexNet gets from max pooling are folded into strided
// convolutions. With the default 400x400 input the feature maps go
// 400 -> 99 -> 50 -> 25 -> 25 -> 13 before the classifier head.
package alexnet

import (
	"github.com/pkg/errors"
	"github.com/tsawler/go-metal/layers"
)

// Options tune the classifier head.
type Options struct {
	HiddenUnits int
	DropoutRate float32
}

// DefaultOptions returns the head used for training runs.
func DefaultOptions() Options {
	return Options{HiddenUnits: 1024, DropoutRate: 0.5}
}

// Build returns a compiled model for batches of batchSize images shaped
// (height, width, channels) with numClasses outputs. The last layer emits
// logits; the trainer applies softmax cross-entropy.
func Build(batchSize int, inputShape [3]int, numClasses int, opts Options) (*layers.ModelSpec, error) {
	h, w, c := inputShape[0], inputShape[1], inputShape[2]
	if batchSize <= 0 || h <= 0 || w <= 0 || c <= 0 {
		return nil, errors.Errorf("invalid input: batch %d, shape %v", batchSize, inputShape)
	}
	if numClasses < 2 {
		return nil, errors.Errorf("need at least 2 classes, got %d", numClasses)
	}
	if opts.HiddenUnits <= 0 {
		opts.HiddenUnits = DefaultOptions().HiddenUnits
	}

	builder := layers.NewModelBuilder([]int{batchSize, c, h, w})
	builder.
		AddConv2D(96, 11, 4, 2, true, "conv1").
		AddBatchNorm(96, 1e-5, 0.1, true, "bn1").
		AddReLU("relu1").
		AddConv2D(256, 5, 2, 2, true, "conv2").
		AddBatchNorm(256, 1e-5, 0.1, true, "bn2").
		AddReLU("relu2").
		AddConv2D(384, 3, 2, 1, true, "conv3").
		AddReLU("relu3").
		AddConv2D(384, 3, 1, 1, true, "conv4").
		AddReLU("relu4").
		AddConv2D(256, 3, 2, 1, true, "conv5").
		AddReLU("relu5").
		AddDense(opts.HiddenUnits, true, "fc6").
		AddReLU("relu6")
	if opts.DropoutRate > 0 {
		builder.AddDropout(opts.DropoutRate, "drop6")
	}
	builder.
		AddDense(opts.HiddenUnits, true, "fc7").
		AddReLU("relu7")
	if opts.DropoutRate > 0 {
		builder.AddDropout(opts.DropoutRate, "drop7")
	}
	builder.AddDense(numClasses, true, "fc8")

	model, err := builder.Compile()
	if err != nil {
		return nil, errors.Wrap(err, "compile alexnet")
	}
	return model, nil
}

// OutputSize is the spatial size after a convolution, the way the layer
// compiler computes it.
func OutputSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}
