// Command alexnet trains an AlexNet-style classifier on a directory of
// grayscale images, predicts a second directory and saves the model.
//
//	alexnet -data_dir data -test_dir test -model_dir models -epoch 200
//	alexnet -phase test -test_dir test -model_dir models -epoch 200
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/config"
	"github.com/tsawler/go-metal-alexnet/metal"
	"github.com/tsawler/go-metal-alexnet/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	defer klog.Flush()

	cfg, err := config.Parse("alexnet", args, func(fs *flag.FlagSet) { klog.InitFlags(fs) })
	if err != nil {
		klog.Errorf("%v", err)
		return 1
	}
	klog.Infof("Host: %s", config.HostSummary())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, cfg, metal.NewBackend(), pipeline.Options{Out: os.Stdout})
	if err != nil {
		klog.Errorf("%v", err)
		return 1
	}
	klog.Infof("Finished in state %s", res.State)
	return 0
}
