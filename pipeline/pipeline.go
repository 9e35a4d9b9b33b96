// Package pipeline runs one job end to end. A train run discovers the labeled
// dataset, builds and compiles the model, fits it with the monitors, predicts
// the test directory and saves the result. A test run loads a saved model and
// only predicts.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"

	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/callbacks"
	"github.com/tsawler/go-metal-alexnet/config"
	"github.com/tsawler/go-metal-alexnet/errs"
	"github.com/tsawler/go-metal-alexnet/fit"
	"github.com/tsawler/go-metal-alexnet/persist"
	"github.com/tsawler/go-metal-alexnet/predict"
	"github.com/tsawler/go-metal-alexnet/vision/augment"
	"github.com/tsawler/go-metal-alexnet/vision/dataloader"
	"github.com/tsawler/go-metal-alexnet/vision/dataset"
)

// Model is a compiled network the pipeline can train, query and save.
type Model interface {
	fit.Network
	Summary() string
	Save(path string, format config.Format, info persist.ModelInfo) error
	Close()
}

// Backend creates models.
type Backend interface {
	// Build returns a freshly initialized, compiled model.
	Build(cfg config.RunConfig, numClasses int) (Model, error)
	// Load returns a model with the weights saved at path.
	Load(cfg config.RunConfig, numClasses int, path string) (Model, error)
	// Callbacks returns backend specific monitors to run during fit.
	Callbacks(cfg config.RunConfig) []callbacks.Callback
}

// Publisher copies saved artifacts somewhere else. *persist.Publisher
// implements it.
type Publisher interface {
	Upload(ctx context.Context, tags map[string]string, files ...string) error
}

// Options are the collaborators of a run.
type Options struct {
	// Out receives progress bars and the prediction lines. nil means discard.
	Out io.Writer
	// Publisher overrides the S3 publisher built from cfg.UploadURI.
	Publisher Publisher
}

// Result describes a finished run.
type Result struct {
	State       State
	Path        []State
	History     *fit.History
	Classes     dataset.ClassIndex
	Predictions []predict.Prediction
	ModelPath   string
	ClassesPath string
}

// Monitor settings for train runs.
var (
	PlateauSettings = callbacks.PlateauConfig{
		Monitor:  "val_loss",
		Factor:   math.Sqrt(0.1),
		Patience: 5,
		Mode:     callbacks.Auto,
		MinDelta: 1e-4,
		Cooldown: 0,
		MinLR:    0.5e-6,
	}
	EarlyStoppingSettings = callbacks.EarlyStoppingConfig{
		Monitor:  "val_loss",
		MinDelta: 0.001,
		Patience: 10,
		Mode:     callbacks.Auto,
	}
)

type runner struct {
	cfg     config.RunConfig
	backend Backend
	opts    Options
	m       *machine
}

// Run executes cfg.Phase.
func Run(ctx context.Context, cfg config.RunConfig, backend Backend, opts Options) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	r := &runner{cfg: cfg, backend: backend, opts: opts, m: newMachine()}
	klog.Infof("Run %s", cfg)

	var res *Result
	var err error
	switch cfg.Phase {
	case config.Test:
		res, err = r.test(ctx)
	default:
		res, err = r.train(ctx)
	}
	if err != nil {
		r.m.to(Failed)
	}
	if res == nil {
		res = &Result{}
	}
	res.State = r.m.state
	res.Path = r.m.path
	return res, err
}

func (r *runner) train(ctx context.Context) (*Result, error) {
	cfg := r.cfg
	res := &Result{}

	labeled, err := dataset.NewLabeledFolder(cfg.DataDir, nil)
	if err != nil {
		return res, err
	}
	klog.Infof("Found %s", labeled)
	for name, n := range labeled.ClassDistribution() {
		klog.V(1).Infof("  %s: %d images", name, n)
	}
	if labeled.NumClasses() != cfg.NumClasses {
		return res, errs.Dataf("discover classes", cfg.DataDir, "found %d classes, expected %d", labeled.NumClasses(), cfg.NumClasses)
	}
	res.Classes = labeled.Classes()

	trainSet, valSet, err := labeled.ValidationSplit(cfg.ValidationSplit)
	if err != nil {
		return res, err
	}

	model, err := r.backend.Build(cfg, cfg.NumClasses)
	if err != nil {
		return res, asTraining("build model", err)
	}
	defer model.Close()
	r.m.to(ModelBuilt)
	r.m.to(Compiled)
	fmt.Fprintln(r.opts.Out, model.Summary())

	gen, err := augment.NewGenerator(augment.TrainingConfig(), cfg.Seed)
	if err != nil {
		return res, err
	}
	trainLoader, valLoader, err := dataloader.CreateSharedDataLoaders(trainSet, valSet, dataloader.Config{
		BatchSize:  cfg.BatchSize,
		ImageSize:  cfg.ImageSize,
		NumWorkers: cfg.Workers,
		CacheBytes: cfg.CacheMB << 20,
		Seed:       cfg.Seed,
	}, gen)
	if err != nil {
		return res, errs.Config("create data loaders", err)
	}
	klog.Infof("Training on %d images (%d steps/epoch), validating on %d (%d steps)",
		trainLoader.Len(), trainLoader.StepsPerEpoch(), valLoader.Len(), valLoader.StepsPerEpoch())

	monitors, early, err := r.monitors()
	if err != nil {
		return res, err
	}

	prefetcher := dataloader.NewPrefetcher(trainLoader, 2)
	defer prefetcher.Stop()

	r.m.to(Training)
	history, err := fit.Fit(ctx, model, prefetcher, valLoader, fit.Config{Epochs: cfg.Epoch, Progress: r.opts.Out}, monitors)
	res.History = history
	if err != nil {
		return res, asTraining("fit", err)
	}
	klog.V(1).Info(trainLoader.Stats())
	if cache := trainLoader.GetCacheManager(); cache != nil {
		cache.Clear()
	}
	if history.StoppedEarly {
		klog.Infof("Stopped early after %d epochs (epoch %d)", history.Epochs(), early.StoppedEpoch()+1)
		r.m.to(EarlyStopped)
	} else {
		r.m.to(EpochsExhausted)
	}

	preds, err := r.predict(ctx, model, res.Classes)
	res.Predictions = preds
	if err != nil {
		return res, err
	}

	last, _ := history.Last()
	info := persist.ModelInfo{
		Epoch:       cfg.Epoch,
		Loss:        last.Loss,
		Accuracy:    last.Accuracy,
		RunID:       cfg.RunID,
		ModelName:   cfg.ModelName,
		Description: fmt.Sprintf("%s trained on %s for %d epochs", cfg.ModelName, cfg.DataDir, history.Epochs()),
		Classes:     res.Classes.Names(),
	}
	if err := r.save(ctx, model, res, info); err != nil {
		return res, err
	}
	r.m.to(Saved)
	return res, nil
}

func (r *runner) test(ctx context.Context) (*Result, error) {
	cfg := r.cfg
	res := &Result{
		ModelPath:   persist.ModelPath(cfg.ModelDir, cfg.Epoch, cfg.Format),
		ClassesPath: persist.ClassesPath(cfg.ModelDir, cfg.Epoch),
	}

	classes, err := persist.ReadClassIndex(res.ClassesPath)
	if err != nil {
		return res, err
	}
	if classes.Len() != cfg.NumClasses {
		return res, errs.Dataf("load class index", res.ClassesPath, "saved model has %d classes, expected %d", classes.Len(), cfg.NumClasses)
	}
	res.Classes = classes

	model, err := r.backend.Load(cfg, classes.Len(), res.ModelPath)
	if err != nil {
		return res, asTraining("load model", err)
	}
	defer model.Close()
	r.m.to(ModelLoaded)

	preds, err := r.predict(ctx, model, classes)
	res.Predictions = preds
	if err != nil {
		return res, err
	}
	r.m.to(Done)
	return res, nil
}

// monitors assembles the fit callbacks in the order they run.
func (r *runner) monitors() (callbacks.List, *callbacks.EarlyStopping, error) {
	plateau, err := callbacks.NewReduceLROnPlateau(PlateauSettings)
	if err != nil {
		return nil, nil, err
	}
	early, err := callbacks.NewEarlyStopping(EarlyStoppingSettings)
	if err != nil {
		return nil, nil, err
	}

	list := callbacks.List{&callbacks.EpochLogger{Epochs: r.cfg.Epoch}, plateau, early}
	if r.cfg.EnableLogs {
		list = append(list, callbacks.NewTensorBoard(r.cfg.LogDir, r.cfg.BatchSize))
	}
	list = append(list, r.backend.Callbacks(r.cfg)...)
	return list, early, nil
}

// predict runs the test directory through model, one image per batch, in
// filename order, and prints the result.
func (r *runner) predict(ctx context.Context, model Model, classes dataset.ClassIndex) ([]predict.Prediction, error) {
	r.m.to(Predicting)

	folder, err := dataset.NewUnlabeledFolder(r.cfg.TestDir, nil)
	if err != nil {
		return nil, err
	}
	loader, err := dataloader.NewDataLoader(folder, dataloader.Config{
		BatchSize:  1,
		ImageSize:  r.cfg.ImageSize,
		NumWorkers: 1,
	})
	if err != nil {
		return nil, errs.Config("create test loader", err)
	}

	preds, err := predict.Run(ctx, model, loader, folder.Filenames(), classes)
	if err != nil {
		return preds, err
	}
	if err := predict.Print(r.opts.Out, preds); err != nil {
		return preds, errs.FS("print predictions", "", err)
	}
	return preds, nil
}

func (r *runner) save(ctx context.Context, model Model, res *Result, info persist.ModelInfo) error {
	cfg := r.cfg
	if err := persist.EnsureDir(cfg.ModelDir); err != nil {
		return err
	}
	res.ModelPath = persist.ModelPath(cfg.ModelDir, cfg.Epoch, cfg.Format)
	res.ClassesPath = persist.ClassesPath(cfg.ModelDir, cfg.Epoch)

	if err := model.Save(res.ModelPath, cfg.Format, info); err != nil {
		return errs.FS("save model", res.ModelPath, err)
	}
	if err := persist.WriteClassIndex(res.ClassesPath, res.Classes); err != nil {
		return err
	}
	klog.Infof("Saved model to %s", res.ModelPath)

	if cfg.UploadURI == "" {
		return nil
	}
	pub := r.opts.Publisher
	if pub == nil {
		p, err := persist.NewPublisher(cfg.UploadURI)
		if err != nil {
			return err
		}
		pub = p
	}
	return pub.Upload(ctx, info.Tags(), res.ModelPath, res.ClassesPath)
}

// asTraining classifies an unclassified backend failure as a TrainingError.
func asTraining(op string, err error) error {
	if errs.KindOf(err) != 0 {
		return err
	}
	return errs.Train(op, err)
}
