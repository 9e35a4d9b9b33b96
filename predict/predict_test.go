package predict

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-metal-alexnet/errs"
	"github.com/tsawler/go-metal-alexnet/vision/dataloader"
	"github.com/tsawler/go-metal-alexnet/vision/dataset"
)

// brightnessNet scores class 1 for bright images and class 0 for dark ones.
type brightnessNet struct {
	classes int
	calls   int
	out     []float32
}

func (b *brightnessNet) NumClasses() int { return b.classes }

func (b *brightnessNet) Predict(images []float32, shape []int) ([]float32, error) {
	b.calls++
	if b.out != nil {
		return b.out, nil
	}
	n, pixels := shape[0], shape[2]*shape[3]
	probs := make([]float32, n*b.classes)
	for i := 0; i < n; i++ {
		if images[i*pixels] > 0.5 {
			probs[i*b.classes+1] = 0.9
			probs[i*b.classes] = 0.1
		} else {
			probs[i*b.classes] = 0.8
			probs[i*b.classes+1] = 0.2
		}
	}
	return probs, nil
}

func writePNG(t *testing.T, path string, value uint8) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	img := image.NewGray(image.Rect(0, 0, 6, 6))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func newTestSource(t *testing.T) (*dataset.UnlabeledFolder, *dataloader.DataLoader) {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b_light.png"), 250)
	writePNG(t, filepath.Join(dir, "a_dark.png"), 5)
	writePNG(t, filepath.Join(dir, "sub", "c_dark.png"), 10)

	folder, err := dataset.NewUnlabeledFolder(dir, nil)
	if err != nil {
		t.Fatalf("NewUnlabeledFolder failed: %v", err)
	}
	dl, err := dataloader.NewDataLoader(folder, dataloader.Config{BatchSize: 1, ImageSize: 4})
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	return folder, dl
}

func TestRun(t *testing.T) {
	classes := dataset.NewClassIndex([]string{"dark", "light"})

	t.Run("OrderedPredictions", func(t *testing.T) {
		folder, dl := newTestSource(t)
		net := &brightnessNet{classes: 2}

		preds, err := Run(context.Background(), net, dl, folder.Filenames(), classes)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		want := []struct {
			file  string
			label string
		}{
			{"a_dark.png", "dark"},
			{"b_light.png", "light"},
			{filepath.Join("sub", "c_dark.png"), "dark"},
		}
		if len(preds) != len(want) {
			t.Fatalf("Expected %d predictions, got %d", len(want), len(preds))
		}
		for i, w := range want {
			if preds[i].Filename != w.file || preds[i].Label != w.label {
				t.Errorf("Prediction %d: expected %s=%s, got %s=%s", i, w.file, w.label, preds[i].Filename, preds[i].Label)
			}
		}
		if preds[1].Confidence != 0.9 {
			t.Errorf("Expected confidence 0.9, got %f", preds[1].Confidence)
		}
		if net.calls != 3 {
			t.Errorf("Expected 3 predict calls at batch size 1, got %d", net.calls)
		}
	})

	t.Run("ClassCountMismatch", func(t *testing.T) {
		folder, dl := newTestSource(t)
		net := &brightnessNet{classes: 3}
		_, err := Run(context.Background(), net, dl, folder.Filenames(), classes)
		if !errs.Is(err, errs.Training) {
			t.Errorf("Expected training error, got %v", err)
		}
	})

	t.Run("ShortOutput", func(t *testing.T) {
		folder, dl := newTestSource(t)
		net := &brightnessNet{classes: 2, out: []float32{1}}
		_, err := Run(context.Background(), net, dl, folder.Filenames(), classes)
		if !errs.Is(err, errs.Training) {
			t.Errorf("Expected training error, got %v", err)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		folder, dl := newTestSource(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		preds, err := Run(ctx, &brightnessNet{classes: 2}, dl, folder.Filenames(), classes)
		if err == nil {
			t.Fatal("Expected error for cancelled context")
		}
		if len(preds) != 0 {
			t.Errorf("Expected no predictions, got %d", len(preds))
		}
	})
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	preds := []Prediction{
		{Filename: "a.png", Label: "cat"},
		{Filename: "it's.png", Label: "dog"},
	}
	if err := Print(&buf, preds); err != nil {
		t.Fatalf("Print failed: %v", err)
	}
	want := "filenames: ['a.png', \"it's.png\"]\npredictions: ['cat', 'dog']\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}

	buf.Reset()
	if err := Print(&buf, nil); err != nil {
		t.Fatalf("Print failed: %v", err)
	}
	if buf.String() != "filenames: []\npredictions: []\n" {
		t.Errorf("Expected empty lists, got %q", buf.String())
	}
}

