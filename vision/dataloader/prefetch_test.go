package dataloader

import (
	"path/filepath"
	"testing"

	"github.com/tsawler/go-metal-alexnet/errs"
)

func TestPrefetcher(t *testing.T) {
	dataset := NewMockDataset(t, 10)

	t.Run("SamePassAsLoader", func(t *testing.T) {
		dl, err := NewDataLoader(dataset, Config{BatchSize: 4, ImageSize: 6, NumWorkers: 2})
		if err != nil {
			t.Fatal(err)
		}
		p := NewPrefetcher(dl, 2)
		defer p.Stop()

		if p.StepsPerEpoch() != 2 || p.ImageSize() != 6 {
			t.Errorf("Expected 2 steps of size 6, got %d and %d", p.StepsPerEpoch(), p.ImageSize())
		}

		for pass := 0; pass < 2; pass++ {
			p.Reset()
			var batches []Batch
			for {
				b, err := p.NextBatch()
				if err != nil {
					t.Fatalf("Pass %d: %v", pass, err)
				}
				if b.Size == 0 {
					break
				}
				batches = append(batches, b)
			}
			if len(batches) != 3 {
				t.Fatalf("Pass %d: expected 3 batches, got %d", pass, len(batches))
			}
			// earlier batches must not be overwritten by later ones
			if batches[0].Indices[0] != 0 || batches[1].Indices[0] != 4 || batches[2].Indices[0] != 8 {
				t.Errorf("Pass %d: unexpected order %v %v %v", pass, batches[0].Indices, batches[1].Indices, batches[2].Indices)
			}
			if got := batches[0].Images[36]; got != float32(10)/255 {
				t.Errorf("Pass %d: expected first batch preserved, got pixel %f", pass, got)
			}
		}
	})

	t.Run("ResetMidPass", func(t *testing.T) {
		dl, err := NewDataLoader(dataset, Config{BatchSize: 2, ImageSize: 6})
		if err != nil {
			t.Fatal(err)
		}
		p := NewPrefetcher(dl, 3)
		defer p.Stop()

		p.Reset()
		if _, err := p.NextBatch(); err != nil {
			t.Fatal(err)
		}
		p.Reset()
		b, err := p.NextBatch()
		if err != nil {
			t.Fatal(err)
		}
		if b.Indices[0] != 0 {
			t.Errorf("Expected new pass to start at 0, got %d", b.Indices[0])
		}
	})

	t.Run("StartsWithoutReset", func(t *testing.T) {
		dl, err := NewDataLoader(dataset, Config{BatchSize: 5, ImageSize: 6})
		if err != nil {
			t.Fatal(err)
		}
		p := NewPrefetcher(dl, 0)
		defer p.Stop()
		b, err := p.NextBatch()
		if err != nil || b.Size != 5 {
			t.Errorf("Expected a batch of 5, got %d (%v)", b.Size, err)
		}
	})

	t.Run("PropagatesErrors", func(t *testing.T) {
		bad := &MockDataset{items: []MockItem{{imagePath: filepath.Join(t.TempDir(), "missing.png")}}}
		dl, err := NewDataLoader(bad, Config{BatchSize: 1, ImageSize: 6})
		if err != nil {
			t.Fatal(err)
		}
		p := NewPrefetcher(dl, 1)
		defer p.Stop()
		p.Reset()
		if _, err := p.NextBatch(); !errs.Is(err, errs.Dataset) {
			t.Errorf("Expected dataset error, got %v", err)
		}
		b, err := p.NextBatch()
		if err != nil || b.Size != 0 {
			t.Errorf("Expected pass to end after an error, got size %d err %v", b.Size, err)
		}
	})

	t.Run("StopIsIdempotent", func(t *testing.T) {
		dl, _ := NewDataLoader(dataset, Config{BatchSize: 2, ImageSize: 6})
		p := NewPrefetcher(dl, 1)
		p.Reset()
		p.Stop()
		p.Stop()
	})
}
