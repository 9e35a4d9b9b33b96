package dataloader

import (
	"context"
	"sync"
)

// Source is a resettable pass over batches. *DataLoader implements it.
type Source interface {
	Reset()
	NextBatch() (Batch, error)
	StepsPerEpoch() int
	ImageSize() int
}

type prefetched struct {
	batch Batch
	err   error
}

// Prefetcher decodes the next batches of a Source on a background goroutine
// while the caller is busy with the current one. Batches it returns are
// copies and stay valid after later calls.
type Prefetcher struct {
	source Source
	depth  int

	mu      sync.Mutex
	batches chan prefetched
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPrefetcher keeps up to depth batches ready. depth < 1 means 1.
func NewPrefetcher(source Source, depth int) *Prefetcher {
	if depth < 1 {
		depth = 1
	}
	return &Prefetcher{source: source, depth: depth}
}

// Reset stops any pass in flight, resets the source and starts loading the
// new pass.
func (p *Prefetcher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.source.Reset()
	p.startLocked()
}

// NextBatch returns the next batch of the current pass, or a Batch with Size
// 0 once the pass is exhausted.
func (p *Prefetcher) NextBatch() (Batch, error) {
	p.mu.Lock()
	if !p.running {
		p.startLocked()
	}
	batches := p.batches
	p.mu.Unlock()

	item, ok := <-batches
	if !ok {
		return Batch{}, nil
	}
	return item.batch, item.err
}

func (p *Prefetcher) StepsPerEpoch() int { return p.source.StepsPerEpoch() }
func (p *Prefetcher) ImageSize() int     { return p.source.ImageSize() }

// Stop ends the background goroutine. The Prefetcher can be restarted with
// Reset.
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Prefetcher) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.batches = make(chan prefetched, p.depth)
	p.running = true

	p.wg.Add(1)
	go p.produce(ctx, p.batches)
}

func (p *Prefetcher) stopLocked() {
	if !p.running {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.running = false
}

func (p *Prefetcher) produce(ctx context.Context, out chan<- prefetched) {
	defer p.wg.Done()
	defer close(out)

	for {
		batch, err := p.source.NextBatch()
		if err == nil && batch.Size == 0 {
			return
		}
		item := prefetched{err: err}
		if err == nil {
			item.batch = cloneBatch(batch)
		}
		select {
		case out <- item:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func cloneBatch(b Batch) Batch {
	return Batch{
		Images:  append([]float32(nil), b.Images...),
		Labels:  append([]int32(nil), b.Labels...),
		Paths:   append([]string(nil), b.Paths...),
		Indices: append([]int(nil), b.Indices...),
		Size:    b.Size,
	}
}
