package dataloader

import (
	"image"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-metal-alexnet/vision/preprocessing"
)

// Dataset interface defines the contract for datasets
type Dataset interface {
	Len() int
	GetItem(index int) (imagePath string, label int, err error)
}

// Augmenter transforms decoded images before they are packed into a batch.
// *augment.Generator implements it.
type Augmenter interface {
	Augment(img *image.Gray) *image.Gray
	Standardize(x []float32)
}

// Batch is one step's worth of samples. Images are laid out N x 1 x H x W.
// Size is 0 once the pass is exhausted. The slices are reused by the next
// call to NextBatch.
type Batch struct {
	Images  []float32
	Labels  []int32
	Paths   []string
	Indices []int
	Size    int
}

// DataLoader is a resettable, finite iterator over a Dataset. Each pass visits
// every item once; Reset starts a new pass and reshuffles when configured to.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	indices   []int
	position  int
	rng       *rand.Rand
	mu        sync.Mutex

	imageDataBuffer []float32
	labelDataBuffer []int32
	pathBuffer      []string
	indexBuffer     []int

	cacheManager *CacheManager

	augmenter  Augmenter
	imageSize  int
	numWorkers int
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize  int
	Shuffle    bool
	ImageSize  int
	NumWorkers int // Number of parallel decode workers per batch
	// CacheBytes sizes a private cache when CacheManager is nil. 0 disables caching.
	CacheBytes   int
	CacheManager *CacheManager
	// Augmenter is optional; nil feeds images unchanged.
	Augmenter Augmenter
	// Seed drives shuffling. 0 means time based.
	Seed int64
}

// NewDataLoader creates a new data loader
func NewDataLoader(dataset Dataset, config Config) (*DataLoader, error) {
	if config.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.ImageSize <= 0 {
		return nil, errors.Errorf("image size must be positive, got %d", config.ImageSize)
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:      dataset,
		batchSize:    config.BatchSize,
		shuffle:      config.Shuffle,
		indices:      indices,
		rng:          rand.New(rand.NewSource(seed)),
		cacheManager: config.CacheManager,
		augmenter:    config.Augmenter,
		imageSize:    config.ImageSize,
		numWorkers:   config.NumWorkers,
	}

	if dl.cacheManager == nil && config.CacheBytes > 0 {
		dl.cacheManager = NewCacheManager(config.CacheBytes, config.ImageSize)
	}

	if dl.shuffle {
		dl.shuffleIndices()
	}
	return dl, nil
}

func (dl *DataLoader) shuffleIndices() {
	dl.rng.Shuffle(len(dl.indices), func(i, j int) {
		dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
	})
}

// Reset resets the data loader to the beginning
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.shuffle {
		dl.shuffleIndices()
	}
}

// Len returns the number of samples in one pass.
func (dl *DataLoader) Len() int {
	return len(dl.indices)
}

// BatchSize returns the configured batch size.
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// ImageSize returns the square side length of every sample.
func (dl *DataLoader) ImageSize() int {
	return dl.imageSize
}

// StepsPerEpoch is the number of full batches in one pass. A trailing partial
// batch is not counted, so the result is 0 when Len < BatchSize.
func (dl *DataLoader) StepsPerEpoch() int {
	return len(dl.indices) / dl.batchSize
}

// NextBatch loads the next batch of images. At the end of a pass it returns a
// Batch with Size 0 until Reset is called.
func (dl *DataLoader) NextBatch() (Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return Batch{}, nil
	}

	batchSize := dl.batchSize
	if remaining < batchSize {
		batchSize = remaining
	}

	pixelsPerImage := dl.imageSize * dl.imageSize
	requiredImageSize := batchSize * pixelsPerImage

	// Resize buffers only if needed
	if len(dl.imageDataBuffer) < requiredImageSize {
		dl.imageDataBuffer = make([]float32, requiredImageSize)
	}
	if len(dl.labelDataBuffer) < batchSize {
		dl.labelDataBuffer = make([]int32, batchSize)
		dl.pathBuffer = make([]string, batchSize)
		dl.indexBuffer = make([]int, batchSize)
	}

	batch := Batch{
		Images:  dl.imageDataBuffer[:requiredImageSize],
		Labels:  dl.labelDataBuffer[:batchSize],
		Paths:   dl.pathBuffer[:batchSize],
		Indices: dl.indexBuffer[:batchSize],
		Size:    batchSize,
	}

	for i := 0; i < batchSize; i++ {
		idx := dl.indices[dl.position+i]
		imagePath, label, err := dl.dataset.GetItem(idx)
		if err != nil {
			return Batch{}, errors.Wrapf(err, "get item %d", idx)
		}
		batch.Paths[i] = imagePath
		batch.Labels[i] = int32(label)
		batch.Indices[i] = idx
	}

	if err := dl.fill(batch, pixelsPerImage); err != nil {
		return Batch{}, err
	}

	dl.position += batchSize
	return batch, nil
}

// fill decodes, augments and packs every image of batch on a bounded pool.
func (dl *DataLoader) fill(batch Batch, pixelsPerImage int) error {
	return preprocessing.ProcessBatch(batch.Size, dl.imageSize, dl.numWorkers, func(p *preprocessing.ImageProcessor, i int) error {
		img, err := dl.loadImageWithCache(p, batch.Paths[i])
		if err != nil {
			return err
		}
		if dl.augmenter != nil {
			img = dl.augmenter.Augment(img)
		}
		out := preprocessing.ToTensor(img, batch.Images[i*pixelsPerImage:(i+1)*pixelsPerImage])
		if dl.augmenter != nil {
			dl.augmenter.Standardize(out)
		}
		return nil
	})
}

// loadImageWithCache loads an image with caching support
func (dl *DataLoader) loadImageWithCache(processor *preprocessing.ImageProcessor, imagePath string) (*image.Gray, error) {
	if dl.cacheManager != nil {
		if img, ok := dl.cacheManager.Get(imagePath); ok {
			return img, nil
		}
	}

	img, err := processor.LoadGray(imagePath)
	if err != nil {
		return nil, err
	}

	if dl.cacheManager != nil {
		dl.cacheManager.Put(imagePath, img)
	}
	return img, nil
}

// Stats returns cache statistics
func (dl *DataLoader) Stats() string {
	if dl.cacheManager == nil {
		return "Cache: disabled"
	}
	return dl.cacheManager.Stats().String()
}

// GetCacheManager returns the cache manager for sharing between DataLoaders
func (dl *DataLoader) GetCacheManager() *CacheManager {
	return dl.cacheManager
}
