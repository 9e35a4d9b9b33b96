package dataloader

import (
	"fmt"
	"image"

	"github.com/VictoriaMetrics/fastcache"
	"go.uber.org/atomic"

	"github.com/tsawler/go-metal-alexnet/vision/preprocessing"
)

// CacheManager keeps decoded, resized grayscale images keyed by path so later
// epochs skip the decoder. Entries are stored before augmentation. Eviction is
// handled by fastcache once the byte budget is reached.
type CacheManager struct {
	cache     *fastcache.Cache
	imageSize int
	maxBytes  int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCacheManager creates a cache holding up to maxBytes of imageSize x
// imageSize pixels. fastcache rounds small budgets up to its minimum.
func NewCacheManager(maxBytes int, imageSize int) *CacheManager {
	return &CacheManager{
		cache:     fastcache.New(maxBytes),
		imageSize: imageSize,
		maxBytes:  maxBytes,
	}
}

// Get returns a private copy of the cached image for key.
func (cm *CacheManager) Get(key string) (*image.Gray, bool) {
	pix := cm.cache.GetBig(nil, []byte(key))
	if len(pix) == 0 {
		cm.misses.Inc()
		return nil, false
	}
	img, err := preprocessing.FromBytes(pix, cm.imageSize)
	if err != nil {
		// A different image size wrote this key; treat it as a miss.
		cm.misses.Inc()
		return nil, false
	}
	cm.hits.Inc()
	return img, true
}

// Put stores img under key. Images of the wrong size are ignored.
func (cm *CacheManager) Put(key string, img *image.Gray) {
	b := img.Bounds()
	if b.Dx() != cm.imageSize || b.Dy() != cm.imageSize {
		return
	}
	pix := img.Pix
	if img.Stride != cm.imageSize || b.Min != (image.Point{}) {
		pix = make([]byte, 0, cm.imageSize*cm.imageSize)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := img.PixOffset(b.Min.X, y)
			pix = append(pix, img.Pix[off:off+cm.imageSize]...)
		}
	}
	cm.cache.SetBig([]byte(key), pix[:cm.imageSize*cm.imageSize])
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	var fs fastcache.Stats
	cm.cache.UpdateStats(&fs)

	hits, misses := cm.hits.Load(), cm.misses.Load()
	stats := CacheStats{
		Bytes:    fs.BytesSize,
		MaxBytes: fs.MaxBytesSize,
		Hits:     hits,
		Misses:   misses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total) * 100
	}
	return stats
}

// Clear drops every entry. Statistics stay cumulative.
func (cm *CacheManager) Clear() {
	cm.cache.Reset()
}

// CacheStats holds cache statistics
type CacheStats struct {
	Bytes    uint64
	MaxBytes uint64
	Hits     int64
	Misses   int64
	HitRate  float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %.1f/%.1f MiB, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		float64(cs.Bytes)/(1<<20), float64(cs.MaxBytes)/(1<<20), cs.Hits, cs.Misses, cs.HitRate)
}
