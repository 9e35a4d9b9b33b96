package preprocessing

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/tsawler/go-metal-alexnet/errs"
)

// ImageProcessor decodes images of any registered format into single-channel
// target x target images. Resizing is nearest neighbour and gray conversion
// uses the ITU-R 601 luma weights of color.GrayModel.
type ImageProcessor struct {
	mu         sync.Mutex
	readBuffer bytes.Buffer
	targetSize int
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// TargetSize returns the square side length of every decoded image.
func (p *ImageProcessor) TargetSize() int {
	return p.targetSize
}

// DecodeGray decodes reader and returns a new target-size grayscale image.
func (p *ImageProcessor) DecodeGray(reader io.Reader) (*image.Gray, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readBuffer.Reset()
	if _, err := p.readBuffer.ReadFrom(reader); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(p.readBuffer.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return Resize(img, p.targetSize), nil
}

// LoadGray opens and decodes the file at path.
func (p *ImageProcessor) LoadGray(path string) (*image.Gray, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.Data("open image", path, err)
	}
	defer file.Close()

	img, err := p.DecodeGray(file)
	if err != nil {
		return nil, errs.Data("decode image", path, err)
	}
	return img, nil
}

// Resize scales img to size x size grayscale with nearest neighbour sampling.
func Resize(img image.Image, size int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// ToTensor writes img into dst as H*W float32 values normalized to [0, 1]
// (CHW with a single channel). dst is grown when too small and returned.
func ToTensor(img *image.Gray, dst []float32) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if cap(dst) < w*h {
		dst = make([]float32, w*h)
	}
	dst = dst[:w*h]
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x, v := range row {
			dst[y*w+x] = float32(v) / 255.0
		}
	}
	return dst
}

// FromBytes wraps raw size*size gray pixels, as stored in the decode cache.
func FromBytes(pix []byte, size int) (*image.Gray, error) {
	if len(pix) != size*size {
		return nil, fmt.Errorf("expected %d pixels, got %d", size*size, len(pix))
	}
	return &image.Gray{Pix: pix, Stride: size, Rect: image.Rect(0, 0, size, size)}, nil
}

// ProcessBatch calls fn for every index in [0, n) on at most maxWorkers
// goroutines. Each worker owns one ImageProcessor. The first failure by index
// is returned after all workers finish.
func ProcessBatch(n, targetSize, maxWorkers int, fn func(p *ImageProcessor, index int) error) error {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if maxWorkers > n {
		maxWorkers = n
	}

	failures := make([]error, n)
	jobs := make(chan int, n)
	var wg sync.WaitGroup

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor := NewImageProcessor(targetSize)
			for i := range jobs {
				failures[i] = fn(processor, i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range failures {
		if err != nil {
			return err
		}
	}
	return nil
}
