// Package preprocessing turns image files into normalized CHW tensors.
package preprocessing

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/failure"
)

// ImageProcessor resizes the shorter side of an image to the target size,
// center-crops a square of that size and converts it to CHW float values in
// [0, 1]. Grayscale inputs are expanded to three identical channels.
type ImageProcessor struct {
	targetSize int
}

// NewImageProcessor creates a new image processor with the specified target size
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// TargetSize returns the output edge length.
func (p *ImageProcessor) TargetSize() int {
	return p.targetSize
}

// ProcessedImage represents a preprocessed image ready for network input
type ProcessedImage struct {
	Data     []float64
	Width    int
	Height   int
	Channels int
}

// DecodeAndPreprocess decodes a JPEG or PNG image and preprocesses it.
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	return p.Preprocess(img)
}

// PreprocessFile opens, decodes and preprocesses the image at path.
func (p *ImageProcessor) PreprocessFile(path string) (*ProcessedImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer file.Close()
	return p.DecodeAndPreprocess(file)
}

// Preprocess applies resize, center crop and tensor conversion to a decoded image.
func (p *ImageProcessor) Preprocess(img image.Image) (*ProcessedImage, error) {
	if p.targetSize <= 0 {
		return nil, errors.Errorf("invalid target size %d", p.targetSize)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}

	rw, rh := resizedSize(width, height, p.targetSize)
	offX := (rw - p.targetSize) / 2
	offY := (rh - p.targetSize) / 2

	size := p.targetSize
	plane := size * size
	data := make([]float64, 3*plane)

	for y := 0; y < size; y++ {
		// Nearest-neighbour sample of the resized image at (x+offX, y+offY)
		srcY := (y + offY) * height / rh
		for x := 0; x < size; x++ {
			srcX := (x + offX) * width / rw
			r, g, b, _ := img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY).RGBA()

			idx := y*size + x
			data[idx] = float64(r) / 65535.0
			data[plane+idx] = float64(g) / 65535.0
			data[2*plane+idx] = float64(b) / 65535.0
		}
	}

	return &ProcessedImage{
		Data:     data,
		Width:    size,
		Height:   size,
		Channels: 3,
	}, nil
}

// resizedSize scales (w, h) so the shorter side equals size, keeping aspect.
func resizedSize(w, h, size int) (int, int) {
	if w <= h {
		return size, h * size / w
	}
	return w * size / h, size
}

// PreprocessBatch preprocesses multiple images concurrently. Output order
// matches imagePaths. The first failure is returned as a DataLoadError.
func PreprocessBatch(imagePaths []string, targetSize int, maxWorkers int) ([]*ProcessedImage, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]*ProcessedImage, len(imagePaths))
	errs := make([]error, len(imagePaths))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(imagePaths))
	var wg sync.WaitGroup

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor := NewImageProcessor(targetSize)

			for j := range jobs {
				img, err := processor.PreprocessFile(j.path)
				if err != nil {
					errs[j.index] = err
					continue
				}
				results[j.index] = img
			}
		}()
	}

	for i, path := range imagePaths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, failure.DataLoad(err, "preprocess "+imagePaths[i])
		}
	}

	return results, nil
}
