// Package dataloader groups dataset samples into shuffled, preprocessed
// batches.
package dataloader

import (
	"math/rand"
	"sync"

	"github.com/tsawler/tumor-detect/failure"
	"github.com/tsawler/tumor-detect/tensor"
	"github.com/tsawler/tumor-detect/vision/preprocessing"
)

// Dataset interface defines the contract for datasets
type Dataset interface {
	Len() int
	GetItem(index int) (imagePath string, label int, err error)
}

// Batch is one group of samples: Inputs is [N, C, H, W] and Labels holds N
// class indices.
type Batch struct {
	Inputs *tensor.Tensor
	Labels []int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Labels)
}

// DataLoader yields every sample of a dataset exactly once per pass.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	numClasses int
	workers    int
	rng        *rand.Rand
	indices    []int
	position   int
	mu         sync.Mutex

	cacheManager *CacheManager
	ownedCache   bool

	imageSize int
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize    int
	Shuffle      bool
	Seed         int64         // Seed of the shuffle order
	MaxCacheSize int           // Maximum number of images to cache
	ImageSize    int
	NumWorkers   int           // Number of parallel workers for preprocessing
	NumClasses   int           // When positive, labels outside [0, NumClasses) are rejected
	CacheManager *CacheManager // Optional shared cache manager
}

// NewDataLoader creates a new data loader
func NewDataLoader(dataset Dataset, config Config) *DataLoader {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.MaxCacheSize == 0 {
		config.MaxCacheSize = 1000
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	cacheManager := config.CacheManager
	ownedCache := false
	if cacheManager == nil {
		cacheManager = NewCacheManager(config.MaxCacheSize)
		ownedCache = true
	}

	dl := &DataLoader{
		dataset:      dataset,
		batchSize:    config.BatchSize,
		shuffle:      config.Shuffle,
		numClasses:   config.NumClasses,
		workers:      config.NumWorkers,
		rng:          rand.New(rand.NewSource(config.Seed)),
		indices:      indices,
		cacheManager: cacheManager,
		ownedCache:   ownedCache,
		imageSize:    config.ImageSize,
	}
	dl.shuffleIndices()
	return dl
}

func (dl *DataLoader) shuffleIndices() {
	if !dl.shuffle {
		return
	}
	dl.rng.Shuffle(len(dl.indices), func(i, j int) {
		dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
	})
}

// Reset starts a new pass, reshuffling when shuffle is enabled.
func (dl *DataLoader) Reset() error {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	dl.shuffleIndices()
	return nil
}

// Next loads the next batch. It returns nil, nil once the pass is exhausted.
// Any unreadable sample aborts the batch with a DataLoadError.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}
	n := dl.batchSize
	if remaining < n {
		n = remaining
	}

	labels := make([]int, n)
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		idx := dl.indices[dl.position+i]
		path, label, err := dl.dataset.GetItem(idx)
		if err != nil {
			return nil, failure.DataLoad(err, "get item")
		}
		if dl.numClasses > 0 && (label < 0 || label >= dl.numClasses) {
			return nil, failure.DataLoadf("get item", "label %d of %s outside [0, %d)", label, path, dl.numClasses)
		}
		paths[i] = path
		labels[i] = label
	}

	images, err := dl.loadImages(paths)
	if err != nil {
		return nil, err
	}

	plane := 3 * dl.imageSize * dl.imageSize
	inputs := tensor.Zeros([]int{n, 3, dl.imageSize, dl.imageSize})
	for i, img := range images {
		if len(img) != plane {
			return nil, failure.DataLoadf("batch", "image %s has %d values, want %d", paths[i], len(img), plane)
		}
		copy(inputs.Data[i*plane:(i+1)*plane], img)
	}

	dl.position += n
	return &Batch{Inputs: inputs, Labels: labels}, nil
}

// loadImages serves cached images and preprocesses the misses concurrently.
func (dl *DataLoader) loadImages(paths []string) ([][]float64, error) {
	images := make([][]float64, len(paths))
	var missPaths []string
	var missIdx []int
	for i, path := range paths {
		if data, ok := dl.cacheManager.Get(path); ok {
			images[i] = data
			continue
		}
		missPaths = append(missPaths, path)
		missIdx = append(missIdx, i)
	}
	if len(missPaths) == 0 {
		return images, nil
	}

	processed, err := preprocessing.PreprocessBatch(missPaths, dl.imageSize, dl.workers)
	if err != nil {
		return nil, err
	}
	for j, img := range processed {
		images[missIdx[j]] = img.Data
		dl.cacheManager.Put(missPaths[j], img.Data)
	}
	return images, nil
}

// Len returns the number of batches per pass.
func (dl *DataLoader) Len() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// NumSamples returns the number of samples per pass.
func (dl *DataLoader) NumSamples() int {
	return len(dl.indices)
}

// Stats returns cache statistics
func (dl *DataLoader) Stats() string {
	return dl.cacheManager.Stats().String()
}

// Progress returns the current progress through the dataset
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

// ClearCache clears the image cache unless it is shared
func (dl *DataLoader) ClearCache() {
	if dl.ownedCache {
		dl.cacheManager.Clear()
	}
}

// GetCacheManager returns the cache manager for sharing between DataLoaders
func (dl *DataLoader) GetCacheManager() *CacheManager {
	return dl.cacheManager
}
