package dataloader

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/tensor"
)

// SliceSource replays a fixed list of in-memory batches on every pass.
type SliceSource struct {
	batches  []*Batch
	position int
}

// NewSliceSource wraps batches. Each batch must have one label per sample.
func NewSliceSource(batches []*Batch) (*SliceSource, error) {
	for i, b := range batches {
		if b == nil || b.Inputs == nil || len(b.Inputs.Shape) == 0 || b.Inputs.Shape[0] != len(b.Labels) {
			return nil, errors.Errorf("batch %d: inputs and labels disagree on batch size", i)
		}
	}
	return &SliceSource{batches: batches}, nil
}

// Reset rewinds to the first batch.
func (s *SliceSource) Reset() error {
	s.position = 0
	return nil
}

// Next returns the next batch, or nil at the end of the pass.
func (s *SliceSource) Next() (*Batch, error) {
	if s.position >= len(s.batches) {
		return nil, nil
	}
	b := s.batches[s.position]
	s.position++
	return b, nil
}

// Len returns the number of batches per pass.
func (s *SliceSource) Len() int {
	return len(s.batches)
}

// RandomSource generates a reproducible synthetic split: uniform inputs in
// [0, 1) and uniform labels. Every pass yields the same batches.
type RandomSource struct {
	*SliceSource
}

// NewRandomSource creates numBatches batches of batchSize samples with the
// given per-sample shape (e.g. [3, 224, 224]).
func NewRandomSource(numBatches, batchSize int, sampleShape []int, numClasses int, seed int64) (*RandomSource, error) {
	if numBatches < 0 || batchSize <= 0 || numClasses <= 0 {
		return nil, errors.Errorf("invalid synthetic source %d x %d with %d classes", numBatches, batchSize, numClasses)
	}
	rng := rand.New(rand.NewSource(seed))
	shape := append([]int{batchSize}, sampleShape...)

	batches := make([]*Batch, numBatches)
	for i := range batches {
		labels := make([]int, batchSize)
		for j := range labels {
			labels[j] = rng.Intn(numClasses)
		}
		batches[i] = &Batch{
			Inputs: tensor.Uniform(shape, 0, 1, rng),
			Labels: labels,
		}
	}

	src, err := NewSliceSource(batches)
	if err != nil {
		return nil, err
	}
	return &RandomSource{SliceSource: src}, nil
}
