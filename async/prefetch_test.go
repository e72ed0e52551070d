package async

import (
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/tensor"
	"github.com/tsawler/tumor-detect/vision/dataloader"
)

func makeSource(t *testing.T, n int) *dataloader.SliceSource {
	t.Helper()
	batches := make([]*dataloader.Batch, n)
	for i := range batches {
		batches[i] = &dataloader.Batch{Inputs: tensor.Full([]int{1, 2}, float64(i)), Labels: []int{i % 4}}
	}
	src, err := dataloader.NewSliceSource(batches)
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	return src
}

func drain(t *testing.T, p *Prefetcher) []float64 {
	t.Helper()
	var seen []float64
	for {
		b, err := p.Next()
		if err != nil {
			t.Fatalf("Failed to read batch: %v", err)
		}
		if b == nil {
			return seen
		}
		seen = append(seen, b.Inputs.Data[0])
	}
}

// failingSource returns an error after a number of good batches.
type failingSource struct {
	good   int
	served int32
}

func (f *failingSource) Reset() error {
	atomic.StoreInt32(&f.served, 0)
	return nil
}

func (f *failingSource) Next() (*dataloader.Batch, error) {
	if int(atomic.AddInt32(&f.served, 1)) > f.good {
		return nil, errors.New("decode failed")
	}
	return &dataloader.Batch{Inputs: tensor.Zeros([]int{1, 1}), Labels: []int{0}}, nil
}

func TestPrefetcherPreservesOrder(t *testing.T) {
	p, err := NewPrefetcher(makeSource(t, 7), 3)
	if err != nil {
		t.Fatalf("Failed to create prefetcher: %v", err)
	}
	defer p.Close()

	for pass := 0; pass < 2; pass++ {
		if err := p.Reset(); err != nil {
			t.Fatalf("Failed to reset: %v", err)
		}
		seen := drain(t, p)
		if len(seen) != 7 {
			t.Fatalf("Pass %d: expected 7 batches, got %d", pass, len(seen))
		}
		for i, v := range seen {
			if v != float64(i) {
				t.Fatalf("Pass %d: batch %d out of order: %v", pass, i, seen)
			}
		}
	}
	if p.Delivered() != 14 || p.Passes() != 2 {
		t.Errorf("Expected 14 batches over 2 passes, got %d over %d", p.Delivered(), p.Passes())
	}
}

func TestPrefetcherResetMidPass(t *testing.T) {
	p, _ := NewPrefetcher(makeSource(t, 5), 1)
	defer p.Close()

	if err := p.Reset(); err != nil {
		t.Fatalf("Failed to reset: %v", err)
	}
	if _, err := p.Next(); err != nil {
		t.Fatalf("Failed to read batch: %v", err)
	}
	if err := p.Reset(); err != nil {
		t.Fatalf("Failed to reset mid pass: %v", err)
	}
	seen := drain(t, p)
	if len(seen) != 5 || seen[0] != 0 {
		t.Errorf("Reset should restart from the first batch, got %v", seen)
	}
}

func TestPrefetcherStartsLazily(t *testing.T) {
	p, _ := NewPrefetcher(makeSource(t, 2), 0)
	defer p.Close()
	if got := drain(t, p); len(got) != 2 {
		t.Errorf("Expected 2 batches without Reset, got %d", len(got))
	}
}

func TestPrefetcherSourceError(t *testing.T) {
	p, _ := NewPrefetcher(&failingSource{good: 2}, 4)
	defer p.Close()
	if err := p.Reset(); err != nil {
		t.Fatalf("Failed to reset: %v", err)
	}
	for i := 0; i < 2; i++ {
		if b, err := p.Next(); err != nil || b == nil {
			t.Fatalf("Expected good batch %d, got %v %v", i, b, err)
		}
	}
	if _, err := p.Next(); err == nil {
		t.Fatal("Expected the source error to surface")
	}
	if b, err := p.Next(); b != nil || err != nil {
		t.Errorf("Pass should end after an error, got %v %v", b, err)
	}
}

func TestPrefetcherClose(t *testing.T) {
	if _, err := NewPrefetcher(nil, 1); err == nil {
		t.Error("Expected error for nil source")
	}
	p, _ := NewPrefetcher(makeSource(t, 3), 1)
	if err := p.Reset(); err != nil {
		t.Fatalf("Failed to reset: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Second close should be a no-op: %v", err)
	}
	if _, err := p.Next(); err == nil {
		t.Error("Expected error after close")
	}
	if err := p.Reset(); err == nil {
		t.Error("Expected error resetting after close")
	}
}
