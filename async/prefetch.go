// Package async overlaps batch loading with training by reading ahead of the
// consumer on a background goroutine.
package async

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/vision/dataloader"
)

// Source is a restartable batch sequence. Next returns nil, nil at the end of a pass.
type Source interface {
	Reset() error
	Next() (*dataloader.Batch, error)
}

type result struct {
	batch *dataloader.Batch
	err   error
}

// Prefetcher keeps up to depth batches loaded ahead of Next. It has a single
// consumer; Reset and Close must not race with Next.
type Prefetcher struct {
	src   Source
	depth int

	mu      sync.Mutex
	results chan result
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool

	delivered uint64
	passes    uint64
}

// NewPrefetcher wraps src. Depth defaults to 2.
func NewPrefetcher(src Source, depth int) (*Prefetcher, error) {
	if src == nil {
		return nil, errors.New("prefetch source cannot be nil")
	}
	if depth <= 0 {
		depth = 2
	}
	return &Prefetcher{src: src, depth: depth}, nil
}

// Reset stops the current pass, rewinds the source and starts reading ahead.
func (p *Prefetcher) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("prefetcher is closed")
	}
	p.stopLocked()
	if err := p.src.Reset(); err != nil {
		return err
	}
	p.startLocked()
	return nil
}

// Next returns the next batch in source order. Errors from the source are
// returned unchanged and end the pass.
func (p *Prefetcher) Next() (*dataloader.Batch, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("prefetcher is closed")
	}
	if p.results == nil {
		p.startLocked()
	}
	results := p.results
	p.mu.Unlock()

	r, ok := <-results
	if !ok {
		return nil, nil
	}
	if r.batch != nil {
		atomic.AddUint64(&p.delivered, 1)
	}
	return r.batch, r.err
}

// Close stops the background reader. It is safe to call more than once.
func (p *Prefetcher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.closed = true
	return nil
}

// Delivered reports the batches handed to the consumer across all passes.
func (p *Prefetcher) Delivered() uint64 { return atomic.LoadUint64(&p.delivered) }

// Passes reports how many read-ahead passes have been started.
func (p *Prefetcher) Passes() uint64 { return atomic.LoadUint64(&p.passes) }

func (p *Prefetcher) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p.results = make(chan result, p.depth)
	p.done = make(chan struct{})
	p.cancel = cancel
	atomic.AddUint64(&p.passes, 1)
	go p.fill(ctx, p.results, p.done)
}

func (p *Prefetcher) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
	p.results = nil
}

func (p *Prefetcher) fill(ctx context.Context, out chan<- result, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	for {
		if ctx.Err() != nil {
			return
		}
		batch, err := p.src.Next()
		select {
		case out <- result{batch: batch, err: err}:
		case <-ctx.Done():
			return
		}
		if batch == nil || err != nil {
			return
		}
	}
}
