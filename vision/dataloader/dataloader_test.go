package dataloader

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/failure"
	"github.com/tsawler/tumor-detect/tensor"
)

// fileDataset serves PNG files written to a temporary directory; the pixel
// value of each image encodes its index.
type fileDataset struct {
	paths  []string
	labels []int
}

func (d *fileDataset) Len() int { return len(d.paths) }

func (d *fileDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.paths) {
		return "", 0, errors.Errorf("index %d out of range", index)
	}
	return d.paths[index], d.labels[index], nil
}

func newFileDataset(t *testing.T, n int) *fileDataset {
	t.Helper()
	dir := t.TempDir()
	ds := &fileDataset{}
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 6, 6))
		for p := range img.Pix {
			img.Pix[p] = uint8(i * 10)
		}
		path := filepath.Join(dir, fmt.Sprintf("img_%d.png", i))
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("Failed to create image: %v", err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatalf("Failed to encode image: %v", err)
		}
		f.Close()
		ds.paths = append(ds.paths, path)
		ds.labels = append(ds.labels, i%4)
	}
	return ds
}

// sampleID recovers the index encoded in an image's first pixel.
func sampleID(b *Batch, i int) int {
	plane := len(b.Inputs.Data) / b.Size()
	v := b.Inputs.Data[i*plane] * 255
	return int(v/10 + 0.5)
}

func drain(t *testing.T, dl *DataLoader) ([]int, []int) {
	t.Helper()
	var ids, sizes []int
	for {
		b, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if b == nil {
			return ids, sizes
		}
		sizes = append(sizes, b.Size())
		for i := 0; i < b.Size(); i++ {
			ids = append(ids, sampleID(b, i))
			if b.Labels[i] != sampleID(b, i)%4 {
				t.Errorf("Label %d does not belong to sample %d", b.Labels[i], sampleID(b, i))
			}
		}
	}
}

func TestDataLoaderCoversDatasetOncePerPass(t *testing.T) {
	ds := newFileDataset(t, 10)
	dl := NewDataLoader(ds, Config{BatchSize: 4, Shuffle: true, Seed: 3, ImageSize: 4, NumWorkers: 2})

	if dl.Len() != 3 {
		t.Errorf("Expected 3 batches, got %d", dl.Len())
	}

	first, sizes := drain(t, dl)
	if fmt.Sprint(sizes) != "[4 4 2]" {
		t.Errorf("Batch sizes = %v, want [4 4 2]", sizes)
	}
	sorted := append([]int(nil), first...)
	sort.Ints(sorted)
	for i, id := range sorted {
		if id != i {
			t.Fatalf("Pass did not cover every sample once: %v", first)
		}
	}

	if err := dl.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	second, _ := drain(t, dl)
	if len(second) != 10 {
		t.Fatalf("Second pass yielded %d samples", len(second))
	}
	if fmt.Sprint(first) == fmt.Sprint(second) {
		t.Log("Reshuffle produced the same order; acceptable but unlikely")
	}

	stats := dl.GetCacheManager().Stats()
	if stats.Hits != 10 {
		t.Errorf("Expected the second pass to be served from cache, got %+v", stats)
	}
}

func TestDataLoaderSeededOrder(t *testing.T) {
	ds := newFileDataset(t, 8)
	a, _ := drain(t, NewDataLoader(ds, Config{BatchSize: 3, Shuffle: true, Seed: 9, ImageSize: 4}))
	b, _ := drain(t, NewDataLoader(ds, Config{BatchSize: 3, Shuffle: true, Seed: 9, ImageSize: 4}))
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Errorf("Equal seeds gave different orders: %v vs %v", a, b)
	}

	ordered, _ := drain(t, NewDataLoader(ds, Config{BatchSize: 3, ImageSize: 4}))
	for i, id := range ordered {
		if id != i {
			t.Fatalf("Unshuffled order = %v", ordered)
		}
	}
}

func TestDataLoaderErrorsAreDataLoadErrors(t *testing.T) {
	t.Run("undecodable image", func(t *testing.T) {
		ds := newFileDataset(t, 2)
		os.WriteFile(ds.paths[1], []byte("not an image"), 0o644)
		dl := NewDataLoader(ds, Config{BatchSize: 2, ImageSize: 4})
		if _, err := dl.Next(); !failure.IsDataLoad(err) {
			t.Errorf("Expected DataLoadError, got %v", err)
		}
	})

	t.Run("label out of range", func(t *testing.T) {
		ds := newFileDataset(t, 2)
		ds.labels[0] = 7
		dl := NewDataLoader(ds, Config{BatchSize: 2, ImageSize: 4, NumClasses: 4})
		if _, err := dl.Next(); !failure.IsDataLoad(err) {
			t.Errorf("Expected DataLoadError, got %v", err)
		}
	})
}

func TestSliceSource(t *testing.T) {
	inputs := tensor.Zeros([]int{2, 1, 2, 2})
	src, err := NewSliceSource([]*Batch{{Inputs: inputs, Labels: []int{0, 1}}})
	if err != nil {
		t.Fatalf("NewSliceSource failed: %v", err)
	}
	for pass := 0; pass < 2; pass++ {
		src.Reset()
		count := 0
		for b, _ := src.Next(); b != nil; b, _ = src.Next() {
			count++
		}
		if count != 1 {
			t.Errorf("Pass %d yielded %d batches", pass, count)
		}
	}

	if _, err := NewSliceSource([]*Batch{{Inputs: inputs, Labels: []int{0}}}); err == nil {
		t.Error("Expected error for mismatched labels")
	}
}

func TestRandomSourceIsReproducible(t *testing.T) {
	a, err := NewRandomSource(3, 4, []int{3, 2, 2}, 4, 5)
	if err != nil {
		t.Fatalf("NewRandomSource failed: %v", err)
	}
	b, _ := NewRandomSource(3, 4, []int{3, 2, 2}, 4, 5)

	for i := 0; i < 3; i++ {
		ba, _ := a.Next()
		bb, _ := b.Next()
		if !tensor.SameShape(ba.Inputs.Shape, []int{4, 3, 2, 2}) {
			t.Fatalf("Unexpected shape %v", ba.Inputs.Shape)
		}
		if fmt.Sprint(ba.Labels) != fmt.Sprint(bb.Labels) || ba.Inputs.Data[0] != bb.Inputs.Data[0] {
			t.Error("Equal seeds produced different batches")
		}
		for _, l := range ba.Labels {
			if l < 0 || l >= 4 {
				t.Errorf("Label %d out of range", l)
			}
		}
	}
	if last, _ := a.Next(); last != nil {
		t.Error("Expected end of pass after 3 batches")
	}
}
