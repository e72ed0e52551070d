package dataloader

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestCacheManagerBasicOperations(t *testing.T) {
	cm := NewCacheManager(10)

	if _, ok := cm.Get("missing"); ok {
		t.Error("Expected miss on empty cache")
	}
	cm.Put("a", []float64{1, 2, 3})
	data, ok := cm.Get("a")
	if !ok || len(data) != 3 || data[2] != 3 {
		t.Errorf("Get(a) = %v, %v", data, ok)
	}

	stats := cm.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.HitRate != 50 {
		t.Errorf("Expected 50%% hit rate, got %.1f", stats.HitRate)
	}
}

func TestCacheManagerLRUEviction(t *testing.T) {
	cm := NewCacheManager(2)
	cm.Put("a", []float64{1})
	cm.Put("b", []float64{2})
	cm.Get("a") // a becomes most recent
	cm.Put("c", []float64{3})

	if _, ok := cm.Get("b"); ok {
		t.Error("Expected b to be evicted")
	}
	for _, key := range []string{"a", "c"} {
		if _, ok := cm.Get(key); !ok {
			t.Errorf("Expected %s to remain cached", key)
		}
	}
}

func TestCacheManagerDisabled(t *testing.T) {
	cm := NewCacheManager(-1)
	cm.Put("a", []float64{1})
	if _, ok := cm.Get("a"); ok {
		t.Error("Expected caching to be disabled")
	}
}

func TestCacheManagerClearKeepsStats(t *testing.T) {
	cm := NewCacheManager(5)
	cm.Put("a", []float64{1})
	cm.Get("a")
	cm.Clear()

	if _, ok := cm.Get("a"); ok {
		t.Error("Expected empty cache after Clear")
	}
	stats := cm.Stats()
	if stats.Size != 0 || stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Unexpected stats after Clear: %+v", stats)
	}
	if !strings.Contains(stats.String(), "Hits: 1") {
		t.Errorf("Unexpected stats string %q", stats.String())
	}
}

func TestCacheManagerConcurrency(t *testing.T) {
	cm := NewCacheManager(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", (g*100+i)%80)
				cm.Put(key, []float64{float64(i)})
				cm.Get(key)
			}
		}(g)
	}
	wg.Wait()

	if size := cm.Stats().Size; size > 50 {
		t.Errorf("Cache exceeded max size: %d", size)
	}
}
