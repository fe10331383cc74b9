package recurrence

import (
	"sync"
	"testing"
	"time"
)

func TestCountCache_BasicOperations(t *testing.T) {
	cache := NewCountCache(CacheConfig{
		TTL:        5 * time.Minute,
		MaxEntries: 100,
	})

	start := MustParseDate("2024-01-01")
	rule := Daily{Interval: 1, End: Count(5)}

	// Cache miss first
	if _, found := cache.Get(start, rule, time.Sunday, 5); found {
		t.Error("Expected cache miss, got hit")
	}

	cache.Set(start, rule, time.Sunday, 5, MustParseDate("2024-01-05"))

	got, found := cache.Get(start, rule, time.Sunday, 5)
	if !found {
		t.Fatal("Expected cache hit, got miss")
	}
	if got != MustParseDate("2024-01-05") {
		t.Errorf("Expected 2024-01-05, got %v", got)
	}

	// Different week start is a different key
	if _, found := cache.Get(start, rule, time.Monday, 5); found {
		t.Error("Expected cache miss for different week start")
	}
	// Different rule shape is a different key
	if _, found := cache.Get(start, Daily{Interval: 2, End: Count(5)}, time.Sunday, 5); found {
		t.Error("Expected cache miss for different rule")
	}
}

func TestCountCache_TTLExpiration(t *testing.T) {
	cache := NewCountCache(CacheConfig{
		TTL:        time.Minute,
		MaxEntries: 100,
	})
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	start := MustParseDate("2024-01-01")
	rule := Daily{Interval: 1, End: Count(3)}
	cache.Set(start, rule, time.Sunday, 3, MustParseDate("2024-01-03"))

	if _, found := cache.Get(start, rule, time.Sunday, 3); !found {
		t.Error("Expected cache hit before expiration")
	}

	now = now.Add(2 * time.Minute)
	if stats := cache.Stats(); stats.ExpiredEntries != 1 {
		t.Errorf("Expected 1 expired entry, got %d", stats.ExpiredEntries)
	}
	if _, found := cache.Get(start, rule, time.Sunday, 3); found {
		t.Error("Expected cache miss after expiration")
	}
	if stats := cache.Stats(); stats.TotalEntries != 0 {
		t.Errorf("Expected expired entry to be dropped, got %d entries", stats.TotalEntries)
	}
}

func TestCountCache_MaxEntriesEviction(t *testing.T) {
	cache := NewCountCache(CacheConfig{
		TTL:        time.Hour,
		MaxEntries: 3,
	})
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	start := MustParseDate("2024-01-01")
	for n := 1; n <= 5; n++ {
		cache.Set(start, Daily{Interval: 1, End: Count(n)}, time.Sunday, n, start.AddDays(n-1))
	}

	stats := cache.Stats()
	if stats.TotalEntries != 3 {
		t.Errorf("Expected 3 entries after eviction, got %d", stats.TotalEntries)
	}
	// The oldest entries go first
	if _, found := cache.Get(start, Daily{Interval: 1, End: Count(1)}, time.Sunday, 1); found {
		t.Error("Expected oldest entry to be evicted")
	}
	if _, found := cache.Get(start, Daily{Interval: 1, End: Count(5)}, time.Sunday, 5); !found {
		t.Error("Expected newest entry to survive")
	}
}

func TestCountCache_Concurrent(t *testing.T) {
	cache := NewCountCache(DefaultCacheConfig)
	start := MustParseDate("2024-01-01")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rule := Weekly{Interval: 1, Weekdays: []time.Weekday{time.Weekday(i % 7)}, End: Count(i + 1)}
			cache.Set(start, rule, time.Sunday, i+1, start.AddDays(i))
			if _, found := cache.Get(start, rule, time.Sunday, i+1); !found {
				t.Errorf("Expected hit for entry %d", i)
			}
		}(i)
	}
	wg.Wait()

	cache.Clear()
	if stats := cache.Stats(); stats.TotalEntries != 0 {
		t.Errorf("Expected empty cache after Clear, got %d", stats.TotalEntries)
	}
}
