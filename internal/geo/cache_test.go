// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package geo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arcspark/arclight/internal/models"
)

func geoRecord(city string) *models.GeoRecord {
	return &models.GeoRecord{Latitude: 1, Longitude: 2, City: city, CountryCode: "DE"}
}

func TestCache_BasicOperations(t *testing.T) {
	cache := NewCache(3, time.Minute)

	cache.Add("1.1.1.1", geoRecord("a"))
	cache.Add("2.2.2.2", geoRecord("b"))

	rec, ok := cache.Get("1.1.1.1")
	if !ok || rec == nil || rec.City != "a" {
		t.Errorf("Expected cached record for 1.1.1.1, got %+v ok=%v", rec, ok)
	}
	if _, ok := cache.Get("9.9.9.9"); ok {
		t.Error("Expected miss for absent key")
	}
	if cache.Len() != 2 {
		t.Errorf("Expected len 2, got %d", cache.Len())
	}
}

func TestCache_Eviction(t *testing.T) {
	cache := NewCache(3, time.Minute)

	cache.Add("a", geoRecord("a"))
	cache.Add("b", geoRecord("b"))
	cache.Add("c", geoRecord("c"))

	// Touch 'a' so 'b' becomes least recently used
	cache.Get("a")

	cache.Add("d", geoRecord("d"))

	if _, ok := cache.Get("b"); ok {
		t.Error("Expected 'b' to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := cache.Get(key); !ok {
			t.Errorf("Expected %q to be present", key)
		}
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	cache := NewCache(10, 20*time.Millisecond)

	cache.Add("1.1.1.1", geoRecord("a"))
	if _, ok := cache.Get("1.1.1.1"); !ok {
		t.Fatal("Expected fresh entry to be present")
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok := cache.Get("1.1.1.1"); ok {
		t.Error("Expected entry to be expired")
	}
}

func TestCache_NegativeResult(t *testing.T) {
	cache := NewCache(10, time.Minute)

	// nil value is a cached miss, distinct from an absent key
	cache.Add("10.0.0.1", nil)

	rec, ok := cache.Get("10.0.0.1")
	if !ok {
		t.Fatal("Expected cached negative result to hit")
	}
	if rec != nil {
		t.Errorf("Expected nil record, got %+v", rec)
	}
}

func TestCache_GetOrComputeSingleLookup(t *testing.T) {
	cache := NewCache(10, time.Minute)
	var calls atomic.Int64

	lookup := func(context.Context, string) (*models.GeoRecord, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return geoRecord("x"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := cache.GetOrCompute(context.Background(), "3.3.3.3", lookup)
			if err != nil || rec == nil {
				t.Errorf("GetOrCompute failed: rec=%v err=%v", rec, err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("Expected exactly one lookup for concurrent misses, got %d", got)
	}
}

func TestCache_GetOrComputeErrorNotCached(t *testing.T) {
	cache := NewCache(10, time.Minute)
	var calls int

	failing := func(context.Context, string) (*models.GeoRecord, error) {
		calls++
		return nil, errors.New("provider down")
	}

	if _, err := cache.GetOrCompute(context.Background(), "4.4.4.4", failing); err == nil {
		t.Fatal("Expected error from failing lookup")
	}
	if _, err := cache.GetOrCompute(context.Background(), "4.4.4.4", failing); err == nil {
		t.Fatal("Expected error again, failure must not be cached")
	}
	if calls != 2 {
		t.Errorf("Expected 2 lookup attempts, got %d", calls)
	}
	if cache.Len() != 0 {
		t.Errorf("Expected nothing cached after failures, got %d entries", cache.Len())
	}
}

func TestCache_Stats(t *testing.T) {
	cache := NewCache(10, time.Minute)
	cache.Add("1.1.1.1", geoRecord("a"))

	cache.Get("1.1.1.1")
	cache.Get("1.1.1.1")
	cache.Get("2.2.2.2")

	hits, misses, size := cache.Stats()
	if hits != 2 || misses != 1 || size != 1 {
		t.Errorf("Expected hits=2 misses=1 size=1, got hits=%d misses=%d size=%d", hits, misses, size)
	}
}

func TestCache_RefreshResetsTTLAndValue(t *testing.T) {
	cache := NewCache(10, time.Minute)
	cache.Add("1.1.1.1", geoRecord("old"))
	cache.Add("1.1.1.1", geoRecord("new"))

	rec, ok := cache.Get("1.1.1.1")
	if !ok || rec.City != "new" {
		t.Errorf("Expected refreshed value, got %+v ok=%v", rec, ok)
	}
	if cache.Len() != 1 {
		t.Errorf("Refresh must not duplicate the entry, len=%d", cache.Len())
	}
}
