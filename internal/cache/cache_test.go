package cache

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nextlevelbuilder/astra/internal/metrics"
)

func newTestCache(capacity int) *Cache {
	return New(capacity, nil, slog.Default(), nil)
}

func TestCache_SetGet(t *testing.T) {
	c := newTestCache(10)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), TTLShort)
	got, ok := c.Get(ctx, "k1")
	if !ok || string(got) != "v1" {
		t.Fatalf("get = %q, %v", got, ok)
	}
	if _, ok := c.Get(ctx, "absent"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestCache_EvictsOldestByInsertion(t *testing.T) {
	c := newTestCache(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Set(ctx, "k"+strconv.Itoa(i), []byte{byte(i)}, TTLLong)
	}
	// Reading k0 must not refresh its age.
	if _, ok := c.Get(ctx, "k0"); !ok {
		t.Fatal("k0 should be present")
	}
	c.Set(ctx, "k3", []byte{3}, TTLLong)

	if _, ok := c.Get(ctx, "k0"); ok {
		t.Error("k0 should have been evicted as the oldest insertion")
	}
	if _, ok := c.Get(ctx, "k1"); !ok {
		t.Error("k1 should survive")
	}
	if c.Len() != 3 {
		t.Errorf("len = %d, want 3", c.Len())
	}
}

func TestCache_OverwriteMovesInsertion(t *testing.T) {
	c := newTestCache(2)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), TTLLong)
	c.Set(ctx, "b", []byte("2"), TTLLong)
	c.Set(ctx, "a", []byte("3"), TTLLong) // re-insert; b is now oldest
	c.Set(ctx, "c", []byte("4"), TTLLong)

	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	got, ok := c.Get(ctx, "a")
	if !ok || string(got) != "3" {
		t.Errorf("a = %q, %v, want overwritten value", got, ok)
	}
}

func TestCache_Sweep(t *testing.T) {
	c := newTestCache(10)
	ctx := context.Background()

	c.Set(ctx, "short", []byte("s"), TTLShort)
	c.Set(ctx, "long", []byte("l"), TTLLong)

	dropped := c.Sweep(time.Now().Add(10 * time.Minute))
	if dropped != 1 {
		t.Errorf("swept %d entries, want 1", dropped)
	}
	if _, ok := c.Get(ctx, "long"); !ok {
		t.Error("long entry should survive the sweep")
	}
}

func TestCache_LookupCounters(t *testing.T) {
	met, _ := metrics.New()
	c := New(10, nil, slog.Default(), met)
	ctx := context.Background()

	c.Get(ctx, "absent")
	c.Set(ctx, "k", []byte("v"), TTLShort)
	c.Get(ctx, "k")

	if got := testutil.ToFloat64(met.CacheLookups.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(met.CacheLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("hit count = %v, want 1", got)
	}
}

func TestTTLClassDurations(t *testing.T) {
	tests := []struct {
		class TTLClass
		want  time.Duration
	}{
		{TTLShort, 5 * time.Minute},
		{TTLMedium, 30 * time.Minute},
		{TTLLong, time.Hour},
	}
	for _, tt := range tests {
		if got := tt.class.Duration(); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestKeyBuilders(t *testing.T) {
	if k := SentimentKey("hello"); !strings.HasPrefix(k, "sentiment:") {
		t.Errorf("sentiment key = %q", k)
	}
	if SentimentKey("hello") != SentimentKey("hello") {
		t.Error("hash must be deterministic")
	}
	if SentimentKey("hello") == SentimentKey("world") {
		t.Error("distinct messages must hash differently")
	}
	if k := ResponseKey(1, 2, "hi"); !strings.HasPrefix(k, "response:1:2:") {
		t.Errorf("response key = %q", k)
	}
	if k := ProfileKey(3, 4); k != "profile:3:4" {
		t.Errorf("profile key = %q", k)
	}
}
