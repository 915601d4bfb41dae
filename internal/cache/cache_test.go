package cache

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	a := Key("enhance", "history", "query")
	b := Key("enhance", "history", "query")
	c := Key("enhance", "historyquery")

	if a != b {
		t.Error("keys for identical parts should match")
	}
	if a == c {
		t.Error("part boundaries must change the key")
	}
	if !strings.HasPrefix(a, "groundwork-v1-enhance-") {
		t.Errorf("unexpected key %s", a)
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	value := []byte("vector")
	if err := c.Set("k", value, 0); err != nil {
		t.Fatal(err)
	}
	value[0] = 'X'

	got, ok := c.Get("k")
	if !ok || string(got) != "vector" {
		t.Errorf("cache must hold a copy, got %q", got)
	}

	_ = c.Set("short", []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Error("expired entry should be gone")
	}

	_ = c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
}

func TestDiskCache(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Hour)

	if err := c.Set("query", []byte("rewritten"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok := c.Get("query")
	if !ok || string(got) != "rewritten" {
		t.Errorf("unexpected value %q", got)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	_ = c.Set("old", []byte("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("old"); ok {
		t.Error("expired entry should be gone")
	}

	if err := c.Delete("never-set"); err != nil {
		t.Errorf("deleting a missing key should succeed, got %v", err)
	}
}

func TestLayeredCache_PromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	c := NewLayeredCache(time.Minute, dir, time.Hour)

	if err := c.Set("k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = c.memory.Delete("k")

	got, ok := c.Get("k")
	if !ok || string(got) != "v" {
		t.Fatalf("expected disk hit, got %q", got)
	}
	if _, ok := c.memory.Get("k"); !ok {
		t.Error("disk hit should be promoted to memory")
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after clear")
	}
}

func TestJSONHelpers(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	if err := SetJSON(c, "vec", []float32{0.5, 1}, 0); err != nil {
		t.Fatal(err)
	}
	var vec []float32
	if !GetJSON(c, "vec", &vec) || len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("unexpected decoded value %v", vec)
	}

	if GetJSON(nil, "vec", &vec) {
		t.Error("nil cache should always miss")
	}
	if err := SetJSON(nil, "vec", vec, 0); err != nil {
		t.Errorf("nil cache set should be a no-op, got %v", err)
	}
}
