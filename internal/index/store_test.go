package index

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func entry(name string, vec []float32) Entry {
	return Entry{
		Name:        name,
		Section:     "1",
		Synopsis:    name + " [options]",
		Description: "The " + name + " command.",
		Embedding:   vec,
	}
}

func TestUpsertAndSearch(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	entries := []Entry{
		entry("ps", []float32{1, 0, 0, 0}),
		entry("grep", []float32{0.9, 0.1, 0, 0}),
		entry("tar", []float32{0, 0, 1, 0}),
	}
	if err := store.Upsert(entries); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := store.Search([]float32{1, 0, 0, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results above threshold, got %d", len(results))
	}
	if results[0].Entry.Name != "ps" {
		t.Errorf("expected ps first, got %s", results[0].Entry.Name)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not sorted descending by score")
	}
	if math.Abs(results[0].Score-1) > 1e-6 {
		t.Errorf("identical vector should score 1, got %v", results[0].Score)
	}
}

func TestSearchThresholdOne(t *testing.T) {
	store, _ := Open(":memory:")
	defer store.Close()

	if err := store.Upsert([]Entry{entry("ps", []float32{0.7, 0.7, 0, 0})}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	results, err := store.Search([]float32{1, 0, 0, 0}, 10, 1.0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("threshold 1.0 should typically return nothing, got %d", len(results))
	}
}

func TestSearchTieBreakByName(t *testing.T) {
	store, _ := Open(":memory:")
	defer store.Close()

	// Identical vectors: equal scores, resolved lexicographically.
	vec := []float32{0, 1, 0}
	if err := store.Upsert([]Entry{entry("zcat", vec), entry("awk", vec), entry("man", vec)}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := store.Search(vec, 10, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	want := []string{"awk", "man", "zcat"}
	for i, w := range want {
		if results[i].Entry.Name != w {
			t.Errorf("position %d: expected %s, got %s", i, w, results[i].Entry.Name)
		}
	}
}

func TestUpsertIdempotent(t *testing.T) {
	store, _ := Open(":memory:")
	defer store.Close()

	e := entry("ps", []float32{1, 2, 3})
	if err := store.Upsert([]Entry{e}); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if err := store.Upsert([]Entry{e}); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("upsert not idempotent: count=%d", n)
	}

	got, ok, err := store.Get("ps")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got.Synopsis != e.Synopsis {
		t.Errorf("stored synopsis mismatch: %q", got.Synopsis)
	}
}

func TestDimensionMismatch(t *testing.T) {
	store, _ := Open(":memory:")
	defer store.Close()

	if err := store.Upsert([]Entry{entry("ps", []float32{1, 0, 0})}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Upsert([]Entry{entry("tar", []float32{1, 0})}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on upsert, got %v", err)
	}
	if _, err := store.Search([]float32{1, 0}, 5, 0); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	store, _ := Open(":memory:")
	defer store.Close()

	if _, err := store.Search([]float32{1, 0}, 5, 0); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestClearResetsDimensions(t *testing.T) {
	store, _ := Open(":memory:")
	defer store.Close()

	if err := store.Upsert([]Entry{entry("ps", []float32{1, 0})}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if store.Dimensions() != 0 {
		t.Errorf("expected dimensions reset, got %d", store.Dimensions())
	}
	// A different dimensionality is accepted after clear.
	if err := store.Upsert([]Entry{entry("ps", []float32{1, 0, 0, 0})}); err != nil {
		t.Errorf("Upsert after clear failed: %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Upsert([]Entry{entry("ps", []float32{0.6, 0.8, 0})}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.Dimensions() != 3 {
		t.Errorf("dimensions lost on reopen: %d", reopened.Dimensions())
	}
	results, err := reopened.Search([]float32{0.6, 0.8, 0}, 1, 0.9)
	if err != nil {
		t.Fatalf("Search after reopen failed: %v", err)
	}
	if len(results) != 1 || results[0].Entry.Name != "ps" {
		t.Errorf("entry lost on reopen: %v", results)
	}
}

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.125, 0}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: %v != %v", i, in[i], out[i])
		}
	}

	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for misaligned blob")
	}
}
