package search

import (
	"context"
	"errors"
	"testing"

	"cmdweaver/internal/embedding"
	"cmdweaver/internal/index"
	"cmdweaver/internal/manpage"
	"cmdweaver/internal/reasoning"
)

// fakeReasoner answers from func fields, defaulting to healthy echoes.
type fakeReasoner struct {
	healthy  bool
	complete func(prompt string) (string, error)
}

func (f *fakeReasoner) Healthy(ctx context.Context) bool { return f.healthy }

func (f *fakeReasoner) Complete(ctx context.Context, prompt string, p reasoning.Params) (string, error) {
	if f.complete != nil {
		return f.complete(prompt)
	}
	return "because it fits", nil
}

func seededStore(t *testing.T, engine embedding.Engine) *index.Store {
	t.Helper()
	store, err := index.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	entries := []index.Entry{
		{Name: "pactl", Section: "1", Synopsis: "pactl [options] COMMAND", Description: "Control the PulseAudio sound server.\nMore detail."},
		{Name: "amixer", Section: "1", Synopsis: "amixer [options]", Description: "Command-line mixer for ALSA sound card driver."},
		{Name: "tar", Section: "1", Synopsis: "tar [OPTIONS]", Description: "An archiving utility."},
		{Name: "audio-runbook", Section: manpage.OrgSection, Synopsis: "Audio triage runbook", Description: "Check sinks, then mixer levels."},
	}
	for i := range entries {
		text := manpage.EmbeddingText(entries[i].Name, entries[i].Synopsis, entries[i].Description)
		vec, err := engine.Embed(context.Background(), text)
		if err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
		entries[i].Embedding = vec
	}
	if err := store.Upsert(entries); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	return store
}

func TestSearchRanksAndAnnotates(t *testing.T) {
	engine := embedding.NewHashEngine(128)
	store := seededStore(t, engine)
	s := New(engine, store, &fakeReasoner{healthy: true}, nil, Options{})

	results, err := s.Search(context.Background(), "the sound is too quiet, inspect the audio mixer", 5, 0.01)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results out of order at %d", i)
		}
	}
	for _, r := range results {
		if r.Rationale != "because it fits" {
			t.Errorf("rationale not applied for %s: %q", r.Entry.Name, r.Rationale)
		}
	}
}

func TestSearchExcludesOrgByDefault(t *testing.T) {
	engine := embedding.NewHashEngine(128)
	store := seededStore(t, engine)

	s := New(engine, store, nil, nil, Options{})
	results, err := s.Search(context.Background(), "audio triage runbook check sinks mixer", 10, 0.01)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.Entry.Section == manpage.OrgSection {
			t.Errorf("org entry leaked into results: %s", r.Entry.Name)
		}
	}

	inclusive := New(engine, store, nil, nil, Options{IncludeOrg: true})
	results, err = inclusive.Search(context.Background(), "audio triage runbook check sinks mixer", 10, 0.01)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Entry.Name == "audio-runbook" {
			found = true
		}
	}
	if !found {
		t.Error("expected org entry when IncludeOrg is set")
	}
}

func TestSearchUnhealthyReasonerFallsBack(t *testing.T) {
	engine := embedding.NewHashEngine(128)
	store := seededStore(t, engine)
	s := New(engine, store, &fakeReasoner{healthy: false}, nil, Options{})

	results, err := s.Search(context.Background(), "control the pulseaudio sound server", 3, 0.01)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	for _, r := range results {
		if r.Rationale != r.Entry.Description {
			t.Errorf("expected description fallback for %s, got %q", r.Entry.Name, r.Rationale)
		}
	}
}

func TestSearchFallbackKeepsFullDescription(t *testing.T) {
	engine := embedding.NewHashEngine(128)
	store, err := index.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	desc := "Report a snapshot of the current processes.\n\n" +
		"ps displays information about a selection of the active processes."
	entry := index.Entry{Name: "ps", Section: "1", Synopsis: "ps [options]", Description: desc}
	vec, err := engine.Embed(context.Background(), manpage.EmbeddingText(entry.Name, entry.Synopsis, entry.Description))
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	entry.Embedding = vec
	if err := store.Upsert([]index.Entry{entry}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	s := New(engine, store, nil, nil, Options{})
	results, err := s.Search(context.Background(), "snapshot of the current processes", 1, 0.01)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	if results[0].Rationale != desc {
		t.Errorf("fallback rationale is not the stored description:\ngot  %q\nwant %q", results[0].Rationale, desc)
	}
}

// captureIndex records the ranking parameters the searcher hands down.
type captureIndex struct {
	k         int
	threshold float64
}

func (c *captureIndex) Search(query []float32, k int, threshold float64) ([]index.Scored, error) {
	c.k = k
	c.threshold = threshold
	return nil, nil
}

func TestSearchThresholdZeroIsHonored(t *testing.T) {
	engine := embedding.NewHashEngine(16)
	idx := &captureIndex{}
	s := New(engine, idx, nil, nil, Options{})

	if _, err := s.Search(context.Background(), "anything", 5, 0); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if idx.threshold != 0 {
		t.Errorf("threshold 0 must pass through, got %v", idx.threshold)
	}

	if _, err := s.Search(context.Background(), "anything", 5, -1); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if idx.threshold != 0.3 {
		t.Errorf("negative threshold must select the default, got %v", idx.threshold)
	}

	if _, err := s.Search(context.Background(), "anything", 5, 1.5); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if idx.threshold != 1 {
		t.Errorf("threshold must clamp to 1, got %v", idx.threshold)
	}
}

func TestSearchRationaleErrorKeepsEntry(t *testing.T) {
	engine := embedding.NewHashEngine(128)
	store := seededStore(t, engine)
	r := &fakeReasoner{healthy: true, complete: func(string) (string, error) {
		return "", reasoning.ErrUnavailable
	}}
	s := New(engine, store, r, nil, Options{})

	results, err := s.Search(context.Background(), "control the pulseaudio sound server", 3, 0.01)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("rationale failure must not drop candidates")
	}
	if results[0].Rationale == "" {
		t.Error("expected fallback rationale")
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	engine := embedding.NewHashEngine(16)
	store, err := index.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	s := New(engine, store, nil, nil, Options{})
	if _, err := s.Search(context.Background(), "anything", 5, 0.1); !errors.Is(err, ErrIndexUnavailable) {
		t.Errorf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestSearchEmptyPrompt(t *testing.T) {
	engine := embedding.NewHashEngine(16)
	s := New(engine, nil, nil, nil, Options{})
	if _, err := s.Search(context.Background(), "   ", 5, 0.1); err == nil {
		t.Error("expected error for empty prompt")
	}
}

func TestSearchClampsLimit(t *testing.T) {
	engine := embedding.NewHashEngine(128)
	store := seededStore(t, engine)
	s := New(engine, store, nil, nil, Options{MaxLimit: 2})

	results, err := s.Search(context.Background(), "sound mixer archive utility", 100, 0.001)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) > 2 {
		t.Errorf("limit not clamped: got %d results", len(results))
	}
}
