package manpage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cmdweaver/internal/embedding"
	"cmdweaver/internal/index"
)

// Runner executes an external command and returns its combined stdout.
// Tests substitute a fake; production uses the system man binary.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "MANWIDTH=80", "MANPAGER=cat", "PAGER=cat", "LC_ALL=C")
	return cmd.Output()
}

// Options tunes index construction. Zero values select defaults.
type Options struct {
	Runner         Runner
	DescriptionCap int // bytes kept from DESCRIPTION, default 2048
	BatchSize      int // embedding batch size, default 32
	Concurrency    int // parallel page extractions, default 8
}

// Indexer enumerates installed commands and writes embedded entries into
// the persistent index.
type Indexer struct {
	store   *index.Store
	engine  embedding.Engine
	log     *zap.Logger
	run     Runner
	descCap int
	batch   int
	workers int
}

// New creates an Indexer over the given store and embedding engine.
func New(store *index.Store, engine embedding.Engine, log *zap.Logger, opts Options) *Indexer {
	if opts.Runner == nil {
		opts.Runner = defaultRunner
	}
	if opts.DescriptionCap <= 0 {
		opts.DescriptionCap = 2048
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Indexer{
		store:   store,
		engine:  engine,
		log:     log,
		run:     opts.Runner,
		descCap: opts.DescriptionCap,
		batch:   opts.BatchSize,
		workers: opts.Concurrency,
	}
}

// listCommands enumerates every manual entry on the system.
func (ix *Indexer) listCommands(ctx context.Context) ([]listing, error) {
	out, err := ix.run(ctx, "man", "-k", ".")
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate manual pages: %w", err)
	}
	listings := parseListings(string(out))
	sort.Slice(listings, func(i, j int) bool { return listings[i].Name < listings[j].Name })
	return listings, nil
}

// extract renders one manual page and mines its sections. The returned
// entry carries no embedding yet.
func (ix *Indexer) extract(ctx context.Context, l listing) (index.Entry, error) {
	page, err := ix.run(ctx, "man", l.Section, l.Name)
	if err != nil {
		return index.Entry{}, fmt.Errorf("failed to render page for %s(%s): %w", l.Name, l.Section, err)
	}
	text := string(page)
	synopsis := ExtractSynopsis(text)
	desc := ExtractDescription(text, ix.descCap)
	if synopsis == "" && desc == "" {
		// Fall back to the one-line apropos summary so the entry still
		// embeds to something meaningful.
		desc = l.Short
	}
	return index.Entry{
		Name:        l.Name,
		Section:     l.Section,
		Synopsis:    synopsis,
		Description: desc,
	}, nil
}

// BuildIndex enumerates, extracts, embeds and persists every available
// command. Per-command failures are skipped, never fatal; the returned
// counts report how the run went.
func (ix *Indexer) BuildIndex(ctx context.Context) (written, skipped int, err error) {
	listings, err := ix.listCommands(ctx)
	if err != nil {
		return 0, 0, err
	}
	ix.log.Info("building command index", zap.Int("commands", len(listings)))

	entries := make([]index.Entry, len(listings))
	failed := make([]bool, len(listings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	var mu sync.Mutex
	for i, l := range listings {
		g.Go(func() error {
			e, xerr := ix.extract(gctx, l)
			mu.Lock()
			defer mu.Unlock()
			if xerr != nil {
				ix.log.Debug("skipping command", zap.String("name", l.Name), zap.Error(xerr))
				failed[i] = true
				return nil
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	var extracted []index.Entry
	for i := range entries {
		if failed[i] {
			skipped++
			continue
		}
		extracted = append(extracted, entries[i])
	}

	embedded, embedSkipped, err := ix.embedAll(ctx, extracted)
	if err != nil {
		return 0, skipped, err
	}
	skipped += embedSkipped

	if err := ix.store.Upsert(embedded); err != nil {
		return 0, skipped, fmt.Errorf("failed to persist index entries: %w", err)
	}
	written = len(embedded)
	ix.log.Info("command index built", zap.Int("written", written), zap.Int("skipped", skipped))
	return written, skipped, nil
}

// embedAll embeds entries in batches. A failed batch is retried per entry
// so one bad input cannot sink its whole batch.
func (ix *Indexer) embedAll(ctx context.Context, entries []index.Entry) ([]index.Entry, int, error) {
	var out []index.Entry
	var skipped int
	for start := 0; start < len(entries); start += ix.batch {
		end := start + ix.batch
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		texts := make([]string, len(chunk))
		for i, e := range chunk {
			texts[i] = EmbeddingText(e.Name, e.Synopsis, e.Description)
		}

		vecs, err := ix.engine.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) == len(chunk) {
			for i := range chunk {
				chunk[i].Embedding = vecs[i]
				out = append(out, chunk[i])
			}
			continue
		}
		if ctx.Err() != nil {
			return nil, skipped, ctx.Err()
		}
		for i := range chunk {
			vec, verr := ix.engine.Embed(ctx, texts[i])
			if verr != nil {
				ix.log.Debug("embedding failed", zap.String("name", chunk[i].Name), zap.Error(verr))
				skipped++
				continue
			}
			chunk[i].Embedding = vec
			out = append(out, chunk[i])
		}
	}
	return out, skipped, nil
}

// Refresh re-extracts a single command and re-embeds it only when its text
// changed. Returns whether the stored entry was updated.
func (ix *Indexer) Refresh(ctx context.Context, name string) (bool, error) {
	out, err := ix.run(ctx, "man", "-k", ".")
	if err != nil {
		return false, fmt.Errorf("failed to enumerate manual pages: %w", err)
	}
	var found *listing
	for _, l := range parseListings(string(out)) {
		if l.Name == name {
			found = &l
			break
		}
	}
	if found == nil {
		return false, fmt.Errorf("no manual entry for %q", name)
	}

	fresh, err := ix.extract(ctx, *found)
	if err != nil {
		return false, err
	}

	prev, ok, err := ix.store.Get(name)
	if err != nil {
		return false, err
	}
	if ok && prev.Section == fresh.Section && prev.Synopsis == fresh.Synopsis && prev.Description == fresh.Description {
		return false, nil
	}

	vec, err := ix.engine.Embed(ctx, EmbeddingText(fresh.Name, fresh.Synopsis, fresh.Description))
	if err != nil {
		return false, fmt.Errorf("failed to embed %q: %w", name, err)
	}
	fresh.Embedding = vec
	if err := ix.store.Upsert([]index.Entry{fresh}); err != nil {
		return false, err
	}
	return true, nil
}
