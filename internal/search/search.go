// Package search resolves a natural-language prompt to ranked command
// candidates, annotated with a one-sentence rationale per candidate.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cmdweaver/internal/embedding"
	"cmdweaver/internal/index"
	"cmdweaver/internal/manpage"
	"cmdweaver/internal/reasoning"
)

// ErrIndexUnavailable is returned when the command index has not been
// built yet. The caller should point the user at the index subcommand.
var ErrIndexUnavailable = errors.New("command index is empty; run the index build first")

// Result is one ranked candidate. Order and score come from the vector
// index; the rationale never changes either.
type Result struct {
	Entry     index.Entry
	Score     float64
	Rationale string
}

// Index is the slice of the persistent store the searcher needs.
type Index interface {
	Search(query []float32, k int, threshold float64) ([]index.Scored, error)
}

// Options tunes ranking. Zero values select defaults.
type Options struct {
	Limit      int     // default 10
	MaxLimit   int     // default 50
	Threshold  float64 // default 0.3
	IncludeOrg bool    // include "org" section entries in results
	Params     reasoning.Params
}

// Searcher combines the embedding engine, the vector index and the
// reasoning service into the query-side search operation.
type Searcher struct {
	engine   embedding.Engine
	idx      Index
	reasoner reasoning.Service
	log      *zap.Logger
	opts     Options
}

// New creates a Searcher. reasoner may be nil; rationales then fall back
// to the indexed descriptions.
func New(engine embedding.Engine, idx Index, reasoner reasoning.Service, log *zap.Logger, opts Options) *Searcher {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 50
	}
	if opts.Threshold == 0 {
		opts.Threshold = 0.3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Searcher{engine: engine, idx: idx, reasoner: reasoner, log: log, opts: opts}
}

// Search embeds the prompt, ranks the index against it and annotates each
// hit. A non-positive limit or a negative threshold selects the configured
// default; threshold 0 is a legitimate floor that admits every entry.
// Rationale failures degrade per entry and never drop a candidate.
func (s *Searcher) Search(ctx context.Context, prompt string, limit int, threshold float64) ([]Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("empty prompt")
	}

	if limit <= 0 {
		limit = s.opts.Limit
	}
	if limit > s.opts.MaxLimit {
		limit = s.opts.MaxLimit
	}
	if threshold < 0 {
		threshold = s.opts.Threshold
	}
	if threshold > 1 {
		threshold = 1
	}

	vec, err := s.engine.Embed(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to embed prompt: %w", err)
	}

	// Over-fetch so filtering org entries cannot starve the result set.
	k := limit
	if !s.opts.IncludeOrg {
		k = s.opts.MaxLimit
	}
	hits, err := s.idx.Search(vec, k, threshold)
	if err != nil {
		if errors.Is(err, index.ErrEmpty) {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		return nil, err
	}

	var filtered []index.Scored
	for _, h := range hits {
		if !s.opts.IncludeOrg && h.Entry.Section == manpage.OrgSection {
			continue
		}
		filtered = append(filtered, h)
		if len(filtered) == limit {
			break
		}
	}

	healthy := s.reasoner != nil && s.reasoner.Healthy(ctx)
	if !healthy && s.reasoner != nil {
		s.log.Debug("reasoning service down, using indexed descriptions as rationale")
	}

	results := make([]Result, len(filtered))
	for i, h := range filtered {
		r := Result{Entry: h.Entry, Score: h.Score, Rationale: fallbackRationale(h.Entry)}
		if healthy {
			p := reasoning.SelectionPrompt(prompt, h.Entry.Name, h.Entry.Synopsis)
			r.Rationale = reasoning.CompleteOr(ctx, s.reasoner, p, s.opts.Params, r.Rationale)
		}
		results[i] = r
	}
	return results, nil
}

// fallbackRationale is the rationale recorded when the reasoning service
// cannot answer: the indexed description verbatim, then the synopsis,
// then the bare name.
func fallbackRationale(e index.Entry) string {
	if e.Description != "" {
		return e.Description
	}
	if e.Synopsis != "" {
		return e.Synopsis
	}
	return e.Name
}
