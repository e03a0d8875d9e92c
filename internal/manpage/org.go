package manpage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"cmdweaver/internal/index"
)

// OrgSection marks index entries that came from organizational documents
// rather than the system manual. They are excluded from orchestration
// search unless explicitly requested.
const OrgSection = "org"

// OrgDoc is one organizational memo, runbook snippet or policy note.
type OrgDoc struct {
	Name  string `yaml:"name"`
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// LoadOrgDir reads every YAML document under dir, sorted by filename.
func LoadOrgDir(dir string) ([]OrgDoc, error) {
	glob, err := filepath.Glob(filepath.Join(dir, "*.y*ml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(glob)

	var docs []OrgDoc
	for _, path := range glob {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read org document %s: %w", path, err)
		}
		var doc OrgDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse org document %s: %w", path, err)
		}
		if doc.Name == "" {
			doc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// IndexOrgDocs embeds and persists the documents under dir as "org"
// section entries. Returns the number written.
func (ix *Indexer) IndexOrgDocs(ctx context.Context, dir string) (int, error) {
	docs, err := LoadOrgDir(dir)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	entries := make([]index.Entry, len(docs))
	texts := make([]string, len(docs))
	for i, d := range docs {
		body := d.Body
		if ix.descCap > 0 && len(body) > ix.descCap {
			body = body[:ix.descCap]
		}
		entries[i] = index.Entry{
			Name:        d.Name,
			Section:     OrgSection,
			Synopsis:    d.Title,
			Description: body,
		}
		texts[i] = EmbeddingText(d.Name, d.Title, body)
	}

	vecs, err := ix.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed org documents: %w", err)
	}
	for i := range entries {
		entries[i].Embedding = vecs[i]
	}
	if err := ix.store.Upsert(entries); err != nil {
		return 0, err
	}
	ix.log.Info("org documents indexed", zap.Int("written", len(entries)))
	return len(entries), nil
}
