// Package index persists command entries with their embeddings and answers
// top-k cosine similarity queries.
//
// Storage is a single sqlite database. Vectors are stored normalized as
// little-endian float32 blobs, so cosine similarity at query time reduces to
// a dot product. The index survives process restart and is re-creatable from
// scratch by the manual indexer.
package index

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrDimensionMismatch is returned when a query vector's dimensionality does
// not match the dimensionality the index was built with.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ErrEmpty is returned by Search when the index holds no entries at all.
// An empty result set over a populated index is a legitimate outcome and is
// not an error.
var ErrEmpty = errors.New("vector index is empty")

// Entry is one indexed command (or organizational document).
type Entry struct {
	Name        string
	Section     string
	Synopsis    string
	Description string
	Embedding   []float32
}

// Scored pairs an entry with its cosine similarity to a query.
type Scored struct {
	Entry Entry
	Score float64
}

const schema = `
CREATE TABLE IF NOT EXISTS commands (
    name        TEXT PRIMARY KEY,
    section     TEXT NOT NULL,
    synopsis    TEXT NOT NULL,
    description TEXT NOT NULL,
    embedding   BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Store is the persistent vector index.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	dim int // 0 until the first upsert fixes it
}

// Open opens (creating if needed) the index database at path. Use ":memory:"
// for an ephemeral index in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadDim(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadDim() error {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'dimensions'").Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index dimensions: %w", err)
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("corrupt index dimensions %q: %w", value, err)
	}
	s.dim = dim
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimensions returns the fixed dimensionality, or 0 if the index is empty.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Upsert inserts or replaces entries by name. Idempotent on identical
// content. Vectors are normalized before storage; the first write fixes the
// index dimensionality and later writes must match it.
func (s *Store) Upsert(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if len(e.Embedding) == 0 {
			return fmt.Errorf("entry %q has no embedding", e.Name)
		}
		if s.dim == 0 {
			s.dim = len(e.Embedding)
			if _, err := tx.Exec(
				"INSERT OR REPLACE INTO meta (key, value) VALUES ('dimensions', ?)",
				strconv.Itoa(s.dim),
			); err != nil {
				return fmt.Errorf("failed to record dimensions: %w", err)
			}
		}
		if len(e.Embedding) != s.dim {
			return fmt.Errorf("entry %q: %w: got %d, index has %d",
				e.Name, ErrDimensionMismatch, len(e.Embedding), s.dim)
		}

		norm := normalize(e.Embedding)
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO commands (name, section, synopsis, description, embedding) VALUES (?, ?, ?, ?, ?)",
			e.Name, e.Section, e.Synopsis, e.Description, encodeVector(norm),
		); err != nil {
			return fmt.Errorf("failed to upsert %q: %w", e.Name, err)
		}
	}

	return tx.Commit()
}

// Get returns the stored entry by name. The returned embedding is the
// normalized stored form.
func (s *Store) Get(name string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e Entry
	var blob []byte
	err := s.db.QueryRow(
		"SELECT name, section, synopsis, description, embedding FROM commands WHERE name = ?",
		name,
	).Scan(&e.Name, &e.Section, &e.Synopsis, &e.Description, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to load entry %q: %w", name, err)
	}
	e.Embedding, err = decodeVector(blob)
	if err != nil {
		return Entry{}, false, fmt.Errorf("corrupt embedding for %q: %w", name, err)
	}
	return e, true, nil
}

// Search returns up to k entries with cosine similarity ≥ threshold, sorted
// descending by score with ties broken by name, so results are deterministic.
func (s *Store) Search(query []float32, k int, threshold float64) ([]Scored, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim == 0 {
		return nil, ErrEmpty
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), s.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	q := normalize(query)

	rows, err := s.db.Query("SELECT name, section, synopsis, description, embedding FROM commands")
	if err != nil {
		return nil, fmt.Errorf("index scan failed: %w", err)
	}
	defer rows.Close()

	var results []Scored
	for rows.Next() {
		var e Entry
		var blob []byte
		if err := rows.Scan(&e.Name, &e.Section, &e.Synopsis, &e.Description, &blob); err != nil {
			return nil, fmt.Errorf("index row scan failed: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("corrupt embedding for %q: %w", e.Name, err)
		}
		// Stored vectors are normalized; dot product is the cosine.
		var score float64
		for i := range q {
			score += float64(q[i]) * float64(vec[i])
		}
		if score < threshold {
			continue
		}
		e.Embedding = vec
		results = append(results, Scored{Entry: e, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index scan failed: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.Name < results[j].Entry.Name
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of indexed entries.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM commands").Scan(&n); err != nil {
		return 0, fmt.Errorf("index count failed: %w", err)
	}
	return n, nil
}

// Clear removes all entries and resets the dimensionality.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM commands"); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM meta WHERE key = 'dimensions'"); err != nil {
		return fmt.Errorf("failed to clear index meta: %w", err)
	}
	s.dim = 0
	return nil
}

// encodeVector serializes a float32 slice as a little-endian blob.
func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// decodeVector deserializes a little-endian float32 blob.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func normalize(v []float32) []float32 {
	var mag float64
	for _, x := range v {
		mag += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if mag == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(mag)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
