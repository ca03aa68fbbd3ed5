// Package similarity keeps the three retrieval collections used as context
// by the scoring and appeal steps: known violations, past decisions and
// policy text. Vectors come from an external encoder; the index only ranks
// them by squared Euclidean distance.
package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/port/vectorstore"
)

// Collection names.
const (
	CollectionFlagged    = "flagged_content"
	CollectionHistorical = "historical_cases"
	CollectionPolicy     = "policy_text"
)

// Collections lists every collection the index serves.
var Collections = []string{CollectionFlagged, CollectionHistorical, CollectionPolicy}

// Match is one ranked query result.
type Match struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Distance float64        `json:"distance"`
	Score    float64        `json:"similarity_score"`
}

// Filter keeps records whose metadata holds every key with an equal value.
type Filter map[string]any

type record struct {
	id         string
	text       string
	embedding  []float32
	metadata   map[string]any
	insertedAt time.Time
	seq        int64
}

type collection struct {
	records []record // insertion order
	ids     map[string]struct{}
	dim     int
}

// Options configures an Index.
type Options struct {
	// MaxDistance keeps only flagged_content matches strictly closer than
	// this. Zero disables the cutoff.
	MaxDistance float64
	// Store persists records; nil keeps the index in memory only.
	Store vectorstore.Store
}

// Index is a brute-force nearest-neighbor index over named collections.
// It is safe for concurrent use.
type Index struct {
	mu          sync.RWMutex
	cols        map[string]*collection
	seq         int64
	maxDistance float64
	store       vectorstore.Store
	now         func() time.Time
}

// New creates an empty index with the three collections.
func New(opts Options) *Index {
	idx := &Index{
		cols:        make(map[string]*collection, len(Collections)),
		maxDistance: opts.MaxDistance,
		store:       opts.Store,
		now:         time.Now,
	}
	for _, name := range Collections {
		idx.cols[name] = &collection{ids: make(map[string]struct{})}
	}
	return idx
}

func (idx *Index) collection(name string) (*collection, error) {
	c, ok := idx.cols[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q: %w", name, domain.ErrValidation)
	}
	return c, nil
}

// Load replays persisted records into memory. It replaces current contents.
func (idx *Index) Load(ctx context.Context) error {
	if idx.store == nil {
		return nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, name := range Collections {
		recs, err := idx.store.LoadRecords(ctx, name)
		if err != nil {
			return fmt.Errorf("load collection %s: %w", name, err)
		}
		c := &collection{records: make([]record, 0, len(recs)), ids: make(map[string]struct{}, len(recs))}
		for i := range recs {
			r := &recs[i]
			if c.dim == 0 {
				c.dim = len(r.Embedding)
			}
			if len(r.Embedding) != c.dim {
				slog.Warn("similarity: skipping record with mismatched dimension",
					"collection", name, "id", r.ID, "dim", len(r.Embedding), "want", c.dim)
				continue
			}
			c.records = append(c.records, record{
				id: r.ID, text: r.Text, embedding: r.Embedding,
				metadata: r.Metadata, insertedAt: r.InsertedAt, seq: r.Seq,
			})
			c.ids[r.ID] = struct{}{}
			idx.seq = max(idx.seq, r.Seq)
		}
		idx.cols[name] = c
	}
	return nil
}

// Insert appends a record. Embeddings are copied and never modified.
// Re-inserting an id in the same collection returns domain.ErrConflict.
func (idx *Index) Insert(ctx context.Context, coll, id, text string, embedding []float32, metadata map[string]any) error {
	if id == "" {
		return fmt.Errorf("record id is required: %w", domain.ErrValidation)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding: %w", domain.ErrValidation)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	c, err := idx.collection(coll)
	if err != nil {
		return err
	}
	if _, dup := c.ids[id]; dup {
		return fmt.Errorf("record %s in %s: %w", id, coll, domain.ErrConflict)
	}
	if c.dim != 0 && len(embedding) != c.dim {
		return fmt.Errorf("embedding has %d dimensions, collection %s has %d: %w",
			len(embedding), coll, c.dim, domain.ErrValidation)
	}

	r := record{
		id:         id,
		text:       text,
		embedding:  slices.Clone(embedding),
		metadata:   metadata,
		insertedAt: idx.now().UTC(),
		seq:        idx.seq + 1,
	}
	if idx.store != nil {
		err := idx.store.SaveRecord(ctx, &vectorstore.Record{
			Collection: coll,
			ID:         r.id,
			Text:       r.text,
			Embedding:  r.embedding,
			Metadata:   r.metadata,
			InsertedAt: r.insertedAt,
			Seq:        r.seq,
		})
		if err != nil {
			return fmt.Errorf("persist record %s: %w", id, err)
		}
	}

	idx.seq = r.seq
	c.dim = len(embedding)
	c.records = append(c.records, r)
	c.ids[id] = struct{}{}
	return nil
}

// Query returns up to k records of coll nearest to embedding, ordered by
// ascending distance with ties in insertion order.
func (idx *Index) Query(_ context.Context, coll string, embedding []float32, k int, filter Filter) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	c, err := idx.collection(coll)
	if err != nil {
		return nil, err
	}
	if len(c.records) == 0 {
		return nil, nil
	}
	if len(embedding) != c.dim {
		return nil, fmt.Errorf("query has %d dimensions, collection %s has %d: %w",
			len(embedding), coll, c.dim, domain.ErrValidation)
	}

	cutoff := 0.0
	if coll == CollectionFlagged {
		cutoff = idx.maxDistance
	}

	matches := make([]Match, 0, min(k, len(c.records)))
	for i := range c.records {
		r := &c.records[i]
		if !filter.matches(r.metadata) {
			continue
		}
		d := SquaredL2(embedding, r.embedding)
		if cutoff > 0 && d >= cutoff {
			continue
		}
		matches = append(matches, Match{
			ID:       r.id,
			Text:     r.text,
			Metadata: r.metadata,
			Distance: d,
			Score:    Score(d),
		})
	}

	// Records are scanned in insertion order, so a stable sort keeps ties in that order.
	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Remove deletes the record id from coll, including its persisted copy.
// Removing an absent record is a no-op.
func (idx *Index) Remove(ctx context.Context, coll, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c, err := idx.collection(coll)
	if err != nil {
		return err
	}
	if _, ok := c.ids[id]; !ok {
		return nil
	}
	if idx.store != nil {
		if err := idx.store.DeleteRecord(ctx, coll, id); err != nil {
			return fmt.Errorf("remove record %s: %w", id, err)
		}
	}
	c.records = slices.DeleteFunc(c.records, func(r record) bool { return r.id == id })
	delete(c.ids, id)
	if len(c.records) == 0 {
		c.dim = 0
	}
	return nil
}

// Reset removes every record of coll, including persisted ones.
func (idx *Index) Reset(ctx context.Context, coll string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, err := idx.collection(coll); err != nil {
		return err
	}
	if idx.store != nil {
		if err := idx.store.DeleteCollection(ctx, coll); err != nil {
			return fmt.Errorf("reset collection %s: %w", coll, err)
		}
	}
	idx.cols[coll] = &collection{ids: make(map[string]struct{})}
	return nil
}

// Count returns the number of records in coll, or 0 for an unknown collection.
func (idx *Index) Count(coll string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if c, ok := idx.cols[coll]; ok {
		return len(c.records)
	}
	return 0
}

func (f Filter) matches(md map[string]any) bool {
	for k, want := range f {
		got, ok := md[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
