package similarity

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/port/vectorstore"
)

type fakeStore struct {
	records map[string][]vectorstore.Record
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string][]vectorstore.Record)}
}

func (f *fakeStore) SaveRecord(_ context.Context, r *vectorstore.Record) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.records[r.Collection] = append(f.records[r.Collection], *r)
	return nil
}

func (f *fakeStore) LoadRecords(_ context.Context, collection string) ([]vectorstore.Record, error) {
	return f.records[collection], nil
}

func (f *fakeStore) DeleteRecord(_ context.Context, collection, id string) error {
	if f.failErr != nil {
		return f.failErr
	}
	recs := f.records[collection][:0]
	for _, r := range f.records[collection] {
		if r.ID != id {
			recs = append(recs, r)
		}
	}
	f.records[collection] = recs
	return nil
}

func (f *fakeStore) DeleteCollection(_ context.Context, collection string) error {
	delete(f.records, collection)
	return nil
}

func TestQueryIdenticalEmbeddingRanksFirst(t *testing.T) {
	idx := New(Options{})
	ctx := context.Background()
	vecs := map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
		"c": {0.5, 0.5, 0},
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := idx.Insert(ctx, CollectionHistorical, id, "text "+id, vecs[id], nil); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}

	got, err := idx.Query(ctx, CollectionHistorical, []float32{0, 1, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(got))
	}
	if got[0].ID != "b" || got[0].Distance != 0 || got[0].Score != 1 {
		t.Fatalf("expected exact match first with distance 0 and score 1, got %+v", got[0])
	}
	if got[1].ID != "c" || math.Abs(got[1].Distance-0.5) > 1e-9 {
		t.Fatalf("expected c second at distance 0.5, got %+v", got[1])
	}
	if math.Abs(got[2].Distance-2) > 1e-9 {
		t.Fatalf("expected squared distance 2 for orthogonal unit vectors, got %v", got[2].Distance)
	}
}

func TestQueryScoresNonIncreasing(t *testing.T) {
	idx := New(Options{})
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))
	vec := func() []float32 {
		v := make([]float32, 8)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}
	for i := range 200 {
		if err := idx.Insert(ctx, CollectionPolicy, string(rune('A'+i%26))+string(rune('a'+i/26)), "", vec(), nil); err != nil {
			t.Fatal(err)
		}
	}
	for range 20 {
		got, err := idx.Query(ctx, CollectionPolicy, vec(), 50, nil)
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Score > got[i-1].Score {
				t.Fatalf("scores increase at %d: %v > %v", i, got[i].Score, got[i-1].Score)
			}
			if got[i].Score <= 0 || got[i].Score > 1 {
				t.Fatalf("score %v out of (0,1]", got[i].Score)
			}
		}
	}
}

func TestQueryTiesKeepInsertionOrder(t *testing.T) {
	idx := New(Options{})
	ctx := context.Background()
	for _, id := range []string{"first", "second", "third"} {
		if err := idx.Insert(ctx, CollectionHistorical, id, "", []float32{1, 1}, nil); err != nil {
			t.Fatal(err)
		}
	}
	got, err := idx.Query(ctx, CollectionHistorical, []float32{0, 0}, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestQueryTopKAndFilter(t *testing.T) {
	idx := New(Options{})
	ctx := context.Background()
	_ = idx.Insert(ctx, CollectionHistorical, "h1", "", []float32{0, 0}, map[string]any{"decision": "rejected"})
	_ = idx.Insert(ctx, CollectionHistorical, "h2", "", []float32{0, 1}, map[string]any{"decision": "approved"})
	_ = idx.Insert(ctx, CollectionHistorical, "h3", "", []float32{0, 2}, map[string]any{"decision": "rejected"})

	got, err := idx.Query(ctx, CollectionHistorical, []float32{0, 0}, 1, nil)
	if err != nil || len(got) != 1 || got[0].ID != "h1" {
		t.Fatalf("expected top-1 h1, got %+v, %v", got, err)
	}

	got, err = idx.Query(ctx, CollectionHistorical, []float32{0, 1}, 5, Filter{"decision": "rejected"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "h1" || got[1].ID != "h3" {
		t.Fatalf("unexpected filtered result %+v", got)
	}

	if got, _ := idx.Query(ctx, CollectionHistorical, []float32{0, 0}, 0, nil); len(got) != 0 {
		t.Fatalf("k=0 must return nothing, got %d", len(got))
	}
}

func TestMaxDistanceAppliesToFlaggedOnly(t *testing.T) {
	idx := New(Options{MaxDistance: 1.0})
	ctx := context.Background()
	for _, coll := range []string{CollectionFlagged, CollectionHistorical} {
		_ = idx.Insert(ctx, coll, "near", "", []float32{0.5, 0}, nil)
		_ = idx.Insert(ctx, coll, "far", "", []float32{3, 0}, nil)
	}

	flagged, _ := idx.Query(ctx, CollectionFlagged, []float32{0, 0}, 10, nil)
	if len(flagged) != 1 || flagged[0].ID != "near" {
		t.Fatalf("expected only the near flagged match, got %+v", flagged)
	}
	hist, _ := idx.Query(ctx, CollectionHistorical, []float32{0, 0}, 10, nil)
	if len(hist) != 2 {
		t.Fatalf("cutoff must not apply to historical_cases, got %d", len(hist))
	}
}

func TestInsertValidation(t *testing.T) {
	idx := New(Options{})
	ctx := context.Background()
	if err := idx.Insert(ctx, "unknown", "x", "", []float32{1}, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown collection, got %v", err)
	}
	if err := idx.Insert(ctx, CollectionPolicy, "x", "", nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty embedding, got %v", err)
	}
	if err := idx.Insert(ctx, CollectionPolicy, "x", "", []float32{1, 2}, nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.Insert(ctx, CollectionPolicy, "x", "", []float32{1, 2}, nil); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate id, got %v", err)
	}
	if err := idx.Insert(ctx, CollectionPolicy, "y", "", []float32{1, 2, 3}, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for dimension mismatch, got %v", err)
	}
	if _, err := idx.Query(ctx, CollectionPolicy, []float32{1}, 1, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for query dimension mismatch, got %v", err)
	}
}

func TestEmbeddingIsCopied(t *testing.T) {
	idx := New(Options{})
	ctx := context.Background()
	vec := []float32{1, 0}
	_ = idx.Insert(ctx, CollectionPolicy, "p", "", vec, nil)
	vec[0] = 100

	got, _ := idx.Query(ctx, CollectionPolicy, []float32{1, 0}, 1, nil)
	if got[0].Distance != 0 {
		t.Fatalf("stored embedding changed with caller slice: distance %v", got[0].Distance)
	}
}

func TestResetAndCount(t *testing.T) {
	store := newFakeStore()
	idx := New(Options{Store: store})
	ctx := context.Background()
	_ = idx.Insert(ctx, CollectionFlagged, "f1", "", []float32{1}, nil)
	_ = idx.Insert(ctx, CollectionPolicy, "p1", "", []float32{1}, nil)

	if err := idx.Reset(ctx, CollectionFlagged); err != nil {
		t.Fatal(err)
	}
	if idx.Count(CollectionFlagged) != 0 || idx.Count(CollectionPolicy) != 1 {
		t.Fatalf("reset must clear only its collection: flagged=%d policy=%d",
			idx.Count(CollectionFlagged), idx.Count(CollectionPolicy))
	}
	if len(store.records[CollectionFlagged]) != 0 {
		t.Fatal("reset must clear persisted records")
	}
	if err := idx.Insert(ctx, CollectionFlagged, "f1", "", []float32{1, 2}, nil); err != nil {
		t.Fatalf("insert after reset: %v", err)
	}
}

func TestLoadReplaysPersistedRecords(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	first := New(Options{Store: store})
	_ = first.Insert(ctx, CollectionHistorical, "h1", "one", []float32{1, 1}, nil)
	_ = first.Insert(ctx, CollectionHistorical, "h2", "two", []float32{1, 1}, nil)

	second := New(Options{Store: store})
	if err := second.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if second.Count(CollectionHistorical) != 2 {
		t.Fatalf("expected 2 replayed records, got %d", second.Count(CollectionHistorical))
	}
	got, _ := second.Query(ctx, CollectionHistorical, []float32{1, 1}, 2, nil)
	if got[0].ID != "h1" || got[1].ID != "h2" {
		t.Fatalf("replay must keep insertion order, got %+v", got)
	}
	if err := second.Insert(ctx, CollectionHistorical, "h3", "", []float32{0, 0}, nil); err != nil {
		t.Fatal(err)
	}
	if seq := store.records[CollectionHistorical][2].Seq; seq != 3 {
		t.Fatalf("expected sequence to continue at 3, got %d", seq)
	}
}

func TestInsertStoreFailureLeavesIndexUnchanged(t *testing.T) {
	store := newFakeStore()
	store.failErr = errors.New("disk full")
	idx := New(Options{Store: store})
	if err := idx.Insert(context.Background(), CollectionPolicy, "p", "", []float32{1}, nil); err == nil {
		t.Fatal("expected store error")
	}
	if idx.Count(CollectionPolicy) != 0 {
		t.Fatal("failed insert must not be visible")
	}
}

func TestFlaggedCutoffIsStrict(t *testing.T) {
	idx := New(Options{MaxDistance: 0.25})
	ctx := context.Background()
	_ = idx.Insert(ctx, CollectionFlagged, "boundary", "", []float32{0.5, 0}, nil)
	_ = idx.Insert(ctx, CollectionFlagged, "inside", "", []float32{0.25, 0}, nil)

	got, err := idx.Query(ctx, CollectionFlagged, []float32{0, 0}, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "inside" {
		t.Fatalf("a match at exactly the cutoff must be dropped, got %+v", got)
	}
}

func TestRemove(t *testing.T) {
	store := newFakeStore()
	idx := New(Options{Store: store})
	ctx := context.Background()
	_ = idx.Insert(ctx, CollectionFlagged, "f1", "", []float32{1, 0}, nil)
	_ = idx.Insert(ctx, CollectionFlagged, "f2", "", []float32{0, 1}, nil)

	if err := idx.Remove(ctx, CollectionFlagged, "f1"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remove(ctx, CollectionFlagged, "missing"); err != nil {
		t.Fatalf("removing an absent record: %v", err)
	}
	if idx.Count(CollectionFlagged) != 1 {
		t.Fatalf("expected 1 record left, got %d", idx.Count(CollectionFlagged))
	}
	if recs := store.records[CollectionFlagged]; len(recs) != 1 || recs[0].ID != "f2" {
		t.Fatalf("persisted records after remove: %+v", recs)
	}
	if err := idx.Insert(ctx, CollectionFlagged, "f1", "", []float32{1, 0}, nil); err != nil {
		t.Fatalf("re-insert after remove: %v", err)
	}
}

func TestRemoveStoreFailureKeepsRecord(t *testing.T) {
	store := newFakeStore()
	idx := New(Options{Store: store})
	ctx := context.Background()
	_ = idx.Insert(ctx, CollectionHistorical, "h1", "", []float32{1}, nil)

	store.failErr = errors.New("disk full")
	if err := idx.Remove(ctx, CollectionHistorical, "h1"); err == nil {
		t.Fatal("expected store error")
	}
	if idx.Count(CollectionHistorical) != 1 {
		t.Fatal("failed remove must keep the record")
	}
}
