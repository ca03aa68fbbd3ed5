package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/Strob0t/ModGuard/internal/port/vectorstore"
)

// VectorStore keeps similarity records in memory, mainly for tests of
// index replay.
type VectorStore struct {
	mu      sync.Mutex
	records map[string][]vectorstore.Record
}

// NewVectorStore creates an empty record store.
func NewVectorStore() *VectorStore {
	return &VectorStore{records: make(map[string][]vectorstore.Record)}
}

func (v *VectorStore) SaveRecord(_ context.Context, r *vectorstore.Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[r.Collection] = append(v.records[r.Collection], *r)
	return nil
}

func (v *VectorStore) LoadRecords(_ context.Context, collection string) ([]vectorstore.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]vectorstore.Record(nil), v.records[collection]...), nil
}

func (v *VectorStore) DeleteRecord(_ context.Context, collection, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[collection] = slices.DeleteFunc(v.records[collection], func(r vectorstore.Record) bool {
		return r.ID == id
	})
	return nil
}

func (v *VectorStore) DeleteCollection(_ context.Context, collection string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.records, collection)
	return nil
}
