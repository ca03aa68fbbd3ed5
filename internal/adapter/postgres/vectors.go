package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/port/vectorstore"
)

var _ vectorstore.Store = (*VectorStore)(nil)

// VectorStore persists similarity records so the in-memory index can be
// rebuilt after a restart.
type VectorStore struct {
	pool *pgxpool.Pool
}

// NewVectorStore creates a similarity record store on pool.
func NewVectorStore(pool *pgxpool.Pool) *VectorStore {
	return &VectorStore{pool: pool}
}

func (v *VectorStore) SaveRecord(ctx context.Context, r *vectorstore.Record) error {
	meta, err := marshalJSONB(r.Metadata)
	if err != nil {
		return err
	}
	err = v.pool.QueryRow(ctx,
		`INSERT INTO similarity_records (collection, id, text, embedding, metadata, inserted_at, seq)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, now()), $7)
		 RETURNING inserted_at`,
		r.Collection, r.ID, r.Text, r.Embedding, meta, nullTime(r.InsertedAt), r.Seq,
	).Scan(&r.InsertedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("save record %s/%s: %w", r.Collection, r.ID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("save record %s/%s: %w", r.Collection, r.ID, err)
	}
	return nil
}

func (v *VectorStore) LoadRecords(ctx context.Context, collection string) ([]vectorstore.Record, error) {
	rows, err := v.pool.Query(ctx,
		`SELECT collection, id, text, embedding, metadata, inserted_at, seq
		 FROM similarity_records WHERE collection = $1 ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("load records %s: %w", collection, err)
	}
	defer rows.Close()

	var out []vectorstore.Record
	for rows.Next() {
		var r vectorstore.Record
		var meta []byte
		if err := rows.Scan(&r.Collection, &r.ID, &r.Text, &r.Embedding, &meta, &r.InsertedAt, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if r.Metadata, err = unmarshalJSONB(meta); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (v *VectorStore) DeleteRecord(ctx context.Context, collection, id string) error {
	if _, err := v.pool.Exec(ctx,
		`DELETE FROM similarity_records WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("delete record %s/%s: %w", collection, id, err)
	}
	return nil
}

func (v *VectorStore) DeleteCollection(ctx context.Context, collection string) error {
	if _, err := v.pool.Exec(ctx, `DELETE FROM similarity_records WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", collection, err)
	}
	return nil
}
