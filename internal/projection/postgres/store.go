// Package postgres persists projection records in PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/habit_ledger/internal/domain"
	"github.com/R3E-Network/habit_ledger/internal/projection"
)

// Store implements projection.Persister backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ projection.Persister = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Save upserts r unless the stored row carries a newer marker.
func (s *Store) Save(ctx context.Context, r projection.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projection_records (kind, entity_key, height, stamp, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (kind, entity_key) DO UPDATE
		SET height = EXCLUDED.height,
		    stamp = EXCLUDED.stamp,
		    payload = EXCLUDED.payload,
		    updated_at = EXCLUDED.updated_at
		WHERE (projection_records.height, projection_records.stamp) <= (EXCLUDED.height, EXCLUDED.stamp)
	`, string(r.Kind), r.Key, int64(r.Marker.Height), r.Marker.Stamp, []byte(r.Payload))
	if err != nil {
		return fmt.Errorf("save %s %s: %w", r.Kind, r.Key, err)
	}
	return nil
}

type recordRow struct {
	Kind    string `db:"kind"`
	Key     string `db:"entity_key"`
	Height  int64  `db:"height"`
	Stamp   int64  `db:"stamp"`
	Payload []byte `db:"payload"`
}

// LoadAll returns every stored record.
func (s *Store) LoadAll(ctx context.Context) ([]projection.Record, error) {
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT kind, entity_key, height, stamp, payload
		FROM projection_records
		ORDER BY kind, entity_key
	`)
	if err != nil {
		return nil, fmt.Errorf("load projection records: %w", err)
	}

	records := make([]projection.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, projection.Record{
			Kind:    domain.EntityKind(row.Kind),
			Key:     row.Key,
			Marker:  projection.Marker{Height: uint32(row.Height), Stamp: row.Stamp},
			Payload: row.Payload,
		})
	}
	return records, nil
}
