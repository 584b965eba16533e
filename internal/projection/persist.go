package projection

import (
	"context"
	"encoding/json"

	"github.com/R3E-Network/habit_ledger/internal/domain"
)

// Record is the persisted form of one projected entity.
type Record struct {
	Kind    domain.EntityKind `json:"kind" db:"kind"`
	Key     string            `json:"key" db:"entity_key"`
	Marker  Marker            `json:"marker"`
	Payload json.RawMessage   `json:"payload" db:"payload"`
}

// Persister stores records. Save must keep the stored record when it carries
// a higher marker than r, so that out-of-order saves are harmless.
type Persister interface {
	Save(ctx context.Context, r Record) error
	LoadAll(ctx context.Context) ([]Record, error)
}
