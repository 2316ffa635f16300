package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/zilstream/pancake-indexer/internal/entity"
)

// EntityStore keeps every entity collection in the entities table as JSONB.
// Built on a pgx.Tx it sees its own uncommitted writes, which is how handlers
// read records written earlier in the same event.
type EntityStore struct {
	q Querier
}

func NewEntityStore(q Querier) *EntityStore {
	return &EntityStore{q: q}
}

var _ entity.Store = (*EntityStore)(nil)

func (s *EntityStore) Get(ctx context.Context, collection entity.Collection, id string, dst entity.Record) (bool, error) {
	var data []byte
	err := s.q.QueryRow(ctx,
		`SELECT data FROM entities WHERE collection = $1 AND id = $2`,
		string(collection), id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s %s: %w", collection, id, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s %s: %w", collection, id, err)
	}
	return true, nil
}

func (s *EntityStore) Set(ctx context.Context, collection entity.Collection, record entity.Record) error {
	id := record.EntityID()
	if id == "" {
		return fmt.Errorf("record in %s has no id", collection)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", collection, id, err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO entities (collection, id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		string(collection), id, data,
	)
	if err != nil {
		return fmt.Errorf("failed to set %s %s: %w", collection, id, err)
	}
	return nil
}

// ListIDs returns every identifier of a collection in id order.
func (s *EntityStore) ListIDs(ctx context.Context, collection entity.Collection) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT id FROM entities WHERE collection = $1 ORDER BY id`, string(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", collection, err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids: %w", collection, err)
	}
	return ids, nil
}

// Counts returns the number of records per collection. Collections without
// records are reported as zero.
func (s *EntityStore) Counts(ctx context.Context) (map[entity.Collection]int64, error) {
	rows, err := s.q.Query(ctx, `SELECT collection, COUNT(*) FROM entities GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.Collection]int64, len(entity.Collections))
	for _, c := range entity.Collections {
		counts[c] = 0
	}
	for rows.Next() {
		var collection string
		var n int64
		if err := rows.Scan(&collection, &n); err != nil {
			return nil, fmt.Errorf("failed to scan entity count: %w", err)
		}
		counts[entity.Collection(collection)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	return counts, nil
}

// History returns a page of the history records of a pair in one collection,
// in chain order (block, then log index), as raw JSON documents.
func (s *EntityStore) History(ctx context.Context, collection entity.Collection, pair string, limit, offset int) ([]json.RawMessage, error) {
	rows, err := s.q.Query(ctx, `
		SELECT data FROM entities
		WHERE collection = $1 AND data->>'pair' = $2
		ORDER BY (data->>'blockNumber')::BIGINT, COALESCE((data->>'logIndex')::BIGINT, 0), id
		LIMIT $3 OFFSET $4`,
		string(collection), pair, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s history: %w", collection, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s history: %w", collection, err)
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}
