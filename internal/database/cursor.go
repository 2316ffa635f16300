package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Cursor records how far the indexer got. NextBlock is the first block not yet
// fully processed. LastEventBlock and LastLogIndex name the last event applied
// inside the block range in flight, so a restart never re-applies an event.
type Cursor struct {
	NextBlock      uint64
	LastEventBlock uint64
	LastLogIndex   int64
}

// Applied reports whether the event at (block, logIndex) is already reflected
// in the store.
func (c Cursor) Applied(block uint64, logIndex uint) bool {
	if block < c.NextBlock {
		return true
	}
	if c.LastLogIndex < 0 {
		return false
	}
	if block != c.LastEventBlock {
		return block < c.LastEventBlock
	}
	return int64(logIndex) <= c.LastLogIndex
}

// InitCursor creates the cursor row if missing and returns the stored cursor.
func InitCursor(ctx context.Context, q Querier, chainID int64, startBlock uint64) (Cursor, error) {
	_, err := q.Exec(ctx, `
		INSERT INTO indexer_state (chain_id, next_block)
		VALUES ($1, $2)
		ON CONFLICT (chain_id) DO NOTHING`,
		chainID, int64(startBlock),
	)
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to init cursor: %w", err)
	}
	return GetCursor(ctx, q, chainID)
}

func GetCursor(ctx context.Context, q Querier, chainID int64) (Cursor, error) {
	var next, lastBlock, lastIndex int64
	err := q.QueryRow(ctx, `
		SELECT next_block, last_event_block, last_log_index
		FROM indexer_state WHERE chain_id = $1`,
		chainID,
	).Scan(&next, &lastBlock, &lastIndex)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cursor{}, ErrNotFound
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to get cursor: %w", err)
	}
	return Cursor{
		NextBlock:      uint64(next),
		LastEventBlock: uint64(lastBlock),
		LastLogIndex:   lastIndex,
	}, nil
}

// SaveEventPosition runs inside the event's transaction.
func SaveEventPosition(ctx context.Context, q Querier, chainID int64, block uint64, logIndex uint) error {
	tag, err := q.Exec(ctx, `
		UPDATE indexer_state
		SET last_event_block = $2, last_log_index = $3, updated_at = NOW()
		WHERE chain_id = $1`,
		chainID, int64(block), int64(logIndex),
	)
	if err != nil {
		return fmt.Errorf("failed to save event position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to save event position: %w", ErrNotFound)
	}
	return nil
}

// SaveNextBlock marks every block below next as done and clears the event
// position.
func SaveNextBlock(ctx context.Context, q Querier, chainID int64, next uint64) error {
	tag, err := q.Exec(ctx, `
		UPDATE indexer_state
		SET next_block = $2, last_log_index = -1, updated_at = NOW()
		WHERE chain_id = $1`,
		chainID, int64(next),
	)
	if err != nil {
		return fmt.Errorf("failed to save next block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to save next block: %w", ErrNotFound)
	}
	return nil
}
