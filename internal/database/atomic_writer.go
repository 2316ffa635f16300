package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/zilstream/pancake-indexer/internal/entity"
)

// AtomicEventWriter applies each event in its own transaction together with
// the cursor position of that event, so a crash leaves either all or none of
// an event's mutations behind.
type AtomicEventWriter struct {
	db      *Database
	chainID int64
	logger  zerolog.Logger
}

func NewAtomicEventWriter(db *Database, chainID int64, logger zerolog.Logger) *AtomicEventWriter {
	return &AtomicEventWriter{
		db:      db,
		chainID: chainID,
		logger:  logger.With().Str("component", "atomic_writer").Logger(),
	}
}

// LoadCursor returns the stored cursor, creating it at startBlock on first run.
func (w *AtomicEventWriter) LoadCursor(ctx context.Context, startBlock uint64) (Cursor, error) {
	return InitCursor(ctx, w.db.Pool(), w.chainID, startBlock)
}

// ApplyEvent runs fn against a transactional entity store and records
// (block, logIndex) as applied when fn succeeds.
func (w *AtomicEventWriter) ApplyEvent(ctx context.Context, block uint64, logIndex uint, fn func(entity.Store) error) error {
	return w.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := fn(NewEntityStore(tx)); err != nil {
			return err
		}
		if err := SaveEventPosition(ctx, tx, w.chainID, block, logIndex); err != nil {
			return fmt.Errorf("event %d/%d: %w", block, logIndex, err)
		}
		return nil
	})
}

// Advance marks every block below next as processed.
func (w *AtomicEventWriter) Advance(ctx context.Context, next uint64) error {
	if err := SaveNextBlock(ctx, w.db.Pool(), w.chainID, next); err != nil {
		return err
	}
	w.logger.Debug().Uint64("next_block", next).Msg("Cursor advanced")
	return nil
}

// Store returns a non-transactional view for readers.
func (w *AtomicEventWriter) Store() *EntityStore {
	return NewEntityStore(w.db.Pool())
}
