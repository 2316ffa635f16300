package processor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/zilstream/pancake-indexer/internal/database"
	"github.com/zilstream/pancake-indexer/internal/entity"
	"github.com/zilstream/pancake-indexer/internal/metrics"
)

var ErrTooManyErrors = errors.New("too many consecutive errors")

// ChainReader is the subset of the RPC client the indexer needs.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	BlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]uint64, error)
}

// EventRouter dispatches one log to the modules that handle it.
type EventRouter interface {
	Topics() []common.Hash
	ProcessEvent(ctx context.Context, store entity.Store, log *types.Log, blockTimestamp uint64) error
}

// EventWriter persists progress. ApplyEvent must commit the handler's
// mutations and the event position together.
type EventWriter interface {
	LoadCursor(ctx context.Context, startBlock uint64) (database.Cursor, error)
	ApplyEvent(ctx context.Context, block uint64, logIndex uint, fn func(entity.Store) error) error
	Advance(ctx context.Context, next uint64) error
}

// BlockObserver is told the last block of every completed range.
type BlockObserver interface {
	SetCurrentBlock(blockNumber uint64)
}

// CommitObserver learns the outcome of every applied event. Side effects a
// handler staged while running are released on commit and dropped when the
// event's transaction rolls back.
type CommitObserver interface {
	EventCommitted()
	EventDiscarded()
}

type Options struct {
	StartBlock           uint64
	BatchSize            uint64
	Confirmations        uint64
	PollInterval         time.Duration
	RetryDelay           time.Duration
	MaxConsecutiveErrors int
}

func (o *Options) applyDefaults() {
	if o.BatchSize == 0 {
		o.BatchSize = 1000
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = 10
	}
}

// Indexer pulls logs in block ranges and applies them in chain order.
type Indexer struct {
	chain    ChainReader
	router   EventRouter
	writer   EventWriter
	observer BlockObserver
	commits  CommitObserver
	opts     Options
	logger   zerolog.Logger

	mu     sync.RWMutex
	cursor database.Cursor
	loaded bool
	latest uint64
}

func NewIndexer(chain ChainReader, router EventRouter, writer EventWriter, opts Options, logger zerolog.Logger) *Indexer {
	opts.applyDefaults()
	return &Indexer{
		chain:  chain,
		router: router,
		writer: writer,
		opts:   opts,
		logger: logger.With().Str("component", "indexer").Logger(),
	}
}

// SetObserver registers o for range completion. Call before Run.
func (i *Indexer) SetObserver(o BlockObserver) {
	i.observer = o
}

// SetCommitObserver registers o for per-event outcomes. Call before Run.
func (i *Indexer) SetCommitObserver(o CommitObserver) {
	i.commits = o
}

// Run syncs until ctx is cancelled. It returns an error wrapping
// ErrTooManyErrors once MaxConsecutiveErrors ranges fail in a row.
func (i *Indexer) Run(ctx context.Context) error {
	i.logger.Info().
		Uint64("batch_size", i.opts.BatchSize).
		Uint64("confirmations", i.opts.Confirmations).
		Msg("Starting indexer")

	consecutiveErrors := 0
	for {
		advanced, err := i.SyncOnce(ctx)
		if ctx.Err() != nil {
			i.logger.Info().Msg("Sync loop stopped")
			return nil
		}

		wait := time.Duration(0)
		switch {
		case err != nil:
			metrics.IncSyncError()
			consecutiveErrors++
			i.logger.Error().
				Err(err).
				Int("consecutive_errors", consecutiveErrors).
				Msg("Sync failed")
			if consecutiveErrors >= i.opts.MaxConsecutiveErrors {
				return fmt.Errorf("%w: %v", ErrTooManyErrors, err)
			}
			wait = i.opts.RetryDelay
		case !advanced:
			consecutiveErrors = 0
			wait = i.opts.PollInterval
		default:
			consecutiveErrors = 0
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				i.logger.Info().Msg("Sync loop stopped")
				return nil
			case <-time.After(wait):
			}
		}
	}
}

// SyncOnce processes the next block range if one is available and reports
// whether the cursor moved.
func (i *Indexer) SyncOnce(ctx context.Context) (bool, error) {
	if err := i.ensureCursor(ctx); err != nil {
		return false, err
	}

	latest, err := i.chain.LatestBlockNumber(ctx)
	if err != nil {
		return false, err
	}
	i.mu.Lock()
	i.latest = latest
	cursor := i.cursor
	i.mu.Unlock()

	if latest < i.opts.Confirmations {
		return false, nil
	}
	safe := latest - i.opts.Confirmations
	from := cursor.NextBlock
	if from > safe {
		i.logger.Debug().
			Uint64("next", from).
			Uint64("latest", latest).
			Msg("Caught up with chain")
		return false, nil
	}
	to := from + i.opts.BatchSize - 1
	if to > safe {
		to = safe
	}

	started := time.Now()
	applied, err := i.processRange(ctx, cursor, from, to)
	if err != nil {
		return false, fmt.Errorf("blocks %d-%d: %w", from, to, err)
	}

	if err := i.writer.Advance(ctx, to+1); err != nil {
		return false, err
	}
	i.mu.Lock()
	i.cursor.NextBlock = to + 1
	i.cursor.LastLogIndex = -1
	i.mu.Unlock()

	metrics.SetLastBlock(to)
	if i.observer != nil {
		i.observer.SetCurrentBlock(to)
	}

	i.logger.Info().
		Uint64("from", from).
		Uint64("to", to).
		Int("events", applied).
		Uint64("lag", latest-to).
		Dur("duration", time.Since(started)).
		Msg("Range processed")
	return true, nil
}

func (i *Indexer) ensureCursor(ctx context.Context) error {
	i.mu.RLock()
	loaded := i.loaded
	i.mu.RUnlock()
	if loaded {
		return nil
	}

	cursor, err := i.writer.LoadCursor(ctx, i.opts.StartBlock)
	if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}

	i.mu.Lock()
	i.cursor = cursor
	i.loaded = true
	i.mu.Unlock()

	i.logger.Info().
		Uint64("next_block", cursor.NextBlock).
		Uint64("last_event_block", cursor.LastEventBlock).
		Int64("last_log_index", cursor.LastLogIndex).
		Msg("Loaded cursor")
	return nil
}

func (i *Indexer) processRange(ctx context.Context, cursor database.Cursor, from, to uint64) (int, error) {
	topics := i.router.Topics()
	if len(topics) == 0 {
		return 0, errors.New("no event topics registered")
	}

	logs, err := i.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{topics},
	})
	if err != nil {
		return 0, err
	}

	pending := pendingLogs(logs, cursor)
	if len(pending) == 0 {
		return 0, nil
	}

	blocks := make([]uint64, 0, len(pending))
	for _, l := range pending {
		if len(blocks) == 0 || blocks[len(blocks)-1] != l.BlockNumber {
			blocks = append(blocks, l.BlockNumber)
		}
	}
	timestamps, err := i.chain.BlockTimestamps(ctx, blocks)
	if err != nil {
		return 0, err
	}

	for idx := range pending {
		l := &pending[idx]
		ts, ok := timestamps[l.BlockNumber]
		if !ok {
			return idx, fmt.Errorf("no timestamp for block %d", l.BlockNumber)
		}

		err := i.writer.ApplyEvent(ctx, l.BlockNumber, l.Index, func(store entity.Store) error {
			return i.router.ProcessEvent(ctx, store, l, ts)
		})
		if err != nil {
			if i.commits != nil {
				i.commits.EventDiscarded()
			}
			return idx, err
		}
		if i.commits != nil {
			i.commits.EventCommitted()
		}

		i.mu.Lock()
		i.cursor.LastEventBlock = l.BlockNumber
		i.cursor.LastLogIndex = int64(l.Index)
		i.mu.Unlock()
	}
	return len(pending), nil
}

// pendingLogs drops removed and already applied logs and sorts the rest by
// block then log index.
func pendingLogs(logs []types.Log, cursor database.Cursor) []types.Log {
	out := make([]types.Log, 0, len(logs))
	for _, l := range logs {
		if l.Removed || cursor.Applied(l.BlockNumber, l.Index) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].BlockNumber != out[b].BlockNumber {
			return out[a].BlockNumber < out[b].BlockNumber
		}
		return out[a].Index < out[b].Index
	})
	return out
}

type Status struct {
	NextBlock   uint64 `json:"next_block"`
	LatestBlock uint64 `json:"latest_block"`
	Lag         uint64 `json:"lag"`
	Syncing     bool   `json:"syncing"`
}

// Status reports progress as of the last sync attempt.
func (i *Indexer) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()

	s := Status{NextBlock: i.cursor.NextBlock, LatestBlock: i.latest}
	if i.latest >= i.cursor.NextBlock {
		s.Lag = i.latest - i.cursor.NextBlock + 1
	}
	s.Syncing = s.Lag > i.opts.Confirmations
	return s
}
