package pancake

import (
	"context"
	"fmt"

	"github.com/zilstream/pancake-indexer/internal/entity"
	"github.com/zilstream/pancake-indexer/internal/numeric"
)

// EventsSummaryID is the key of the singleton EventsSummary record.
const EventsSummaryID = "GlobalEventsSummary"

// Counter names one EventsSummary field.
type Counter string

const (
	CounterPairCreated Counter = "pancakeFactory_PairCreatedCount"
	CounterSwap        Counter = "pancakePair_SwapCount"
	CounterSync        Counter = "pancakePair_SyncCount"
	CounterMint        Counter = "pancakePair_MintCount"
	CounterBurn        Counter = "pancakePair_BurnCount"
)

// Counters lists every summary counter.
var Counters = []Counter{CounterPairCreated, CounterSwap, CounterSync, CounterMint, CounterBurn}

// Field returns a pointer to the counter's field in s.
func (c Counter) Field(s *entity.EventsSummary) (*string, error) {
	switch c {
	case CounterPairCreated:
		return &s.PancakeFactoryPairCreatedCount, nil
	case CounterSwap:
		return &s.PancakePairSwapCount, nil
	case CounterSync:
		return &s.PancakePairSyncCount, nil
	case CounterMint:
		return &s.PancakePairMintCount, nil
	case CounterBurn:
		return &s.PancakePairBurnCount, nil
	default:
		return nil, fmt.Errorf("unknown summary counter %q", string(c))
	}
}

// GetOrCreateEventsSummary loads the singleton, persisting a zeroed record on
// first use.
func GetOrCreateEventsSummary(ctx context.Context, store entity.Store) (*entity.EventsSummary, error) {
	summary, err := entity.GetEventsSummary(ctx, store, EventsSummaryID)
	if err != nil {
		return nil, err
	}
	if summary != nil {
		return summary, nil
	}

	summary = &entity.EventsSummary{
		ID:                             EventsSummaryID,
		PancakeFactoryPairCreatedCount: numeric.Zero,
		PancakePairSwapCount:           numeric.Zero,
		PancakePairSyncCount:           numeric.Zero,
		PancakePairMintCount:           numeric.Zero,
		PancakePairBurnCount:           numeric.Zero,
	}
	if err := store.Set(ctx, entity.CollectionEventsSummary, summary); err != nil {
		return nil, fmt.Errorf("failed to create events summary: %w", err)
	}
	return summary, nil
}

// IncrementEventsSummary adds one to the named counter and persists the whole
// record. Callers serialize access to the store.
func IncrementEventsSummary(ctx context.Context, store entity.Store, counter Counter) (*entity.EventsSummary, error) {
	summary, err := GetOrCreateEventsSummary(ctx, store)
	if err != nil {
		return nil, err
	}

	field, err := counter.Field(summary)
	if err != nil {
		return nil, err
	}
	*field = numeric.Increment(*field)

	if err := store.Set(ctx, entity.CollectionEventsSummary, summary); err != nil {
		return nil, fmt.Errorf("failed to update events summary %s: %w", counter, err)
	}
	return summary, nil
}
