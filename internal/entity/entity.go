// Package entity defines the aggregate records maintained by the indexer and
// the key-value store contract they are persisted through.
package entity

import (
	"context"
	"fmt"
)

// Collection names a set of records of one kind.
type Collection string

const (
	CollectionToken         Collection = "Token"
	CollectionPair          Collection = "Pair"
	CollectionFactory       Collection = "PancakeFactory"
	CollectionEventsSummary Collection = "EventsSummary"

	// Append-only history, one record per raw event.
	CollectionPairCreated Collection = "PancakeFactory_PairCreated"
	CollectionSync        Collection = "PancakePair_Sync"
	CollectionMint        Collection = "PancakePair_Mint"
	CollectionBurn        Collection = "PancakePair_Burn"
	CollectionSwap        Collection = "PancakePair_Swap"
)

// Collections lists every collection a Store must accept.
var Collections = []Collection{
	CollectionToken,
	CollectionPair,
	CollectionFactory,
	CollectionEventsSummary,
	CollectionPairCreated,
	CollectionSync,
	CollectionMint,
	CollectionBurn,
	CollectionSwap,
}

// Record is anything that can be stored. Set upserts by EntityID.
type Record interface {
	EntityID() string
}

// Store is the entity store a handler reads and writes through. One Store
// value is handed to a handler per event; implementations decide where the
// commit boundary is.
type Store interface {
	// Get loads the record into dst and reports whether it was found.
	Get(ctx context.Context, collection Collection, id string, dst Record) (bool, error)
	// Set upserts the record by its EntityID.
	Set(ctx context.Context, collection Collection, record Record) error
}

// HistoryID builds the identifier of a per-event history record.
func HistoryID(transactionHash string, logIndex uint) string {
	return fmt.Sprintf("%s-%d", transactionHash, logIndex)
}

// load returns nil when the record is absent.
func load[T any, PT interface {
	*T
	Record
}](ctx context.Context, s Store, c Collection, id string) (*T, error) {
	rec := PT(new(T))
	found, err := s.Get(ctx, c, id, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", c, id, err)
	}
	if !found {
		return nil, nil
	}
	return (*T)(rec), nil
}

func GetToken(ctx context.Context, s Store, id string) (*Token, error) {
	return load[Token](ctx, s, CollectionToken, id)
}

func GetPair(ctx context.Context, s Store, id string) (*Pair, error) {
	return load[Pair](ctx, s, CollectionPair, id)
}

func GetFactory(ctx context.Context, s Store, id string) (*Factory, error) {
	return load[Factory](ctx, s, CollectionFactory, id)
}

func GetEventsSummary(ctx context.Context, s Store, id string) (*EventsSummary, error) {
	return load[EventsSummary](ctx, s, CollectionEventsSummary, id)
}
