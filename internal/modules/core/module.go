package core

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/zilstream/pancake-indexer/internal/entity"
)

// Module represents a processing module that handles specific blockchain events
// Inspired by The Graph Protocol's subgraph pattern
type Module interface {
	// Name returns the unique name of the module
	Name() string

	// Version returns the module version
	Version() string

	// Manifest returns the module's manifest configuration
	Manifest() *Manifest

	// Initialize prepares any state the module needs before the first event
	Initialize(ctx context.Context) error

	// HandleEvent processes a single event log that matches this module's
	// filters. All reads and writes go through store, which the caller commits
	// once HandleEvent returns nil.
	HandleEvent(ctx context.Context, store entity.Store, event *types.Log, blockTimestamp uint64) error

	// GetEventFilters returns the event filters this module is interested in
	GetEventFilters() []EventFilter

	// GetStartBlock returns the block number from which this module should start processing
	GetStartBlock() uint64
}

// EventFilter defines what events a module wants to receive
type EventFilter struct {
	// Address is the contract address to watch (optional, empty = all addresses)
	Address string `yaml:"address,omitempty"`

	// Topic0 is the event signature hash (optional, empty = all events)
	Topic0 string `yaml:"topic0,omitempty"`
}

// Matches reports whether the log satisfies both the address and the topic
// constraint of the filter.
func (f EventFilter) Matches(log *types.Log) bool {
	if f.Address != "" && !strings.EqualFold(f.Address, log.Address.Hex()) {
		return false
	}
	if f.Topic0 != "" {
		if len(log.Topics) == 0 || !strings.EqualFold(f.Topic0, log.Topics[0].Hex()) {
			return false
		}
	}
	return true
}

// ModuleStatus represents the possible states of a module
type ModuleStatus string

const (
	StatusActive ModuleStatus = "active"
	StatusPaused ModuleStatus = "paused"
	StatusError  ModuleStatus = "error"
)
