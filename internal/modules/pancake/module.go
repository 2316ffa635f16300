package pancake

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/zilstream/pancake-indexer/internal/entity"
	"github.com/zilstream/pancake-indexer/internal/metrics"
	"github.com/zilstream/pancake-indexer/internal/modules/core"
	"github.com/zilstream/pancake-indexer/internal/modules/loader"
)

//go:embed manifest.yaml
var defaultManifest []byte

const (
	factoryDataSource = "PancakeFactory"
	pairDataSource    = "PancakePair"
)

// Config is read from the manifest context section.
type Config struct {
	TokenReadTimeout string `yaml:"tokenReadTimeout"`
}

type eventRoute struct {
	name  string
	apply func(ctx context.Context, store entity.Store, ev *core.ParsedEvent) error
}

// malformedEvent marks a log that parsed but does not carry the expected arguments.
type malformedEvent struct{ err error }

func (e malformedEvent) Error() string { return "malformed event: " + e.err.Error() }
func (e malformedEvent) Unwrap() error { return e.err }

// PairLister lists stored entity ids. It seeds the known pair set.
type PairLister interface {
	ListIDs(ctx context.Context, collection entity.Collection) ([]string, error)
}

// PancakeModule implements core.Module for PancakeSwap V2 factories and pairs
type PancakeModule struct {
	manifest *core.Manifest
	config   Config
	logger   zerolog.Logger
	parser   *core.EventParser

	factoryAddress common.Address
	startBlock     uint64
	factoryABI     *abi.ABI
	pairABI        *abi.ABI

	reader      TokenContractReader
	readTimeout time.Duration
	notifier    PairNotifier
	pairLister  PairLister

	// Pairs created by the factory. Pair events from other addresses are
	// other exchanges' pools sharing the same event signatures.
	pairsMu    sync.RWMutex
	knownPairs map[common.Address]struct{}

	handlers *Handlers
	routes   map[common.Hash]eventRoute
}

// DefaultManifest parses the manifest shipped with the module.
func DefaultManifest(logger zerolog.Logger) (*core.Manifest, error) {
	return loader.NewManifestLoader(logger).ParseManifest(defaultManifest)
}

// NewPancakeModule creates the module from a manifest. The manifest must have
// a PancakeFactory data source with an address.
func NewPancakeModule(manifest *core.Manifest, logger zerolog.Logger) (*PancakeModule, error) {
	var config Config
	if err := loader.DecodeContext(manifest, &config); err != nil {
		return nil, fmt.Errorf("failed to parse module config: %w", err)
	}

	factory, ok := manifest.DataSource(factoryDataSource)
	if !ok || factory.Source.Address == nil || !common.IsHexAddress(*factory.Source.Address) {
		return nil, fmt.Errorf("manifest %s needs a %s data source with a valid address", manifest.Name, factoryDataSource)
	}
	if _, ok := manifest.DataSource(pairDataSource); !ok {
		return nil, fmt.Errorf("manifest %s has no %s data source", manifest.Name, pairDataSource)
	}

	var readTimeout time.Duration
	if config.TokenReadTimeout != "" {
		d, err := time.ParseDuration(config.TokenReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid tokenReadTimeout %q: %w", config.TokenReadTimeout, err)
		}
		readTimeout = d
	}

	var startBlock uint64
	if factory.Source.StartBlock != nil {
		startBlock = *factory.Source.StartBlock
	}

	factoryABI, err := FactoryABI()
	if err != nil {
		return nil, err
	}
	pairABI, err := PairABI()
	if err != nil {
		return nil, err
	}

	m := &PancakeModule{
		manifest:       manifest,
		config:         config,
		logger:         logger.With().Str("module", manifest.Name).Logger(),
		parser:         core.NewEventParser(),
		factoryAddress: common.HexToAddress(*factory.Source.Address),
		startBlock:     startBlock,
		factoryABI:     factoryABI,
		pairABI:        pairABI,
		readTimeout:    readTimeout,
		knownPairs:     make(map[common.Address]struct{}),
	}

	m.parser.AddABI(factoryABI)
	m.parser.AddABI(pairABI)
	m.registerRoutes()

	return m, nil
}

// SetTokenReader sets the contract reader used for new tokens. Must be called
// before Initialize.
func (m *PancakeModule) SetTokenReader(reader TokenContractReader) {
	m.reader = reader
}

// SetNotifier sets the realtime notifier. Must be called before Initialize.
func (m *PancakeModule) SetNotifier(notifier PairNotifier) {
	m.notifier = notifier
}

// SetPairLister sets where Initialize loads the pairs created before a
// restart. Must be called before Initialize.
func (m *PancakeModule) SetPairLister(lister PairLister) {
	m.pairLister = lister
}

// Name returns the module name
func (m *PancakeModule) Name() string {
	return m.manifest.Name
}

// Version returns the module version
func (m *PancakeModule) Version() string {
	return m.manifest.Version
}

// Manifest returns the module manifest
func (m *PancakeModule) Manifest() *core.Manifest {
	return m.manifest
}

// FactoryAddress returns the watched factory contract.
func (m *PancakeModule) FactoryAddress() common.Address {
	return m.factoryAddress
}

// Initialize wires the token registry and handlers
func (m *PancakeModule) Initialize(ctx context.Context) error {
	if m.reader == nil {
		m.logger.Warn().Msg("No token reader configured, new tokens get fallback metadata")
	}

	if m.pairLister != nil {
		ids, err := m.pairLister.ListIDs(ctx, entity.CollectionPair)
		if err != nil {
			return fmt.Errorf("failed to load known pairs: %w", err)
		}
		for _, id := range ids {
			m.addPair(common.HexToAddress(id))
		}
	}

	tokens := NewTokenRegistry(m.reader, m.readTimeout, m.logger)
	m.handlers = NewHandlers(tokens, m.logger)
	if m.notifier != nil {
		m.handlers.SetNotifier(m.notifier)
	}

	m.logger.Info().
		Str("factory", m.factoryAddress.Hex()).
		Uint64("start_block", m.startBlock).
		Int("known_pairs", m.pairCount()).
		Msg("Pancake module initialized")
	return nil
}

func (m *PancakeModule) registerRoutes() {
	m.routes = map[common.Hash]eventRoute{
		m.factoryABI.Events[EventPairCreated].ID: {
			name: EventPairCreated,
			apply: func(ctx context.Context, store entity.Store, ev *core.ParsedEvent) error {
				if ev.Address != m.factoryAddress {
					m.logger.Debug().Str("address", ev.Address.Hex()).Msg("Ignoring PairCreated from foreign factory")
					return nil
				}
				e, err := decodePairCreated(ev)
				if err != nil {
					return malformedEvent{err}
				}
				if err := m.handlers.HandlePairCreated(ctx, store, e); err != nil {
					return err
				}
				m.addPair(common.HexToAddress(e.Pair))
				return nil
			},
		},
		m.pairABI.Events[EventSync].ID: {
			name: EventSync,
			apply: func(ctx context.Context, store entity.Store, ev *core.ParsedEvent) error {
				e, err := decodeSync(ev)
				if err != nil {
					return malformedEvent{err}
				}
				return m.handlers.HandleSync(ctx, store, e)
			},
		},
		m.pairABI.Events[EventMint].ID: {
			name: EventMint,
			apply: func(ctx context.Context, store entity.Store, ev *core.ParsedEvent) error {
				e, err := decodeMint(ev)
				if err != nil {
					return malformedEvent{err}
				}
				return m.handlers.HandleMint(ctx, store, e)
			},
		},
		m.pairABI.Events[EventBurn].ID: {
			name: EventBurn,
			apply: func(ctx context.Context, store entity.Store, ev *core.ParsedEvent) error {
				e, err := decodeBurn(ev)
				if err != nil {
					return malformedEvent{err}
				}
				return m.handlers.HandleBurn(ctx, store, e)
			},
		},
		m.pairABI.Events[EventSwap].ID: {
			name: EventSwap,
			apply: func(ctx context.Context, store entity.Store, ev *core.ParsedEvent) error {
				e, err := decodeSwap(ev)
				if err != nil {
					return malformedEvent{err}
				}
				return m.handlers.HandleSwap(ctx, store, e)
			},
		},
	}
}

// HandleEvent processes a single event log. Logs that cannot be decoded are
// logged and skipped; store errors are returned.
func (m *PancakeModule) HandleEvent(ctx context.Context, store entity.Store, log *types.Log, blockTimestamp uint64) error {
	if len(log.Topics) == 0 {
		return nil
	}
	if m.handlers == nil {
		return fmt.Errorf("module %s is not initialized", m.Name())
	}

	route, exists := m.routes[log.Topics[0]]
	if !exists {
		return nil
	}

	if route.name != EventPairCreated && !m.isPair(log.Address) {
		metrics.IncSkipped(route.name, "foreign_pair")
		return nil
	}

	parsed, err := m.parser.ParseEvent(log)
	if err != nil {
		m.dropMalformed(route.name, log, err)
		return nil
	}
	parsed.BlockTimestamp = blockTimestamp

	start := time.Now()
	err = route.apply(ctx, store, parsed)

	var malformed malformedEvent
	if errors.As(err, &malformed) {
		m.dropMalformed(route.name, log, malformed.err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s handler failed: %w", route.name, err)
	}

	metrics.IncProcessed(route.name)
	metrics.ObserveHandler(route.name, time.Since(start).Seconds())

	m.logger.Debug().
		Str("event", route.name).
		Str("address", strings.ToLower(log.Address.Hex())).
		Uint64("block", log.BlockNumber).
		Uint("log_index", log.Index).
		Msg("Processed event")

	return nil
}

func (m *PancakeModule) addPair(addr common.Address) {
	m.pairsMu.Lock()
	m.knownPairs[addr] = struct{}{}
	m.pairsMu.Unlock()
}

func (m *PancakeModule) isPair(addr common.Address) bool {
	m.pairsMu.RLock()
	defer m.pairsMu.RUnlock()
	_, ok := m.knownPairs[addr]
	return ok
}

func (m *PancakeModule) pairCount() int {
	m.pairsMu.RLock()
	defer m.pairsMu.RUnlock()
	return len(m.knownPairs)
}

func (m *PancakeModule) dropMalformed(event string, log *types.Log, err error) {
	metrics.IncSkipped(event, "malformed")
	m.logger.Warn().
		Err(err).
		Str("event", event).
		Str("address", log.Address.Hex()).
		Uint64("block", log.BlockNumber).
		Str("tx_hash", log.TxHash.Hex()).
		Msg("Failed to decode event, skipping")
}

// GetEventFilters returns the event filters this module is interested in.
// PairCreated is accepted from the factory only. Pair events carry no address
// filter since pairs are discovered at runtime; HandleEvent drops those from
// pairs the factory did not create.
func (m *PancakeModule) GetEventFilters() []core.EventFilter {
	return []core.EventFilter{
		{Address: m.factoryAddress.Hex(), Topic0: m.factoryABI.Events[EventPairCreated].ID.Hex()},
		{Topic0: m.pairABI.Events[EventSync].ID.Hex()},
		{Topic0: m.pairABI.Events[EventMint].ID.Hex()},
		{Topic0: m.pairABI.Events[EventBurn].ID.Hex()},
		{Topic0: m.pairABI.Events[EventSwap].ID.Hex()},
	}
}

// GetStartBlock returns the factory deployment block
func (m *PancakeModule) GetStartBlock() uint64 {
	return m.startBlock
}
