package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/zilstream/pancake-indexer/internal/entity"
)

type routedFilter struct {
	module string
	filter EventFilter
}

// ModuleRegistry manages the lifecycle of indexer modules and routes events
// to them. At most one handler runs at a time.
type ModuleRegistry struct {
	modules map[string]Module
	status  map[string]ModuleStatus
	logger  zerolog.Logger

	// Event routing
	filters []routedFilter

	// Lifecycle management
	mu      sync.RWMutex
	running bool

	// dispatch serializes HandleEvent calls across all modules
	dispatch sync.Mutex
}

// NewModuleRegistry creates a new module registry
func NewModuleRegistry(logger zerolog.Logger) *ModuleRegistry {
	return &ModuleRegistry{
		modules: make(map[string]Module),
		status:  make(map[string]ModuleStatus),
		logger:  logger.With().Str("component", "module_registry").Logger(),
	}
}

// RegisterModule validates, initializes and registers a module
func (r *ModuleRegistry) RegisterModule(ctx context.Context, module Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := module.Name()

	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %s is already registered", name)
	}

	manifest := module.Manifest()
	if manifest == nil {
		return fmt.Errorf("module %s has no manifest", name)
	}

	if err := manifest.ValidateManifest(); err != nil {
		return fmt.Errorf("module %s has invalid manifest: %w", name, err)
	}

	if err := module.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize module %s: %w", name, err)
	}

	filters := module.GetEventFilters()
	for _, filter := range filters {
		r.filters = append(r.filters, routedFilter{module: name, filter: filter})
		r.logger.Debug().
			Str("module", name).
			Str("address", filter.Address).
			Str("topic0", filter.Topic0).
			Msg("Registered event filter")
	}

	r.modules[name] = module
	r.status[name] = StatusActive

	r.logger.Info().
		Str("module", name).
		Str("version", module.Version()).
		Int("filters", len(filters)).
		Msg("Module registered successfully")

	return nil
}

// UnregisterModule removes a module from the registry
func (r *ModuleRegistry) UnregisterModule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; !exists {
		return fmt.Errorf("module %s is not registered", name)
	}

	kept := r.filters[:0]
	for _, rf := range r.filters {
		if rf.module != name {
			kept = append(kept, rf)
		}
	}
	r.filters = kept

	delete(r.modules, name)
	delete(r.status, name)

	r.logger.Info().Str("module", name).Msg("Module unregistered")
	return nil
}

// ProcessEvent routes an event to interested modules. Handler errors are
// returned so the caller can roll back the store it passed in; the failing
// module is marked as errored.
func (r *ModuleRegistry) ProcessEvent(ctx context.Context, store entity.Store, log *types.Log, blockTimestamp uint64) error {
	r.mu.RLock()
	if !r.running {
		r.mu.RUnlock()
		return nil
	}
	interested := r.findInterestedModules(log)
	r.mu.RUnlock()

	if len(interested) == 0 {
		if len(log.Topics) > 0 {
			r.logger.Debug().
				Str("topic0", log.Topics[0].Hex()).
				Str("address", log.Address.Hex()).
				Msg("No modules interested in event")
		}
		return nil
	}

	r.dispatch.Lock()
	defer r.dispatch.Unlock()

	for _, module := range interested {
		if err := module.HandleEvent(ctx, store, log, blockTimestamp); err != nil {
			r.logger.Error().
				Err(err).
				Str("module", module.Name()).
				Uint64("block", log.BlockNumber).
				Uint("log_index", log.Index).
				Str("tx_hash", log.TxHash.Hex()).
				Msg("Module failed to process event")

			r.setStatus(module.Name(), StatusError)
			return fmt.Errorf("module %s failed at block %d log %d: %w",
				module.Name(), log.BlockNumber, log.Index, err)
		}
	}

	// A retried event that now succeeds clears the error state.
	r.mu.Lock()
	for _, module := range interested {
		if r.status[module.Name()] == StatusError {
			r.status[module.Name()] = StatusActive
		}
	}
	r.mu.Unlock()

	return nil
}

// findInterestedModules returns active modules with a matching filter, in
// name order. Callers hold r.mu.
func (r *ModuleRegistry) findInterestedModules(log *types.Log) []Module {
	seen := make(map[string]bool)
	var names []string

	for _, rf := range r.filters {
		if seen[rf.module] || !rf.filter.Matches(log) {
			continue
		}
		if status := r.status[rf.module]; status == StatusPaused {
			continue
		}
		seen[rf.module] = true
		names = append(names, rf.module)
	}
	sort.Strings(names)

	modules := make([]Module, 0, len(names))
	for _, name := range names {
		modules = append(modules, r.modules[name])
	}
	return modules
}

// Topics returns the distinct topic0 values of every registered filter, for
// building log queries.
func (r *ModuleRegistry) Topics() []common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var topics []common.Hash
	for _, rf := range r.filters {
		topic := strings.ToLower(rf.filter.Topic0)
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		topics = append(topics, common.HexToHash(topic))
	}
	return topics
}

// StartBlock returns the lowest start block among registered modules
func (r *ModuleRegistry) StartBlock() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var start uint64
	first := true
	for _, module := range r.modules {
		if b := module.GetStartBlock(); first || b < start {
			start = b
			first = false
		}
	}
	return start
}

// Start begins the module registry lifecycle
func (r *ModuleRegistry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("module registry is already running")
	}

	r.running = true
	r.logger.Info().Int("modules", len(r.modules)).Msg("Module registry started")

	return nil
}

// Stop gracefully stops the module registry
func (r *ModuleRegistry) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	r.running = false
	r.logger.Info().Msg("Module registry stopped")
	return nil
}

// GetModule returns a registered module by name
func (r *ModuleRegistry) GetModule(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	module, exists := r.modules[name]
	return module, exists
}

// ListModules returns all registered module names
func (r *ModuleRegistry) ListModules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// ModuleStatus returns the current status of a module
func (r *ModuleRegistry) ModuleStatus(name string) (ModuleStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.status[name]
	return status, ok
}

// SetModuleStatus pauses or resumes a module. Paused modules receive no events.
func (r *ModuleRegistry) SetModuleStatus(name string, status ModuleStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; !exists {
		return fmt.Errorf("module %s not found", name)
	}
	r.status[name] = status
	return nil
}

func (r *ModuleRegistry) setStatus(name string, status ModuleStatus) {
	r.mu.Lock()
	r.status[name] = status
	r.mu.Unlock()
}
