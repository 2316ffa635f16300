package core

import "fmt"

// Manifest defines the structure of a module manifest (inspired by subgraph manifests)
type Manifest struct {
	Name        string                 `yaml:"name"`
	Version     string                 `yaml:"version"`
	Description string                 `yaml:"description,omitempty"`
	DataSources []DataSource           `yaml:"dataSources"`
	Context     map[string]interface{} `yaml:"context,omitempty"` // Module-specific context
}

// DataSource defines a contract or set of contracts to watch
type DataSource struct {
	Kind    string            `yaml:"kind"`    // "ethereum/contract"
	Name    string            `yaml:"name"`    // Friendly name
	Network string            `yaml:"network"` // "bsc"
	Source  DataSourceSource  `yaml:"source"`
	Mapping DataSourceMapping `yaml:"mapping"`
}

// DataSourceSource defines the contract source information. Templates, such
// as the pair contracts a factory deploys, have no address.
type DataSourceSource struct {
	Address    *string `yaml:"address,omitempty"`
	ABI        string  `yaml:"abi"`
	StartBlock *uint64 `yaml:"startBlock,omitempty"`
}

// DataSourceMapping defines how to handle events from this data source
type DataSourceMapping struct {
	Kind          string         `yaml:"kind"` // "ethereum/events"
	Entities      []string       `yaml:"entities"`
	EventHandlers []EventHandler `yaml:"eventHandlers"`
}

// EventHandler binds an event signature to a named handler
type EventHandler struct {
	Event   string `yaml:"event"` // e.g. "Sync(uint112,uint112)"
	Handler string `yaml:"handler"`
}

// ValidateManifest validates a manifest structure
func (m *Manifest) ValidateManifest() error {
	if m.Name == "" {
		return ErrInvalidManifest{Field: "name", Reason: "name is required"}
	}

	if m.Version == "" {
		return ErrInvalidManifest{Field: "version", Reason: "version is required"}
	}

	if len(m.DataSources) == 0 {
		return ErrInvalidManifest{Field: "dataSources", Reason: "at least one data source is required"}
	}

	for i, ds := range m.DataSources {
		if err := ds.validate(); err != nil {
			return ErrInvalidManifest{Field: fmt.Sprintf("dataSources[%d]", i), Reason: err.Error()}
		}
	}

	return nil
}

// DataSource returns the data source with the given name
func (m *Manifest) DataSource(name string) (*DataSource, bool) {
	for i := range m.DataSources {
		if m.DataSources[i].Name == name {
			return &m.DataSources[i], true
		}
	}
	return nil, false
}

func (ds *DataSource) validate() error {
	if ds.Kind == "" {
		return ErrInvalidManifest{Field: "kind", Reason: "kind is required"}
	}

	if ds.Name == "" {
		return ErrInvalidManifest{Field: "name", Reason: "name is required"}
	}

	if ds.Source.ABI == "" {
		return ErrInvalidManifest{Field: "source.abi", Reason: "ABI is required"}
	}

	if len(ds.Mapping.EventHandlers) == 0 {
		return ErrInvalidManifest{Field: "mapping.eventHandlers", Reason: "at least one event handler is required"}
	}

	return nil
}

// ErrInvalidManifest is returned when a manifest is invalid
type ErrInvalidManifest struct {
	Field  string
	Reason string
}

func (e ErrInvalidManifest) Error() string {
	return "invalid manifest field " + e.Field + ": " + e.Reason
}
