package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/zilstream/pancake-indexer/internal/modules/core"
)

const defaultNetwork = "bsc"

// ManifestLoader reads data source manifests. Unknown keys are rejected so a
// misspelled startBlock cannot silently index from genesis.
type ManifestLoader struct {
	logger zerolog.Logger
}

func NewManifestLoader(logger zerolog.Logger) *ManifestLoader {
	return &ManifestLoader{
		logger: logger.With().Str("component", "manifest_loader").Logger(),
	}
}

func (l *ManifestLoader) LoadFromFile(path string) (*core.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file %s: %w", path, err)
	}
	manifest, err := l.ParseManifest(data)
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("path", path).
		Str("name", manifest.Name).
		Str("version", manifest.Version).
		Int("data_sources", len(manifest.DataSources)).
		Int("handlers", handlerCount(manifest)).
		Msg("Loaded manifest")
	return manifest, nil
}

func (l *ManifestLoader) ParseManifest(data []byte) (*core.Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var manifest core.Manifest
	if err := dec.Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty manifest")
		}
		return nil, fmt.Errorf("failed to parse YAML manifest: %w", err)
	}

	// Defaults first so an omitted kind does not fail validation
	applyDefaults(&manifest)

	if err := manifest.ValidateManifest(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &manifest, nil
}

// WriteManifest writes the manifest as YAML, defaults included, so the
// output can be edited and passed back through module.manifest_path.
func (l *ManifestLoader) WriteManifest(w io.Writer, manifest *core.Manifest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(manifest); err != nil {
		return fmt.Errorf("failed to serialize manifest %s: %w", manifest.Name, err)
	}
	return enc.Close()
}

// DecodeContext decodes the manifest's free-form context section into out.
func DecodeContext(manifest *core.Manifest, out interface{}) error {
	if len(manifest.Context) == 0 {
		return nil
	}
	data, err := yaml.Marshal(manifest.Context)
	if err != nil {
		return fmt.Errorf("failed to encode manifest context: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode manifest context: %w", err)
	}
	return nil
}

func applyDefaults(manifest *core.Manifest) {
	for i := range manifest.DataSources {
		ds := &manifest.DataSources[i]
		if ds.Kind == "" {
			ds.Kind = "ethereum/contract"
		}
		if ds.Network == "" {
			ds.Network = defaultNetwork
		}
		if ds.Mapping.Kind == "" {
			ds.Mapping.Kind = "ethereum/events"
		}
		if ds.Source.StartBlock == nil {
			ds.Source.StartBlock = new(uint64)
		}
	}
}

func handlerCount(manifest *core.Manifest) int {
	n := 0
	for _, ds := range manifest.DataSources {
		n += len(ds.Mapping.EventHandlers)
	}
	return n
}
