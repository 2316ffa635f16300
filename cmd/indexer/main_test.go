package main

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zilstream/pancake-indexer/internal/config"
	"github.com/zilstream/pancake-indexer/internal/modules/loader"
)

func TestWriteManifest(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeManifest(&buf, config.ModuleConfig{}, zerolog.Nop()))

	manifest, err := loader.NewManifestLoader(zerolog.Nop()).ParseManifest(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "pancake-v2", manifest.Name)
	require.Len(t, manifest.DataSources, 2)
	assert.Equal(t, uint64(6809737), *manifest.DataSources[0].Source.StartBlock)

	err = writeManifest(&buf, config.ModuleConfig{ManifestPath: "does-not-exist.yaml"}, zerolog.Nop())
	assert.Error(t, err)
}
