package plugins

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aihub/corpus-go/internal/config"
	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/knowledge"
)

type closingProvider struct {
	CapabilityMap
	closed int
}

func (c *closingProvider) Close() error {
	c.closed++
	return nil
}

func hashEmbeddings() EmbeddingsFactory {
	return func(context.Context, *config.CorpusConfig) (knowledge.Embedder, error) {
		return knowledge.NewHashEmbedder(8), nil
	}
}

func TestRegistry_RegisterRequiresName(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	err := reg.Register(ProviderInfo{Handle: CapabilityMap{}})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidProviderConfig))

	err = reg.Register(ProviderInfo{Name: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidProviderConfig))
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	first := &closingProvider{CapabilityMap: CapabilityMap{CapabilityEmbeddings: hashEmbeddings()}}
	require.NoError(t, reg.Register(ProviderInfo{Name: "local", Exports: []string{CapabilityEmbeddings}, Handle: first}))
	require.NoError(t, reg.Register(ProviderInfo{Name: "local", Type: ProviderTypePlugin, Exports: []string{CapabilityLLM}, Handle: CapabilityMap{}}))

	info, err := reg.Get("local")
	require.NoError(t, err)
	assert.Equal(t, ProviderTypePlugin, info.Type)
	assert.Equal(t, []string{CapabilityLLM}, info.Exports)
	assert.Equal(t, 1, first.closed)
	assert.Len(t, reg.List(), 1)
}

func TestRegistry_UndeclaredCapabilityIsNotFound(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	require.NoError(t, reg.Register(ProviderInfo{
		Name:    "local",
		Exports: []string{CapabilityEmbeddings},
		Handle: CapabilityMap{
			CapabilityEmbeddings: hashEmbeddings(),
			CapabilityLLM:        LLMFactory(nil),
		},
	}))

	_, err := reg.ResolveCapability("local", CapabilityLLM)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	handle, err := reg.ResolveCapability("local", CapabilityEmbeddings)
	require.NoError(t, err)
	assert.NotNil(t, handle)

	_, err = reg.ResolveCapability("missing", CapabilityEmbeddings)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestRegistry_DeclaredButMissingCapability(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	require.NoError(t, reg.Register(ProviderInfo{Name: "half", Exports: []string{CapabilityVectorDB}, Handle: CapabilityMap{}}))
	_, err := reg.ResolveCapability("half", CapabilityVectorDB)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotImplemented))
}

func TestRegistry_TypedResolution(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	require.NoError(t, reg.Register(ProviderInfo{
		Name:    "odd",
		Exports: []string{CapabilityEmbeddings, CapabilityLLM},
		Handle: CapabilityMap{
			CapabilityEmbeddings: hashEmbeddings(),
			CapabilityLLM:        "not a factory",
		},
	}))

	factory, err := reg.Embeddings("odd")
	require.NoError(t, err)
	embedder, err := factory(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, embedder.Dimensions())

	_, err = reg.LLM("odd")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidProviderConfig))

	_, err = reg.VectorDB("odd")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func writePlugin(t *testing.T, root, name, manifest string, script string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644))
	if script != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte(script), 0o755))
	}
	return dir
}

func TestRegistry_RegisterFromDirectoryCollectsFailures(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "a-broken-json", `{"name": `, "")
	writePlugin(t, root, "b-no-command", `{"name": "b", "exports": ["llm-factory"]}`, "")
	writePlugin(t, root, "c-bad-export", `{"name": "c", "command": "run.sh", "exports": ["vectordb-factory"]}`, "")
	writePlugin(t, root, "d-exits", `{"name": "d", "command": "run.sh", "exports": ["llm-factory"]}`,
		"#!/bin/sh\necho starting\nexit 1\n")
	writePlugin(t, root, "e-checksum", `{"name": "e", "command": "run.sh", "exports": ["llm-factory"], "checksum": "00"}`,
		"#!/bin/sh\necho READY\n")

	reg := NewRegistry(zap.NewNop())
	failures := reg.RegisterFromDirectory(context.Background(), root, LoadOptions{StartTimeout: 5 * time.Second})
	require.Len(t, failures, 5)
	for _, f := range failures {
		assert.True(t, apperrors.HasCode(f.Err, apperrors.ErrCodeInvalidProviderConfig), f.Dir)
	}
	assert.Equal(t, filepath.Join(root, "a-broken-json"), failures[0].Dir)
	assert.Empty(t, reg.List())
}

func TestRegistry_RegisterFromMissingDirectory(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	failures := reg.RegisterFromDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"), LoadOptions{})
	assert.Empty(t, failures)
}

func TestManifest_CommandPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin"), []byte("x"), 0o755))
	m := &Manifest{Command: "bin"}
	assert.Equal(t, filepath.Join(dir, "bin"), m.CommandPath(dir))
	m = &Manifest{Command: "python3"}
	assert.Equal(t, "python3", m.CommandPath(dir))
	m = &Manifest{Command: "/usr/bin/env"}
	assert.Equal(t, "/usr/bin/env", m.CommandPath(dir))
}
