package providers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aihub/corpus-go/internal/config"
	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/knowledge"
	"github.com/aihub/corpus-go/internal/plugins"
)

func newRegistry(t *testing.T) *plugins.Registry {
	t.Helper()
	reg := plugins.NewRegistry(zap.NewNop())
	require.NoError(t, RegisterBuiltins(reg))
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func writtenConfig(t *testing.T, mutate func(*config.CorpusConfig)) *config.CorpusConfig {
	t.Helper()
	cfg := config.Default("Test Corpus")
	if mutate != nil {
		mutate(cfg)
	}
	written, err := config.Write(t.TempDir(), cfg)
	require.NoError(t, err)
	return written
}

func TestRegisterBuiltins_Exports(t *testing.T) {
	reg := newRegistry(t)
	names := make([]string, 0)
	for _, info := range reg.List() {
		assert.Equal(t, plugins.ProviderTypeBuiltin, info.Type)
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{Local, Memory, OpenAI, Redis, Milvus, Qdrant, Elasticsearch}, names)

	_, err := reg.LLM(Redis)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	_, err = reg.VectorDB(OpenAI)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestLocalProvider(t *testing.T) {
	reg := newRegistry(t)
	cfg := writtenConfig(t, func(c *config.CorpusConfig) {
		c.Set(Local, "dimensions", "32")
	})
	ctx := context.Background()

	embeddings, err := reg.Embeddings(Local)
	require.NoError(t, err)
	embedder, err := embeddings(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 32, embedder.Dimensions())

	vectordb, err := reg.VectorDB(Local)
	require.NoError(t, err)
	store, err := vectordb(ctx, cfg, embedder)
	require.NoError(t, err)
	defer store.Close()
	_, err = os.Stat(filepath.Join(cfg.Dir(), filepath.FromSlash(DefaultLocalVectorPath)))
	assert.NoError(t, err)

	vecs, err := embedder.Embed(ctx, []string{"hello world"})
	require.NoError(t, err)
	require.NoError(t, store.AddChunks(ctx, []knowledge.VectorChunk{{
		ID:        "c1",
		Text:      "hello world",
		Metadata:  map[string]string{knowledge.MetadataSource: "a.txt", knowledge.MetadataDocSet: "docs"},
		Embedding: vecs[0],
		Seq:       1,
	}}))
	matches, err := store.SimilaritySearch(ctx, vecs[0], 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a.txt", matches[0].Source())

	llm, err := reg.LLM(Local)
	require.NoError(t, err)
	_, err = llm(ctx, cfg)
	require.NoError(t, err)
}

func TestLocalProvider_BadSetting(t *testing.T) {
	reg := newRegistry(t)
	cfg := writtenConfig(t, func(c *config.CorpusConfig) {
		c.Set(Local, "dimensions", "many")
	})
	embeddings, err := reg.Embeddings(Local)
	require.NoError(t, err)
	_, err = embeddings(context.Background(), cfg)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfigEntry))
}

func TestOpenAIProvider_RequiresKey(t *testing.T) {
	t.Setenv("CORPUS_OPENAI_API_KEY", "")
	reg := newRegistry(t)
	cfg := writtenConfig(t, nil)

	embeddings, err := reg.Embeddings(OpenAI)
	require.NoError(t, err)
	embedder, err := embeddings(context.Background(), cfg)
	assert.Nil(t, embedder)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfigEntry))

	llm, err := reg.LLM(OpenAI)
	require.NoError(t, err)
	model, err := llm(context.Background(), cfg)
	assert.Nil(t, model)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfigEntry))
}

func TestRemoteVectorStores_RequireDimensions(t *testing.T) {
	reg := newRegistry(t)
	cfg := writtenConfig(t, nil)
	for _, name := range []string{Redis, Milvus, Qdrant, Elasticsearch} {
		factory, err := reg.VectorDB(name)
		require.NoError(t, err)
		_, err = factory(context.Background(), cfg, &knowledge.NoopEmbedder{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfigEntry), name)
	}
}

func TestQdrantAndElasticConstructWithoutNetwork(t *testing.T) {
	reg := newRegistry(t)
	cfg := writtenConfig(t, nil)
	embedder := knowledge.NewHashEmbedder(8)
	for _, name := range []string{Qdrant, Elasticsearch} {
		factory, err := reg.VectorDB(name)
		require.NoError(t, err)
		store, err := factory(context.Background(), cfg, embedder)
		require.NoError(t, err, name)
		assert.True(t, store.Ready())
		require.NoError(t, store.Close())
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "test_corpus", sanitize("Test Corpus"))
	assert.Equal(t, "a_b_1", sanitize("a-b.1"))
	assert.Equal(t, "default", sanitize(""))
}
