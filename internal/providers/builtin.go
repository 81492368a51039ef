package providers

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aihub/corpus-go/internal/config"
	"github.com/aihub/corpus-go/internal/database"
	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/knowledge"
	"github.com/aihub/corpus-go/internal/plugins"
	"github.com/aihub/corpus-go/internal/rag"
)

// 内置provider名称
const (
	Local         = "local"
	Memory        = "memory"
	OpenAI        = "openai"
	Redis         = "redis"
	Milvus        = "milvus"
	Qdrant        = "qdrant"
	Elasticsearch = "elasticsearch"
)

// DefaultLocalVectorPath local向量库相对语料库目录的默认位置
const DefaultLocalVectorPath = "vectordb/chunks.db"

// RegisterBuiltins 注册全部内置provider
func RegisterBuiltins(reg *plugins.Registry) error {
	builtins := []plugins.ProviderInfo{
		{
			Name:    Local,
			Exports: []string{plugins.CapabilityEmbeddings, plugins.CapabilityVectorDB, plugins.CapabilityLLM},
			Handle: plugins.CapabilityMap{
				plugins.CapabilityEmbeddings: plugins.EmbeddingsFactory(localEmbeddings),
				plugins.CapabilityVectorDB:   plugins.VectorDBFactory(localVectorDB),
				plugins.CapabilityLLM:        plugins.LLMFactory(localLLM),
			},
		},
		{
			Name:    Memory,
			Exports: []string{plugins.CapabilityVectorDB},
			Handle: plugins.CapabilityMap{
				plugins.CapabilityVectorDB: plugins.VectorDBFactory(memoryVectorDB),
			},
		},
		{
			Name:    OpenAI,
			Exports: []string{plugins.CapabilityEmbeddings, plugins.CapabilityLLM},
			Handle: plugins.CapabilityMap{
				plugins.CapabilityEmbeddings: plugins.EmbeddingsFactory(openAIEmbeddings),
				plugins.CapabilityLLM:        plugins.LLMFactory(openAILLM),
			},
		},
		vectorOnly(Redis, redisVectorDB),
		vectorOnly(Milvus, milvusVectorDB),
		vectorOnly(Qdrant, qdrantVectorDB),
		vectorOnly(Elasticsearch, elasticVectorDB),
	}
	for _, info := range builtins {
		info.Type = plugins.ProviderTypeBuiltin
		if err := reg.Register(info); err != nil {
			return err
		}
	}
	return nil
}

func vectorOnly(name string, f plugins.VectorDBFactory) plugins.ProviderInfo {
	return plugins.ProviderInfo{
		Name:    name,
		Exports: []string{plugins.CapabilityVectorDB},
		Handle:  plugins.CapabilityMap{plugins.CapabilityVectorDB: f},
	}
}

func intSetting(cfg *config.CorpusConfig, section, key string, def int) (int, error) {
	raw := cfg.Setting(section, key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidConfigEntry("%s.%s must be an integer, got %q", section, key, raw)
	}
	return v, nil
}

func boolSetting(cfg *config.CorpusConfig, section, key string, def bool) (bool, error) {
	raw := cfg.Setting(section, key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.NewInvalidConfigEntry("%s.%s must be a boolean, got %q", section, key, raw)
	}
	return v, nil
}

func durationSetting(cfg *config.CorpusConfig, section, key string, def time.Duration) (time.Duration, error) {
	raw := cfg.Setting(section, key, "")
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, apperrors.NewInvalidConfigEntry("%s.%s must be a duration, got %q", section, key, raw)
	}
	return v, nil
}

func requireDimensions(name string, embedder knowledge.Embedder) (int, error) {
	if embedder == nil || embedder.Dimensions() <= 0 {
		return 0, apperrors.NewInvalidConfigEntry("%s vector store needs an embedder with known dimensions", name)
	}
	return embedder.Dimensions(), nil
}

func localEmbeddings(_ context.Context, cfg *config.CorpusConfig) (knowledge.Embedder, error) {
	dims, err := intSetting(cfg, Local, "dimensions", knowledge.DefaultHashDimensions)
	if err != nil {
		return nil, err
	}
	return knowledge.NewHashEmbedder(dims), nil
}

// localVectorDB 语料库目录下的SQLite向量库，local.path也可以是postgres DSN
func localVectorDB(ctx context.Context, cfg *config.CorpusConfig, _ knowledge.Embedder) (knowledge.VectorStore, error) {
	path := cfg.Setting(Local, "path", DefaultLocalVectorPath)
	if database.Dialect(path) == database.DialectSQLite {
		path = cfg.ResolvePath(filepath.FromSlash(path))
	}
	db, err := database.Open(path, database.Options{})
	if err != nil {
		return nil, apperrors.NewInvalidConfigEntry("cannot open local vector store %s", path).WithCause(err)
	}
	store := knowledge.NewDatabaseVectorStore(db, true)
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func localLLM(_ context.Context, cfg *config.CorpusConfig) (rag.LanguageModel, error) {
	n, err := intSetting(cfg, Local, "max-sentences", 3)
	if err != nil {
		return nil, err
	}
	return rag.NewExtractiveModel(n), nil
}

func memoryVectorDB(context.Context, *config.CorpusConfig, knowledge.Embedder) (knowledge.VectorStore, error) {
	return knowledge.NewMemoryVectorStore(), nil
}

func openAIEmbeddings(_ context.Context, cfg *config.CorpusConfig) (knowledge.Embedder, error) {
	embedder, err := knowledge.NewOpenAIEmbedder(knowledge.OpenAIOptions{
		APIKey:  cfg.Setting(OpenAI, "api-key", ""),
		BaseURL: cfg.Setting(OpenAI, "base-url", ""),
		Model:   cfg.Setting(OpenAI, "embedding-model", ""),
	})
	if err != nil {
		return nil, err
	}
	return embedder, nil
}

func openAILLM(_ context.Context, cfg *config.CorpusConfig) (rag.LanguageModel, error) {
	temperature := float32(0)
	if raw := cfg.Setting(OpenAI, "temperature", ""); raw != "" {
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, apperrors.NewInvalidConfigEntry("openai.temperature must be a number, got %q", raw)
		}
		temperature = float32(v)
	}
	model, err := rag.NewOpenAIChatModel(rag.OpenAIChatOptions{
		APIKey:      cfg.Setting(OpenAI, "api-key", ""),
		BaseURL:     cfg.Setting(OpenAI, "base-url", ""),
		Model:       cfg.Setting(OpenAI, "model", ""),
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}
	return model, nil
}

func redisVectorDB(ctx context.Context, cfg *config.CorpusConfig, embedder knowledge.Embedder) (knowledge.VectorStore, error) {
	dims, err := requireDimensions(Redis, embedder)
	if err != nil {
		return nil, err
	}
	db, err := intSetting(cfg, Redis, "db", 0)
	if err != nil {
		return nil, err
	}
	store, err := knowledge.NewRedisVectorStore(ctx, knowledge.RedisOptions{
		Addr:       cfg.Setting(Redis, "addr", "localhost:6379"),
		Password:   cfg.Setting(Redis, "password", ""),
		DB:         db,
		IndexName:  cfg.Setting(Redis, "index", "corpus_"+sanitize(cfg.Main.Name)),
		KeyPrefix:  cfg.Setting(Redis, "prefix", "corpus:"+sanitize(cfg.Main.Name)+":"),
		Dimensions: dims,
	})
	if err != nil {
		return nil, connectError(Redis, err)
	}
	return store, nil
}

func milvusVectorDB(ctx context.Context, cfg *config.CorpusConfig, embedder knowledge.Embedder) (knowledge.VectorStore, error) {
	dims, err := requireDimensions(Milvus, embedder)
	if err != nil {
		return nil, err
	}
	useTLS, err := boolSetting(cfg, Milvus, "use-tls", false)
	if err != nil {
		return nil, err
	}
	timeout, err := durationSetting(cfg, Milvus, "timeout", 10*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := knowledge.NewMilvusVectorStore(ctx, knowledge.MilvusOptions{
		Address:    cfg.Setting(Milvus, "address", "localhost:19530"),
		Username:   cfg.Setting(Milvus, "username", ""),
		Password:   cfg.Setting(Milvus, "password", ""),
		Database:   cfg.Setting(Milvus, "database", ""),
		Collection: cfg.Setting(Milvus, "collection", "corpus_"+sanitize(cfg.Main.Name)),
		Dimensions: dims,
		UseTLS:     useTLS,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, connectError(Milvus, err)
	}
	return store, nil
}

func qdrantVectorDB(ctx context.Context, cfg *config.CorpusConfig, embedder knowledge.Embedder) (knowledge.VectorStore, error) {
	dims, err := requireDimensions(Qdrant, embedder)
	if err != nil {
		return nil, err
	}
	useTLS, err := boolSetting(cfg, Qdrant, "use-tls", false)
	if err != nil {
		return nil, err
	}
	timeout, err := durationSetting(cfg, Qdrant, "timeout", 10*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := knowledge.NewQdrantVectorStore(knowledge.QdrantOptions{
		Endpoint:   cfg.Setting(Qdrant, "endpoint", ""),
		APIKey:     cfg.Setting(Qdrant, "api-key", ""),
		Collection: cfg.Setting(Qdrant, "collection", "corpus_"+sanitize(cfg.Main.Name)),
		Dimensions: dims,
		Distance:   cfg.Setting(Qdrant, "distance", "cosine"),
		UseTLS:     useTLS,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, apperrors.NewInvalidConfigEntry("invalid qdrant configuration").WithCause(err)
	}
	return store, nil
}

func elasticVectorDB(ctx context.Context, cfg *config.CorpusConfig, embedder knowledge.Embedder) (knowledge.VectorStore, error) {
	dims, err := requireDimensions(Elasticsearch, embedder)
	if err != nil {
		return nil, err
	}
	var addresses []string
	for _, a := range strings.Split(cfg.Setting(Elasticsearch, "addresses", ""), ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	store, err := knowledge.NewElasticVectorStore(knowledge.ElasticOptions{
		Addresses:  addresses,
		Username:   cfg.Setting(Elasticsearch, "username", ""),
		Password:   cfg.Setting(Elasticsearch, "password", ""),
		APIKey:     cfg.Setting(Elasticsearch, "api-key", ""),
		Index:      cfg.Setting(Elasticsearch, "index", "corpus_"+sanitize(cfg.Main.Name)),
		Dimensions: dims,
	})
	if err != nil {
		return nil, apperrors.NewInvalidConfigEntry("invalid elasticsearch configuration").WithCause(err)
	}
	return store, nil
}

func connectError(provider string, err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.NewProviderCallError(provider, "connect", err)
}

// sanitize 语料库名转为索引/集合名可用的字符
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
