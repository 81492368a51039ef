package plugins

import (
	"context"

	"github.com/aihub/corpus-go/internal/config"
	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/knowledge"
	"github.com/aihub/corpus-go/internal/rag"
)

// 能力名称
const (
	CapabilityEmbeddings = "embeddings-factory"
	CapabilityVectorDB   = "vectordb-factory"
	CapabilityLLM        = "llm-factory"
)

// EmbeddingsFactory 按语料库配置创建embedder
type EmbeddingsFactory func(ctx context.Context, cfg *config.CorpusConfig) (knowledge.Embedder, error)

// VectorDBFactory 按语料库配置创建向量存储
type VectorDBFactory func(ctx context.Context, cfg *config.CorpusConfig, embedder knowledge.Embedder) (knowledge.VectorStore, error)

// LLMFactory 按语料库配置创建语言模型
type LLMFactory func(ctx context.Context, cfg *config.CorpusConfig) (rag.LanguageModel, error)

// Embeddings 解析embeddings-factory
func (r *Registry) Embeddings(provider string) (EmbeddingsFactory, error) {
	handle, err := r.ResolveCapability(provider, CapabilityEmbeddings)
	if err != nil {
		return nil, err
	}
	f, ok := handle.(EmbeddingsFactory)
	if !ok {
		return nil, apperrors.NewInvalidProviderConfig("provider %s: %s has type %T", provider, CapabilityEmbeddings, handle)
	}
	return f, nil
}

// VectorDB 解析vectordb-factory
func (r *Registry) VectorDB(provider string) (VectorDBFactory, error) {
	handle, err := r.ResolveCapability(provider, CapabilityVectorDB)
	if err != nil {
		return nil, err
	}
	f, ok := handle.(VectorDBFactory)
	if !ok {
		return nil, apperrors.NewInvalidProviderConfig("provider %s: %s has type %T", provider, CapabilityVectorDB, handle)
	}
	return f, nil
}

// LLM 解析llm-factory
func (r *Registry) LLM(provider string) (LLMFactory, error) {
	handle, err := r.ResolveCapability(provider, CapabilityLLM)
	if err != nil {
		return nil, err
	}
	f, ok := handle.(LLMFactory)
	if !ok {
		return nil, apperrors.NewInvalidProviderConfig("provider %s: %s has type %T", provider, CapabilityLLM, handle)
	}
	return f, nil
}
