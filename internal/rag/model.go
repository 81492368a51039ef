package rag

import (
	"context"

	"github.com/aihub/corpus-go/internal/knowledge"
)

// Turn 一轮问答
type Turn struct {
	Question string
	Answer   string
}

// GenerateRequest 生成请求：当前问题、检索到的上下文和历史
type GenerateRequest struct {
	Prompt  string
	Context []string
	Memory  []Turn
}

// LanguageModel 语言模型provider
type LanguageModel interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// QueryCondenser 可选能力：结合历史把追问改写为独立问题
type QueryCondenser interface {
	Condense(ctx context.Context, question string, memory []Turn) (string, error)
}

// Retriever 检索接口，knowledge.Pipeline实现了它
type Retriever interface {
	Retrieve(ctx context.Context, text string, k int) ([]knowledge.SearchMatch, error)
}
