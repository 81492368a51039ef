package rag

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/aihub/corpus-go/internal/errors"
)

// OpenAIChatOptions OpenAI对话模型配置
type OpenAIChatOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// OpenAIChatModel 使用Chat Completion API
type OpenAIChatModel struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIChatModel 创建OpenAI对话模型
func NewOpenAIChatModel(opts OpenAIChatOptions) (*OpenAIChatModel, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, apperrors.NewInvalidConfigEntry("openai: api-key is required for the language model")
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &OpenAIChatModel{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: opts.Temperature,
	}, nil
}

func (m *OpenAIChatModel) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(systemTemplate, strings.Join(req.Context, "\n\n")),
	}}
	for _, t := range req.Memory {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: t.Question},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: t.Answer},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
	return m.complete(ctx, "generate", messages)
}

// Condense 把追问改写为独立问题
func (m *OpenAIChatModel) Condense(ctx context.Context, question string, memory []Turn) (string, error) {
	if len(memory) == 0 {
		return question, nil
	}
	messages := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf(condenseTemplate, formatHistory(memory), question),
	}}
	return m.complete(ctx, "condense", messages)
}

func (m *OpenAIChatModel) complete(ctx context.Context, op string, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    messages,
		Temperature: m.temperature,
	})
	if err != nil {
		return "", apperrors.NewProviderCallError("openai", op, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewProviderCallError("openai", op, fmt.Errorf("empty completion"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
