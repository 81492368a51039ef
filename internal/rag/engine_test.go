package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/knowledge"
)

// MockLanguageModel 模拟语言模型
type MockLanguageModel struct {
	mock.Mock
}

func (m *MockLanguageModel) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// MockRetriever 模拟检索
type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, text string, k int) ([]knowledge.SearchMatch, error) {
	args := m.Called(ctx, text, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]knowledge.SearchMatch), args.Error(1)
}

func match(docSet, source, content string) knowledge.SearchMatch {
	return knowledge.SearchMatch{
		ID:      source,
		Content: content,
		Metadata: map[string]string{
			knowledge.MetadataDocSet: docSet,
			knowledge.MetadataSource: source,
		},
	}
}

func TestConversation_SendPromptWithSources(t *testing.T) {
	retriever := new(MockRetriever)
	model := new(MockLanguageModel)
	hits := []knowledge.SearchMatch{
		match("manuals", "/m/router.txt", "Hold reset for ten seconds."),
		match("faq", "/f/billing.txt", "Invoices go out monthly."),
	}
	retriever.On("Retrieve", mock.Anything, "how to reset?", 2).Return(hits, nil).Once()
	model.On("Generate", mock.Anything, GenerateRequest{
		Prompt:  "how to reset?",
		Context: []string{"Hold reset for ten seconds.", "Invoices go out monthly."},
		Memory:  []Turn{},
	}).Return("Hold the button.", nil).Once()

	engine := NewEngine(retriever, model, EngineOptions{})
	defer engine.Close()

	answer, err := engine.Conversation("c1").SendPrompt(context.Background(), "how to reset?", true, 2)
	require.NoError(t, err)
	assert.Equal(t, "Hold the button.", answer.Text)
	assert.Equal(t, "Hold the button.\n\ndoc-set: manuals, source: /m/router.txt\ndoc-set: faq, source: /f/billing.txt", answer.Formatted)
	assert.Len(t, answer.Sources, 2)

	retriever.AssertExpectations(t)
	model.AssertExpectations(t)
}

func TestConversation_MemoryFeedsRetrievalAndGeneration(t *testing.T) {
	retriever := new(MockRetriever)
	model := new(MockLanguageModel)
	retriever.On("Retrieve", mock.Anything, "first question", DefaultContextSize).Return([]knowledge.SearchMatch{}, nil).Once()
	retriever.On("Retrieve", mock.Anything, "first question\nand then?", DefaultContextSize).Return([]knowledge.SearchMatch{}, nil).Once()
	model.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerateRequest) bool {
		return req.Prompt == "first question" && len(req.Memory) == 0
	})).Return("first answer", nil).Once()
	model.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerateRequest) bool {
		return req.Prompt == "and then?" && len(req.Memory) == 1 && req.Memory[0].Answer == "first answer"
	})).Return("second answer", nil).Once()

	engine := NewEngine(retriever, model, EngineOptions{})
	defer engine.Close()
	conv := engine.Conversation("c1")
	ctx := context.Background()

	answer, err := conv.SendPrompt(ctx, "first question", false, 0)
	require.NoError(t, err)
	assert.Equal(t, "first answer", answer.Formatted)

	_, err = conv.SendPrompt(ctx, "and then?", false, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, conv.TurnCount())
	assert.Equal(t, []Turn{{"first question", "first answer"}, {"and then?", "second answer"}}, conv.History())
	assert.Equal(t, StateIdle, conv.State())

	retriever.AssertExpectations(t)
	model.AssertExpectations(t)
}

func TestConversation_ProviderFailureKeepsMemory(t *testing.T) {
	retriever := new(MockRetriever)
	model := new(MockLanguageModel)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]knowledge.SearchMatch{}, nil)
	model.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerateRequest) bool { return req.Prompt == "ok" })).
		Return("fine", nil)
	model.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerateRequest) bool { return req.Prompt == "boom" })).
		Return("", errors.New("rate limited"))

	engine := NewEngine(retriever, model, EngineOptions{})
	defer engine.Close()
	conv := engine.Conversation("c1")
	ctx := context.Background()

	_, err := conv.SendPrompt(ctx, "ok", false, 0)
	require.NoError(t, err)

	_, err = conv.SendPrompt(ctx, "boom", false, 0)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeProviderCall))
	assert.True(t, apperrors.GetAppError(err).Recoverable())
	assert.Equal(t, []Turn{{"ok", "fine"}}, conv.History())
}

func TestConversation_RecordFailureKeepsMemory(t *testing.T) {
	retriever := new(MockRetriever)
	model := new(MockLanguageModel)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]knowledge.SearchMatch{}, nil)
	model.On("Generate", mock.Anything, mock.Anything).Return("fine", nil)

	engine := NewEngine(retriever, model, EngineOptions{})
	defer engine.Close()
	conv := engine.Conversation("c1")
	ctx := context.Background()

	var recorded []string
	record := func(answer *Answer) error {
		recorded = append(recorded, answer.Text)
		return nil
	}
	_, err := conv.SendPromptRecorded(ctx, "first", false, 0, record)
	require.NoError(t, err)

	_, err = conv.SendPromptRecorded(ctx, "second", false, 0, func(*Answer) error {
		return apperrors.NewDatabaseError("insert interaction", errors.New("disk full"))
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseError))
	assert.Equal(t, []Turn{{"first", "fine"}}, conv.History())
	assert.Equal(t, 1, conv.TurnCount())
	assert.Equal(t, []string{"fine"}, recorded)
}

func TestStateless_RecordFailure(t *testing.T) {
	retriever := new(MockRetriever)
	model := new(MockLanguageModel)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]knowledge.SearchMatch{}, nil)
	model.On("Generate", mock.Anything, mock.Anything).Return("fine", nil)

	s := NewStateless(retriever, model, EngineOptions{})
	answer, err := s.AskRecorded(context.Background(), "q", false, 0, func(*Answer) error {
		return errors.New("store closed")
	})
	assert.Nil(t, answer)
	assert.EqualError(t, err, "store closed")
}

func TestConversation_RetrievalFailure(t *testing.T) {
	retriever := new(MockRetriever)
	model := new(MockLanguageModel)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	engine := NewEngine(retriever, model, EngineOptions{})
	defer engine.Close()

	_, err := engine.Conversation("c1").SendPrompt(context.Background(), "q", false, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeProviderCall))
	model.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestConversation_TurnsRunInSubmissionOrder(t *testing.T) {
	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]knowledge.SearchMatch{}, nil)
	model := &recordingModel{}

	engine := NewEngine(retriever, model, EngineOptions{})
	defer engine.Close()
	conv := engine.Conversation("c1")

	for i := 0; i < 5; i++ {
		_, err := conv.SendPrompt(context.Background(), fmt.Sprintf("q%d", i), false, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"q0", "q1", "q2", "q3", "q4"}, model.prompts)
	for i, turn := range conv.History() {
		assert.Equal(t, fmt.Sprintf("q%d", i), turn.Question)
	}
}

func TestConversation_ConcurrentCallersSerialized(t *testing.T) {
	retriever := new(MockRetriever)
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return([]knowledge.SearchMatch{}, nil)
	model := &recordingModel{}

	engine := NewEngine(retriever, model, EngineOptions{})
	defer engine.Close()
	conv := engine.Conversation("c1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := conv.SendPrompt(context.Background(), fmt.Sprintf("q%d", i), false, 0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, conv.TurnCount())
	history := conv.History()
	require.Len(t, history, 8)
	for i, turn := range history {
		assert.Equal(t, model.prompts[i], turn.Question)
	}
}

func TestConversation_Cancelled(t *testing.T) {
	retriever := new(MockRetriever)
	model := new(MockLanguageModel)
	engine := NewEngine(retriever, model, EngineOptions{})
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Conversation("c1").SendPrompt(ctx, "q", false, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCancelled))
	retriever.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_ClosedConversation(t *testing.T) {
	engine := NewEngine(new(MockRetriever), new(MockLanguageModel), EngineOptions{})
	conv := engine.Conversation("c1")
	assert.Same(t, conv, engine.Conversation("c1"))
	engine.Close()

	_, err := conv.SendPrompt(context.Background(), "q", false, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParameters))
}

func TestStateless_NoMemory(t *testing.T) {
	retriever := new(MockRetriever)
	model := new(MockLanguageModel)
	retriever.On("Retrieve", mock.Anything, "q", 4).Return([]knowledge.SearchMatch{match("s", "/a", "text")}, nil).Twice()
	model.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerateRequest) bool { return len(req.Memory) == 0 })).
		Return("a", nil).Twice()

	stateless := NewStateless(retriever, model, EngineOptions{})
	for i := 0; i < 2; i++ {
		answer, err := stateless.Ask(context.Background(), "q", false, 4)
		require.NoError(t, err)
		assert.Equal(t, "a", answer.Formatted)
	}
	model.AssertExpectations(t)
}

func TestMemory_MaxTurns(t *testing.T) {
	m := NewMemory(2)
	m.Append(Turn{Question: "1"})
	m.Append(Turn{Question: "2"})
	m.Append(Turn{Question: "3"})
	assert.Equal(t, []Turn{{Question: "2"}, {Question: "3"}}, m.Turns())

	unbounded := NewMemory(0)
	for i := 0; i < 100; i++ {
		unbounded.Append(Turn{})
	}
	assert.Equal(t, 100, unbounded.Len())
}

type recordingModel struct {
	mu      sync.Mutex
	prompts []string
}

func (m *recordingModel) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, req.Prompt)
	return "answer to " + req.Prompt, nil
}

func TestConversation_Restore(t *testing.T) {
	engine := NewEngine(new(MockRetriever), new(MockLanguageModel), EngineOptions{MaxTurns: 2})
	defer engine.Close()

	c := engine.Conversation("restored")
	turns := []Turn{{Question: "q1", Answer: "a1"}, {Question: "q2", Answer: "a2"}, {Question: "q3", Answer: "a3"}}
	require.True(t, c.Restore(turns))
	assert.Equal(t, turns[1:], c.History())
	assert.Equal(t, 3, c.TurnCount())

	assert.False(t, c.Restore([]Turn{{Question: "x", Answer: "y"}}))
	assert.Equal(t, turns[1:], c.History())
}
