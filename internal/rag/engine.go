package rag

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/knowledge"
	"github.com/aihub/corpus-go/internal/logger"
)

const DefaultContextSize = 15

// State 对话状态
type State int32

const (
	StateIdle State = iota
	StateRetrieving
	StateGenerating
)

func (s State) String() string {
	switch s {
	case StateRetrieving:
		return "retrieving"
	case StateGenerating:
		return "generating"
	default:
		return "idle"
	}
}

// PromptObserver 接收对话的计数和provider耗时
type PromptObserver interface {
	ObservePrompt(status string)
	ObserveProviderCall(provider, operation string, d time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObservePrompt(string)                              {}
func (noopObserver) ObserveProviderCall(string, string, time.Duration) {}

// Answer 一轮回答
type Answer struct {
	Text      string
	Sources   []knowledge.SearchMatch
	Formatted string
}

// EngineOptions 对话引擎配置
type EngineOptions struct {
	ContextSize int
	MaxTurns    int
	Logger      *zap.Logger
	Observer    PromptObserver
}

// Engine 管理多个对话，每个对话一个串行执行的goroutine
type Engine struct {
	retriever     Retriever
	model         LanguageModel
	opts          EngineOptions
	logger        *zap.Logger
	mu            sync.Mutex
	conversations map[string]*Conversation
	closed        bool
}

// NewEngine 创建对话引擎
func NewEngine(retriever Retriever, model LanguageModel, opts EngineOptions) *Engine {
	if opts.ContextSize <= 0 {
		opts.ContextSize = DefaultContextSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("rag")
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &Engine{
		retriever:     retriever,
		model:         model,
		opts:          opts,
		logger:        opts.Logger,
		conversations: make(map[string]*Conversation),
	}
}

// Conversation 按key取得对话，不存在时创建
func (e *Engine) Conversation(key string) *Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.conversations[key]; ok {
		return c
	}
	c := newConversation(e, key)
	if e.closed {
		c.stop()
	} else {
		go c.run()
	}
	e.conversations[key] = c
	return c
}

// Close 停止全部对话
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, c := range e.conversations {
		c.stop()
	}
}

type promptRequest struct {
	ctx         context.Context
	text        string
	showSources bool
	k           int
	record      RecordFunc
	reply       chan promptResult
}

// RecordFunc 在回答写入对话历史前调用，返回错误时历史不变
type RecordFunc func(answer *Answer) error

type promptResult struct {
	answer *Answer
	err    error
}

// Conversation 有状态对话，请求按提交顺序逐个处理
type Conversation struct {
	engine   *Engine
	key      string
	memMu    sync.Mutex
	memory   *Memory
	requests chan promptRequest
	done     chan struct{}
	stopOnce sync.Once
	state    atomic.Int32
	turns    atomic.Int64
}

func newConversation(e *Engine, key string) *Conversation {
	return &Conversation{
		engine:   e,
		key:      key,
		memory:   NewMemory(e.opts.MaxTurns),
		requests: make(chan promptRequest),
		done:     make(chan struct{}),
	}
}

// State 当前状态
func (c *Conversation) State() State {
	return State(c.state.Load())
}

// TurnCount 已完成的轮数
func (c *Conversation) TurnCount() int {
	return int(c.turns.Load())
}

// SendPrompt 提交问题并等待回答，k<=0时使用默认上下文数
func (c *Conversation) SendPrompt(ctx context.Context, text string, showSources bool, k int) (*Answer, error) {
	return c.SendPromptRecorded(ctx, text, showSources, k, nil)
}

// SendPromptRecorded 同SendPrompt，record成功后才追加到历史
func (c *Conversation) SendPromptRecorded(ctx context.Context, text string, showSources bool, k int, record RecordFunc) (*Answer, error) {
	req := promptRequest{ctx: ctx, text: text, showSources: showSources, k: k, record: record, reply: make(chan promptResult, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return nil, apperrors.NewCancelledError("send prompt", ctx.Err())
	case <-c.done:
		return nil, c.closedError()
	}

	select {
	case res := <-req.reply:
		return res.answer, res.err
	case <-ctx.Done():
		return nil, apperrors.NewCancelledError("send prompt", ctx.Err())
	}
}

func (c *Conversation) run() {
	for {
		select {
		case req := <-c.requests:
			select {
			case <-c.done:
				req.reply <- promptResult{err: c.closedError()}
				continue
			default:
			}
			answer, err := c.handle(req)
			req.reply <- promptResult{answer: answer, err: err}
		case <-c.done:
			return
		}
	}
}

func (c *Conversation) closedError() error {
	return apperrors.NewInvalidParameters("conversation %q is closed", c.key)
}

func (c *Conversation) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Conversation) handle(req promptRequest) (*Answer, error) {
	defer c.state.Store(int32(StateIdle))
	e := c.engine
	memory := c.History()

	answer, err := respond(req.ctx, e, req.text, memory, req.showSources, req.k, func(s State) {
		c.state.Store(int32(s))
	})
	if err != nil {
		e.opts.Observer.ObservePrompt("error")
		e.logger.Warn("prompt failed", zap.String("conversation", c.key), zap.Error(err))
		return nil, err
	}
	if req.record != nil {
		if err := req.record(answer); err != nil {
			e.opts.Observer.ObservePrompt("error")
			e.logger.Warn("answer not recorded", zap.String("conversation", c.key), zap.Error(err))
			return nil, err
		}
	}

	c.memMu.Lock()
	c.memory.Append(Turn{Question: req.text, Answer: answer.Text})
	c.memMu.Unlock()
	c.turns.Add(1)
	e.opts.Observer.ObservePrompt("ok")
	return answer, nil
}

// respond 检索、生成并格式化，失败时不修改历史
func respond(ctx context.Context, e *Engine, text string, memory []Turn, showSources bool, k int, setState func(State)) (*Answer, error) {
	if k <= 0 {
		k = e.opts.ContextSize
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("send prompt", err)
	}

	setState(StateRetrieving)
	query := retrievalQuery(text, memory)
	if condenser, ok := e.model.(QueryCondenser); ok && len(memory) > 0 {
		start := time.Now()
		condensed, err := condenser.Condense(ctx, text, memory)
		e.opts.Observer.ObserveProviderCall("llm", "condense", time.Since(start))
		if err != nil {
			return nil, providerError("llm", "condense", err)
		}
		query = condensed
	}

	start := time.Now()
	matches, err := e.retriever.Retrieve(ctx, query, k)
	e.opts.Observer.ObserveProviderCall("vectordb", "retrieve", time.Since(start))
	if err != nil {
		return nil, providerError("vectordb", "retrieve", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("send prompt", err)
	}
	setState(StateGenerating)
	contexts := make([]string, 0, len(matches))
	for _, m := range matches {
		contexts = append(contexts, m.Content)
	}
	start = time.Now()
	reply, err := e.model.Generate(ctx, GenerateRequest{Prompt: text, Context: contexts, Memory: memory})
	e.opts.Observer.ObserveProviderCall("llm", "generate", time.Since(start))
	if err != nil {
		return nil, providerError("llm", "generate", err)
	}

	return &Answer{
		Text:      reply,
		Sources:   matches,
		Formatted: FormatAnswer(reply, matches, showSources),
	}, nil
}

func providerError(provider, operation string, err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return apperrors.NewCancelledError(operation, err)
	}
	return apperrors.NewProviderCallError(provider, operation, err)
}

// Stateless 无历史的一次性问答
type Stateless struct {
	engine *Engine
}

// NewStateless 创建无状态问答
func NewStateless(retriever Retriever, model LanguageModel, opts EngineOptions) *Stateless {
	return &Stateless{engine: NewEngine(retriever, model, opts)}
}

// Ask 回答单个问题
func (s *Stateless) Ask(ctx context.Context, text string, showSources bool, k int) (*Answer, error) {
	return s.AskRecorded(ctx, text, showSources, k, nil)
}

// AskRecorded 同Ask，回答交给record后才算成功
func (s *Stateless) AskRecorded(ctx context.Context, text string, showSources bool, k int, record RecordFunc) (*Answer, error) {
	answer, err := respond(ctx, s.engine, text, nil, showSources, k, func(State) {})
	if err == nil && record != nil {
		err = record(answer)
	}
	if err != nil {
		s.engine.opts.Observer.ObservePrompt("error")
		return nil, err
	}
	s.engine.opts.Observer.ObservePrompt("ok")
	return answer, nil
}

// History 对话历史副本
func (c *Conversation) History() []Turn {
	c.memMu.Lock()
	defer c.memMu.Unlock()
	return c.memory.Turns()
}

// Restore 用已保存的轮次初始化历史，对话已有轮次时不做修改
func (c *Conversation) Restore(turns []Turn) bool {
	c.memMu.Lock()
	defer c.memMu.Unlock()
	if c.memory.Len() > 0 || c.turns.Load() > 0 {
		return false
	}
	for _, t := range turns {
		c.memory.Append(t)
	}
	c.turns.Add(int64(len(turns)))
	return true
}
