package corpus

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/aihub/corpus-go/internal/config"
	"github.com/aihub/corpus-go/internal/di"
	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/knowledge"
	"github.com/aihub/corpus-go/internal/logger"
	"github.com/aihub/corpus-go/internal/metrics"
	"github.com/aihub/corpus-go/internal/models"
	"github.com/aihub/corpus-go/internal/rag"
	"github.com/aihub/corpus-go/internal/scripts"
	"github.com/aihub/corpus-go/internal/services"
)

// AnnotationsDocSet 批注重新入库时使用的保留文档集名
const AnnotationsDocSet = "Corpusaige annotations"

// 键值表中的会话设置
const (
	keyShowSources        = "show_sources"
	keyContextSize        = "context_size"
	keyLastConversationID = "last_conversation_id"
)

// Options 打开语料库的可选项
type Options struct {
	Output  Output
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// Stateless 每个问题独立回答，不带对话历史
	Stateless bool
}

// prompter 有状态对话与无状态问答的共同接口
type prompter interface {
	SendPromptRecorded(ctx context.Context, text string, showSources bool, k int, record rag.RecordFunc) (*rag.Answer, error)
}

type statelessPrompter struct {
	*rag.Stateless
}

func (s statelessPrompter) SendPromptRecorded(ctx context.Context, text string, showSources bool, k int, record rag.RecordFunc) (*rag.Answer, error) {
	return s.AskRecorded(ctx, text, showSources, k, record)
}

// Corpus 语料库门面，前端只依赖它
type Corpus struct {
	cfg       *config.CorpusConfig
	container *di.Container
	logger    *zap.Logger

	pipeline    *knowledge.Pipeline
	engine      *rag.Engine
	sessions    *services.SessionService
	annotations *services.AnnotationService
	kv          *services.KeyValueService
	scripts     *scripts.Catalog

	promptMu       sync.Mutex
	prompter       prompter
	conversationID *uint

	mu          sync.RWMutex
	out         Output
	showSources bool
	contextSize int
}

// Open 打开path处的语料库，path可以是目录或corpus.ini
func Open(ctx context.Context, path string, opts Options) (*Corpus, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return open(ctx, cfg, opts)
}

func open(ctx context.Context, cfg *config.CorpusConfig, opts Options) (*Corpus, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Named("corpus")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Output == nil {
		opts.Output = NewConsoleOutput(nil)
	}

	container, err := di.New(ctx, di.Options{Config: cfg, Logger: opts.Logger, Metrics: opts.Metrics})
	if err != nil {
		return nil, err
	}
	c := &Corpus{
		cfg:         cfg,
		container:   container,
		logger:      opts.Logger.With(zap.String("corpus", cfg.Main.Name)),
		out:         opts.Output,
		showSources: cfg.Conversation.ShowSources,
		contextSize: cfg.Conversation.ContextSize,
	}

	err = container.Invoke(func(
		pipeline *knowledge.Pipeline,
		engine *rag.Engine,
		model rag.LanguageModel,
		sessions *services.SessionService,
		annotations *services.AnnotationService,
		kv *services.KeyValueService,
		catalog *scripts.Catalog,
	) {
		c.pipeline = pipeline
		c.engine = engine
		c.sessions = sessions
		c.annotations = annotations
		c.kv = kv
		c.scripts = catalog
		if opts.Stateless {
			c.prompter = statelessPrompter{rag.NewStateless(pipeline, model, rag.EngineOptions{
				ContextSize: cfg.Conversation.ContextSize,
				Logger:      opts.Logger.Named("rag"),
				Observer:    opts.Metrics,
			})}
		} else {
			c.prompter = engine.Conversation("session")
		}
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("open corpus %s: %w", cfg.Main.Name, err)
	}

	if err := c.loadSettings(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.logger.Info("corpus opened",
		zap.String("path", cfg.Dir()),
		zap.String("llm", cfg.Main.LLM),
		zap.String("vector_db", cfg.Main.VectorDB))
	return c, nil
}

// loadSettings 读取上次会话保存的设置
func (c *Corpus) loadSettings(ctx context.Context) error {
	var show bool
	found, err := c.kv.Get(ctx, keyShowSources, &show)
	if err != nil {
		return err
	}
	if found {
		c.showSources = show
	}
	var size int
	found, err = c.kv.Get(ctx, keyContextSize, &size)
	if err != nil {
		return err
	}
	if found && size > 0 {
		c.contextSize = size
	}
	return nil
}

// Name 语料库名
func (c *Corpus) Name() string {
	return c.cfg.Main.Name
}

// Path 语料库目录
func (c *Corpus) Path() string {
	return c.cfg.Dir()
}

// Config 语料库配置
func (c *Corpus) Config() *config.CorpusConfig {
	return c.cfg
}

// SetOutput 替换输出，nil恢复为终端输出
func (c *Corpus) SetOutput(out Output) {
	if out == nil {
		out = NewConsoleOutput(nil)
	}
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()
}

// Output 当前输出
func (c *Corpus) Output() Output {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.out
}

func (c *Corpus) ShowSources() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.showSources
}

func (c *Corpus) ContextSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.contextSize
}

// ToggleSources 切换回答是否附带来源并保存
func (c *Corpus) ToggleSources(ctx context.Context) (bool, error) {
	c.mu.Lock()
	c.showSources = !c.showSources
	show := c.showSources
	c.mu.Unlock()
	if err := c.kv.Put(ctx, keyShowSources, show); err != nil {
		return show, fmt.Errorf("toggle sources: %w", err)
	}
	return show, nil
}

// SetContextSize 设置检索的结果数并保存
func (c *Corpus) SetContextSize(ctx context.Context, n int) error {
	if n < 1 {
		return apperrors.NewInvalidParameters("context size must be positive, got %d", n)
	}
	c.mu.Lock()
	c.contextSize = n
	c.mu.Unlock()
	if err := c.kv.Put(ctx, keyContextSize, n); err != nil {
		return fmt.Errorf("set context size: %w", err)
	}
	return nil
}

// SendPrompt 回答问题并记录到会话库，返回带格式的回答
func (c *Corpus) SendPrompt(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", apperrors.NewInvalidParameters("prompt is empty")
	}
	c.promptMu.Lock()
	defer c.promptMu.Unlock()

	// 先写会话库，成功后对话历史才追加这一轮
	current := c.conversationID
	var convID uint
	answer, err := c.prompter.SendPromptRecorded(ctx, text, c.ShowSources(), c.ContextSize(), func(a *rag.Answer) error {
		id, _, err := c.sessions.AddInteraction(ctx, current, text, a.Text)
		if err != nil {
			return fmt.Errorf("record interaction: %w", err)
		}
		convID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("send prompt: %w", err)
	}
	c.conversationID = &convID
	if err := c.kv.Put(ctx, keyLastConversationID, convID); err != nil {
		c.logger.Warn("failed to remember conversation", zap.Uint("conversation_id", convID), zap.Error(err))
	}
	return answer.Formatted, nil
}

// ConversationID 当前会话写入的对话，尚未提问时为0
func (c *Corpus) ConversationID() uint {
	c.promptMu.Lock()
	defer c.promptMu.Unlock()
	if c.conversationID == nil {
		return 0
	}
	return *c.conversationID
}

// ResumeConversation 之后的问题追加到已有对话，并以它的记录作为历史
func (c *Corpus) ResumeConversation(ctx context.Context, id uint) error {
	conversation, err := c.sessions.GetConversationByID(ctx, id)
	if err != nil {
		return fmt.Errorf("resume conversation %d: %w", id, err)
	}
	turns := make([]rag.Turn, 0, len(conversation.Interactions))
	for _, i := range conversation.Interactions {
		if i.Answered() {
			turns = append(turns, rag.Turn{Question: i.HumanQuestion, Answer: *i.AIAnswer})
		}
	}

	c.promptMu.Lock()
	defer c.promptMu.Unlock()
	if _, stateless := c.prompter.(statelessPrompter); !stateless {
		conv := c.engine.Conversation("conversation-" + strconv.FormatUint(uint64(id), 10))
		conv.Restore(turns)
		c.prompter = conv
	}
	c.conversationID = &conversation.ID
	return nil
}

// ResumeLastConversation 继续上次写入的对话，没有记录时返回false
func (c *Corpus) ResumeLastConversation(ctx context.Context) (bool, error) {
	var id uint
	found, err := c.kv.Get(ctx, keyLastConversationID, &id)
	if err != nil || !found {
		return false, err
	}
	if err := c.ResumeConversation(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// AddDocSet 创建文档集并入库，部分失败时返回已写入的进度
func (c *Corpus) AddDocSet(ctx context.Context, name string, paths, types []string, recursive bool) (*knowledge.IngestReport, error) {
	ds, err := knowledge.NewDocumentSet(name, paths, types, recursive)
	if err != nil {
		return nil, fmt.Errorf("add docset %q: %w", name, err)
	}
	report, err := c.pipeline.AddDocumentSet(ctx, ds)
	if err != nil {
		return report, fmt.Errorf("add docset %q: %w", name, err)
	}
	return report, nil
}

// AddConfiguredDocSets 入库corpus.ini中data-sections声明的文档集
func (c *Corpus) AddConfiguredDocSets(ctx context.Context) ([]*knowledge.IngestReport, error) {
	var reports []*knowledge.IngestReport
	for _, name := range c.cfg.Main.DataSections {
		section, err := c.cfg.DataSection(name)
		if err != nil {
			return reports, err
		}
		report, err := c.AddDocSet(ctx, section.Name, section.Paths, section.Types, section.Recursive)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// RemoveDocSet 删除文档集的全部分块
func (c *Corpus) RemoveDocSet(ctx context.Context, name string) (int, error) {
	removed, err := c.pipeline.RemoveDocumentSet(ctx, name)
	if err != nil {
		return removed, fmt.Errorf("remove docset %q: %w", name, err)
	}
	return removed, nil
}

// AddDoc 单个文件入库到docSet
func (c *Corpus) AddDoc(ctx context.Context, path, docSet string) (*knowledge.IngestReport, error) {
	doc, err := knowledge.NewDocument(path, false)
	if err != nil {
		return nil, fmt.Errorf("add doc %q: %w", path, err)
	}
	report, err := c.pipeline.AddDocument(ctx, doc, docSet)
	if err != nil {
		return report, fmt.Errorf("add doc %q to %q: %w", path, docSet, err)
	}
	return report, nil
}

// Search 相似检索，k<=0时使用当前上下文数
func (c *Corpus) Search(ctx context.Context, text string, k int) ([]string, error) {
	if k <= 0 {
		k = c.ContextSize()
	}
	results, err := c.pipeline.Search(ctx, text, k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return results, nil
}

// ListDocs 列出文档集名或来源
func (c *Corpus) ListDocs(ctx context.Context, allDocs bool, docSet string) ([]string, error) {
	docs, err := c.pipeline.List(ctx, allDocs, docSet)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	return docs, nil
}

// AddAnnotation 保存批注、导出文件并入库到批注文档集
func (c *Corpus) AddAnnotation(ctx context.Context, title, text string) (uint, string, error) {
	id, path, err := c.annotations.AddAnnotation(ctx, c.cfg.AnnotationsDir(), title, text)
	if err != nil {
		return id, path, fmt.Errorf("annotate %q: %w", title, err)
	}
	if err := c.indexAnnotation(ctx, id, path); err != nil {
		return id, path, fmt.Errorf("annotate %q: %w", title, err)
	}
	return id, path, nil
}

// AnnotateLastAnswer 把最近一次回答保存为批注
func (c *Corpus) AnnotateLastAnswer(ctx context.Context, title string) (uint, string, error) {
	last, err := c.sessions.LastInteraction(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("annotate last answer: %w", err)
	}
	id, path, err := c.annotations.AddLinkedAnnotation(ctx, c.cfg.AnnotationsDir(), title, *last.AIAnswer, &last.ID)
	if err != nil {
		return id, path, fmt.Errorf("annotate %q: %w", title, err)
	}
	if err := c.indexAnnotation(ctx, id, path); err != nil {
		return id, path, fmt.Errorf("annotate %q: %w", title, err)
	}
	return id, path, nil
}

// indexAnnotation 入库批注文件，失败时行和文件已存在，报告为PartialPersistence
func (c *Corpus) indexAnnotation(ctx context.Context, id uint, path string) error {
	err := c.ingestAnnotation(ctx, path)
	if err == nil {
		return nil
	}
	c.logger.Error("annotation saved but not indexed",
		zap.Uint("annotation_id", id),
		zap.String("path", path),
		zap.Error(err))
	return apperrors.NewPartialPersistence("annotation %d saved but %s was not indexed", id, path).
		WithDetails(map[string]interface{}{"annotation_id": id, "path": path}).
		WithCause(err)
}

func (c *Corpus) ingestAnnotation(ctx context.Context, path string) error {
	doc, err := knowledge.NewDocument(path, false)
	if err != nil {
		return err
	}
	_, err = c.pipeline.AddDocument(ctx, doc, AnnotationsDocSet)
	return err
}

// RepairAnnotation 按数据库行重写导出文件，并替换批注文档集中该文件的分块
func (c *Corpus) RepairAnnotation(ctx context.Context, id uint) (string, error) {
	path, err := c.annotations.RepairAnnotation(ctx, c.cfg.AnnotationsDir(), id)
	if err != nil {
		return "", fmt.Errorf("repair annotation %d: %w", id, err)
	}
	doc, err := knowledge.NewDocument(path, false)
	if err != nil {
		return path, fmt.Errorf("repair annotation %d: %w", id, err)
	}
	filter := knowledge.MetadataFilter{
		knowledge.MetadataDocSet: AnnotationsDocSet,
		knowledge.MetadataSource: doc.Path,
	}
	if _, err := c.pipeline.Store().DeleteWhere(ctx, filter); err != nil {
		return path, fmt.Errorf("repair annotation %d: %w", id, err)
	}
	if _, err := c.pipeline.AddDocument(ctx, doc, AnnotationsDocSet); err != nil {
		return path, fmt.Errorf("repair annotation %d: %w", id, err)
	}
	return path, nil
}

// VerifyAnnotation 检查批注文件与记录是否一致
func (c *Corpus) VerifyAnnotation(ctx context.Context, id uint) error {
	return c.annotations.VerifyAnnotation(ctx, c.cfg.AnnotationsDir(), id)
}

// ListAnnotations 全部批注
func (c *Corpus) ListAnnotations(ctx context.Context) ([]models.Annotation, error) {
	return c.annotations.ListAnnotations(ctx)
}

// Scripts 可运行的脚本名
func (c *Corpus) Scripts() []string {
	return c.scripts.Names()
}

// RegisterScript 注册Go脚本
func (c *Corpus) RegisterScript(name string, fn scripts.Func) error {
	return c.scripts.RegisterFunc(name, fn)
}

// RunScript 运行脚本，输出写到当前Output
func (c *Corpus) RunScript(ctx context.Context, name string, args []string) (interface{}, error) {
	result, err := c.scripts.Run(ctx, name, c, c.Output(), args)
	if err != nil {
		return nil, fmt.Errorf("run script %q: %w", name, err)
	}
	return result, nil
}

func (c *Corpus) GetConversations(ctx context.Context) ([]models.Conversation, error) {
	return c.sessions.GetConversations(ctx)
}

func (c *Corpus) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	return c.sessions.GetConversationByID(ctx, id)
}

func (c *Corpus) GetInteraction(ctx context.Context, id uint) (*models.Interaction, error) {
	return c.sessions.GetInteractionByID(ctx, id)
}

// Close 释放provider、数据库和后台goroutine
func (c *Corpus) Close() error {
	return c.container.Close()
}

var _ scripts.Host = (*Corpus)(nil)
