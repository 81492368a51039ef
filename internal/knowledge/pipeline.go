package knowledge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/logger"
)

const (
	DefaultMaxParallel = 4
	DefaultEmbedBatch  = 32
)

// IngestObserver 接收入库与检索的计数
type IngestObserver interface {
	ObserveChunks(docSet string, n int)
	ObserveIngestError(kind string)
	ObserveSearch()
}

type noopObserver struct{}

func (noopObserver) ObserveChunks(string, int)  {}
func (noopObserver) ObserveIngestError(string) {}
func (noopObserver) ObserveSearch()            {}

// PipelineOptions 入库流水线配置
type PipelineOptions struct {
	ChunkSize    int
	ChunkOverlap int
	MaxParallel  int
	EmbedBatch   int
	Parsers      *ParserSet
	Logger       *zap.Logger
	Observer     IngestObserver
}

// IngestReport 一次入库的进度，失败时也会返回
type IngestReport struct {
	DocSet         string
	EntriesTotal   int
	EntriesWritten int
	Files          []string
	Chunks         int
}

// Pipeline 文档集入库、删除、检索和列举
type Pipeline struct {
	store       VectorStore
	embedder    Embedder
	loader      *Loader
	chunker     *Chunker
	maxParallel int
	embedBatch  int
	logger      *zap.Logger
	observer    IngestObserver
	seq         atomic.Int64
}

// NewPipeline 创建入库流水线
func NewPipeline(store VectorStore, embedder Embedder, opts PipelineOptions) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.EmbedBatch <= 0 {
		opts.EmbedBatch = DefaultEmbedBatch
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("pipeline")
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}

	p := &Pipeline{
		store:       store,
		embedder:    embedder,
		loader:      NewLoader(opts.Parsers),
		chunker:     NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		maxParallel: opts.MaxParallel,
		embedBatch:  opts.EmbedBatch,
		logger:      opts.Logger,
		observer:    opts.Observer,
	}
	// 跨进程保持单调递增
	p.seq.Store(time.Now().UnixNano())
	return p
}

// Store 底层向量存储
func (p *Pipeline) Store() VectorStore {
	return p.store
}

// AddDocumentSet 按条目顺序入库，每个条目一批写入
func (p *Pipeline) AddDocumentSet(ctx context.Context, ds *DocumentSet) (*IngestReport, error) {
	report := &IngestReport{DocSet: ds.Name, EntriesTotal: len(ds.Entries)}
	for _, entry := range ds.Entries {
		if err := ctx.Err(); err != nil {
			return report, p.fail(report, apperrors.NewCancelledError("add document set", err))
		}
		if !p.loader.Supports(entry.FileType) {
			return report, p.fail(report, apperrors.NewNotImplemented("file type %s not supported yet", entry.FileType))
		}

		files, err := p.loader.Match(entry)
		if err != nil {
			return report, p.fail(report, err)
		}
		if len(files) == 0 {
			p.logger.Warn("entry matched no files",
				zap.String("doc_set", ds.Name),
				zap.String("path", entry.Path),
				zap.String("glob", entry.Glob()))
		}

		chunks, err := p.prepare(ctx, files, entry.FileType, ds.Name)
		if err != nil {
			return report, p.fail(report, err)
		}
		if err := p.write(ctx, ds.Name, chunks); err != nil {
			return report, p.fail(report, err)
		}

		report.EntriesWritten++
		report.Files = append(report.Files, files...)
		report.Chunks += len(chunks)
		p.logger.Info("entry ingested",
			zap.String("doc_set", ds.Name),
			zap.String("path", entry.Path),
			zap.Int("files", len(files)),
			zap.Int("chunks", len(chunks)))
	}
	return report, nil
}

// AddDocument 单个文件入库到指定文档集
func (p *Pipeline) AddDocument(ctx context.Context, doc *Document, docSet string) (*IngestReport, error) {
	report := &IngestReport{DocSet: docSet, EntriesTotal: 1}
	if err := ctx.Err(); err != nil {
		return report, p.fail(report, apperrors.NewCancelledError("add document", err))
	}
	if !p.loader.Supports(doc.FileType) {
		return report, p.fail(report, apperrors.NewNotImplemented("file type %s not supported yet", doc.FileType))
	}

	chunks, err := p.prepare(ctx, []string{doc.Path}, doc.FileType, docSet)
	if err != nil {
		return report, p.fail(report, err)
	}
	if len(chunks) == 0 {
		return report, p.fail(report, apperrors.NewInvalidParameters("no content found in %s", doc.Path))
	}
	if err := p.write(ctx, docSet, chunks); err != nil {
		return report, p.fail(report, err)
	}

	report.EntriesWritten = 1
	report.Files = []string{doc.Path}
	report.Chunks = len(chunks)
	return report, nil
}

// RemoveDocumentSet 删除doc-set等于name的全部分块
func (p *Pipeline) RemoveDocumentSet(ctx context.Context, name string) (int, error) {
	filter := MetadataFilter{MetadataDocSet: name}
	existing, err := p.store.ListMetadata(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		return 0, apperrors.NewInvalidParameters("document set %q not found", name)
	}
	removed, err := p.store.DeleteWhere(ctx, filter)
	if err != nil {
		return 0, err
	}
	if err := p.store.Persist(ctx); err != nil {
		return removed, err
	}
	p.logger.Info("document set removed", zap.String("doc_set", name), zap.Int("chunks", removed))
	return removed, nil
}

// Retrieve 返回与text最相近的k个分块
func (p *Pipeline) Retrieve(ctx context.Context, text string, k int) ([]SearchMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("retrieve", err)
	}
	vectors, err := p.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, asProviderError("embeddings", "embed query", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	p.observer.ObserveSearch()
	return p.store.SimilaritySearch(ctx, vectors[0], k)
}

// Search 结果格式为 "<source>\n\n<text>"
func (p *Pipeline) Search(ctx context.Context, text string, k int) ([]string, error) {
	matches, err := p.Retrieve(ctx, text, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Source()+"\n\n"+m.Content)
	}
	return out, nil
}

// List 无参数列出文档集名，allDocs列出全部来源，docSet列出该集合的来源
func (p *Pipeline) List(ctx context.Context, allDocs bool, docSet string) ([]string, error) {
	var filter MetadataFilter
	key := MetadataDocSet
	switch {
	case docSet != "":
		filter = MetadataFilter{MetadataDocSet: docSet}
		key = MetadataSource
	case allDocs:
		key = MetadataSource
	}

	metadata, err := p.store.ListMetadata(ctx, filter)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(metadata))
	out := make([]string, 0)
	for _, md := range metadata {
		v, ok := md[key]
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// prepare 并发读取、分块、向量化，结果按文件顺序排列
func (p *Pipeline) prepare(ctx context.Context, files []string, ft FileType, docSet string) ([]VectorChunk, error) {
	perFile := make([][]VectorChunk, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			chunks, err := p.prepareFile(gctx, path, ft, docSet)
			if err != nil {
				return err
			}
			perFile[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelledError("ingest", ctx.Err())
		}
		return nil, err
	}

	var out []VectorChunk
	for _, chunks := range perFile {
		for _, c := range chunks {
			c.Seq = p.seq.Add(1)
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *Pipeline) prepareFile(ctx context.Context, path string, ft FileType, docSet string) ([]VectorChunk, error) {
	doc, err := p.loader.Load(ctx, path, ft)
	if err != nil {
		return nil, err
	}
	pieces := p.chunker.Split(doc.Text)
	if len(pieces) == 0 {
		return nil, nil
	}

	chunks := make([]VectorChunk, 0, len(pieces))
	for start := 0; start < len(pieces); start += p.embedBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + p.embedBatch
		if end > len(pieces) {
			end = len(pieces)
		}
		texts := make([]string, 0, end-start)
		for _, piece := range pieces[start:end] {
			texts = append(texts, piece.Text)
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, asProviderError("embeddings", "embed chunks", err)
		}
		if len(vectors) != len(texts) {
			return nil, apperrors.NewProviderCallError("embeddings", "embed chunks",
				fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)))
		}
		for j, text := range texts {
			chunks = append(chunks, VectorChunk{
				ID:   uuid.NewString(),
				Text: text,
				Metadata: map[string]string{
					MetadataSource: doc.Source,
					MetadataDocSet: docSet,
				},
				Embedding: vectors[j],
			})
		}
	}
	return chunks, nil
}

func (p *Pipeline) write(ctx context.Context, docSet string, chunks []VectorChunk) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewCancelledError("write chunks", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := p.store.AddChunks(ctx, chunks); err != nil {
		return asProviderError("vectordb", "add chunks", err)
	}
	if err := p.store.Persist(ctx); err != nil {
		return asProviderError("vectordb", "persist", err)
	}
	p.observer.ObserveChunks(docSet, len(chunks))
	return nil
}

// fail 已有条目写入时包装为PartialIngestion
func (p *Pipeline) fail(report *IngestReport, err error) error {
	kind := string(apperrors.CodeOf(err))
	if kind == "" {
		kind = string(apperrors.ErrCodeInternal)
	}
	p.observer.ObserveIngestError(kind)
	p.logger.Error("ingestion failed",
		zap.String("doc_set", report.DocSet),
		zap.Int("entries_written", report.EntriesWritten),
		zap.Int("entries_total", report.EntriesTotal),
		zap.Error(err))
	if report.EntriesWritten == 0 {
		return err
	}
	return apperrors.NewPartialIngestion("document set %q: %d of %d entries written",
		report.DocSet, report.EntriesWritten, report.EntriesTotal).
		WithDetails(report).
		WithCause(err)
}

func asProviderError(provider, operation string, err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.NewProviderCallError(provider, operation, err)
}
