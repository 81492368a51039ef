package di

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/corpus-go/internal/config"
	"github.com/aihub/corpus-go/internal/database"
	"github.com/aihub/corpus-go/internal/kafka"
	"github.com/aihub/corpus-go/internal/knowledge"
	"github.com/aihub/corpus-go/internal/metrics"
	"github.com/aihub/corpus-go/internal/plugins"
	"github.com/aihub/corpus-go/internal/providers"
	"github.com/aihub/corpus-go/internal/rag"
	"github.com/aihub/corpus-go/internal/scripts"
	"github.com/aihub/corpus-go/internal/services"
	"github.com/aihub/corpus-go/internal/storage"
)

// registerProviders 注册所有依赖提供者
func (c *Container) registerProviders(opts Options) error {
	constructors := []interface{}{
		func() *config.CorpusConfig { return opts.Config },
		func() *zap.Logger { return opts.Logger },
		func() *metrics.Collector { return opts.Metrics },
		c.provideRegistry,
		c.provideStateDB,
		c.provideEmbedder,
		c.provideVectorStore,
		c.provideLanguageModel,
		providePipeline,
		c.provideEngine,
		c.providePublisher,
		c.provideMirror,
		services.NewSessionService,
		services.NewAnnotationService,
		services.NewKeyValueService,
		c.provideScripts,
	}
	for _, constructor := range constructors {
		if err := c.dig.Provide(constructor); err != nil {
			return fmt.Errorf("di: %w", err)
		}
	}
	return nil
}

// provideRegistry 内置provider加插件目录
func (c *Container) provideRegistry(cfg *config.CorpusConfig, log *zap.Logger) (*plugins.Registry, error) {
	reg := plugins.NewRegistry(log.Named("plugins"))
	if err := providers.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	c.onClose(reg.Close)

	dir := cfg.ResolvePath(cfg.Plugins.Dir)
	failures := reg.RegisterFromDirectory(c.ctx, dir, plugins.LoadOptions{StartTimeout: cfg.Plugins.StartTimeout})
	if len(failures) > 0 {
		log.Warn("some plugins failed to load", zap.Int("failures", len(failures)), zap.String("dir", dir))
	}
	return reg, nil
}

// provideStateDB 迁移并打开会话数据库
func (c *Container) provideStateDB(cfg *config.CorpusConfig, log *zap.Logger, collector *metrics.Collector) (*gorm.DB, error) {
	dsn := cfg.StateDSN()
	migrateLog := logrus.New()
	migrateLog.SetLevel(logrus.WarnLevel)
	if err := database.Migrate(dsn, migrateLog); err != nil {
		return nil, err
	}

	db, err := database.Open(dsn, database.Options{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		database.Close(db)
		return nil, err
	}
	if err := database.NewHealthChecker(sqlDB, migrateLog).WaitForHealthy(c.ctx); err != nil {
		database.Close(db)
		return nil, err
	}
	collector.CollectDBStats(sqlDB)
	c.onClose(func() error { return database.Close(db) })
	log.Debug("state database ready", zap.String("dialect", database.Dialect(dsn)))
	return db, nil
}

func (c *Container) provideEmbedder(cfg *config.CorpusConfig, reg *plugins.Registry) (knowledge.Embedder, error) {
	factory, err := reg.Embeddings(cfg.EmbeddingsProvider())
	if err != nil {
		return nil, err
	}
	embedder, err := factory(c.ctx, cfg)
	if err != nil {
		return nil, err
	}
	return knowledge.NewCachedEmbedder(embedder, cfg.Knowledge.EmbeddingCacheTTL), nil
}

func (c *Container) provideVectorStore(cfg *config.CorpusConfig, reg *plugins.Registry, embedder knowledge.Embedder) (knowledge.VectorStore, error) {
	factory, err := reg.VectorDB(cfg.Main.VectorDB)
	if err != nil {
		return nil, err
	}
	store, err := factory(c.ctx, cfg, embedder)
	if err != nil {
		return nil, err
	}
	c.onClose(store.Close)
	return store, nil
}

func (c *Container) provideLanguageModel(cfg *config.CorpusConfig, reg *plugins.Registry) (rag.LanguageModel, error) {
	factory, err := reg.LLM(cfg.Main.LLM)
	if err != nil {
		return nil, err
	}
	return factory(c.ctx, cfg)
}

func providePipeline(cfg *config.CorpusConfig, store knowledge.VectorStore, embedder knowledge.Embedder, log *zap.Logger, collector *metrics.Collector) *knowledge.Pipeline {
	return knowledge.NewPipeline(store, embedder, knowledge.PipelineOptions{
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
		MaxParallel:  cfg.Knowledge.MaxParallel,
		EmbedBatch:   cfg.Knowledge.EmbedBatch,
		Parsers:      knowledge.NewParserSet(cfg.Knowledge.BinaryParsers),
		Logger:       log.Named("pipeline"),
		Observer:     collector,
	})
}

func (c *Container) provideEngine(cfg *config.CorpusConfig, pipeline *knowledge.Pipeline, model rag.LanguageModel, log *zap.Logger, collector *metrics.Collector) *rag.Engine {
	engine := rag.NewEngine(pipeline, model, rag.EngineOptions{
		ContextSize: cfg.Conversation.ContextSize,
		MaxTurns:    cfg.Conversation.MemoryMaxTurns,
		Logger:      log.Named("rag"),
		Observer:    collector,
	})
	c.onClose(func() error {
		engine.Close()
		return nil
	})
	return engine
}

// providePublisher kafka未启用时返回nil
func (c *Container) providePublisher(cfg *config.CorpusConfig, log *zap.Logger) (services.InteractionPublisher, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Main.Name, log.Named("kafka"))
	if err != nil {
		return nil, err
	}
	c.onClose(producer.Close)
	return producer, nil
}

// provideMirror minio未启用时返回nil
func (c *Container) provideMirror(cfg *config.CorpusConfig, log *zap.Logger) (services.AnnotationMirror, error) {
	if !cfg.MinIO.Enabled {
		return nil, nil
	}
	mirror, err := storage.NewAnnotationMirror(storage.MirrorOptions{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
		Prefix:    cfg.Main.Name,
	}, log.Named("minio"))
	if err != nil {
		return nil, err
	}
	return mirror, nil
}

func (c *Container) provideScripts(cfg *config.CorpusConfig, log *zap.Logger) (*scripts.Catalog, error) {
	catalog := scripts.NewCatalog(cfg.ScriptsDir(), log.Named("scripts"))
	if err := catalog.Scan(); err != nil {
		return nil, err
	}
	if cfg.Scripts.Watch {
		if err := catalog.Watch(c.ctx); err != nil {
			return nil, err
		}
		c.onClose(catalog.Close)
	}
	return catalog, nil
}
