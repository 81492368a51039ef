package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aihub/corpus-go/internal/config"
	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/knowledge"
)

// Create 在dir下创建新语料库：corpus.ini、会话库、annotations/和scripts/，并初始化向量库
func Create(ctx context.Context, dir string, cfg *config.CorpusConfig, opts Options) (*Corpus, error) {
	if cfg == nil {
		return nil, apperrors.NewInvalidParameters("corpus config is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperrors.NewInvalidParameters("invalid corpus path %s", dir).WithCause(err)
	}
	if _, err := os.Stat(filepath.Join(abs, config.CorpusINI)); err == nil {
		return nil, apperrors.NewInvalidParameters("corpus already exists at %s", abs)
	}

	for _, sub := range []string{config.CorpusAnnotations, config.CorpusScripts} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create corpus %s: %w", abs, err)
		}
	}
	written, err := config.Write(abs, cfg)
	if err != nil {
		return nil, fmt.Errorf("create corpus %s: %w", abs, err)
	}

	c, err := open(ctx, written, opts)
	if err != nil {
		return nil, err
	}
	if initializer, ok := c.pipeline.Store().(knowledge.Initializer); ok {
		if err := initializer.Initialize(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("initialize vector store: %w", err)
		}
	}
	c.logger.Info("corpus created", zap.String("path", abs))
	return c, nil
}
