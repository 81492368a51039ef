package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/aihub/corpus-go/internal/knowledge"
	"github.com/aihub/corpus-go/internal/logger"
	"github.com/aihub/corpus-go/internal/plugins/sdk"
	"github.com/aihub/corpus-go/internal/rag"
)

// 示例外部provider：哈希向量加抽取式回答，通过unix socket提供gRPC服务。
// manifest.json 示例:
//
//	{"name": "offline", "version": "1.0.0", "exports": ["embeddings-factory", "llm-factory"], "command": "corpus-plugin"}
func main() {
	name := flag.String("name", "offline", "provider name, must match manifest.json")
	dims := flag.Int("dimensions", knowledge.DefaultHashDimensions, "embedding dimensions")
	sentences := flag.Int("max-sentences", 3, "sentences per answer")
	flag.Parse()

	// stdout留给READY握手，日志写stderr
	if err := logger.InitLogger(os.Getenv("LOG_LEVEL"), "production"); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting provider plugin", zap.String("name", *name), zap.Int("dimensions", *dims))
	err := sdk.Serve(ctx, sdk.Options{
		Name:     *name,
		Embedder: knowledge.NewHashEmbedder(*dims),
		Model:    rag.NewExtractiveModel(*sentences),
	})
	if err != nil {
		logger.Error("provider plugin stopped", zap.Error(err))
		os.Exit(1)
	}
}
