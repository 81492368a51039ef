package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aihub/corpus-go/internal/knowledge"
	"github.com/aihub/corpus-go/internal/plugins"
	"github.com/aihub/corpus-go/internal/rag"
)

// Options 插件进程对外提供的能力，Embedder和Model至少一个非nil
type Options struct {
	Name     string
	Embedder knowledge.Embedder
	Model    rag.LanguageModel
	// Ready 写READY行的位置，默认os.Stdout
	Ready io.Writer
}

// Server 把Embedder和LanguageModel适配为ProviderServer
type Server struct {
	opts Options
}

// NewServer 创建插件服务
func NewServer(opts Options) (*Server, error) {
	if opts.Name == "" {
		return nil, errors.New("plugin name is required")
	}
	if opts.Embedder == nil && opts.Model == nil {
		return nil, errors.New("plugin must provide an embedder or a language model")
	}
	return &Server{opts: opts}, nil
}

// Exports 声明的能力
func (s *Server) Exports() []string {
	var exports []string
	if s.opts.Embedder != nil {
		exports = append(exports, plugins.CapabilityEmbeddings)
	}
	if s.opts.Model != nil {
		exports = append(exports, plugins.CapabilityLLM)
	}
	return exports
}

func (s *Server) Describe(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	dims := 0
	if s.opts.Embedder != nil {
		dims = s.opts.Embedder.Dimensions()
	}
	return plugins.EncodeDescription(s.opts.Name, s.Exports(), dims)
}

func (s *Server) Embed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.opts.Embedder == nil {
		return nil, status.Error(codes.Unimplemented, "embeddings not provided")
	}
	vectors, err := s.opts.Embedder.Embed(ctx, plugins.StringsField(req, "texts"))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return plugins.EncodeVectors(vectors)
}

func (s *Server) Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.opts.Model == nil {
		return nil, status.Error(codes.Unimplemented, "language model not provided")
	}
	text, err := s.opts.Model.Generate(ctx, plugins.DecodeGenerateRequest(req))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]interface{}{"text": text})
}

// ServeListener 在lis上提供服务，ctx结束时优雅退出
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	grpcServer := grpc.NewServer()
	plugins.RegisterProviderServer(grpcServer, s)

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()
	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Serve 监听CORPUS_PLUGIN_SOCKET，就绪后输出READY
func Serve(ctx context.Context, opts Options) error {
	s, err := NewServer(opts)
	if err != nil {
		return err
	}
	socket := os.Getenv(plugins.EnvSocket)
	if socket == "" {
		return fmt.Errorf("%s is not set", plugins.EnvSocket)
	}
	_ = os.Remove(socket)
	lis, err := net.Listen("unix", socket)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socket, err)
	}
	defer os.Remove(socket)

	ready := opts.Ready
	if ready == nil {
		ready = os.Stdout
	}
	if _, err := fmt.Fprintln(ready, plugins.ReadyLine); err != nil {
		lis.Close()
		return err
	}
	return s.ServeListener(ctx, lis)
}
