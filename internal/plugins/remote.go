package plugins

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aihub/corpus-go/internal/config"
	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/knowledge"
	"github.com/aihub/corpus-go/internal/logger"
	"github.com/aihub/corpus-go/internal/rag"
)

const defaultStartTimeout = 10 * time.Second

// RemoteProvider 通过unix socket上的gRPC访问插件进程
type RemoteProvider struct {
	name       string
	exports    []string
	dimensions int
	conn       *grpc.ClientConn
	cmd        *exec.Cmd
	socketDir  string
	logger     *zap.Logger
	closeOnce  sync.Once
}

// Launch 启动插件进程，等待READY后建立连接并核对导出能力
func Launch(ctx context.Context, m *Manifest, dir string, timeout time.Duration, log *zap.Logger) (*RemoteProvider, error) {
	if timeout <= 0 {
		timeout = defaultStartTimeout
	}
	if log == nil {
		log = logger.Named("plugins")
	}
	if err := m.VerifyChecksum(dir); err != nil {
		return nil, err
	}

	// unix socket路径长度有限，放在短的临时目录中
	socketDir, err := os.MkdirTemp("", "corpus-plugin-")
	if err != nil {
		return nil, fmt.Errorf("create plugin socket dir: %w", err)
	}
	socket := filepath.Join(socketDir, uuid.NewString()[:8]+".sock")

	cmd := exec.Command(m.CommandPath(dir), m.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), EnvSocket+"="+socket)
	for k, v := range m.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(socketDir)
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		os.RemoveAll(socketDir)
		return nil, apperrors.NewInvalidProviderConfig("plugin %s: failed to start %s", m.Name, m.Command).WithCause(err)
	}

	ready := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == ReadyLine {
				ready <- nil
				for scanner.Scan() {
					log.Debug("plugin output", zap.String("plugin", m.Name), zap.String("line", scanner.Text()))
				}
				return
			}
			log.Debug("plugin output", zap.String("plugin", m.Name), zap.String("line", line))
		}
		ready <- fmt.Errorf("plugin exited before %s", ReadyLine)
	}()

	abort := func(cause error) (*RemoteProvider, error) {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		os.RemoveAll(socketDir)
		return nil, apperrors.NewInvalidProviderConfig("plugin %s failed to start", m.Name).WithCause(cause)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-ready:
		if err != nil {
			return abort(err)
		}
	case <-timer.C:
		return abort(fmt.Errorf("no %s within %s", ReadyLine, timeout))
	case <-ctx.Done():
		return abort(ctx.Err())
	}

	remote, err := Dial(ctx, socket, log)
	if err != nil {
		return abort(err)
	}
	remote.cmd = cmd
	remote.socketDir = socketDir

	for _, e := range m.Exports {
		if !contains(remote.exports, e) {
			remote.Close()
			return nil, apperrors.NewInvalidProviderConfig("plugin %s declares %s but the process does not serve it", m.Name, e)
		}
	}
	if remote.name != m.Name {
		log.Warn("plugin name differs from manifest", zap.String("manifest", m.Name), zap.String("process", remote.name))
		remote.name = m.Name
	}
	return remote, nil
}

// Dial 连接已在运行的插件进程并调用Describe
func Dial(ctx context.Context, socket string, log *zap.Logger) (*RemoteProvider, error) {
	if log == nil {
		log = logger.Named("plugins")
	}
	conn, err := grpc.NewClient("unix://"+socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect plugin socket: %w", err)
	}
	out := new(structpb.Struct)
	in, _ := structpb.NewStruct(nil)
	if err := conn.Invoke(ctx, methodDescribe, in, out); err != nil {
		conn.Close()
		return nil, fmt.Errorf("describe plugin: %w", err)
	}
	return &RemoteProvider{
		name:       out.GetFields()["name"].GetStringValue(),
		exports:    StringsField(out, "exports"),
		dimensions: int(out.GetFields()["dimensions"].GetNumberValue()),
		conn:       conn,
		logger:     log,
	}, nil
}

// Name 插件报告的名称
func (p *RemoteProvider) Name() string {
	return p.name
}

// Capability 远端只提供embeddings和llm
func (p *RemoteProvider) Capability(name string) (interface{}, bool) {
	if !contains(p.exports, name) {
		return nil, false
	}
	switch name {
	case CapabilityEmbeddings:
		return EmbeddingsFactory(func(context.Context, *config.CorpusConfig) (knowledge.Embedder, error) {
			return &remoteEmbedder{provider: p}, nil
		}), true
	case CapabilityLLM:
		return LLMFactory(func(context.Context, *config.CorpusConfig) (rag.LanguageModel, error) {
			return &remoteModel{provider: p}, nil
		}), true
	}
	return nil, false
}

// Close 断开连接并结束插件进程
func (p *RemoteProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.conn.Close()
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(os.Interrupt)
			done := make(chan struct{})
			go func() {
				_ = p.cmd.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(3 * time.Second):
				_ = p.cmd.Process.Kill()
				<-done
			}
		}
		if p.socketDir != "" {
			os.RemoveAll(p.socketDir)
		}
	})
	return err
}

func (p *RemoteProvider) invoke(ctx context.Context, method, op string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := p.conn.Invoke(ctx, method, in, out); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelledError(op, ctx.Err())
		}
		return nil, apperrors.NewProviderCallError("plugin:"+p.name, op, err)
	}
	return out, nil
}

type remoteEmbedder struct {
	provider *RemoteProvider
}

func (e *remoteEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	in, err := EncodeEmbedRequest(texts)
	if err != nil {
		return nil, err
	}
	out, err := e.provider.invoke(ctx, methodEmbed, "embed", in)
	if err != nil {
		return nil, err
	}
	vectors, err := DecodeVectors(out)
	if err != nil {
		return nil, apperrors.NewProviderCallError("plugin:"+e.provider.name, "embed", err)
	}
	return vectors, nil
}

func (e *remoteEmbedder) Dimensions() int {
	return e.provider.dimensions
}

func (e *remoteEmbedder) Ready() bool {
	return e.provider.conn != nil
}

type remoteModel struct {
	provider *RemoteProvider
}

func (m *remoteModel) Generate(ctx context.Context, req rag.GenerateRequest) (string, error) {
	in, err := EncodeGenerateRequest(req)
	if err != nil {
		return "", err
	}
	out, err := m.provider.invoke(ctx, methodGenerate, "generate", in)
	if err != nil {
		return "", err
	}
	return out.GetFields()["text"].GetStringValue(), nil
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
