package sdk

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/knowledge"
	"github.com/aihub/corpus-go/internal/plugins"
	"github.com/aihub/corpus-go/internal/rag"
)

type failingModel struct{}

func (failingModel) Generate(context.Context, rag.GenerateRequest) (string, error) {
	return "", io.ErrUnexpectedEOF
}

func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "cps")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "p.sock")
}

func startServer(t *testing.T, opts Options) string {
	t.Helper()
	srv, err := NewServer(opts)
	require.NoError(t, err)
	socket := shortSocket(t)
	lis, err := net.Listen("unix", socket)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return socket
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Options{Embedder: knowledge.NewHashEmbedder(4)})
	assert.Error(t, err)
	_, err = NewServer(Options{Name: "x"})
	assert.Error(t, err)
}

func TestRemoteProvider_RoundTrip(t *testing.T) {
	socket := startServer(t, Options{
		Name:     "hash-plugin",
		Embedder: knowledge.NewHashEmbedder(16),
		Model:    rag.NewExtractiveModel(1),
	})
	ctx := context.Background()

	remote, err := plugins.Dial(ctx, socket, zap.NewNop())
	require.NoError(t, err)
	defer remote.Close()
	assert.Equal(t, "hash-plugin", remote.Name())

	reg := plugins.NewRegistry(zap.NewNop())
	require.NoError(t, reg.Register(plugins.ProviderInfo{
		Name:    "hash-plugin",
		Type:    plugins.ProviderTypePlugin,
		Exports: []string{plugins.CapabilityEmbeddings, plugins.CapabilityLLM},
		Handle:  remote,
	}))

	embeddings, err := reg.Embeddings("hash-plugin")
	require.NoError(t, err)
	embedder, err := embeddings(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, embedder.Dimensions())

	vectors, err := embedder.Embed(ctx, []string{"alpha beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	local, err := knowledge.NewHashEmbedder(16).Embed(ctx, []string{"alpha beta"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, local[0], vectors[0], 1e-6)

	llm, err := reg.LLM("hash-plugin")
	require.NoError(t, err)
	model, err := llm(ctx, nil)
	require.NoError(t, err)
	answer, err := model.Generate(ctx, rag.GenerateRequest{
		Prompt:  "Where do penguins live?",
		Context: []string{"Penguins live in Antarctica. Bananas are yellow."},
		Memory:  []rag.Turn{{Question: "q", Answer: "a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Penguins live in Antarctica.", answer)
}

func TestRemoteProvider_ErrorsAreProviderCalls(t *testing.T) {
	socket := startServer(t, Options{Name: "broken", Model: failingModel{}})
	ctx := context.Background()

	remote, err := plugins.Dial(ctx, socket, zap.NewNop())
	require.NoError(t, err)
	defer remote.Close()

	_, ok := remote.Capability(plugins.CapabilityEmbeddings)
	assert.False(t, ok, "embeddings are not exported by this plugin")

	handle, ok := remote.Capability(plugins.CapabilityLLM)
	require.True(t, ok)
	model, err := handle.(plugins.LLMFactory)(ctx, nil)
	require.NoError(t, err)
	_, err = model.Generate(ctx, rag.GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeProviderCall))
	assert.True(t, apperrors.GetAppError(err).Recoverable())
}

func TestServe_WritesReadyLine(t *testing.T) {
	socket := shortSocket(t)
	t.Setenv(plugins.EnvSocket, socket)

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, Options{Name: "p", Embedder: knowledge.NewHashEmbedder(4), Ready: pw})
	}()

	line, err := bufio.NewReader(pr).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, plugins.ReadyLine+"\n", line)

	remote, err := plugins.Dial(ctx, socket, zap.NewNop())
	require.NoError(t, err)
	remote.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_RequiresSocket(t *testing.T) {
	t.Setenv(plugins.EnvSocket, "")
	err := Serve(context.Background(), Options{Name: "p", Embedder: knowledge.NewHashEmbedder(4)})
	assert.Error(t, err)
}
