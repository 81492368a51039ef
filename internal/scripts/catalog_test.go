package scripts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/aihub/corpus-go/internal/errors"
)

type fakeHost struct {
	name, path string
}

func (h *fakeHost) Name() string { return h.name }
func (h *fakeHost) Path() string { return h.path }
func (h *fakeHost) SendPrompt(ctx context.Context, text string) (string, error) {
	return "answer to " + text, nil
}
func (h *fakeHost) Search(ctx context.Context, text string, k int) ([]string, error) {
	return []string{text}, nil
}
func (h *fakeHost) ListDocs(ctx context.Context, allDocs bool, docSet string) ([]string, error) {
	return nil, nil
}
func (h *fakeHost) AddAnnotation(ctx context.Context, title, text string) (uint, string, error) {
	return 1, title + ".txt", nil
}

type recordingOutput struct {
	mu    sync.Mutex
	lines []string
}

func (o *recordingOutput) Print(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, text)
}
func (o *recordingOutput) PPrint(v interface{}) { o.Print(fmt.Sprintf("%v", v)) }
func (o *recordingOutput) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = nil
}

func writeScript(t *testing.T, dir, name, body string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), mode))
}

func skipWithoutShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts require a POSIX shell")
	}
}

func TestCatalog_Scan(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "summary.sh", "#!/bin/sh\n", 0o755)
	writeScript(t, dir, "notes.txt", "not a script", 0o644)
	writeScript(t, dir, ".hidden", "#!/bin/sh\n", 0o755)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	c := NewCatalog(dir, zap.NewNop())
	require.NoError(t, c.Scan())
	assert.Equal(t, []string{"summary"}, c.Names())

	s, ok := c.Lookup("summary")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "summary.sh"), s.Path)
	assert.False(t, s.Builtin())
}

func TestCatalog_ScanMissingDir(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "missing"), zap.NewNop())
	require.NoError(t, c.Scan())
	assert.Empty(t, c.Names())
}

func TestCatalog_RunUnknown(t *testing.T) {
	c := NewCatalog(t.TempDir(), zap.NewNop())
	_, err := c.Run(context.Background(), "nope", &fakeHost{}, &recordingOutput{}, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParameters))
}

func TestCatalog_RunFunc(t *testing.T) {
	c := NewCatalog(t.TempDir(), zap.NewNop())
	require.NoError(t, c.RegisterFunc("ask", func(ctx context.Context, host Host, out Output, args []string) (interface{}, error) {
		answer, err := host.SendPrompt(ctx, args[0])
		if err != nil {
			return nil, err
		}
		out.Print(answer)
		return len(answer), nil
	}))
	require.NoError(t, c.RegisterFunc("broken", func(context.Context, Host, Output, []string) (interface{}, error) {
		return nil, errors.New("boom")
	}))
	assert.Error(t, c.RegisterFunc("", nil))

	out := &recordingOutput{}
	result, err := c.Run(context.Background(), "ask", &fakeHost{}, out, []string{"why"})
	require.NoError(t, err)
	assert.Equal(t, []string{"answer to why"}, out.lines)
	assert.Equal(t, len("answer to why"), result)

	_, err = c.Run(context.Background(), "broken", &fakeHost{}, out, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeScriptExecution))
	assert.ErrorContains(t, err, "boom")
}

func TestCatalog_RunProcess(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	writeScript(t, dir, "env.sh", "#!/bin/sh\necho \"$CORPUS_NAME\"\necho \"$CORPUS_PATH\"\necho \"$1\"\n", 0o755)
	writeScript(t, dir, "fail.sh", "#!/bin/sh\necho partial\necho bad input >&2\nexit 3\n", 0o755)

	c := NewCatalog(dir, zap.NewNop())
	require.NoError(t, c.Scan())

	host := &fakeHost{name: "demo", path: dir}
	out := &recordingOutput{}
	result, err := c.Run(context.Background(), "env", host, out, []string{"arg1"})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, []string{"demo", dir, "arg1"}, out.lines)

	out.Clear()
	_, err = c.Run(context.Background(), "fail", host, out, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeScriptExecution))
	assert.ErrorContains(t, err, "bad input")
	assert.Equal(t, []string{"partial"}, out.lines)
}

func TestCatalog_RunProcessCancelled(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	writeScript(t, dir, "slow.sh", "#!/bin/sh\nexec sleep 5\n", 0o755)

	c := NewCatalog(dir, zap.NewNop())
	require.NoError(t, c.Scan())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := c.Run(ctx, "slow", &fakeHost{path: dir}, &recordingOutput{}, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCancelled))
}

func TestCatalog_RunFuncPanic(t *testing.T) {
	c := NewCatalog(t.TempDir(), zap.NewNop())
	require.NoError(t, c.RegisterFunc("crash", func(context.Context, Host, Output, []string) (interface{}, error) {
		panic("script bug")
	}))

	var (
		result interface{}
		err    error
	)
	require.NotPanics(t, func() {
		result, err = c.Run(context.Background(), "crash", &fakeHost{}, &recordingOutput{}, nil)
	})
	assert.Nil(t, result)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeScriptExecution))
	assert.ErrorContains(t, err, "script bug")
}

func TestCatalog_RunProcessLongLine(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	// 3MB没有换行的输出，之后再输出一行
	writeScript(t, dir, "flood.sh", "#!/bin/sh\nhead -c 3145728 /dev/zero | tr '\\0' x\necho\necho done\n", 0o755)

	c := NewCatalog(dir, zap.NewNop())
	require.NoError(t, c.Scan())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := &recordingOutput{}
	_, err := c.Run(ctx, "flood", &fakeHost{path: dir}, out, nil)
	require.NoError(t, err)

	total := 0
	for _, line := range out.lines[:len(out.lines)-1] {
		assert.LessOrEqual(t, len(line), maxLineBytes)
		total += len(line)
	}
	assert.Equal(t, 3145728, total)
	assert.Equal(t, "done", out.lines[len(out.lines)-1])
}

func TestCatalog_RunProcessCancelKillsGroup(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	// 后台子进程继承stdout，只结束sh不足以关闭管道
	writeScript(t, dir, "spawn.sh", "#!/bin/sh\nsleep 30 &\necho started\nwait\n", 0o755)

	c := NewCatalog(dir, zap.NewNop())
	require.NoError(t, c.Scan())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Run(ctx, "spawn", &fakeHost{path: dir}, &recordingOutput{}, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCancelled))
	assert.Less(t, time.Since(start), pipeWaitDelay)
}

func TestLineWriter(t *testing.T) {
	out := &recordingOutput{}
	w := &lineWriter{out: out}
	_, _ = w.Write([]byte("first\r\nsec"))
	_, _ = w.Write([]byte("ond\nthird"))
	assert.Equal(t, []string{"first", "second"}, out.lines)
	w.Flush()
	assert.Equal(t, []string{"first", "second", "third"}, out.lines)
}

func TestCatalog_Watch(t *testing.T) {
	dir := t.TempDir()
	c := NewCatalog(dir, zap.NewNop())
	require.NoError(t, c.Scan())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))
	defer c.Close()

	writeScript(t, dir, "late.sh", "#!/bin/sh\n", 0o755)
	assert.Eventually(t, func() bool {
		_, ok := c.Lookup("late")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "late.sh")))
	assert.Eventually(t, func() bool {
		_, ok := c.Lookup("late")
		return !ok
	}, 3*time.Second, 20*time.Millisecond)
}
