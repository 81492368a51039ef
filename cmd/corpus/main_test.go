package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCmd(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "usage: corpus COMMAND")

	code, _, stderr = runCmd(t, "bogus")
	assert.Equal(t, exitUnknown, code)
	assert.Contains(t, stderr, `unknown command "bogus"`)

	code, _, _ = runCmd(t, "create")
	assert.Equal(t, exitUsage, code)
}

func TestRun_CorpusWorkflow(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "cats.txt"), []byte("Cats sleep most of the day. Cats purr when content."), 0o644))

	code, stdout, stderr := runCmd(t, "create", "-corpus", dir, "-name", "demo", "-log-level", "error")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, `created corpus "demo"`)

	code, stdout, stderr = runCmd(t, "add-docset", "-corpus", dir, "-log-level", "error", "-name", "pets", "-path", docs)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "pets: 1/1 entries, 1 files")

	code, stdout, _ = runCmd(t, "list", "-corpus", dir, "-log-level", "error")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "pets\n", stdout)

	code, stdout, stderr = runCmd(t, "ask", "-corpus", dir, "-log-level", "error", "-sources", "When", "do", "cats", "purr?")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "Cats purr when content.")
	assert.Contains(t, stdout, "doc-set: pets")

	code, stdout, _ = runCmd(t, "conversations", "-corpus", dir, "-log-level", "error")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "1\t")

	code, _, stderr = runCmd(t, "remove-docset", "-corpus", dir, "-log-level", "error", "-name", "missing")
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr, `remove docset "missing"`)

	code, _, stderr = runCmd(t, "run-script", "-corpus", dir, "-log-level", "error", "-v", "nope")
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr, "code: INVALID_PARAMETERS")
}

func TestRun_AnnotateVerifyRepair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "notes")
	code, _, stderr := runCmd(t, "create", "-corpus", dir, "-name", "notes", "-log-level", "error")
	require.Equal(t, exitOK, code, stderr)

	code, stdout, stderr := runCmd(t, "annotate", "-corpus", dir, "-log-level", "error", "-title", "tip", "-text", "Overlap keeps context.")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "annotation 1 written to")

	code, stdout, _ = runCmd(t, "annotate", "-corpus", dir, "-log-level", "error", "-verify", "1")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "annotation 1 is consistent")

	require.NoError(t, os.Remove(filepath.Join(dir, "annotations", "tip.txt")))
	code, _, stderr = runCmd(t, "annotate", "-corpus", dir, "-log-level", "error", "-v", "-verify", "1")
	assert.Equal(t, exitFailed, code)
	assert.Contains(t, stderr, "code: PARTIAL_PERSISTENCE")

	code, stdout, stderr = runCmd(t, "annotate", "-corpus", dir, "-log-level", "error", "-repair", "1")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "annotation 1 rewritten to")

	code, _, _ = runCmd(t, "annotate", "-corpus", dir, "-log-level", "error", "-verify", "1")
	assert.Equal(t, exitOK, code)

	code, stdout, _ = runCmd(t, "search", "-corpus", dir, "-log-level", "error", "overlap context")
	require.Equal(t, exitOK, code)
	assert.Equal(t, 1, strings.Count(stdout, "Overlap keeps context."))
}
