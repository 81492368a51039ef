package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeS3 只实现HEAD bucket和PUT object
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	heads   int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodHead:
		f.heads++
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestNewAnnotationMirror_RequiresEndpoint(t *testing.T) {
	_, err := NewAnnotationMirror(MirrorOptions{}, zap.NewNop())
	assert.Error(t, err)
}

func TestAnnotationMirror_ObjectKey(t *testing.T) {
	m, err := NewAnnotationMirror(MirrorOptions{Endpoint: "http://localhost:9000/", Prefix: "/demo/"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "demo/annotations/note.txt", m.ObjectKey("note.txt"))

	m, err = NewAnnotationMirror(MirrorOptions{Endpoint: "localhost:9000"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "annotations/note.txt", m.ObjectKey("note.txt"))
}

func TestAnnotationMirror_Upload(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m, err := NewAnnotationMirror(MirrorOptions{
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "notes",
		Prefix:    "demo",
	}, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Upload(ctx, "first.txt", []byte("hello")))
	require.NoError(t, m.Upload(ctx, "second.txt", []byte("world")))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.heads, "bucket is checked once")
	found := map[string]string{}
	for k, v := range fake.objects {
		found[strings.TrimPrefix(k, "/notes/")] = v
	}
	assert.Equal(t, "hello", found["demo/annotations/first.txt"])
	assert.Equal(t, "world", found["demo/annotations/second.txt"])
}
