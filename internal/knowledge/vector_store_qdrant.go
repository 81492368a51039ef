package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const qdrantScrollLimit = 256

// QdrantOptions Qdrant客户端配置
type QdrantOptions struct {
	Endpoint   string
	APIKey     string
	Collection string
	Dimensions int
	Distance   string
	UseTLS     bool
	Timeout    time.Duration
}

// QdrantVectorStore 通过REST接口访问Qdrant，点ID必须是UUID
type QdrantVectorStore struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	collection string
	dimensions int
	distance   string
	mu         sync.Mutex
	ensured    bool
}

// NewQdrantVectorStore 创建Qdrant向量存储
func NewQdrantVectorStore(opts QdrantOptions) (*QdrantVectorStore, error) {
	scheme := "http"
	if opts.UseTLS {
		scheme = "https"
	}
	if opts.Endpoint == "" {
		opts.Endpoint = fmt.Sprintf("%s://localhost:6333", scheme)
	}
	if !strings.HasPrefix(opts.Endpoint, "http") {
		opts.Endpoint = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
	}
	if opts.Collection == "" {
		opts.Collection = "corpus_vectors"
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant vector store requires embedding dimensions")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &QdrantVectorStore{
		client:     &http.Client{Timeout: timeout},
		endpoint:   strings.TrimSuffix(opts.Endpoint, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		dimensions: opts.Dimensions,
		distance:   formatDistance(opts.Distance),
	}, nil
}

func formatDistance(value string) string {
	switch strings.ToLower(value) {
	case "dot", "dotproduct":
		return "Dot"
	case "euclid", "l2":
		return "Euclid"
	default:
		return "Cosine"
	}
}

// Initialize 建集合
func (s *QdrantVectorStore) Initialize(ctx context.Context) error {
	return s.ensureCollection(ctx)
}

func (s *QdrantVectorStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	path := "/collections/" + s.collection
	if err := s.call(ctx, http.MethodGet, path, nil, nil); err == nil {
		s.ensured = true
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.dimensions,
			"distance": s.distance,
		},
	}
	if err := s.call(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("create collection %s failed: %w", s.collection, err)
	}
	for _, field := range []string{"doc_set", "source"} {
		index := map[string]interface{}{"field_name": field, "field_schema": "keyword"}
		if err := s.call(ctx, http.MethodPut, path+"/index?wait=true", index, nil); err != nil {
			return fmt.Errorf("create payload index %s failed: %w", field, err)
		}
	}
	s.ensured = true
	return nil
}

func (s *QdrantVectorStore) AddChunks(ctx context.Context, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]map[string]interface{}, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, map[string]interface{}{
			"id":     c.ID,
			"vector": padEmbedding(c.Embedding, s.dimensions),
			"payload": map[string]interface{}{
				"content":  c.Text,
				"seq":      c.Seq,
				"doc_set":  c.Metadata[MetadataDocSet],
				"source":   c.Metadata[MetadataSource],
				"metadata": c.Metadata,
			},
		})
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", s.collection)
	if err := s.call(ctx, http.MethodPut, path, map[string]interface{}{"points": points}, nil); err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

type qdrantPayload struct {
	Content  string            `json:"content"`
	Seq      int64             `json:"seq"`
	Metadata map[string]string `json:"metadata"`
}

type qdrantPoint struct {
	ID      interface{}   `json:"id"`
	Score   float64       `json:"score"`
	Payload qdrantPayload `json:"payload"`
}

func (s *QdrantVectorStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]SearchMatch, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"vector":       padEmbedding(query, s.dimensions),
		"limit":        k,
		"with_payload": true,
		"with_vector":  false,
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := s.call(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", s.collection), body, &resp); err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	matches := make([]SearchMatch, 0, len(resp.Result))
	for _, p := range resp.Result {
		matches = append(matches, SearchMatch{
			ID:       fmt.Sprint(p.ID),
			Content:  p.Payload.Content,
			Score:    p.Score,
			Metadata: copyMetadata(p.Payload.Metadata),
		})
	}
	sortMatchesByScore(matches)
	return matches, nil
}

func (s *QdrantVectorStore) DeleteWhere(ctx context.Context, filter MetadataFilter) (int, error) {
	points, err := s.scroll(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}
	ids := make([]interface{}, 0, len(points))
	for _, p := range points {
		ids = append(ids, p.ID)
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", s.collection)
	if err := s.call(ctx, http.MethodPost, path, map[string]interface{}{"points": ids}, nil); err != nil {
		return 0, fmt.Errorf("qdrant delete failed: %w", err)
	}
	return len(points), nil
}

func (s *QdrantVectorStore) ListMetadata(ctx context.Context, filter MetadataFilter) ([]map[string]string, error) {
	points, err := s.scroll(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(points))
	for _, p := range points {
		out = append(out, copyMetadata(p.Payload.Metadata))
	}
	return out, nil
}

// scroll 翻页取出满足过滤条件的全部点，按seq升序
func (s *QdrantVectorStore) scroll(ctx context.Context, filter MetadataFilter) ([]qdrantPoint, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	var must []map[string]interface{}
	for key, value := range filter {
		field := "metadata." + key
		switch key {
		case MetadataDocSet:
			field = "doc_set"
		case MetadataSource:
			field = "source"
		}
		must = append(must, map[string]interface{}{
			"key":   field,
			"match": map[string]interface{}{"value": value},
		})
	}

	var points []qdrantPoint
	var offset interface{}
	for {
		body := map[string]interface{}{
			"limit":        qdrantScrollLimit,
			"with_payload": true,
			"with_vector":  false,
		}
		if len(must) > 0 {
			body["filter"] = map[string]interface{}{"must": must}
		}
		if offset != nil {
			body["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []qdrantPoint `json:"points"`
				NextPageOffset interface{}   `json:"next_page_offset"`
			} `json:"result"`
		}
		if err := s.call(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/scroll", s.collection), body, &resp); err != nil {
			return nil, fmt.Errorf("qdrant scroll failed: %w", err)
		}
		points = append(points, resp.Result.Points...)
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].Payload.Seq < points[j].Payload.Seq })
	return points, nil
}

func (s *QdrantVectorStore) Persist(ctx context.Context) error {
	return nil
}

func (s *QdrantVectorStore) Ready() bool {
	return s.client != nil
}

func (s *QdrantVectorStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// call 发送请求，out非nil时解码响应体
func (s *QdrantVectorStore) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
