package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const elasticPageSize = 500

// ElasticOptions ES向量存储配置
type ElasticOptions struct {
	Addresses  []string
	Username   string
	Password   string
	APIKey     string
	Index      string
	Dimensions int
}

// ElasticVectorStore 使用dense_vector字段和kNN检索
type ElasticVectorStore struct {
	client     *elasticsearch.Client
	index      string
	dimensions int
	mu         sync.Mutex
	ensured    bool
}

// NewElasticVectorStore 创建ES向量存储
func NewElasticVectorStore(opts ElasticOptions) (*ElasticVectorStore, error) {
	if len(opts.Addresses) == 0 {
		opts.Addresses = []string{"http://localhost:9200"}
	}
	if opts.Index == "" {
		opts.Index = "corpus_chunks"
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("elasticsearch vector store requires embedding dimensions")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: opts.Addresses,
		Username:  opts.Username,
		Password:  opts.Password,
		APIKey:    opts.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return &ElasticVectorStore{
		client:     client,
		index:      opts.Index,
		dimensions: opts.Dimensions,
	}, nil
}

// Initialize 建索引
func (e *ElasticVectorStore) Initialize(ctx context.Context) error {
	return e.ensureIndex(ctx)
}

func (e *ElasticVectorStore) ensureIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ensured {
		return nil
	}

	exists, err := esapi.IndicesExistsRequest{Index: []string{e.index}}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	exists.Body.Close()
	if exists.StatusCode == 200 {
		e.ensured = true
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"content":  map[string]interface{}{"type": "text"},
				"doc_set":  map[string]interface{}{"type": "keyword"},
				"source":   map[string]interface{}{"type": "keyword"},
				"seq":      map[string]interface{}{"type": "long"},
				"metadata": map[string]interface{}{"type": "object", "enabled": false},
				"embedding": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       e.dimensions,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}
	body, _ := json.Marshal(mapping)
	resp, err := esapi.IndicesCreateRequest{Index: e.index, Body: bytes.NewReader(body)}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("create index error: %s", resp.String())
	}
	e.ensured = true
	return nil
}

func (e *ElasticVectorStore) AddChunks(ctx context.Context, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		meta := map[string]interface{}{"index": map[string]interface{}{"_index": e.index, "_id": c.ID}}
		doc := map[string]interface{}{
			"content":   c.Text,
			"doc_set":   c.Metadata[MetadataDocSet],
			"source":    c.Metadata[MetadataSource],
			"seq":       c.Seq,
			"metadata":  c.Metadata,
			"embedding": padEmbedding(c.Embedding, e.dimensions),
		}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	resp, err := esapi.BulkRequest{Body: &buf, Refresh: "true"}.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("elasticsearch bulk failed: %s", resp.String())
	}
	var result struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.Errors {
		return fmt.Errorf("elasticsearch bulk reported item errors")
	}
	return nil
}

type elasticHit struct {
	ID     string  `json:"_id"`
	Score  float64 `json:"_score"`
	Source struct {
		Content  string            `json:"content"`
		Seq      int64             `json:"seq"`
		Metadata map[string]string `json:"metadata"`
	} `json:"_source"`
	Sort []interface{} `json:"sort"`
}

func (e *ElasticVectorStore) search(ctx context.Context, query map[string]interface{}) ([]elasticHit, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := esapi.SearchRequest{Index: []string{e.index}, Body: bytes.NewReader(body)}.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("search error: %s", resp.String())
	}
	var result struct {
		Hits struct {
			Hits []elasticHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Hits.Hits, nil
}

func (e *ElasticVectorStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]SearchMatch, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}
	hits, err := e.search(ctx, map[string]interface{}{
		"size": k,
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   padEmbedding(query, e.dimensions),
			"k":              k,
			"num_candidates": k * 10,
		},
		"_source": []string{"content", "metadata"},
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch knn failed: %w", err)
	}

	matches := make([]SearchMatch, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, SearchMatch{
			ID:      hit.ID,
			Content: hit.Source.Content,
			// cosine相似度在ES中被映射为(1+cos)/2
			Score:    2*hit.Score - 1,
			Metadata: copyMetadata(hit.Source.Metadata),
		})
	}
	sortMatchesByScore(matches)
	return matches, nil
}

func (e *ElasticVectorStore) DeleteWhere(ctx context.Context, filter MetadataFilter) (int, error) {
	hits, err := e.scan(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(hits) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, hit := range hits {
		if err := enc.Encode(map[string]interface{}{"delete": map[string]interface{}{"_index": e.index, "_id": hit.ID}}); err != nil {
			return 0, err
		}
	}
	resp, err := esapi.BulkRequest{Body: &buf, Refresh: "true"}.Do(ctx, e.client)
	if err != nil {
		return 0, fmt.Errorf("elasticsearch delete failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return 0, fmt.Errorf("elasticsearch delete failed: %s", resp.String())
	}
	return len(hits), nil
}

func (e *ElasticVectorStore) ListMetadata(ctx context.Context, filter MetadataFilter) ([]map[string]string, error) {
	hits, err := e.scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(hits))
	for _, hit := range hits {
		out = append(out, copyMetadata(hit.Source.Metadata))
	}
	return out, nil
}

// scan 按seq升序用search_after翻页
func (e *ElasticVectorStore) scan(ctx context.Context, filter MetadataFilter) ([]elasticHit, error) {
	if err := e.ensureIndex(ctx); err != nil {
		return nil, err
	}
	var terms []map[string]interface{}
	if v, ok := filter[MetadataDocSet]; ok {
		terms = append(terms, map[string]interface{}{"term": map[string]interface{}{"doc_set": v}})
	}
	if v, ok := filter[MetadataSource]; ok {
		terms = append(terms, map[string]interface{}{"term": map[string]interface{}{"source": v}})
	}
	query := map[string]interface{}{"match_all": map[string]interface{}{}}
	if len(terms) > 0 {
		query = map[string]interface{}{"bool": map[string]interface{}{"filter": terms}}
	}

	var out []elasticHit
	var after []interface{}
	for {
		body := map[string]interface{}{
			"size":    elasticPageSize,
			"query":   query,
			"sort":    []interface{}{map[string]interface{}{"seq": "asc"}, map[string]interface{}{"_doc": "asc"}},
			"_source": []string{"seq", "metadata"},
		}
		if after != nil {
			body["search_after"] = after
		}
		hits, err := e.search(ctx, body)
		if err != nil {
			return nil, fmt.Errorf("elasticsearch scan failed: %w", err)
		}
		for _, hit := range hits {
			if filter.Matches(hit.Source.Metadata) {
				out = append(out, hit)
			}
		}
		if len(hits) < elasticPageSize {
			return out, nil
		}
		after = hits[len(hits)-1].Sort
	}
}

func (e *ElasticVectorStore) Persist(ctx context.Context) error {
	if !e.ensured {
		return nil
	}
	resp, err := esapi.IndicesRefreshRequest{Index: []string{e.index}}.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return fmt.Errorf("refresh index error: %s", resp.String())
	}
	return nil
}

func (e *ElasticVectorStore) Ready() bool {
	return e.client != nil
}

func (e *ElasticVectorStore) Close() error {
	return nil
}
