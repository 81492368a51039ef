package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	redisFieldContent  = "content"
	redisFieldVector   = "vector"
	redisFieldDocSet   = "doc_set"
	redisFieldSource   = "source"
	redisFieldSeq      = "seq"
	redisFieldMetadata = "metadata"
	redisPageSize      = 500
)

// RedisOptions RediSearch向量存储配置
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	IndexName  string
	KeyPrefix  string
	Dimensions int
}

// RedisVectorStore 基于RediSearch HNSW索引的向量存储
type RedisVectorStore struct {
	client       *redis.Client
	indexName    string
	keyPrefix    string
	dimensions   int
	mu           sync.Mutex
	indexCreated bool
}

// NewRedisVectorStore 创建Redis向量存储
func NewRedisVectorStore(ctx context.Context, opts RedisOptions) (*RedisVectorStore, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.IndexName == "" {
		opts.IndexName = "corpus"
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = opts.IndexName + ":"
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("redis vector store requires embedding dimensions")
	}

	// FT.SEARCH 的应答按RESP2数组解析
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		Protocol: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store := &RedisVectorStore{
		client:     client,
		indexName:  opts.IndexName,
		keyPrefix:  opts.KeyPrefix,
		dimensions: opts.Dimensions,
	}
	if err := store.ensureIndex(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

func (s *RedisVectorStore) ensureIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexCreated {
		return nil
	}
	if _, err := s.client.Do(ctx, "FT.INFO", s.indexName).Result(); err == nil {
		s.indexCreated = true
		return nil
	}

	_, err := s.client.Do(ctx, "FT.CREATE", s.indexName,
		"ON", "HASH",
		"PREFIX", "1", s.keyPrefix,
		"SCHEMA",
		redisFieldVector, "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.dimensions),
		"DISTANCE_METRIC", "COSINE",
		redisFieldContent, "TEXT",
		redisFieldDocSet, "TAG",
		redisFieldSource, "TAG",
		redisFieldSeq, "NUMERIC", "SORTABLE",
	).Result()
	if err != nil {
		return fmt.Errorf("failed to create redis index: %w", err)
	}
	s.indexCreated = true
	return nil
}

func (s *RedisVectorStore) AddChunks(ctx context.Context, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, c := range chunks {
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, s.keyPrefix+c.ID,
			redisFieldContent, c.Text,
			redisFieldVector, encodeFloat32s(padEmbedding(c.Embedding, s.dimensions)),
			redisFieldDocSet, tagValue(c.Metadata[MetadataDocSet]),
			redisFieldSource, tagValue(c.Metadata[MetadataSource]),
			redisFieldSeq, c.Seq,
			redisFieldMetadata, string(metadataJSON),
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis insert failed: %w", err)
	}
	return nil
}

func (s *RedisVectorStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]SearchMatch, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	knn := fmt.Sprintf("*=>[KNN %d @%s $query_vector AS score]", k, redisFieldVector)
	result, err := s.client.Do(ctx, "FT.SEARCH", s.indexName, knn,
		"PARAMS", "2", "query_vector", encodeFloat32s(padEmbedding(query, s.dimensions)),
		"RETURN", "3", redisFieldContent, redisFieldMetadata, "score",
		"SORTBY", "score",
		"LIMIT", "0", strconv.Itoa(k),
		"DIALECT", "2",
	).Result()
	if err != nil {
		return nil, fmt.Errorf("redis vector search failed: %w", err)
	}

	docs := parseRedisDocuments(result)
	matches := make([]SearchMatch, 0, len(docs))
	for _, doc := range docs {
		// COSINE距离换算成相似度
		distance, _ := strconv.ParseFloat(doc.fields["score"], 64)
		matches = append(matches, SearchMatch{
			ID:       strings.TrimPrefix(doc.key, s.keyPrefix),
			Content:  doc.fields[redisFieldContent],
			Score:    1 - distance,
			Metadata: decodeMetadata(doc.fields[redisFieldMetadata]),
		})
	}
	sortMatchesByScore(matches)
	return matches, nil
}

func (s *RedisVectorStore) DeleteWhere(ctx context.Context, filter MetadataFilter) (int, error) {
	docs, err := s.scan(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		keys = append(keys, doc.key)
	}
	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete failed: %w", err)
	}
	return int(deleted), nil
}

func (s *RedisVectorStore) ListMetadata(ctx context.Context, filter MetadataFilter) ([]map[string]string, error) {
	docs, err := s.scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeMetadata(doc.fields[redisFieldMetadata]))
	}
	return out, nil
}

// scan 分页取出满足过滤条件的全部文档，按seq升序
func (s *RedisVectorStore) scan(ctx context.Context, filter MetadataFilter) ([]redisDocument, error) {
	query := s.filterQuery(filter)
	var docs []redisDocument
	for offset := 0; ; offset += redisPageSize {
		result, err := s.client.Do(ctx, "FT.SEARCH", s.indexName, query,
			"RETURN", "1", redisFieldMetadata,
			"SORTBY", redisFieldSeq, "ASC",
			"LIMIT", strconv.Itoa(offset), strconv.Itoa(redisPageSize),
			"DIALECT", "2",
		).Result()
		if err != nil {
			return nil, fmt.Errorf("redis list failed: %w", err)
		}
		page := parseRedisDocuments(result)
		for _, doc := range page {
			if filter.Matches(decodeMetadata(doc.fields[redisFieldMetadata])) {
				docs = append(docs, doc)
			}
		}
		if len(page) < redisPageSize {
			return docs, nil
		}
	}
}

func (s *RedisVectorStore) filterQuery(filter MetadataFilter) string {
	var parts []string
	if v, ok := filter[MetadataDocSet]; ok {
		parts = append(parts, fmt.Sprintf("@%s:{%s}", redisFieldDocSet, tagValue(v)))
	}
	if v, ok := filter[MetadataSource]; ok {
		parts = append(parts, fmt.Sprintf("@%s:{%s}", redisFieldSource, tagValue(v)))
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}

func (s *RedisVectorStore) Persist(ctx context.Context) error {
	return nil
}

func (s *RedisVectorStore) Ready() bool {
	return s.client != nil
}

func (s *RedisVectorStore) Close() error {
	return s.client.Close()
}

type redisDocument struct {
	key    string
	fields map[string]string
}

// parseRedisDocuments 解析FT.SEARCH应答: [total, key1, [f, v, ...], key2, ...]
func parseRedisDocuments(result interface{}) []redisDocument {
	values, ok := result.([]interface{})
	if !ok || len(values) < 2 {
		return nil
	}
	docs := make([]redisDocument, 0, (len(values)-1)/2)
	for i := 1; i+1 < len(values); i += 2 {
		key, ok := values[i].(string)
		if !ok {
			continue
		}
		raw, ok := values[i+1].([]interface{})
		if !ok {
			continue
		}
		fields := make(map[string]string, len(raw)/2)
		for j := 0; j+1 < len(raw); j += 2 {
			name, _ := raw[j].(string)
			value, _ := raw[j+1].(string)
			fields[name] = value
		}
		docs = append(docs, redisDocument{key: key, fields: fields})
	}
	return docs
}

// tagValue 路径和文档集名含标点，TAG字段统一存哈希
func tagValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:16])
}

func encodeFloat32s(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
