package knowledge

import (
	"context"
	"math"
	"sort"
)

// 分块元数据键
const (
	MetadataSource = "source"
	MetadataDocSet = "doc-set"
)

// VectorChunk 存储向量信息
type VectorChunk struct {
	ID        string
	Text      string
	Metadata  map[string]string
	Embedding []float32
	// Seq 写入顺序，ListMetadata按它保持首次出现的顺序
	Seq int64
}

// SearchMatch 检索结果
type SearchMatch struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]string
}

// Source 来源路径
func (m SearchMatch) Source() string {
	return m.Metadata[MetadataSource]
}

// DocSet 所属文档集
func (m SearchMatch) DocSet() string {
	return m.Metadata[MetadataDocSet]
}

// MetadataFilter 元数据等值过滤，多个键之间为AND
type MetadataFilter map[string]string

// Matches 元数据是否满足过滤条件
func (f MetadataFilter) Matches(metadata map[string]string) bool {
	for k, v := range f {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// VectorStore 向量存储抽象
type VectorStore interface {
	AddChunks(ctx context.Context, chunks []VectorChunk) error
	SimilaritySearch(ctx context.Context, query []float32, k int) ([]SearchMatch, error)
	DeleteWhere(ctx context.Context, filter MetadataFilter) (int, error)
	ListMetadata(ctx context.Context, filter MetadataFilter) ([]map[string]string, error)
	Persist(ctx context.Context) error
	Ready() bool
	Close() error
}

// Initializer 创建语料库时初始化本地存储
type Initializer interface {
	Initialize(ctx context.Context) error
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	return math.Sqrt(sum)
}

func cosineSimilarity(a, b []float32, normA float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) != len(b) {
		minLen := len(a)
		if len(b) < minLen {
			minLen = len(b)
		}
		a = a[:minLen]
		b = b[:minLen]
	}

	var dot float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * math.Sqrt(normB))
}

// sortMatchesByScore 分数降序，同分按ID保证结果稳定
func sortMatchesByScore(matches []SearchMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
}

func copyMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// padEmbedding 远端集合维度固定，按维度截断或补零
func padEmbedding(vec []float32, size int) []float32 {
	if size <= 0 || len(vec) == size {
		return vec
	}
	out := make([]float32, size)
	copy(out, vec)
	return out
}
