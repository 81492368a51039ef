package knowledge

import (
	"context"
	"sort"
	"sync"
)

// MemoryVectorStore 进程内向量存储，进程退出即丢失
type MemoryVectorStore struct {
	mu     sync.RWMutex
	chunks []VectorChunk
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{}
}

func (s *MemoryVectorStore) AddChunks(ctx context.Context, chunks []VectorChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		c.Metadata = copyMetadata(c.Metadata)
		s.chunks = append(s.chunks, c)
	}
	return nil
}

func (s *MemoryVectorStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]SearchMatch, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	queryNorm := vectorNorm(query)
	matches := make([]SearchMatch, 0, len(s.chunks))
	for _, c := range s.chunks {
		matches = append(matches, SearchMatch{
			ID:       c.ID,
			Content:  c.Text,
			Score:    cosineSimilarity(query, c.Embedding, queryNorm),
			Metadata: copyMetadata(c.Metadata),
		})
	}
	sortMatchesByScore(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryVectorStore) DeleteWhere(ctx context.Context, filter MetadataFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[:0]
	removed := 0
	for _, c := range s.chunks {
		if filter.Matches(c.Metadata) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	s.chunks = kept
	return removed, nil
}

func (s *MemoryVectorStore) ListMetadata(ctx context.Context, filter MetadataFilter) ([]map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := make([]VectorChunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if filter.Matches(c.Metadata) {
			ordered = append(ordered, c)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	out := make([]map[string]string, 0, len(ordered))
	for _, c := range ordered {
		out = append(out, copyMetadata(c.Metadata))
	}
	return out, nil
}

func (s *MemoryVectorStore) Persist(ctx context.Context) error {
	return nil
}

func (s *MemoryVectorStore) Ready() bool {
	return true
}

func (s *MemoryVectorStore) Close() error {
	return nil
}

// Len 当前分块数
func (s *MemoryVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
