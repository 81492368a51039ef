package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// VectorChunkRecord vector_chunks表的一行
type VectorChunkRecord struct {
	Seq           int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	ChunkID       string `gorm:"column:chunk_id;size:64;uniqueIndex;not null"`
	DocSet        string `gorm:"column:doc_set;size:255;index"`
	Source        string `gorm:"column:source;size:1024;index"`
	Content       string `gorm:"column:content;type:text;not null"`
	MetadataJSON  string `gorm:"column:metadata;type:text"`
	EmbeddingJSON string `gorm:"column:embedding;type:text"`
}

func (VectorChunkRecord) TableName() string {
	return "vector_chunks"
}

// DatabaseVectorStore 基于gorm的本地向量存储，检索为全量余弦
type DatabaseVectorStore struct {
	db    *gorm.DB
	owned bool
}

// NewDatabaseVectorStore owned为true时Close会关闭底层连接
func NewDatabaseVectorStore(db *gorm.DB, owned bool) *DatabaseVectorStore {
	return &DatabaseVectorStore{db: db, owned: owned}
}

// Initialize 建表
func (s *DatabaseVectorStore) Initialize(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&VectorChunkRecord{})
}

func (s *DatabaseVectorStore) AddChunks(ctx context.Context, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	records := make([]VectorChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s: embedding is empty", c.ID)
		}
		embeddingJSON, err := json.Marshal(c.Embedding)
		if err != nil {
			return err
		}
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		records = append(records, VectorChunkRecord{
			ChunkID:       c.ID,
			DocSet:        c.Metadata[MetadataDocSet],
			Source:        c.Metadata[MetadataSource],
			Content:       c.Text,
			MetadataJSON:  string(metadataJSON),
			EmbeddingJSON: string(embeddingJSON),
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, 100).Error
	})
}

func (s *DatabaseVectorStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]SearchMatch, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil, fmt.Errorf("query embedding norm is zero")
	}

	var rows []VectorChunkRecord
	err := s.db.WithContext(ctx).
		Select("seq", "chunk_id", "content", "metadata", "embedding").
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]SearchMatch, 0, len(rows))
	for _, row := range rows {
		var embedding []float32
		if err := json.Unmarshal([]byte(row.EmbeddingJSON), &embedding); err != nil {
			continue
		}
		results = append(results, SearchMatch{
			ID:       row.ChunkID,
			Content:  row.Content,
			Score:    cosineSimilarity(query, embedding, queryNorm),
			Metadata: decodeMetadata(row.MetadataJSON),
		})
	}

	sortMatchesByScore(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *DatabaseVectorStore) DeleteWhere(ctx context.Context, filter MetadataFilter) (int, error) {
	rows, err := s.matching(ctx, filter, "seq", "chunk_id", "metadata", "doc_set", "source")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.Seq)
	}
	result := s.db.WithContext(ctx).Where("seq IN ?", ids).Delete(&VectorChunkRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete chunks failed: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (s *DatabaseVectorStore) ListMetadata(ctx context.Context, filter MetadataFilter) ([]map[string]string, error) {
	rows, err := s.matching(ctx, filter, "seq", "metadata", "doc_set", "source")
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, decodeMetadata(row.MetadataJSON))
	}
	return out, nil
}

// matching 已索引的键走SQL条件，其余键在内存中过滤
func (s *DatabaseVectorStore) matching(ctx context.Context, filter MetadataFilter, columns ...string) ([]VectorChunkRecord, error) {
	query := s.db.WithContext(ctx).Model(&VectorChunkRecord{}).Select(columns).Order("seq ASC")
	if v, ok := filter[MetadataDocSet]; ok {
		query = query.Where("doc_set = ?", v)
	}
	if v, ok := filter[MetadataSource]; ok {
		query = query.Where("source = ?", v)
	}

	var rows []VectorChunkRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list chunks failed: %w", err)
	}
	if len(filter) == 0 {
		return rows, nil
	}
	kept := rows[:0]
	for _, row := range rows {
		if filter.Matches(decodeMetadata(row.MetadataJSON)) {
			kept = append(kept, row)
		}
	}
	return kept, nil
}

func (s *DatabaseVectorStore) Persist(ctx context.Context) error {
	return nil
}

func (s *DatabaseVectorStore) Ready() bool {
	return s.db != nil
}

func (s *DatabaseVectorStore) Close() error {
	if !s.owned || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decodeMetadata(raw string) map[string]string {
	metadata := map[string]string{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &metadata)
	}
	return metadata
}
