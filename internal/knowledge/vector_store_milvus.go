package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusFieldID       = "id"
	milvusFieldDocSet   = "doc_set"
	milvusFieldSource   = "source"
	milvusFieldSeq      = "seq"
	milvusFieldContent  = "content"
	milvusFieldMetadata = "metadata"
	milvusFieldVector   = "vector"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Database   string
	Collection string
	Dimensions int
	UseTLS     bool
	Timeout    time.Duration
}

// MilvusVectorStore 每个语料库一个集合
type MilvusVectorStore struct {
	milvusClient client.Client
	collection   string
	dimensions   int
	mu           sync.Mutex
	ensured      bool
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(ctx context.Context, opts MilvusOptions) (*MilvusVectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Collection == "" {
		opts.Collection = "corpus_vectors"
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("milvus vector store requires embedding dimensions")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	milvusClient, err := client.NewClient(dialCtx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &MilvusVectorStore{
		milvusClient: milvusClient,
		collection:   sanitizeCollectionName(opts.Collection),
		dimensions:   opts.Dimensions,
	}, nil
}

// sanitizeCollectionName 集合名只允许字母数字和下划线
func sanitizeCollectionName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "c_" + out
	}
	return out
}

func (s *MilvusVectorStore) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	has, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		if err := s.createCollection(ctx); err != nil {
			return err
		}
	}
	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	s.ensured = true
	return nil
}

func (s *MilvusVectorStore) createCollection(ctx context.Context) error {
	varchar := func(name string, maxLen int) *entity.Field {
		return &entity.Field{
			Name:       name,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
		}
	}
	id := varchar(milvusFieldID, 64)
	id.PrimaryKey = true

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "corpus document chunks",
		Fields: []*entity.Field{
			id,
			varchar(milvusFieldDocSet, 512),
			varchar(milvusFieldSource, 4096),
			{Name: milvusFieldSeq, DataType: entity.FieldTypeInt64},
			varchar(milvusFieldContent, 65535),
			varchar(milvusFieldMetadata, 8192),
			{
				Name:       milvusFieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(s.dimensions)},
			},
		},
	}
	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	index, err := chunkIndex(8, 64)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := s.milvusClient.CreateIndex(ctx, s.collection, milvusFieldVector, index, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// chunkIndex 向量字段索引，HNSW参数无效时退回IVF_FLAT
func chunkIndex(m, efConstruction int) (entity.Index, error) {
	hnsw, err := entity.NewIndexHNSW(entity.COSINE, m, efConstruction)
	if err == nil {
		return hnsw, nil
	}
	ivf, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if err != nil {
		return nil, err
	}
	return ivf, nil
}

func (s *MilvusVectorStore) AddChunks(ctx context.Context, chunks []VectorChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	docSets := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	seqs := make([]int64, len(chunks))
	contents := make([]string, len(chunks))
	metadata := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		raw, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		ids[i] = c.ID
		docSets[i] = c.Metadata[MetadataDocSet]
		sources[i] = c.Metadata[MetadataSource]
		seqs[i] = c.Seq
		contents[i] = c.Text
		metadata[i] = string(raw)
		vectors[i] = padEmbedding(c.Embedding, s.dimensions)
	}

	_, err := s.milvusClient.Insert(ctx, s.collection, "",
		entity.NewColumnVarChar(milvusFieldID, ids),
		entity.NewColumnVarChar(milvusFieldDocSet, docSets),
		entity.NewColumnVarChar(milvusFieldSource, sources),
		entity.NewColumnInt64(milvusFieldSeq, seqs),
		entity.NewColumnVarChar(milvusFieldContent, contents),
		entity.NewColumnVarChar(milvusFieldMetadata, metadata),
		entity.NewColumnFloatVector(milvusFieldVector, s.dimensions, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus insert failed: %w", err)
	}
	return nil
}

func (s *MilvusVectorStore) SimilaritySearch(ctx context.Context, query []float32, k int) ([]SearchMatch, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	results, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		"",
		[]string{milvusFieldContent, milvusFieldMetadata},
		[]entity.Vector{entity.FloatVector(padEmbedding(query, s.dimensions))},
		milvusFieldVector,
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(results) == 0 {
		return []SearchMatch{}, nil
	}
	result := results[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}

	var ids []string
	if col, ok := result.IDs.(*entity.ColumnVarChar); ok {
		ids = col.Data()
	}
	columns := varcharColumns(result.Fields)
	contents := columns[milvusFieldContent]
	metadata := columns[milvusFieldMetadata]

	matches := make([]SearchMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		match := SearchMatch{Metadata: map[string]string{}}
		if i < len(ids) {
			match.ID = ids[i]
		}
		if i < len(contents) {
			match.Content = contents[i]
		}
		if i < len(metadata) {
			match.Metadata = decodeMetadata(metadata[i])
		}
		if i < len(result.Scores) {
			match.Score = float64(result.Scores[i])
		}
		matches = append(matches, match)
	}
	sortMatchesByScore(matches)
	return matches, nil
}

func (s *MilvusVectorStore) DeleteWhere(ctx context.Context, filter MetadataFilter) (int, error) {
	rows, err := s.query(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	quoted := make([]string, 0, len(rows))
	for _, row := range rows {
		quoted = append(quoted, strconv.Quote(row.id))
	}
	expr := fmt.Sprintf("%s in [%s]", milvusFieldID, strings.Join(quoted, ","))
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return 0, fmt.Errorf("milvus delete failed: %w", err)
	}
	return len(rows), nil
}

func (s *MilvusVectorStore) ListMetadata(ctx context.Context, filter MetadataFilter) ([]map[string]string, error) {
	rows, err := s.query(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.metadata)
	}
	return out, nil
}

type milvusRow struct {
	id       string
	seq      int64
	metadata map[string]string
}

func (s *MilvusVectorStore) query(ctx context.Context, filter MetadataFilter) ([]milvusRow, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	conds := []string{milvusFieldSeq + " >= 0"}
	if v, ok := filter[MetadataDocSet]; ok {
		conds = append(conds, fmt.Sprintf("%s == %s", milvusFieldDocSet, strconv.Quote(v)))
	}
	if v, ok := filter[MetadataSource]; ok {
		conds = append(conds, fmt.Sprintf("%s == %s", milvusFieldSource, strconv.Quote(v)))
	}

	resultSet, err := s.milvusClient.Query(ctx, s.collection, []string{}, strings.Join(conds, " && "),
		[]string{milvusFieldID, milvusFieldSeq, milvusFieldMetadata})
	if err != nil {
		return nil, fmt.Errorf("milvus query failed: %w", err)
	}

	columns := varcharColumns(resultSet)
	ids := columns[milvusFieldID]
	metadata := columns[milvusFieldMetadata]
	var seqs []int64
	for _, col := range resultSet {
		if c, ok := col.(*entity.ColumnInt64); ok && col.Name() == milvusFieldSeq {
			seqs = c.Data()
		}
	}

	rows := make([]milvusRow, 0, len(ids))
	for i, id := range ids {
		row := milvusRow{id: id, metadata: map[string]string{}}
		if i < len(seqs) {
			row.seq = seqs[i]
		}
		if i < len(metadata) {
			row.metadata = decodeMetadata(metadata[i])
		}
		if filter.Matches(row.metadata) {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return rows, nil
}

func varcharColumns(columns []entity.Column) map[string][]string {
	out := make(map[string][]string, len(columns))
	for _, col := range columns {
		if c, ok := col.(*entity.ColumnVarChar); ok {
			out[col.Name()] = c.Data()
		}
	}
	return out
}

// Persist 刷盘
func (s *MilvusVectorStore) Persist(ctx context.Context) error {
	if !s.ensured {
		return nil
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		return fmt.Errorf("milvus flush failed: %w", err)
	}
	return nil
}

func (s *MilvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

func (s *MilvusVectorStore) Close() error {
	return s.milvusClient.Close()
}
