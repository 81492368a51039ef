package knowledge

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIndex(t *testing.T) {
	index, err := chunkIndex(8, 64)
	require.NoError(t, err)
	assert.Equal(t, entity.HNSW, index.IndexType())
	assert.Equal(t, string(entity.COSINE), index.Params()["metric_type"])

	// M超出范围时退回IVF_FLAT
	index, err = chunkIndex(2, 64)
	require.NoError(t, err)
	assert.Equal(t, entity.IvfFlat, index.IndexType())
	assert.Contains(t, index.Params()["params"], "128")
}
