package knowledge

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_ShortText(t *testing.T) {
	chunker := NewChunker(DefaultChunkSize, DefaultChunkOverlap)

	chunks := chunker.Split("  a short paragraph  ")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short paragraph", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)

	assert.Empty(t, chunker.Split(" \n\n "))
}

func TestChunker_SizeAndOverlap(t *testing.T) {
	chunker := NewChunker(100, 20)
	words := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		words = append(words, fmt.Sprintf("w%03d", i))
	}

	chunks := chunker.Split(strings.Join(words, " "))
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 100)
		assert.Equal(t, i, c.Index)
	}

	// 第二块以第一块末尾的若干词开头
	firstWord := strings.Fields(chunks[1].Text)[0]
	assert.NotEqual(t, "w000", firstWord)
	assert.Contains(t, chunks[0].Text, firstWord)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "w000"))
}

func TestChunker_PrefersParagraphs(t *testing.T) {
	chunker := NewChunker(50, 0)
	text := strings.Repeat("a", 40) + "\n\n" + strings.Repeat("b", 40)

	chunks := chunker.Split(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 40), chunks[0].Text)
	assert.Equal(t, strings.Repeat("b", 40), chunks[1].Text)
}

func TestChunker_LongUnbrokenText(t *testing.T) {
	chunker := NewChunker(10, 2)
	chunks := chunker.Split(strings.Repeat("字", 35))
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 10)
	}
}

func TestNewChunker_Guards(t *testing.T) {
	c := NewChunker(0, -1)
	assert.Equal(t, DefaultChunkSize, c.chunkSize)
	assert.Equal(t, 0, c.chunkOverlap)

	c = NewChunker(100, 150)
	assert.Equal(t, 25, c.chunkOverlap)
}
