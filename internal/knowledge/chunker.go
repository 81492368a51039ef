package knowledge

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// 由粗到细的分隔符，最后按字符切
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunk 表示分块后的文本结构
type Chunk struct {
	Index int
	Text  string
}

// Chunker 递归字符分块器
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
		separators:   defaultSeparators,
	}
}

// Split 将文本切分为多个chunk，长度按字符计
func (c *Chunker) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var chunks []Chunk
	for _, piece := range c.split(text, c.separators) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: piece})
	}
	return chunks
}

func (c *Chunker) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var splits []string
	if sep == "" {
		splits = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			splits = append(splits, string(r))
		}
	} else {
		splits = strings.Split(text, sep)
	}

	var out, good []string
	for _, s := range splits {
		if utf8.RuneCountInString(s) < c.chunkSize {
			good = append(good, s)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, s)
		} else {
			out = append(out, c.split(s, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good, sep)...)
	}
	return out
}

// merge 把小片段拼成不超过chunkSize的块，相邻块保留chunkOverlap的重叠
func (c *Chunker) merge(splits []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)
	var docs, current []string
	total := 0

	joinedLen := func(extra int) int {
		if len(current) > 0 {
			return total + extra + sepLen
		}
		return total + extra
	}

	for _, s := range splits {
		l := utf8.RuneCountInString(s)
		if joinedLen(l) > c.chunkSize && len(current) > 0 {
			if doc := strings.Join(current, sep); strings.TrimSpace(doc) != "" {
				docs = append(docs, doc)
			}
			for total > c.chunkOverlap || (joinedLen(l) > c.chunkSize && total > 0) {
				total -= utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, s)
		total += l
	}
	if doc := strings.Join(current, sep); strings.TrimSpace(doc) != "" {
		docs = append(docs, doc)
	}
	return docs
}
