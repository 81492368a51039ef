package rag

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// NoAnswer 上下文中找不到相关内容时的回答
const NoAnswer = "I don't know."

// ExtractiveModel 离线模型：从检索到的上下文中挑出与问题最相关的句子
type ExtractiveModel struct {
	maxSentences int
}

// NewExtractiveModel 创建抽取式模型
func NewExtractiveModel(maxSentences int) *ExtractiveModel {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &ExtractiveModel{maxSentences: maxSentences}
}

type scoredSentence struct {
	text  string
	score int
	order int
}

func (m *ExtractiveModel) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	query := make(map[string]struct{})
	for _, w := range words(req.Prompt) {
		if len(w) > 2 {
			query[w] = struct{}{}
		}
	}

	var candidates []scoredSentence
	seen := make(map[string]struct{})
	for _, passage := range req.Context {
		for _, s := range sentences(passage) {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			score := 0
			for _, w := range words(s) {
				if _, ok := query[w]; ok {
					score++
				}
			}
			if score > 0 {
				candidates = append(candidates, scoredSentence{text: s, score: score, order: len(candidates)})
			}
		}
	}
	if len(candidates) == 0 {
		return NoAnswer, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > m.maxSentences {
		candidates = candidates[:m.maxSentences]
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].order < candidates[j].order })

	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		parts = append(parts, c.text)
	}
	return strings.Join(parts, " "), nil
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func sentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		s := strings.Join(strings.Fields(b.String()), " ")
		if s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			flush()
		}
	}
	flush()
	return out
}
