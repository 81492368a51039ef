package rag

import (
	"fmt"
	"strings"

	"github.com/aihub/corpus-go/internal/knowledge"
)

const (
	systemTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

%s`

	condenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
%s
Follow Up Input: %s
Standalone question:`
)

// SourceLine 引用行格式
func SourceLine(m knowledge.SearchMatch) string {
	return fmt.Sprintf("doc-set: %s, source: %s", m.DocSet(), m.Source())
}

// FormatAnswer showSources时每个分块追加一行引用
func FormatAnswer(answer string, sources []knowledge.SearchMatch, showSources bool) string {
	if !showSources || len(sources) == 0 {
		return answer
	}
	lines := make([]string, 0, len(sources))
	for _, m := range sources {
		lines = append(lines, SourceLine(m))
	}
	return answer + "\n\n" + strings.Join(lines, "\n")
}

func formatHistory(memory []Turn) string {
	var b strings.Builder
	for _, t := range memory {
		fmt.Fprintf(&b, "Human: %s\nAssistant: %s\n", t.Question, t.Answer)
	}
	return b.String()
}

// retrievalQuery 没有改写能力时把历史问题和当前问题拼在一起检索
func retrievalQuery(prompt string, memory []Turn) string {
	if len(memory) == 0 {
		return prompt
	}
	parts := make([]string, 0, len(memory)+1)
	for _, t := range memory {
		parts = append(parts, t.Question)
	}
	parts = append(parts, prompt)
	return strings.Join(parts, "\n")
}
