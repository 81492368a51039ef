package rag

// Memory 对话历史，maxTurns为0时不限
type Memory struct {
	turns    []Turn
	maxTurns int
}

// NewMemory 创建对话历史
func NewMemory(maxTurns int) *Memory {
	if maxTurns < 0 {
		maxTurns = 0
	}
	return &Memory{maxTurns: maxTurns}
}

// Append 追加一轮，超过上限时丢弃最早的
func (m *Memory) Append(turn Turn) {
	m.turns = append(m.turns, turn)
	if m.maxTurns > 0 && len(m.turns) > m.maxTurns {
		m.turns = append([]Turn(nil), m.turns[len(m.turns)-m.maxTurns:]...)
	}
}

// Turns 返回副本
func (m *Memory) Turns() []Turn {
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

func (m *Memory) Len() int {
	return len(m.turns)
}
