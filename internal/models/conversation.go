package models

import (
	"time"
)

// Conversation 对话表，首次提问时创建，核心流程不删除
type Conversation struct {
	ID           uint          `gorm:"primaryKey;column:id" json:"id"`
	Title        string        `gorm:"column:title;size:255;not null" json:"title"`
	DateCreated  time.Time     `gorm:"column:date_created;not null" json:"date_created"`
	Interactions []Interaction `gorm:"foreignKey:ConversationID" json:"interactions,omitempty"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Interaction 一问一答，AIAnswer与DateAnswer同时为空或同时有值
type Interaction struct {
	ID             uint       `gorm:"primaryKey;column:id" json:"id"`
	ConversationID uint       `gorm:"column:conversation_id;not null;index" json:"conversation_id"`
	HumanQuestion  string     `gorm:"column:human_question;type:text;not null" json:"human_question"`
	DateQuestion   time.Time  `gorm:"column:date_question;not null" json:"date_question"`
	AIAnswer       *string    `gorm:"column:ai_answer;type:text" json:"ai_answer,omitempty"`
	DateAnswer     *time.Time `gorm:"column:date_answer" json:"date_answer,omitempty"`
}

func (Interaction) TableName() string {
	return "interactions"
}

// Answered 是否已有回答
func (i *Interaction) Answered() bool {
	return i.AIAnswer != nil && i.DateAnswer != nil
}

// SetAnswer 回答与回答时间一起写入
func (i *Interaction) SetAnswer(answer string, at time.Time) {
	i.AIAnswer = &answer
	i.DateAnswer = &at
}
