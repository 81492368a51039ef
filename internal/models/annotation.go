package models

import (
	"time"
)

// Annotation 用户批注，同时导出为 <title>.txt
type Annotation struct {
	ID            uint      `gorm:"primaryKey;column:id" json:"id"`
	Title         string    `gorm:"column:title;size:255;not null" json:"title"`
	Text          string    `gorm:"column:text;type:text;not null" json:"text"`
	Date          time.Time `gorm:"column:date;not null" json:"date"`
	InteractionID *uint     `gorm:"column:interaction_id;index" json:"interaction_id,omitempty"`
}

func (Annotation) TableName() string {
	return "annotations"
}

// FileName 导出文件名
func (a *Annotation) FileName() string {
	return a.Title + ".txt"
}
