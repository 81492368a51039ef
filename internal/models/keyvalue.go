package models

// KeyValue 语料库级别的键值设置，值为JSON
type KeyValue struct {
	ID    uint   `gorm:"primaryKey;column:id" json:"id"`
	Key   string `gorm:"column:key;size:255;not null;uniqueIndex" json:"key"`
	Value []byte `gorm:"column:value" json:"value"`
}

func (KeyValue) TableName() string {
	return "key_value"
}
