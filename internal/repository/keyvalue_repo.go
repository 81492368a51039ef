package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aihub/corpus-go/internal/models"
)

type keyValueRepository struct {
	db *gorm.DB
}

// NewKeyValueRepository 创建键值仓库
func NewKeyValueRepository(db *gorm.DB) KeyValueRepository {
	return &keyValueRepository{db: db}
}

func (r *keyValueRepository) Get(ctx context.Context, key string) (*models.KeyValue, error) {
	var kv models.KeyValue
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error; err != nil {
		return nil, err
	}
	return &kv, nil
}

// Put 按key插入或覆盖
func (r *keyValueRepository) Put(ctx context.Context, key string, value []byte) error {
	kv := models.KeyValue{Key: key, Value: value}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&kv).Error
}

func (r *keyValueRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("key = ?", key).Delete(&models.KeyValue{}).Error
}
