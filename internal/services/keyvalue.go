package services

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/repository"
)

// KeyValueService 值以JSON保存
type KeyValueService struct {
	repo repository.KeyValueRepository
}

// NewKeyValueService 创建键值服务
func NewKeyValueService(db *gorm.DB) *KeyValueService {
	return &KeyValueService{repo: repository.NewKeyValueRepository(db)}
}

// Get 读取并解码到out，不存在时返回false
func (s *KeyValueService) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	kv, err := s.repo.Get(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewDatabaseError("get key "+key, err)
	}
	if err := json.Unmarshal(kv.Value, out); err != nil {
		return false, apperrors.NewInvalidParameters("value of %q is not valid JSON", key).WithCause(err)
	}
	return true, nil
}

// Put 编码为JSON后写入
func (s *KeyValueService) Put(ctx context.Context, key string, value interface{}) error {
	if key == "" {
		return apperrors.NewInvalidParameters("key is empty")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewInvalidParameters("value of %q cannot be encoded", key).WithCause(err)
	}
	if err := s.repo.Put(ctx, key, raw); err != nil {
		return apperrors.NewDatabaseError("put key "+key, err)
	}
	return nil
}

// Delete 删除键，不存在时不报错
func (s *KeyValueService) Delete(ctx context.Context, key string) error {
	if err := s.repo.Delete(ctx, key); err != nil {
		return apperrors.NewDatabaseError("delete key "+key, err)
	}
	return nil
}
