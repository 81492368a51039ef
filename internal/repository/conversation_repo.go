package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/aihub/corpus-go/internal/models"
)

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建对话仓库
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Create 创建对话
func (r *conversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	return r.db.WithContext(ctx).Omit("Interactions").Create(conversation).Error
}

// GetByID 获取对话及其交互，交互按ID升序
func (r *conversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Interactions", func(db *gorm.DB) *gorm.DB {
			return db.Order("interactions.id ASC")
		}).
		First(&conversation, id).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// Exists 对话是否存在
func (r *conversationRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// List 全部对话，按创建顺序
func (r *conversationRepository) List(ctx context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.WithContext(ctx).Order("id ASC").Find(&conversations).Error
	return conversations, err
}
