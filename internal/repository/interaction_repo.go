package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/aihub/corpus-go/internal/models"
)

type interactionRepository struct {
	db *gorm.DB
}

// NewInteractionRepository 创建交互仓库
func NewInteractionRepository(db *gorm.DB) InteractionRepository {
	return &interactionRepository{db: db}
}

func (r *interactionRepository) Create(ctx context.Context, interaction *models.Interaction) error {
	return r.db.WithContext(ctx).Create(interaction).Error
}

func (r *interactionRepository) GetByID(ctx context.Context, id uint) (*models.Interaction, error) {
	var interaction models.Interaction
	if err := r.db.WithContext(ctx).First(&interaction, id).Error; err != nil {
		return nil, err
	}
	return &interaction, nil
}

// Last 最近一条已回答的交互
func (r *interactionRepository) Last(ctx context.Context) (*models.Interaction, error) {
	var interaction models.Interaction
	err := r.db.WithContext(ctx).
		Where("ai_answer IS NOT NULL").
		Order("id DESC").
		First(&interaction).Error
	if err != nil {
		return nil, err
	}
	return &interaction, nil
}
