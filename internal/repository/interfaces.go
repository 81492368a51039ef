package repository

import (
	"context"

	"github.com/aihub/corpus-go/internal/models"
)

// ConversationRepository 对话仓库接口
type ConversationRepository interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	Exists(ctx context.Context, id uint) (bool, error)
	List(ctx context.Context) ([]models.Conversation, error)
}

// InteractionRepository 交互仓库接口
type InteractionRepository interface {
	Create(ctx context.Context, interaction *models.Interaction) error
	GetByID(ctx context.Context, id uint) (*models.Interaction, error)
	Last(ctx context.Context) (*models.Interaction, error)
}

// AnnotationRepository 批注仓库接口
type AnnotationRepository interface {
	Create(ctx context.Context, annotation *models.Annotation) error
	GetByID(ctx context.Context, id uint) (*models.Annotation, error)
	List(ctx context.Context) ([]models.Annotation, error)
}

// KeyValueRepository 键值仓库接口
type KeyValueRepository interface {
	Get(ctx context.Context, key string) (*models.KeyValue, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
