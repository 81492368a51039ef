package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/aihub/corpus-go/internal/models"
)

type annotationRepository struct {
	db *gorm.DB
}

// NewAnnotationRepository 创建批注仓库
func NewAnnotationRepository(db *gorm.DB) AnnotationRepository {
	return &annotationRepository{db: db}
}

func (r *annotationRepository) Create(ctx context.Context, annotation *models.Annotation) error {
	return r.db.WithContext(ctx).Create(annotation).Error
}

func (r *annotationRepository) GetByID(ctx context.Context, id uint) (*models.Annotation, error) {
	var annotation models.Annotation
	if err := r.db.WithContext(ctx).First(&annotation, id).Error; err != nil {
		return nil, err
	}
	return &annotation, nil
}

func (r *annotationRepository) List(ctx context.Context) ([]models.Annotation, error) {
	var annotations []models.Annotation
	err := r.db.WithContext(ctx).Order("id ASC").Find(&annotations).Error
	return annotations, err
}
