package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/logger"
	"github.com/aihub/corpus-go/internal/models"
	"github.com/aihub/corpus-go/internal/repository"
)

// AnnotationMirror 批注文件的远端副本
type AnnotationMirror interface {
	Upload(ctx context.Context, name string, content []byte) error
}

// AnnotationService 批注的数据库行与导出文件
type AnnotationService struct {
	repo   repository.AnnotationRepository
	mirror AnnotationMirror
	logger *zap.Logger
	now    func() time.Time
}

// NewAnnotationService 创建批注服务，mirror可以为nil
func NewAnnotationService(db *gorm.DB, mirror AnnotationMirror, log *zap.Logger) *AnnotationService {
	if log == nil {
		log = logger.Named("annotations")
	}
	return &AnnotationService{
		repo:   repository.NewAnnotationRepository(db),
		mirror: mirror,
		logger: log,
		now:    time.Now,
	}
}

// ValidateTitle 标题会作为文件名使用
func ValidateTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return apperrors.NewInvalidParameters("annotation title is empty")
	}
	if trimmed == "." || trimmed == ".." || strings.ContainsAny(title, `/\`) || strings.ContainsRune(title, 0) {
		return apperrors.NewInvalidParameters("annotation title %q is not a valid file name", title)
	}
	return nil
}

// AddAnnotation 先提交数据库行，再写 <title>.txt，返回id和文件路径
func (s *AnnotationService) AddAnnotation(ctx context.Context, exportDir, title, text string) (uint, string, error) {
	return s.AddLinkedAnnotation(ctx, exportDir, title, text, nil)
}

// AddLinkedAnnotation 同AddAnnotation，并关联来源交互
func (s *AnnotationService) AddLinkedAnnotation(ctx context.Context, exportDir, title, text string, interactionID *uint) (uint, string, error) {
	if err := ValidateTitle(title); err != nil {
		return 0, "", err
	}
	if strings.TrimSpace(text) == "" {
		return 0, "", apperrors.NewInvalidParameters("annotation %q has no text", title)
	}
	annotation := &models.Annotation{
		Title:         title,
		Text:          text,
		Date:          s.now(),
		InteractionID: interactionID,
	}
	if err := s.repo.Create(ctx, annotation); err != nil {
		return 0, "", apperrors.NewDatabaseError("create annotation", err)
	}

	path := filepath.Join(exportDir, annotation.FileName())
	if err := s.export(path, text); err != nil {
		s.logger.Error("annotation row committed but export failed",
			zap.Uint("annotation_id", annotation.ID),
			zap.String("path", path),
			zap.Error(err))
		return annotation.ID, path, apperrors.NewPartialPersistence("annotation %d saved but %s was not written", annotation.ID, path).
			WithDetails(map[string]interface{}{"annotation_id": annotation.ID, "path": path}).
			WithCause(err)
	}

	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, annotation.FileName(), []byte(text)); err != nil {
			s.logger.Warn("failed to mirror annotation",
				zap.Uint("annotation_id", annotation.ID),
				zap.Error(err))
		}
	}
	return annotation.ID, path, nil
}

func (s *AnnotationService) export(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// GetAnnotationByID 单个批注
func (s *AnnotationService) GetAnnotationByID(ctx context.Context, id uint) (*models.Annotation, error) {
	annotation, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("annotation", id, err)
	}
	return annotation, nil
}

// ListAnnotations 全部批注
func (s *AnnotationService) ListAnnotations(ctx context.Context) ([]models.Annotation, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list annotations", err)
	}
	return list, nil
}

// VerifyAnnotation 检查导出文件与数据库行一致
func (s *AnnotationService) VerifyAnnotation(ctx context.Context, exportDir string, id uint) error {
	annotation, err := s.GetAnnotationByID(ctx, id)
	if err != nil {
		return err
	}
	path := filepath.Join(exportDir, annotation.FileName())
	content, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NewPartialPersistence("annotation %d has no export file %s", id, path).WithCause(err)
	}
	if !bytes.Equal(content, []byte(annotation.Text)) {
		return apperrors.NewPartialPersistence("annotation %d export file %s differs from the stored text", id, path)
	}
	return nil
}

// RepairAnnotation 重新写出导出文件
func (s *AnnotationService) RepairAnnotation(ctx context.Context, exportDir string, id uint) (string, error) {
	annotation, err := s.GetAnnotationByID(ctx, id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(exportDir, annotation.FileName())
	if err := s.export(path, annotation.Text); err != nil {
		return "", fmt.Errorf("rewrite %s: %w", path, err)
	}
	return path, nil
}
