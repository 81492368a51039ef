package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/aihub/corpus-go/internal/logger"
	"github.com/aihub/corpus-go/internal/models"
	"github.com/aihub/corpus-go/internal/repository"
)

const titleQuestionRunes = 30

// InteractionPublisher 交互提交后的事件出口
type InteractionPublisher interface {
	PublishInteraction(ctx context.Context, conversationID, interactionID uint, question, answer string) error
}

// SessionService 对话与交互的持久化
type SessionService struct {
	db        *gorm.DB
	publisher InteractionPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionService 创建会话服务，publisher可以为nil
func NewSessionService(db *gorm.DB, publisher InteractionPublisher, log *zap.Logger) *SessionService {
	if log == nil {
		log = logger.Named("sessions")
	}
	return &SessionService{
		db:        db,
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
}

// ConversationTitle 标题为创建时间加问题的前30个字符
func ConversationTitle(at time.Time, question string) string {
	collapsed := []rune(strings.Join(strings.Fields(question), " "))
	if len(collapsed) > titleQuestionRunes {
		collapsed = collapsed[:titleQuestionRunes]
	}
	return at.Format("2006-01-02 15:04") + ": " + string(collapsed)
}

// AddInteraction 记录一问一答；conversationID为nil时新建对话
func (s *SessionService) AddInteraction(ctx context.Context, conversationID *uint, question, answer string) (uint, uint, error) {
	now := s.now()
	var convID, interactionID uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		convs := repository.NewConversationRepository(tx)
		if conversationID == nil {
			conv := &models.Conversation{
				Title:       ConversationTitle(now, question),
				DateCreated: now,
			}
			if err := convs.Create(ctx, conv); err != nil {
				return apperrors.NewDatabaseError("create conversation", err)
			}
			convID = conv.ID
		} else {
			exists, err := convs.Exists(ctx, *conversationID)
			if err != nil {
				return apperrors.NewDatabaseError("find conversation", err)
			}
			if !exists {
				return apperrors.NewNotFoundError("conversation", *conversationID)
			}
			convID = *conversationID
		}

		interaction := &models.Interaction{
			ConversationID: convID,
			HumanQuestion:  question,
			DateQuestion:   now,
		}
		interaction.SetAnswer(answer, s.now())
		if err := repository.NewInteractionRepository(tx).Create(ctx, interaction); err != nil {
			return apperrors.NewDatabaseError("create interaction", err)
		}
		interactionID = interaction.ID
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	s.logger.Debug("interaction recorded",
		zap.Uint("conversation_id", convID),
		zap.Uint("interaction_id", interactionID))
	s.publish(ctx, convID, interactionID, question, answer)
	return convID, interactionID, nil
}

// publish 事件发送失败只记录日志
func (s *SessionService) publish(ctx context.Context, convID, interactionID uint, question, answer string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishInteraction(ctx, convID, interactionID, question, answer); err != nil {
		s.logger.Warn("failed to publish interaction",
			zap.Uint("conversation_id", convID),
			zap.Uint("interaction_id", interactionID),
			zap.Error(err))
	}
}

// GetConversations 全部对话，不含交互
func (s *SessionService) GetConversations(ctx context.Context) ([]models.Conversation, error) {
	list, err := repository.NewConversationRepository(s.db).List(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list conversations", err)
	}
	return list, nil
}

// GetConversationByID 对话及其交互
func (s *SessionService) GetConversationByID(ctx context.Context, id uint) (*models.Conversation, error) {
	conv, err := repository.NewConversationRepository(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("conversation", id, err)
	}
	return conv, nil
}

// GetInteractionByID 单个交互
func (s *SessionService) GetInteractionByID(ctx context.Context, id uint) (*models.Interaction, error) {
	interaction, err := repository.NewInteractionRepository(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, lookupError("interaction", id, err)
	}
	return interaction, nil
}

// LastInteraction 最近一条已回答的交互
func (s *SessionService) LastInteraction(ctx context.Context) (*models.Interaction, error) {
	interaction, err := repository.NewInteractionRepository(s.db).Last(ctx)
	if err != nil {
		return nil, lookupError("interaction", "last", err)
	}
	return interaction, nil
}

func lookupError(resource string, id interface{}, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NewNotFoundError(resource, id)
	}
	return apperrors.NewDatabaseError("get "+resource, err)
}
