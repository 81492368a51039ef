package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/corpus-go/internal/database"
	apperrors "github.com/aihub/corpus-go/internal/errors"
)

func newStateDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "corpus_state.db")
	quiet := logrus.New()
	quiet.SetLevel(logrus.PanicLevel)
	require.NoError(t, database.Migrate(dsn, quiet))
	db, err := database.Open(dsn, database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// MockPublisher 交互事件发布的mock
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishInteraction(ctx context.Context, conversationID, interactionID uint, question, answer string) error {
	args := m.Called(ctx, conversationID, interactionID, question, answer)
	return args.Error(0)
}

// MockMirror 批注镜像的mock
type MockMirror struct {
	mock.Mock
}

func (m *MockMirror) Upload(ctx context.Context, name string, content []byte) error {
	args := m.Called(ctx, name, content)
	return args.Error(0)
}

func TestConversationTitle(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 0, 0, time.Local)
	assert.Equal(t, "2024-03-09 14:05: what is this", ConversationTitle(at, "  what\n\tis   this "))

	long := strings.Repeat("é", 50)
	assert.Equal(t, "2024-03-09 14:05: "+strings.Repeat("é", 30), ConversationTitle(at, long))
}

func TestSessionService_AddInteractionCreatesConversation(t *testing.T) {
	db := newStateDB(t)
	ctx := context.Background()
	svc := NewSessionService(db, nil, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 0, 0, time.Local) }

	convID, firstID, err := svc.AddInteraction(ctx, nil, "How do chunks overlap?", "By 200 characters.")
	require.NoError(t, err)
	assert.NotZero(t, convID)

	again, secondID, err := svc.AddInteraction(ctx, &convID, "And the size?", "1000.")
	require.NoError(t, err)
	assert.Equal(t, convID, again)
	assert.NotEqual(t, firstID, secondID)

	list, err := svc.GetConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2024-01-02 03:04: How do chunks overlap?", list[0].Title)

	conv, err := svc.GetConversationByID(ctx, convID)
	require.NoError(t, err)
	require.Len(t, conv.Interactions, 2)
	assert.Equal(t, "How do chunks overlap?", conv.Interactions[0].HumanQuestion)
	for _, i := range conv.Interactions {
		assert.True(t, i.Answered())
	}

	interaction, err := svc.GetInteractionByID(ctx, secondID)
	require.NoError(t, err)
	assert.Equal(t, "1000.", *interaction.AIAnswer)
	assert.NotNil(t, interaction.DateAnswer)

	last, err := svc.LastInteraction(ctx)
	require.NoError(t, err)
	assert.Equal(t, secondID, last.ID)
}

func TestSessionService_UnknownConversation(t *testing.T) {
	db := newStateDB(t)
	ctx := context.Background()
	svc := NewSessionService(db, nil, zap.NewNop())

	missing := uint(42)
	_, _, err := svc.AddInteraction(ctx, &missing, "q", "a")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	list, err := svc.GetConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.GetConversationByID(ctx, 42)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	_, err = svc.GetInteractionByID(ctx, 42)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	_, err = svc.LastInteraction(ctx)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestSessionService_PublishesAfterCommit(t *testing.T) {
	db := newStateDB(t)
	ctx := context.Background()
	pub := new(MockPublisher)
	svc := NewSessionService(db, pub, zap.NewNop())

	pub.On("PublishInteraction", mock.Anything, uint(1), uint(1), "q", "a").Return(errors.New("broker down")).Once()

	convID, interactionID, err := svc.AddInteraction(ctx, nil, "q", "a")
	require.NoError(t, err, "publish failures must not fail the interaction")
	assert.Equal(t, uint(1), convID)
	assert.Equal(t, uint(1), interactionID)
	pub.AssertExpectations(t)

	missing := uint(9)
	_, _, err = svc.AddInteraction(ctx, &missing, "q", "a")
	require.Error(t, err)
	pub.AssertNumberOfCalls(t, "PublishInteraction", 1)
}

func TestAnnotationService_AddAndVerify(t *testing.T) {
	db := newStateDB(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "annotations")
	mirror := new(MockMirror)
	mirror.On("Upload", mock.Anything, "Key insight.txt", []byte("chunks overlap")).Return(nil).Once()
	svc := NewAnnotationService(db, mirror, zap.NewNop())

	id, path, err := svc.AddAnnotation(ctx, dir, "Key insight", "chunks overlap")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Key insight.txt"), path)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "chunks overlap", string(content))
	mirror.AssertExpectations(t)

	require.NoError(t, svc.VerifyAnnotation(ctx, dir, id))

	require.NoError(t, os.Remove(path))
	err = svc.VerifyAnnotation(ctx, dir, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePartialPersistence))

	repaired, err := svc.RepairAnnotation(ctx, dir, id)
	require.NoError(t, err)
	assert.Equal(t, path, repaired)
	require.NoError(t, svc.VerifyAnnotation(ctx, dir, id))

	err = svc.VerifyAnnotation(ctx, dir, id+10)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestAnnotationService_ExportFailureKeepsRow(t *testing.T) {
	db := newStateDB(t)
	ctx := context.Background()
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	svc := NewAnnotationService(db, nil, zap.NewNop())

	id, _, err := svc.AddAnnotation(ctx, blocker, "note", "text")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePartialPersistence))
	assert.NotZero(t, id)

	details := apperrors.GetAppError(err).Details.(map[string]interface{})
	assert.Equal(t, id, details["annotation_id"])

	stored, err := svc.GetAnnotationByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "text", stored.Text)
}

func TestAnnotationService_RejectsEmptyText(t *testing.T) {
	db := newStateDB(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "annotations")
	svc := NewAnnotationService(db, nil, zap.NewNop())

	for _, text := range []string{"", " \t\n"} {
		id, path, err := svc.AddAnnotation(ctx, dir, "blank", text)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParameters))
		assert.Zero(t, id)
		assert.Empty(t, path)
	}
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	list, err := svc.ListAnnotations(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAnnotationService_LinkedAnnotation(t *testing.T) {
	db := newStateDB(t)
	ctx := context.Background()
	sessions := NewSessionService(db, nil, zap.NewNop())
	_, interactionID, err := sessions.AddInteraction(ctx, nil, "q", "a")
	require.NoError(t, err)

	svc := NewAnnotationService(db, nil, zap.NewNop())
	id, _, err := svc.AddLinkedAnnotation(ctx, t.TempDir(), "from answer", "a", &interactionID)
	require.NoError(t, err)

	stored, err := svc.GetAnnotationByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.InteractionID)
	assert.Equal(t, interactionID, *stored.InteractionID)

	list, err := svc.ListAnnotations(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestValidateTitle(t *testing.T) {
	for _, bad := range []string{"", "   ", ".", "..", "a/b", `a\b`} {
		err := ValidateTitle(bad)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParameters), bad)
	}
	assert.NoError(t, ValidateTitle("Meeting notes 2024"))
}

func TestKeyValueService(t *testing.T) {
	db := newStateDB(t)
	ctx := context.Background()
	svc := NewKeyValueService(db)

	var show bool
	found, err := svc.Get(ctx, "show_sources", &show)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, svc.Put(ctx, "show_sources", true))
	require.NoError(t, svc.Put(ctx, "context_size", 7))

	found, err = svc.Get(ctx, "show_sources", &show)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, show)

	var size int
	_, err = svc.Get(ctx, "context_size", &size)
	require.NoError(t, err)
	assert.Equal(t, 7, size)

	require.NoError(t, svc.Delete(ctx, "context_size"))
	found, err = svc.Get(ctx, "context_size", &size)
	require.NoError(t, err)
	assert.False(t, found)

	err = svc.Put(ctx, "", 1)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidParameters))
}
