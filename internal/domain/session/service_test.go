package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, userID string, tokenHash string, expiresAt time.Time) error {
	args := m.Called(ctx, userID, tokenHash, expiresAt)
	return args.Error(0)
}

func (m *MockRepository) Validate(ctx context.Context, tokenHash string) (string, error) {
	args := m.Called(ctx, tokenHash)
	return args.String(0), args.Error(1)
}

func TestService_Create(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo, time.Hour, slog.Default())

	mockRepo.On("Create", mock.Anything, "user-1", mock.MatchedBy(func(hash string) bool {
		return len(hash) == 64
	}), mock.MatchedBy(func(expiresAt time.Time) bool {
		return expiresAt.After(time.Now().Add(59 * time.Minute))
	})).Return(nil)

	token, err := service.Create(context.Background(), "user-1")
	require.NoError(t, err)
	// base64 от 32 байт
	assert.Len(t, token, 44)

	mockRepo.AssertExpectations(t)
}

func TestService_Create_RepositoryError(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo, 0, slog.Default())

	mockRepo.On("Create", mock.Anything, "user-1", mock.AnythingOfType("string"), mock.AnythingOfType("time.Time")).
		Return(errors.New("database error"))

	_, err := service.Create(context.Background(), "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database error")
}

func TestService_Create_EmptyUser(t *testing.T) {
	service := NewService(new(MockRepository), 0, slog.Default())

	_, err := service.Create(context.Background(), "")
	assert.Error(t, err)
}

func TestService_Validate(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo, 0, slog.Default())

	token := "test_token_123"
	mockRepo.On("Validate", mock.Anything, HashToken(token)).Return("user-1", nil)

	userID, err := service.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	mockRepo.AssertExpectations(t)
}

func TestService_Validate_Invalid(t *testing.T) {
	mockRepo := new(MockRepository)
	service := NewService(mockRepo, 0, slog.Default())

	mockRepo.On("Validate", mock.Anything, mock.AnythingOfType("string")).Return("", errors.New("no rows"))

	_, err := service.Validate(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = service.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("a"), HashToken("a"))
	assert.NotEqual(t, HashToken("a"), HashToken("b"))
	assert.Len(t, HashToken("a"), 64)
}
