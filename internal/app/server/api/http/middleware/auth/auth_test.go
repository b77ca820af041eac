package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"studysync/internal/utils/logger"
)

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Create(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockSession) Validate(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

type whoamiOutput struct {
	Body struct {
		UserID string `json:"userId"`
	}
}

func setup(t *testing.T, sessions *MockSession) humatest.TestAPI {
	_, api := humatest.New(t)
	mw := New(sessions, logger.Discard())

	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/whoami",
		Middlewares: huma.Middlewares{mw.Middleware()},
	}, func(ctx context.Context, _ *struct{}) (*whoamiOutput, error) {
		userID, ok := GetUserID(ctx)
		if !ok {
			return nil, huma.Error401Unauthorized("Unauthorized")
		}
		out := &whoamiOutput{}
		out.Body.UserID = userID
		return out, nil
	})
	return api
}

func TestAuth_Middleware(t *testing.T) {
	sessions := new(MockSession)
	sessions.On("Validate", mock.Anything, "good").Return("user-1", nil)
	sessions.On("Validate", mock.Anything, "bad").Return("", errors.New("invalid session"))

	api := setup(t, sessions)

	tests := []struct {
		name   string
		header []any
		status int
		body   string
	}{
		{name: "valid token", header: []any{"Authorization: Bearer good"}, status: http.StatusOK, body: `"user-1"`},
		{name: "invalid token", header: []any{"Authorization: Bearer bad"}, status: http.StatusUnauthorized},
		{name: "no header", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: []any{"Authorization: Basic abc"}, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := api.Get("/whoami", tt.header...)
			assert.Equal(t, tt.status, resp.Code)
			if tt.body != "" {
				assert.Contains(t, resp.Body.String(), tt.body)
			}
		})
	}
}

func TestGetUserID(t *testing.T) {
	_, ok := GetUserID(context.Background())
	assert.False(t, ok)

	id, ok := GetUserID(WithUserID(context.Background(), "u1"))
	assert.True(t, ok)
	assert.Equal(t, "u1", id)
}
