package session

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, userID string, tokenHash string, expiresAt time.Time) error
	// Validate возвращает пользователя по хэшу действующего токена
	Validate(ctx context.Context, tokenHash string) (string, error)
}
