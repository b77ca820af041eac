package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/exp/slog"

	"studysync/internal/domain/session"
)

type SessionRepository struct {
	db  *Storage
	log *slog.Logger
}

var _ session.Repository = (*SessionRepository)(nil)

func NewSessionRepository(db *Storage, log *slog.Logger) *SessionRepository {
	return &SessionRepository{
		db:  db,
		log: log.With(slog.String("component", "session_repository")),
	}
}

func (r *SessionRepository) Create(ctx context.Context, userID string, tokenHash string, expiresAt time.Time) error {
	_, err := r.db.Pool().Exec(ctx,
		`INSERT INTO sessions (user_id, token_hash, expires_at)
         VALUES ($1, decode($2, 'hex'), $3)`,
		userID, tokenHash, expiresAt)
	if err != nil {
		r.log.Error("failed to create session", slog.String("user_id", userID), slog.Any("error", err))
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Validate(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := r.db.Pool().QueryRow(ctx,
		`SELECT user_id FROM sessions
         WHERE token_hash = decode($1, 'hex') AND expires_at > NOW()`,
		tokenHash).Scan(&userID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("invalid session")
	}
	if err != nil {
		return "", fmt.Errorf("validate session: %w", err)
	}
	return userID, nil
}
