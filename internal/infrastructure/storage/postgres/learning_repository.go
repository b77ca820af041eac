package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/exp/slog"

	"studysync/internal/domain/learning"
)

type LearningRepository struct {
	db  *Storage
	log *slog.Logger
}

var _ learning.Repository = (*LearningRepository)(nil)

func NewLearningRepository(db *Storage, log *slog.Logger) *LearningRepository {
	return &LearningRepository{
		db:  db,
		log: log.With(slog.String("component", "learning_repository")),
	}
}

// InsertAttempt под advisory-блокировкой пользователя и теста, чтобы
// параллельные отправки одной попытки не прошли обе
func (r *LearningRepository) InsertAttempt(ctx context.Context, a *learning.Attempt, window time.Duration) (*learning.Attempt, bool, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	lockKey := a.UserID + "/" + a.CourseID + "/" + a.QuizID
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, false, fmt.Errorf("lock attempts: %w", err)
	}

	existing, err := listAttempts(ctx, tx, a.UserID, a.CourseID, a.QuizID)
	if err != nil {
		return nil, false, err
	}
	if dup := learning.FindDuplicate(existing, a.ClientAttemptID, a.CompletedAt, window); dup != nil {
		return dup, true, nil
	}

	answers, err := json.Marshal(orEmptyAnswers(a.Answers))
	if err != nil {
		return nil, false, fmt.Errorf("marshal answers: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO quiz_attempts (id, user_id, course_id, quiz_id, client_attempt_id, answers,
		                           score, percentage, passed, time_spent_seconds, completed_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.UserID, a.CourseID, a.QuizID, a.ClientAttemptID, answers,
		a.Score, a.Percentage, a.Passed, a.TimeSpentSeconds, a.CompletedAt, a.SubmittedAt)
	if err != nil {
		r.log.Error("failed to insert attempt", slog.String("user_id", a.UserID), slog.Any("error", err))
		return nil, false, fmt.Errorf("insert attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit attempt: %w", err)
	}

	out := *a
	return &out, false, nil
}

func (r *LearningRepository) ListAttempts(ctx context.Context, userID, courseID, quizID string) ([]learning.Attempt, error) {
	return listAttempts(ctx, r.db.Pool(), userID, courseID, quizID)
}

func listAttempts(ctx context.Context, q querier, userID, courseID, quizID string) ([]learning.Attempt, error) {
	const query = `
		SELECT id, user_id, course_id, quiz_id, client_attempt_id, answers,
		       score, percentage, passed, time_spent_seconds, completed_at, submitted_at
		FROM quiz_attempts
		WHERE user_id = $1 AND course_id = $2 AND quiz_id = $3
		ORDER BY completed_at`

	rows, err := q.Query(ctx, query, userID, courseID, quizID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []learning.Attempt
	for rows.Next() {
		var (
			a       learning.Attempt
			answers []byte
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.CourseID, &a.QuizID, &a.ClientAttemptID, &answers,
			&a.Score, &a.Percentage, &a.Passed, &a.TimeSpentSeconds, &a.CompletedAt, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if len(answers) > 0 {
			if err := json.Unmarshal(answers, &a.Answers); err != nil {
				return nil, fmt.Errorf("decode answers: %w", err)
			}
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// SaveLessonCompletion сохраняет отметку и в той же транзакции добавляет
// завершенный урок в прогресс курса
func (r *LearningRepository) SaveLessonCompletion(ctx context.Context, userID string, c learning.LessonCompletion) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO lesson_completions (user_id, course_id, lesson_id, section_id, completed,
		                                time_spent_seconds, progress_percent, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id, course_id, lesson_id) DO UPDATE SET
		    section_id         = EXCLUDED.section_id,
		    completed          = lesson_completions.completed OR EXCLUDED.completed,
		    time_spent_seconds = GREATEST(lesson_completions.time_spent_seconds, EXCLUDED.time_spent_seconds),
		    progress_percent   = GREATEST(lesson_completions.progress_percent, EXCLUDED.progress_percent),
		    updated_at         = NOW()`,
		userID, c.CourseID, c.LessonID, c.SectionID, c.Completed, c.TimeSpentSeconds, c.ProgressPercent)
	if err != nil {
		r.log.Error("failed to save lesson completion", slog.String("user_id", userID), slog.Any("error", err))
		return fmt.Errorf("save lesson completion: %w", err)
	}

	if c.Completed {
		if _, err := mergeProgress(ctx, tx, userID, learning.CourseProgress{
			CourseID:           c.CourseID,
			CompletedLessonIDs: []string{c.LessonID},
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit lesson completion: %w", err)
	}
	return nil
}

func (r *LearningRepository) MergeCourseProgress(ctx context.Context, userID string, p learning.CourseProgress) (*learning.CourseProgress, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	merged, err := mergeProgress(ctx, tx, userID, p)
	if err != nil {
		r.log.Error("failed to merge course progress", slog.String("user_id", userID), slog.Any("error", err))
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit course progress: %w", err)
	}
	return merged, nil
}

func mergeProgress(ctx context.Context, tx pgx.Tx, userID string, p learning.CourseProgress) (*learning.CourseProgress, error) {
	var current learning.CourseProgress
	err := tx.QueryRow(ctx, `
		SELECT course_id, completed_lesson_ids, completed_section_ids, overall_progress_percent,
		       total_time_spent_seconds, current_lesson_id, updated_at
		FROM course_progress
		WHERE user_id = $1 AND course_id = $2
		FOR UPDATE`,
		userID, p.CourseID).Scan(&current.CourseID, &current.CompletedLessonIDs, &current.CompletedSectionIDs,
		&current.OverallProgressPercent, &current.TotalTimeSpentSeconds, &current.CurrentLessonID, &current.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load course progress: %w", err)
	}

	merged := learning.MergeCourseProgress(current, p)
	if merged.UpdatedAt.IsZero() {
		merged.UpdatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO course_progress (user_id, course_id, completed_lesson_ids, completed_section_ids,
		                             overall_progress_percent, total_time_spent_seconds, current_lesson_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, course_id) DO UPDATE SET
		    completed_lesson_ids     = EXCLUDED.completed_lesson_ids,
		    completed_section_ids    = EXCLUDED.completed_section_ids,
		    overall_progress_percent = EXCLUDED.overall_progress_percent,
		    total_time_spent_seconds = EXCLUDED.total_time_spent_seconds,
		    current_lesson_id        = EXCLUDED.current_lesson_id,
		    updated_at               = EXCLUDED.updated_at`,
		userID, merged.CourseID, orEmpty(merged.CompletedLessonIDs), orEmpty(merged.CompletedSectionIDs),
		merged.OverallProgressPercent, merged.TotalTimeSpentSeconds, merged.CurrentLessonID, merged.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("save course progress: %w", err)
	}
	return &merged, nil
}

func (r *LearningRepository) GetProfile(ctx context.Context, userID string) (*learning.Profile, error) {
	var (
		p      learning.Profile
		fields []byte
	)
	err := r.db.Pool().QueryRow(ctx,
		`SELECT fields, version, updated_at FROM profiles WHERE user_id = $1`,
		userID).Scan(&fields, &p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, learning.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	p.Fields = map[string]string{}
	if err := json.Unmarshal(fields, &p.Fields); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func (r *LearningRepository) SaveProfile(ctx context.Context, userID string, p *learning.Profile, expectedVersion int64) error {
	fields, err := json.Marshal(p.Fields)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	var query string
	if expectedVersion == 0 {
		query = `INSERT INTO profiles (user_id, fields, version, updated_at)
		         VALUES ($1, $2, $3, $4)
		         ON CONFLICT (user_id) DO NOTHING`
	} else {
		query = `UPDATE profiles SET fields = $2, version = $3, updated_at = $4
		         WHERE user_id = $1 AND version = $5`
	}

	args := []any{userID, fields, p.Version, p.UpdatedAt}
	if expectedVersion != 0 {
		args = append(args, expectedVersion)
	}

	tag, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to save profile", slog.String("user_id", userID), slog.Any("error", err))
		return fmt.Errorf("save profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile version changed, expected %d: %w", expectedVersion, learning.ErrConflict)
	}
	return nil
}

func (r *LearningRepository) GetUserData(ctx context.Context, userID, key string) (*learning.UserData, error) {
	var (
		d     learning.UserData
		value []byte
	)
	err := r.db.Pool().QueryRow(ctx,
		`SELECT key, value, version, updated_at FROM user_data WHERE user_id = $1 AND key = $2`,
		userID, key).Scan(&d.Key, &value, &d.Version, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user data %s: %w", key, learning.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user data: %w", err)
	}
	d.Value = value
	return &d, nil
}

func (r *LearningRepository) SaveUserData(ctx context.Context, userID string, d *learning.UserData, expectedVersion int64) error {
	var query string
	if expectedVersion == 0 {
		query = `INSERT INTO user_data (user_id, key, value, version, updated_at)
		         VALUES ($1, $2, $3, $4, $5)
		         ON CONFLICT (user_id, key) DO NOTHING`
	} else {
		query = `UPDATE user_data SET value = $3, version = $4, updated_at = $5
		         WHERE user_id = $1 AND key = $2 AND version = $6`
	}

	args := []any{userID, d.Key, []byte(d.Value), d.Version, d.UpdatedAt}
	if expectedVersion != 0 {
		args = append(args, expectedVersion)
	}

	tag, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to save user data", slog.String("user_id", userID), slog.String("key", d.Key), slog.Any("error", err))
		return fmt.Errorf("save user data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user data %s version changed, expected %d: %w", d.Key, expectedVersion, learning.ErrConflict)
	}
	return nil
}

func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func orEmptyAnswers(a []learning.Answer) []learning.Answer {
	if a == nil {
		return []learning.Answer{}
	}
	return a
}
