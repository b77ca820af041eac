// Package quiz записывает попытки прохождения тестов.
package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"studysync/internal/app/client/queue"
	"studysync/internal/app/client/store"
	"studysync/internal/domain/action"
	"studysync/internal/domain/learning"
	"studysync/internal/domain/progress"
	"studysync/internal/domain/quiz"
)

// Queue очередь действий синхронизации
type Queue interface {
	Enqueue(ctx context.Context, a *action.Action) (string, error)
	List(ctx context.Context, f queue.Filter) ([]*action.Action, error)
}

// ScoreUpdater обновляет результаты тестов в прогрессе
type ScoreUpdater interface {
	UpdateQuizScore(ctx context.Context, ownerID, courseID, quizID string, r progress.QuizResult) (*progress.Snapshot, error)
}

// Submission попытка, завершенная пользователем
type Submission struct {
	UserID           string
	CourseID         string
	QuizID           string
	Answers          []action.Answer
	LocalScore       float64
	LocalPercentage  float64
	TimeSpentSeconds int
	StartedAt        time.Time
	CompletedAt      time.Time
}

type Recorder struct {
	store  store.Store
	scores ScoreUpdater
	queue  Queue
	log    *slog.Logger
	now    func() time.Time

	// номер попытки назначается под блокировкой
	mu sync.Mutex
}

func NewRecorder(st store.Store, scores ScoreUpdater, q Queue, log *slog.Logger) *Recorder {
	return &Recorder{
		store:  st,
		scores: scores,
		queue:  q,
		log:    log.With(slog.String("component", "quiz")),
		now:    time.Now,
	}
}

// Submit сохраняет попытку, обновляет прогресс и ставит попытку в очередь
func (r *Recorder) Submit(ctx context.Context, sub Submission) (*quiz.AttemptRecord, error) {
	if sub.UserID == "" || sub.CourseID == "" || sub.QuizID == "" {
		return nil, fmt.Errorf("quiz.Submit: user, course and quiz are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prior, err := r.List(ctx, sub.UserID, sub.QuizID)
	if err != nil {
		return nil, err
	}

	completedAt := sub.CompletedAt
	if completedAt.IsZero() {
		completedAt = r.now()
	}

	rec := &quiz.AttemptRecord{
		AttemptID:        uuid.NewString(),
		UserID:           sub.UserID,
		CourseID:         sub.CourseID,
		QuizID:           sub.QuizID,
		Answers:          sub.Answers,
		LocalScore:       sub.LocalScore,
		LocalPercentage:  sub.LocalPercentage,
		TimeSpentSeconds: sub.TimeSpentSeconds,
		StartedAt:        sub.StartedAt,
		CompletedAt:      completedAt,
		AttemptNumber:    len(prior) + 1,
		SyncState:        quiz.SyncStateUnsynced,
	}

	if err := r.Save(ctx, rec); err != nil {
		return nil, err
	}

	_, err = r.scores.UpdateQuizScore(ctx, rec.UserID, rec.CourseID, rec.QuizID, progress.QuizResult{
		AttemptID:   rec.AttemptID,
		Score:       rec.LocalScore,
		Percentage:  rec.LocalPercentage,
		Passed:      rec.LocalPercentage >= learning.DefaultPassPercentage,
		CompletedAt: rec.CompletedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("update quiz score: %w", err)
	}

	if _, err := r.queue.Enqueue(ctx, action.New(rec.UserID, rec.CourseID, rec.Payload())); err != nil {
		return nil, fmt.Errorf("enqueue quiz attempt: %w", err)
	}

	r.log.Info("попытка теста сохранена",
		slog.String("attempt_id", rec.AttemptID),
		slog.String("quiz_id", rec.QuizID),
		slog.Int("attempt_number", rec.AttemptNumber),
	)
	return rec, nil
}

// Requeue ставит в очередь несинхронизированные попытки, для которых нет
// действия в очереди. Так попытка не теряется, если запись сохранилась, а
// постановка в очередь нет.
func (r *Recorder) Requeue(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.store.ListByIndex(ctx, store.CollectionQuizAttempts, store.IndexOwnerID, userID)
	if err != nil {
		return 0, fmt.Errorf("list attempts: %w", err)
	}

	queued, err := r.queue.List(ctx, queue.Filter{OwnerID: userID, Kind: action.KindQuizAttempt})
	if err != nil {
		return 0, fmt.Errorf("list queued attempts: %w", err)
	}
	known := make(map[string]struct{}, len(queued))
	for _, a := range queued {
		if p, ok := a.Payload.(*action.QuizAttemptPayload); ok {
			known[p.AttemptID] = struct{}{}
		}
	}

	n := 0
	for _, it := range items {
		var rec quiz.AttemptRecord
		if err := json.Unmarshal(it.Value, &rec); err != nil {
			r.log.Error("поврежденная запись попытки", slog.String("key", it.Key), slog.String("error", err.Error()))
			continue
		}
		if rec.Synced() {
			continue
		}
		if _, ok := known[rec.AttemptID]; ok {
			continue
		}
		if _, err := r.queue.Enqueue(ctx, action.New(rec.UserID, rec.CourseID, rec.Payload())); err != nil {
			return n, fmt.Errorf("enqueue quiz attempt %s: %w", rec.AttemptID, err)
		}
		r.log.Warn("попытка без действия в очереди поставлена повторно", slog.String("attempt_id", rec.AttemptID))
		n++
	}
	return n, nil
}

func (r *Recorder) Get(ctx context.Context, attemptID string) (*quiz.AttemptRecord, error) {
	data, err := r.store.Get(ctx, store.CollectionQuizAttempts, attemptID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", quiz.ErrNotFound, attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt %s: %w", attemptID, err)
	}

	var rec quiz.AttemptRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode attempt %s: %w", attemptID, err)
	}
	return &rec, nil
}

// List попытки пользователя по тесту в порядке создания
func (r *Recorder) List(ctx context.Context, userID, quizID string) ([]*quiz.AttemptRecord, error) {
	items, err := r.store.ListByIndex(ctx, store.CollectionQuizAttempts, store.IndexOwnerQuiz, quiz.OwnerQuizKey(userID, quizID))
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	out := make([]*quiz.AttemptRecord, 0, len(items))
	for _, it := range items {
		var rec quiz.AttemptRecord
		if err := json.Unmarshal(it.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode attempt %s: %w", it.Key, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// MarkSynced фиксирует серверный идентификатор и оценку попытки
func (r *Recorder) MarkSynced(ctx context.Context, attemptID, serverID string, score, percentage float64, passed bool) (*quiz.AttemptRecord, error) {
	rec, err := r.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	rec.MarkSynced(serverID, score, percentage, passed, r.now())
	if err := r.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Recorder) Save(ctx context.Context, rec *quiz.AttemptRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode attempt %s: %w", rec.AttemptID, err)
	}

	indexes := store.Indexes{
		store.IndexOwnerID:   rec.UserID,
		store.IndexQuizID:    rec.QuizID,
		store.IndexOwnerQuiz: quiz.OwnerQuizKey(rec.UserID, rec.QuizID),
	}
	if err := r.store.Put(ctx, store.CollectionQuizAttempts, rec.AttemptID, data, indexes); err != nil {
		return fmt.Errorf("save attempt %s: %w", rec.AttemptID, err)
	}
	return nil
}
