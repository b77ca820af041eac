// Package progress ведет локальный прогресс пользователя по курсам.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"studysync/internal/app/client/store"
	"studysync/internal/domain/action"
	"studysync/internal/domain/learning"
	"studysync/internal/domain/progress"
)

// Enqueuer очередь действий
type Enqueuer interface {
	Enqueue(ctx context.Context, a *action.Action) (string, error)
}

// Aggregator обновляет снимки прогресса и ставит изменения в очередь.
// Кэш снимков заменяется целиком после каждой удачной записи в хранилище.
type Aggregator struct {
	store store.Store
	queue Enqueuer
	log   *slog.Logger
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]*progress.Snapshot
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(st store.Store, queue Enqueuer, log *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		store: st,
		queue: queue,
		log:   log.With(slog.String("component", "progress")),
		now:   time.Now,
		cache: make(map[string]*progress.Snapshot),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CoalesceKey ключ объединения действий course_progress
func CoalesceKey(ownerID, courseID string) string {
	return string(action.KindCourseProgress) + ":" + action.PartitionKey(ownerID, courseID)
}

func (a *Aggregator) StartLesson(ctx context.Context, ownerID, courseID, lessonID, sectionID string) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		s.StartLesson(lessonID, sectionID, now)
	})
}

// CompleteLesson отмечает урок пройденным и ставит в очередь lesson_completion.
// Повторный вызов не меняет набор пройденных уроков, время суммируется.
func (a *Aggregator) CompleteLesson(ctx context.Context, ownerID, courseID, lessonID, sectionID string, timeSpent int) (*progress.Snapshot, error) {
	snap, err := a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		s.CompleteLesson(lessonID, sectionID, timeSpent, now)
	})
	if err != nil {
		return nil, err
	}

	payload := &action.LessonCompletionPayload{
		CourseID:         courseID,
		LessonID:         lessonID,
		SectionID:        sectionID,
		Completed:        true,
		TimeSpentSeconds: snap.LessonProgress[lessonID].TimeSpentSeconds,
		ProgressPercent:  snap.OverallProgressPercent,
	}
	if _, err := a.queue.Enqueue(ctx, action.New(ownerID, courseID, payload)); err != nil {
		return snap, fmt.Errorf("enqueue lesson completion: %w", err)
	}
	return snap, nil
}

// TrackTime учитывает время в уроке и ставит в очередь объединяемый course_progress
func (a *Aggregator) TrackTime(ctx context.Context, ownerID, courseID, lessonID string, seconds int) (*progress.Snapshot, error) {
	snap, err := a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		s.AddTime(lessonID, seconds, now)
	})
	if err != nil {
		return nil, err
	}

	act := action.New(ownerID, courseID, coursePayload(snap))
	act.CoalesceKey = CoalesceKey(ownerID, courseID)
	if _, err := a.queue.Enqueue(ctx, act); err != nil {
		return snap, fmt.Errorf("enqueue course progress: %w", err)
	}
	return snap, nil
}

// UpdateQuizScore добавляет локальный результат теста
func (a *Aggregator) UpdateQuizScore(ctx context.Context, ownerID, courseID, quizID string, r progress.QuizResult) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		s.ApplyQuizResult(quizID, r, now)
	})
}

// ReconcileQuizAttempt записывает оценку, подтвержденную сервером
func (a *Aggregator) ReconcileQuizAttempt(ctx context.Context, ownerID, courseID, quizID string, r progress.QuizResult) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, _ time.Time) {
		s.ReconcileQuizResult(quizID, r)
	})
}

func (a *Aggregator) RecordInteraction(ctx context.Context, ownerID, courseID, lessonID string, in progress.Interaction) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		if in.At.IsZero() {
			in.At = now
		}
		s.RecordInteraction(lessonID, in, now)
	})
}

func (a *Aggregator) UpdatePosition(ctx context.Context, ownerID, courseID, lessonID string, pos progress.Position) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		s.UpdatePosition(lessonID, pos, now)
	})
}

func (a *Aggregator) AddNote(ctx context.Context, ownerID, courseID, lessonID, text string) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		s.AddNote(lessonID, progress.Note{Text: text, At: now}, now)
	})
}

func (a *Aggregator) AddBookmark(ctx context.Context, ownerID, courseID, lessonID string, b progress.Bookmark) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		if b.At.IsZero() {
			b.At = now
		}
		s.AddBookmark(lessonID, b, now)
	})
}

// SetLessonCount задает число уроков курса и пересчитывает процент
func (a *Aggregator) SetLessonCount(ctx context.Context, ownerID, courseID string, n int) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		s.SetLessonCount(n, now)
	})
}

func (a *Aggregator) SetSectionLessonCount(ctx context.Context, ownerID, courseID, sectionID string, n int) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		s.SetSectionLessonCount(sectionID, n, now)
	})
}

// ApplyServerProgress накладывает серверное состояние курса
func (a *Aggregator) ApplyServerProgress(ctx context.Context, ownerID, courseID string, p learning.CourseProgress) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, now time.Time) {
		s.ApplyServer(p, now)
	})
}

// MarkSynced отмечает синхронизацию состояния на момент modifiedAt
func (a *Aggregator) MarkSynced(ctx context.Context, ownerID, courseID string, modifiedAt, at time.Time) (*progress.Snapshot, error) {
	return a.update(ctx, ownerID, courseID, func(s *progress.Snapshot, _ time.Time) {
		s.MarkSynced(modifiedAt, at)
	})
}

// GetProgress возвращает копию снимка: сначала из кэша, затем из хранилища
func (a *Aggregator) GetProgress(ctx context.Context, ownerID, courseID string) (*progress.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.loadLocked(ctx, ownerID, courseID)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Invalidate сбрасывает кэш
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[string]*progress.Snapshot)
}

func (a *Aggregator) update(ctx context.Context, ownerID, courseID string, fn func(s *progress.Snapshot, now time.Time)) (*progress.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.loadLocked(ctx, ownerID, courseID)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	fn(next, a.now())

	if err := a.saveLocked(ctx, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

func (a *Aggregator) loadLocked(ctx context.Context, ownerID, courseID string) (*progress.Snapshot, error) {
	key := action.PartitionKey(ownerID, courseID)
	if s, ok := a.cache[key]; ok {
		return s, nil
	}

	data, err := a.store.Get(ctx, store.CollectionProgressSnapshots, key)
	if errors.Is(err, store.ErrNotFound) {
		return progress.NewSnapshot(ownerID, courseID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", key, err)
	}

	s, err := progress.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", key, err)
	}
	a.cache[key] = s
	return s, nil
}

func (a *Aggregator) saveLocked(ctx context.Context, s *progress.Snapshot) error {
	key := action.PartitionKey(s.OwnerID, s.CourseID)

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", key, err)
	}

	indexes := store.Indexes{
		store.IndexOwnerID:     s.OwnerID,
		store.IndexOwnerCourse: key,
	}
	if err := a.store.Put(ctx, store.CollectionProgressSnapshots, key, data, indexes); err != nil {
		a.log.Error("не удалось сохранить прогресс", slog.String("key", key), slog.String("error", err.Error()))
		return fmt.Errorf("save progress %s: %w", key, err)
	}

	a.cache[key] = s
	return nil
}

func coursePayload(s *progress.Snapshot) *action.CourseProgressPayload {
	return &action.CourseProgressPayload{
		CourseID:               s.CourseID,
		CompletedLessonIDs:     append([]string(nil), s.CompletedLessonIDs...),
		CompletedSectionIDs:    append([]string(nil), s.CompletedSectionIDs...),
		OverallProgressPercent: s.OverallProgressPercent,
		TotalTimeSpentSeconds:  s.TotalTimeSpentSeconds,
		CurrentLessonID:        s.CurrentLessonID,
		LastModifiedAt:         s.LastModifiedAt,
	}
}
