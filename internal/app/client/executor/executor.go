// Package executor выполняет действия очереди на сервере.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"studysync/internal/app/client/store"
	"studysync/internal/app/client/userdata"
	"studysync/internal/domain/action"
	"studysync/internal/domain/conflict"
	"studysync/internal/domain/learning"
	"studysync/internal/domain/progress"
	"studysync/internal/domain/quiz"
)

// Remote методы сервера обучения
type Remote interface {
	ListAttempts(ctx context.Context, courseID, quizID string) ([]learning.Attempt, error)
	SubmitAttempt(ctx context.Context, courseID, quizID string, req learning.SubmitAttemptRequest) (*learning.SubmitAttemptResponse, error)
	UpdateLessonCompletion(ctx context.Context, lc learning.LessonCompletion) error
	UpdateCourseProgress(ctx context.Context, p learning.CourseProgress) (*learning.CourseProgress, error)
	GetProfile(ctx context.Context) (*learning.Profile, error)
	UpdateProfile(ctx context.Context, u learning.ProfileUpdate) (*learning.Profile, error)
	GetUserData(ctx context.Context, key string) (*learning.UserData, error)
	PutUserData(ctx context.Context, key string, put learning.UserDataPut) (*learning.UserData, error)
}

// Attempts локальные записи попыток
type Attempts interface {
	Get(ctx context.Context, attemptID string) (*quiz.AttemptRecord, error)
	MarkSynced(ctx context.Context, attemptID, serverID string, score, percentage float64, passed bool) (*quiz.AttemptRecord, error)
}

// Progress локальный прогресс
type Progress interface {
	ReconcileQuizAttempt(ctx context.Context, ownerID, courseID, quizID string, r progress.QuizResult) (*progress.Snapshot, error)
	ApplyServerProgress(ctx context.Context, ownerID, courseID string, p learning.CourseProgress) (*progress.Snapshot, error)
	MarkSynced(ctx context.Context, ownerID, courseID string, modifiedAt, at time.Time) (*progress.Snapshot, error)
	GetProgress(ctx context.Context, ownerID, courseID string) (*progress.Snapshot, error)
}

// Backlog сведения об очереди партиции
type Backlog interface {
	Outstanding(ctx context.Context, partition, exceptID string) (bool, error)
}

// UserData локальный профиль и пользовательские данные
type UserData interface {
	Profile(ctx context.Context, ownerID string) (*userdata.Profile, error)
	ApplyServerProfile(ctx context.Context, ownerID string, p learning.Profile, keepPending bool) (*userdata.Profile, error)
	GetData(ctx context.Context, ownerID, key string) (*userdata.Entry, error)
	ApplyServerData(ctx context.Context, ownerID string, d learning.UserData, keepLocal bool) (*userdata.Entry, error)
}

type OutcomeKind int

const (
	// OutcomeDone действие выполнено, запись очереди удаляется
	OutcomeDone OutcomeKind = iota
	// OutcomeRetry временная ошибка, действие повторяется с задержкой
	OutcomeRetry
	// OutcomeTerminal окончательная ошибка, действие переходит в failed
	OutcomeTerminal
	// OutcomeConflict конфликт, требуется решение пользователя
	OutcomeConflict
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDone:
		return "done"
	case OutcomeRetry:
		return "retry"
	case OutcomeTerminal:
		return "terminal"
	case OutcomeConflict:
		return "conflict"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

type Outcome struct {
	Kind     OutcomeKind
	Err      error
	Conflict *conflict.Record
	// Duplicate попытка уже была на сервере и не отправлялась повторно
	Duplicate bool
}

// conflictError расхождение с сервером, обнаруженное обработчиком
type conflictError struct {
	reason string
	server any
	local  action.Payload
}

func (e *conflictError) Error() string {
	return "conflict: " + e.reason
}

type Executor struct {
	remote          Remote
	attempts        Attempts
	progress        Progress
	userdata        UserData
	backlog         Backlog
	duplicateWindow time.Duration
	log             *slog.Logger
	now             func() time.Time
}

type Option func(*Executor)

func WithDuplicateWindow(d time.Duration) Option {
	return func(e *Executor) { e.duplicateWindow = d }
}

// WithBacklog без очереди снимок прогресса отмечается синхронизированным
// только после course_progress.
func WithBacklog(b Backlog) Option {
	return func(e *Executor) { e.backlog = b }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func New(remote Remote, attempts Attempts, prog Progress, ud UserData, log *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		remote:          remote,
		attempts:        attempts,
		progress:        prog,
		userdata:        ud,
		duplicateWindow: learning.DefaultDuplicateWindow,
		log:             log.With(slog.String("component", "executor")),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute выполняет действие и классифицирует результат
func (e *Executor) Execute(ctx context.Context, a *action.Action) Outcome {
	if a.Payload == nil {
		return Outcome{Kind: OutcomeTerminal, Err: action.ErrEmptyPayload}
	}

	v := &visitor{e: e, ctx: ctx, a: a}
	err := a.Payload.Accept(v)
	if err == nil {
		return Outcome{Kind: OutcomeDone, Duplicate: v.duplicate}
	}

	var ce *conflictError
	if errors.As(err, &ce) {
		return Outcome{Kind: OutcomeConflict, Err: err, Conflict: e.conflictRecord(a, ce)}
	}

	kind := Classify(err)
	if kind == OutcomeConflict {
		return Outcome{Kind: kind, Err: err, Conflict: e.conflictRecord(a, &conflictError{reason: err.Error()})}
	}
	return Outcome{Kind: kind, Err: err}
}

// Classify относит ошибку к исходу: сетевые и ошибки хранилища повторяются,
// ошибки валидации окончательны.
func Classify(err error) OutcomeKind {
	switch {
	case err == nil:
		return OutcomeDone
	case errors.Is(err, learning.ErrConflict):
		return OutcomeConflict
	case errors.Is(err, learning.ErrValidation),
		errors.Is(err, action.ErrEmptyPayload),
		errors.Is(err, action.ErrInvalidKind),
		errors.Is(err, action.ErrKindMismatch):
		return OutcomeTerminal
	case errors.Is(err, learning.ErrTransport), errors.Is(err, store.ErrStorage):
		return OutcomeRetry
	}
	return OutcomeRetry
}

func (e *Executor) conflictRecord(a *action.Action, ce *conflictError) *conflict.Record {
	var server json.RawMessage
	if ce.server != nil {
		if data, err := json.Marshal(ce.server); err == nil {
			server = data
		}
	}

	local := ce.local
	if local == nil {
		local = a.Payload
	}

	return &conflict.Record{
		ActionID:      a.ID,
		Kind:          a.Kind,
		OwnerID:       a.OwnerID,
		CourseID:      a.CourseID,
		LocalPayload:  local,
		ServerPayload: server,
		DetectedAt:    e.now(),
		Reason:        ce.reason,
	}
}
