package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// DefaultPassPercentage порог прохождения теста
const DefaultPassPercentage = 70.0

// Repository хранилище данных обучения на сервере
type Repository interface {
	// InsertAttempt атомарно проверяет окно дубликатов и сохраняет попытку.
	// Возвращает сохраненную попытку и признак дубликата.
	InsertAttempt(ctx context.Context, a *Attempt, window time.Duration) (*Attempt, bool, error)
	ListAttempts(ctx context.Context, userID, courseID, quizID string) ([]Attempt, error)
	SaveLessonCompletion(ctx context.Context, userID string, c LessonCompletion) error
	// MergeCourseProgress объединяет прогресс с сохраненным и возвращает результат
	MergeCourseProgress(ctx context.Context, userID string, p CourseProgress) (*CourseProgress, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	// SaveProfile сохраняет профиль, если текущая версия равна expectedVersion, иначе ErrConflict
	SaveProfile(ctx context.Context, userID string, p *Profile, expectedVersion int64) error
	GetUserData(ctx context.Context, userID, key string) (*UserData, error)
	// SaveUserData сохраняет значение, если текущая версия равна expectedVersion, иначе ErrConflict
	SaveUserData(ctx context.Context, userID string, d *UserData, expectedVersion int64) error
}

// Grader оценивает ответы. ok=false, если ключ ответов неизвестен.
type Grader interface {
	Grade(courseID, quizID string, answers []Answer) (score, percentage float64, ok bool)
}

// KeyGrader оценивает по ключам ответов: quizID -> questionID -> answer
type KeyGrader map[string]map[string]string

func (g KeyGrader) Grade(_, quizID string, answers []Answer) (float64, float64, bool) {
	key, ok := g[quizID]
	if !ok || len(key) == 0 {
		return 0, 0, false
	}

	var correct float64
	for _, a := range answers {
		if expected, ok := key[a.QuestionID]; ok && expected == a.Answer {
			correct++
		}
	}

	return correct, correct / float64(len(key)) * 100, true
}

type Servicer interface {
	SubmitAttempt(ctx context.Context, userID, courseID, quizID string, req SubmitAttemptRequest) (*SubmitAttemptResponse, error)
	ListAttempts(ctx context.Context, userID, courseID, quizID string) ([]Attempt, error)
	UpdateLessonCompletion(ctx context.Context, userID string, c LessonCompletion) error
	UpdateCourseProgress(ctx context.Context, userID string, p CourseProgress) (*CourseProgress, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, u ProfileUpdate) (*Profile, error)
	GetUserData(ctx context.Context, userID, key string) (*UserData, error)
	PutUserData(ctx context.Context, userID, key string, put UserDataPut) (*UserData, error)
}

type Service struct {
	repo            Repository
	grader          Grader
	duplicateWindow time.Duration
	passPercentage  float64
	log             *slog.Logger
	now             func() time.Time
}

type Option func(*Service)

func WithGrader(g Grader) Option {
	return func(s *Service) { s.grader = g }
}

func WithDuplicateWindow(d time.Duration) Option {
	return func(s *Service) { s.duplicateWindow = d }
}

func WithPassPercentage(p float64) Option {
	return func(s *Service) { s.passPercentage = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		grader:          KeyGrader{},
		duplicateWindow: DefaultDuplicateWindow,
		passPercentage:  DefaultPassPercentage,
		log:             log,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) SubmitAttempt(ctx context.Context, userID, courseID, quizID string, req SubmitAttemptRequest) (*SubmitAttemptResponse, error) {
	const op = "learning.Service.SubmitAttempt"

	if courseID == "" || quizID == "" {
		return nil, fmt.Errorf("%s: %w: course and quiz are required", op, ErrInvalidInput)
	}
	if req.CompletedAt.IsZero() {
		return nil, fmt.Errorf("%s: %w: completedAt is required", op, ErrInvalidInput)
	}

	score, percentage, ok := s.grader.Grade(courseID, quizID, req.Answers)
	if !ok {
		score, percentage = req.LocalScore, req.LocalPercentage
	}

	attempt := &Attempt{
		ID:               uuid.NewString(),
		UserID:           userID,
		CourseID:         courseID,
		QuizID:           quizID,
		ClientAttemptID:  req.ClientAttemptID,
		Answers:          req.Answers,
		Score:            score,
		Percentage:       percentage,
		Passed:           percentage >= s.passPercentage,
		TimeSpentSeconds: req.TimeSpentSeconds,
		CompletedAt:      req.CompletedAt.UTC(),
		SubmittedAt:      s.now().UTC(),
	}

	stored, duplicate, err := s.repo.InsertAttempt(ctx, attempt, s.duplicateWindow)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if duplicate {
		s.log.Info("duplicate attempt suppressed",
			slog.String("user_id", userID),
			slog.String("quiz_id", quizID),
			slog.String("attempt_id", stored.ID),
		)
	}

	return &SubmitAttemptResponse{Attempt: *stored, Duplicate: duplicate}, nil
}

func (s *Service) ListAttempts(ctx context.Context, userID, courseID, quizID string) ([]Attempt, error) {
	attempts, err := s.repo.ListAttempts(ctx, userID, courseID, quizID)
	if err != nil {
		return nil, fmt.Errorf("learning.Service.ListAttempts: %w", err)
	}
	return attempts, nil
}

func (s *Service) UpdateLessonCompletion(ctx context.Context, userID string, c LessonCompletion) error {
	if c.CourseID == "" || c.LessonID == "" {
		return fmt.Errorf("learning.Service.UpdateLessonCompletion: %w: course and lesson are required", ErrInvalidInput)
	}
	if err := s.repo.SaveLessonCompletion(ctx, userID, c); err != nil {
		return fmt.Errorf("learning.Service.UpdateLessonCompletion: %w", err)
	}
	return nil
}

func (s *Service) UpdateCourseProgress(ctx context.Context, userID string, p CourseProgress) (*CourseProgress, error) {
	if p.CourseID == "" {
		return nil, fmt.Errorf("learning.Service.UpdateCourseProgress: %w: course is required", ErrInvalidInput)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now().UTC()
	}

	merged, err := s.repo.MergeCourseProgress(ctx, userID, p)
	if err != nil {
		return nil, fmt.Errorf("learning.Service.UpdateCourseProgress: %w", err)
	}
	return merged, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Profile{Fields: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("learning.Service.GetProfile: %w", err)
	}
	return p, nil
}

// UpdateProfile применяет изменение, если поля на сервере не расходятся с
// base клиента. Иначе возвращает ErrConflict.
func (s *Service) UpdateProfile(ctx context.Context, userID string, u ProfileUpdate) (*Profile, error) {
	const op = "learning.Service.UpdateProfile"

	if len(u.Fields) == 0 {
		return nil, fmt.Errorf("%s: %w: no fields", op, ErrInvalidInput)
	}

	current, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if u.Base != nil {
		if diverged := ProfileDivergence(current.Fields, u.Fields, u.Base); len(diverged) > 0 {
			return nil, fmt.Errorf("%s: %w: fields %v changed on server", op, ErrConflict, diverged)
		}
	}

	next := &Profile{
		Fields:    make(map[string]string, len(current.Fields)+len(u.Fields)),
		Version:   current.Version + 1,
		UpdatedAt: s.now().UTC(),
	}
	for k, v := range current.Fields {
		next.Fields[k] = v
	}
	for k, v := range u.Fields {
		next.Fields[k] = v
	}

	if err := s.repo.SaveProfile(ctx, userID, next, current.Version); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return next, nil
}

func (s *Service) GetUserData(ctx context.Context, userID, key string) (*UserData, error) {
	d, err := s.repo.GetUserData(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("learning.Service.GetUserData: %w", err)
	}
	return d, nil
}

// PutUserData записывает значение, если версия на сервере равна BaseVersion
func (s *Service) PutUserData(ctx context.Context, userID, key string, put UserDataPut) (*UserData, error) {
	const op = "learning.Service.PutUserData"

	if key == "" {
		return nil, fmt.Errorf("%s: %w: key is required", op, ErrInvalidInput)
	}
	if len(put.Value) == 0 {
		return nil, fmt.Errorf("%s: %w: value is required", op, ErrInvalidInput)
	}

	d := &UserData{
		Key:       key,
		Value:     put.Value,
		Version:   put.BaseVersion + 1,
		UpdatedAt: s.now().UTC(),
	}

	if err := s.repo.SaveUserData(ctx, userID, d, put.BaseVersion); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}
