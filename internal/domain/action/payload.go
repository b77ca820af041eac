package action

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload полезная нагрузка действия. Набор реализаций закрыт: isPayload
// не экспортируется, а обработка идет через Visitor.
type Payload interface {
	Kind() Kind
	Accept(v Visitor) error
	isPayload()
}

// Visitor обработчик всех видов нагрузки. Добавление нового вида ломает
// компиляцию каждого обработчика, пока он не научится его обрабатывать.
type Visitor interface {
	VisitQuizAttempt(p *QuizAttemptPayload) error
	VisitLessonCompletion(p *LessonCompletionPayload) error
	VisitCourseProgress(p *CourseProgressPayload) error
	VisitProfileUpdate(p *ProfileUpdatePayload) error
	VisitGenericUserData(p *GenericUserDataPayload) error
}

// Answer ответ на вопрос теста
type Answer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// QuizAttemptPayload попытка прохождения теста
type QuizAttemptPayload struct {
	AttemptID        string    `json:"attempt_id"`
	UserID           string    `json:"user_id"`
	CourseID         string    `json:"course_id"`
	QuizID           string    `json:"quiz_id"`
	Answers          []Answer  `json:"answers"`
	LocalScore       float64   `json:"local_score"`
	LocalPercentage  float64   `json:"local_percentage"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	AttemptNumber    int       `json:"attempt_number"`
}

// LessonCompletionPayload завершение урока (модуля)
type LessonCompletionPayload struct {
	CourseID         string  `json:"course_id"`
	LessonID         string  `json:"lesson_id"`
	SectionID        string  `json:"section_id,omitempty"`
	Completed        bool    `json:"completed"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
	ProgressPercent  float64 `json:"progress_percent"`
}

// CourseProgressPayload агрегированный прогресс по курсу
type CourseProgressPayload struct {
	CourseID               string    `json:"course_id"`
	CompletedLessonIDs     []string  `json:"completed_lesson_ids"`
	CompletedSectionIDs    []string  `json:"completed_section_ids,omitempty"`
	OverallProgressPercent float64   `json:"overall_progress_percent"`
	TotalTimeSpentSeconds  int       `json:"total_time_spent_seconds"`
	CurrentLessonID        string    `json:"current_lesson_id,omitempty"`
	LastModifiedAt         time.Time `json:"last_modified_at"`
}

// ProfileUpdatePayload изменение полей профиля. Base - значения этих полей,
// которые клиент видел последними.
type ProfileUpdatePayload struct {
	Fields map[string]string `json:"fields"`
	Base   map[string]string `json:"base"`
}

// GenericUserDataPayload произвольные пользовательские данные по ключу
type GenericUserDataPayload struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	BaseVersion int64           `json:"base_version"`
}

func (*QuizAttemptPayload) Kind() Kind      { return KindQuizAttempt }
func (*LessonCompletionPayload) Kind() Kind { return KindLessonCompletion }
func (*CourseProgressPayload) Kind() Kind   { return KindCourseProgress }
func (*ProfileUpdatePayload) Kind() Kind    { return KindProfileUpdate }
func (*GenericUserDataPayload) Kind() Kind  { return KindGenericUserData }

func (p *QuizAttemptPayload) Accept(v Visitor) error      { return v.VisitQuizAttempt(p) }
func (p *LessonCompletionPayload) Accept(v Visitor) error { return v.VisitLessonCompletion(p) }
func (p *CourseProgressPayload) Accept(v Visitor) error   { return v.VisitCourseProgress(p) }
func (p *ProfileUpdatePayload) Accept(v Visitor) error    { return v.VisitProfileUpdate(p) }
func (p *GenericUserDataPayload) Accept(v Visitor) error  { return v.VisitGenericUserData(p) }

func (*QuizAttemptPayload) isPayload()      {}
func (*LessonCompletionPayload) isPayload() {}
func (*CourseProgressPayload) isPayload()   {}
func (*ProfileUpdatePayload) isPayload()    {}
func (*GenericUserDataPayload) isPayload()  {}

// DecodePayload декодирует нагрузку по виду действия
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var p Payload

	switch kind {
	case KindQuizAttempt:
		p = &QuizAttemptPayload{}
	case KindLessonCompletion:
		p = &LessonCompletionPayload{}
	case KindCourseProgress:
		p = &CourseProgressPayload{}
	case KindProfileUpdate:
		p = &ProfileUpdatePayload{}
	case KindGenericUserData:
		p = &GenericUserDataPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: kind %s", ErrEmptyPayload, kind)
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}

	return p, nil
}
