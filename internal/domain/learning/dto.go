package learning

import (
	"encoding/json"
	"time"
)

// Answer ответ на вопрос теста
type Answer struct {
	QuestionID string `json:"questionId" doc:"Question identifier"`
	Answer     string `json:"answer" doc:"Chosen answer"`
}

// SubmitAttemptRequest отправка попытки прохождения теста
type SubmitAttemptRequest struct {
	ClientAttemptID  string    `json:"clientAttemptId" doc:"Attempt id assigned by the client"`
	Answers          []Answer  `json:"answers"`
	LocalScore       float64   `json:"localScore,omitempty" required:"false"`
	LocalPercentage  float64   `json:"localPercentage,omitempty" required:"false"`
	TimeSpentSeconds int       `json:"timeSpentSeconds" minimum:"0"`
	StartedAt        time.Time `json:"startedAt,omitempty" required:"false"`
	CompletedAt      time.Time `json:"completedAt"`
}

// Attempt попытка, сохраненная сервером
type Attempt struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	CourseID         string    `json:"courseId"`
	QuizID           string    `json:"quizId"`
	ClientAttemptID  string    `json:"clientAttemptId,omitempty"`
	Answers          []Answer  `json:"answers,omitempty"`
	Score            float64   `json:"score"`
	Percentage       float64   `json:"percentage"`
	Passed           bool      `json:"passed"`
	TimeSpentSeconds int       `json:"timeSpentSeconds"`
	CompletedAt      time.Time `json:"completedAt"`
	SubmittedAt      time.Time `json:"submittedAt"`
}

// SubmitAttemptResponse ответ на отправку попытки
type SubmitAttemptResponse struct {
	Attempt
	Duplicate bool `json:"duplicate" doc:"True when the server already had this attempt"`
}

// AttemptList список попыток
type AttemptList struct {
	Attempts []Attempt `json:"attempts"`
}

// LessonCompletion отметка о завершении урока
type LessonCompletion struct {
	CourseID         string  `json:"courseId"`
	LessonID         string  `json:"lessonId"`
	SectionID        string  `json:"sectionId,omitempty" required:"false"`
	Completed        bool    `json:"completed"`
	TimeSpentSeconds int     `json:"timeSpentSeconds" minimum:"0"`
	ProgressPercent  float64 `json:"progressPercent" minimum:"0" maximum:"100"`
}

// CourseProgress агрегированный прогресс по курсу
type CourseProgress struct {
	CourseID               string    `json:"courseId"`
	CompletedLessonIDs     []string  `json:"completedLessonIds"`
	CompletedSectionIDs    []string  `json:"completedSectionIds,omitempty" required:"false"`
	OverallProgressPercent float64   `json:"overallProgressPercent" minimum:"0" maximum:"100"`
	TotalTimeSpentSeconds  int       `json:"totalTimeSpentSeconds" minimum:"0"`
	CurrentLessonID        string    `json:"currentLessonId,omitempty" required:"false"`
	UpdatedAt              time.Time `json:"updatedAt,omitempty" required:"false"`
}

// Profile профиль пользователя
type Profile struct {
	Fields    map[string]string `json:"fields"`
	Version   int64             `json:"version"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ProfileUpdate изменение профиля с предусловием по базовым значениям
type ProfileUpdate struct {
	Fields map[string]string `json:"fields"`
	Base   map[string]string `json:"base,omitempty" required:"false"`
}

// UserData произвольные данные пользователя
type UserData struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// UserDataPut запись данных с ожидаемой версией
type UserDataPut struct {
	Value       json.RawMessage `json:"value"`
	BaseVersion int64           `json:"baseVersion" minimum:"0"`
}
