package quiz

import (
	"errors"
	"time"

	"studysync/internal/domain/action"
)

var ErrNotFound = errors.New("attempt not found")

type SyncState string

const (
	SyncStateUnsynced SyncState = "unsynced"
	SyncStateSynced   SyncState = "synced"
)

// AttemptRecord локальная запись попытки прохождения теста
type AttemptRecord struct {
	AttemptID        string          `json:"attempt_id"`
	UserID           string          `json:"user_id"`
	CourseID         string          `json:"course_id"`
	QuizID           string          `json:"quiz_id"`
	Answers          []action.Answer `json:"answers"`
	LocalScore       float64         `json:"local_score"`
	LocalPercentage  float64         `json:"local_percentage"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      time.Time       `json:"completed_at"`
	AttemptNumber    int             `json:"attempt_number"`
	SyncState        SyncState       `json:"sync_state"`
	ServerAttemptID  string          `json:"server_attempt_id,omitempty"`
	ServerScore      *float64        `json:"server_score,omitempty"`
	ServerPercentage *float64        `json:"server_percentage,omitempty"`
	ServerPassed     bool            `json:"server_passed,omitempty"`
	SyncedAt         *time.Time      `json:"synced_at,omitempty"`
}

// Synced попытка подтверждена сервером
func (r *AttemptRecord) Synced() bool {
	return r.SyncState == SyncStateSynced
}

// MarkSynced записывает серверный идентификатор и оценку
func (r *AttemptRecord) MarkSynced(serverID string, score, percentage float64, passed bool, at time.Time) {
	r.SyncState = SyncStateSynced
	r.ServerAttemptID = serverID
	r.ServerScore = &score
	r.ServerPercentage = &percentage
	r.ServerPassed = passed
	r.SyncedAt = &at
}

// Payload нагрузка действия для отправки попытки
func (r *AttemptRecord) Payload() *action.QuizAttemptPayload {
	return &action.QuizAttemptPayload{
		AttemptID:        r.AttemptID,
		UserID:           r.UserID,
		CourseID:         r.CourseID,
		QuizID:           r.QuizID,
		Answers:          append([]action.Answer(nil), r.Answers...),
		LocalScore:       r.LocalScore,
		LocalPercentage:  r.LocalPercentage,
		TimeSpentSeconds: r.TimeSpentSeconds,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		AttemptNumber:    r.AttemptNumber,
	}
}

// OwnerQuizKey значение индекса ownerQuiz
func OwnerQuizKey(userID, quizID string) string {
	return userID + "/" + quizID
}
