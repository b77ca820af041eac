package action

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind вид действия, ожидающего синхронизации
type Kind string

const (
	KindQuizAttempt      Kind = "quiz_attempt"
	KindLessonCompletion Kind = "lesson_completion"
	KindCourseProgress   Kind = "course_progress"
	KindProfileUpdate    Kind = "profile_update"
	KindGenericUserData  Kind = "generic_user_data"
)

// Kinds возвращает закрытый набор видов действий
func Kinds() []Kind {
	return []Kind{
		KindQuizAttempt,
		KindLessonCompletion,
		KindCourseProgress,
		KindProfileUpdate,
		KindGenericUserData,
	}
}

// Valid проверяет, что вид входит в закрытый набор
func (k Kind) Valid() bool {
	switch k {
	case KindQuizAttempt, KindLessonCompletion, KindCourseProgress, KindProfileUpdate, KindGenericUserData:
		return true
	}
	return false
}

// UserSignificant - действия, потеря которых заметна пользователю
func (k Kind) UserSignificant() bool {
	return k == KindQuizAttempt || k == KindProfileUpdate
}

// Status статус элемента очереди
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusFailed   Status = "failed"
	StatusDone     Status = "done"
)

// Action единица работы, ожидающая синхронизации с сервером
type Action struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	Payload       Payload    `json:"-"`
	OwnerID       string     `json:"owner_id"`
	CourseID      string     `json:"course_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Seq           int64      `json:"seq"`
	AttemptCount  int        `json:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	Status        Status     `json:"status"`
	LastError     string     `json:"last_error,omitempty"`
	CoalesceKey   string     `json:"coalesce_key,omitempty"`
}

// New создает действие для полезной нагрузки; вид берется из нагрузки
func New(ownerID, courseID string, payload Payload) *Action {
	return &Action{
		Kind:     payload.Kind(),
		Payload:  payload,
		OwnerID:  ownerID,
		CourseID: courseID,
	}
}

// Partition ключ партиции (владелец + курс), внутри которой сохраняется порядок
func (a *Action) Partition() string {
	return PartitionKey(a.OwnerID, a.CourseID)
}

// PartitionKey строит ключ партиции
func PartitionKey(ownerID, courseID string) string {
	return ownerID + "/" + courseID
}

// Eligible - действие может быть выбрано планировщиком автоматически
func (a *Action) Eligible(now time.Time) bool {
	return a.Status == StatusPending && !a.NextAttemptAt.After(now)
}

// Exhausted - попытки исчерпаны
func (a *Action) Exhausted() bool {
	return a.MaxAttempts > 0 && a.AttemptCount >= a.MaxAttempts
}

// Clone возвращает независимую копию (нагрузка копируется через JSON)
func (a *Action) Clone() (*Action, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}

	var out Action
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type envelope struct {
	alias
	Payload json.RawMessage `json:"payload"`
}

type alias Action

// MarshalJSON сериализует действие вместе с нагрузкой
func (a Action) MarshalJSON() ([]byte, error) {
	if a.Payload == nil {
		return nil, fmt.Errorf("%w: action %s", ErrEmptyPayload, a.ID)
	}
	if a.Payload.Kind() != a.Kind {
		return nil, fmt.Errorf("%w: kind %s, payload %s", ErrKindMismatch, a.Kind, a.Payload.Kind())
	}

	raw, err := json.Marshal(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return json.Marshal(envelope{alias: alias(a), Payload: raw})
}

// UnmarshalJSON восстанавливает действие; нагрузка декодируется по виду
func (a *Action) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	payload, err := DecodePayload(env.Kind, env.Payload)
	if err != nil {
		return err
	}

	*a = Action(env.alias)
	a.Payload = payload
	return nil
}
