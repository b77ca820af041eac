package action

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kindRecorder struct {
	seen []Kind
}

func (r *kindRecorder) VisitQuizAttempt(*QuizAttemptPayload) error {
	r.seen = append(r.seen, KindQuizAttempt)
	return nil
}

func (r *kindRecorder) VisitLessonCompletion(*LessonCompletionPayload) error {
	r.seen = append(r.seen, KindLessonCompletion)
	return nil
}

func (r *kindRecorder) VisitCourseProgress(*CourseProgressPayload) error {
	r.seen = append(r.seen, KindCourseProgress)
	return nil
}

func (r *kindRecorder) VisitProfileUpdate(*ProfileUpdatePayload) error {
	r.seen = append(r.seen, KindProfileUpdate)
	return nil
}

func (r *kindRecorder) VisitGenericUserData(*GenericUserDataPayload) error {
	r.seen = append(r.seen, KindGenericUserData)
	return nil
}

func TestAction_JSONRoundTripKeepsPayloadType(t *testing.T) {
	completed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := New("u1", "c1", &QuizAttemptPayload{
		AttemptID:   "att-1",
		QuizID:      "q1",
		Answers:     []Answer{{QuestionID: "1", Answer: "b"}},
		CompletedAt: completed,
	})
	a.ID = "a1"
	a.Status = StatusPending

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var decoded Action
	require.NoError(t, json.Unmarshal(data, &decoded))

	p, ok := decoded.Payload.(*QuizAttemptPayload)
	require.True(t, ok, "payload type %T", decoded.Payload)
	assert.Equal(t, "att-1", p.AttemptID)
	assert.True(t, completed.Equal(p.CompletedAt))
	assert.Equal(t, KindQuizAttempt, decoded.Kind)
	assert.Equal(t, "u1/c1", decoded.Partition())
}

func TestAction_UnmarshalRejectsUnknownKind(t *testing.T) {
	raw := []byte(`{"id":"x","kind":"telepathy","payload":{}}`)

	var a Action
	err := json.Unmarshal(raw, &a)
	assert.True(t, errors.Is(err, ErrInvalidKind))
}

func TestAction_MarshalRejectsKindMismatch(t *testing.T) {
	a := &Action{ID: "x", Kind: KindProfileUpdate, Payload: &LessonCompletionPayload{}}
	_, err := json.Marshal(a)
	assert.True(t, errors.Is(err, ErrKindMismatch))
}

func TestPayload_VisitorDispatchCoversAllKinds(t *testing.T) {
	payloads := []Payload{
		&QuizAttemptPayload{},
		&LessonCompletionPayload{},
		&CourseProgressPayload{},
		&ProfileUpdatePayload{},
		&GenericUserDataPayload{},
	}

	rec := &kindRecorder{}
	for _, p := range payloads {
		require.NoError(t, p.Accept(rec))
	}

	assert.Equal(t, Kinds(), rec.seen)
}

func TestAction_Eligible(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		action Action
		want   bool
	}{
		{"pending and due", Action{Status: StatusPending, NextAttemptAt: now.Add(-time.Second)}, true},
		{"pending in backoff", Action{Status: StatusPending, NextAttemptAt: now.Add(time.Second)}, false},
		{"in flight", Action{Status: StatusInFlight}, false},
		{"failed is terminal", Action{Status: StatusFailed}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.action.Eligible(now))
		})
	}
}

func TestKind_UserSignificant(t *testing.T) {
	assert.True(t, KindQuizAttempt.UserSignificant())
	assert.True(t, KindProfileUpdate.UserSignificant())
	assert.False(t, KindLessonCompletion.UserSignificant())
	assert.False(t, KindCourseProgress.UserSignificant())
	assert.False(t, Kind("nope").Valid())
}
