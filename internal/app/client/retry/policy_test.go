package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"studysync/internal/domain/action"
)

func TestPolicy_Backoff(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 5 * time.Second},
		{3, 15 * time.Second},
		{4, time.Minute},
		{5, 5 * time.Minute},
		{6, 5 * time.Minute},
		{100, 5 * time.Minute},
	}

	for _, tt := range tests {
		got := p.Backoff(tt.attempts)
		assert.Equal(t, tt.want, got, "attempts=%d", tt.attempts)
		assert.LessOrEqual(t, got, p.MaxBackoff())
	}
}

func TestPolicy_MaxAttemptsFor(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 5, p.MaxAttemptsFor(action.KindQuizAttempt))
	assert.Equal(t, 5, p.MaxAttemptsFor(action.KindProfileUpdate))
	assert.Equal(t, 3, p.MaxAttemptsFor(action.KindLessonCompletion))

	p.MaxAttempts[action.KindLessonCompletion] = 7
	assert.Equal(t, 7, p.MaxAttemptsFor(action.KindLessonCompletion))

	assert.Equal(t, 3, Policy{}.MaxAttemptsFor(action.KindQuizAttempt))
	assert.Equal(t, time.Second, Policy{}.Backoff(1))
}
