package quiz

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/app/client/progress"
	"studysync/internal/app/client/queue"
	"studysync/internal/app/client/retry"
	"studysync/internal/app/client/store"
	"studysync/internal/domain/action"
	"studysync/internal/utils/logger"
)

func newTestRecorder(t *testing.T) (*Recorder, *progress.Aggregator, *queue.Manager) {
	t.Helper()
	st := store.NewMemoryStore()
	q := queue.NewManager(st, retry.DefaultPolicy(), logger.Discard())
	agg := progress.NewAggregator(st, q, logger.Discard())
	return NewRecorder(st, agg, q, logger.Discard()), agg, q
}

func TestRecorder_Submit(t *testing.T) {
	ctx := context.Background()
	r, agg, q := newTestRecorder(t)

	rec, err := r.Submit(ctx, Submission{
		UserID:          "u1",
		CourseID:        "c1",
		QuizID:          "q1",
		Answers:         []action.Answer{{QuestionID: "1", Answer: "b"}},
		LocalScore:      8,
		LocalPercentage: 80,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AttemptNumber)
	assert.False(t, rec.Synced())
	assert.False(t, rec.CompletedAt.IsZero())

	snap, err := agg.GetProgress(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 80.0, snap.QuizScores["q1"].BestPercentage)
	assert.True(t, snap.QuizScores["q1"].Passed)

	actions, err := q.List(ctx, queue.Filter{Kind: action.KindQuizAttempt})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, rec.AttemptID, actions[0].Payload.(*action.QuizAttemptPayload).AttemptID)

	synced, err := r.MarkSynced(ctx, rec.AttemptID, "srv-1", 7, 70, true)
	require.NoError(t, err)
	assert.True(t, synced.Synced())
	assert.Equal(t, "srv-1", synced.ServerAttemptID)
	assert.Equal(t, 70.0, *synced.ServerPercentage)
}

func TestRecorder_ConcurrentAttemptNumbers(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRecorder(t)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Submit(ctx, Submission{UserID: "u1", CourseID: "c1", QuizID: "q1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := r.List(ctx, "u1", "q1")
	require.NoError(t, err)
	require.Len(t, list, n)

	numbers := make(map[int]bool)
	for _, rec := range list {
		assert.False(t, numbers[rec.AttemptNumber], "attempt number %d reused", rec.AttemptNumber)
		numbers[rec.AttemptNumber] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, numbers[i])
	}
}

func TestRecorder_Validation(t *testing.T) {
	r, _, _ := newTestRecorder(t)

	_, err := r.Submit(context.Background(), Submission{UserID: "u1"})
	assert.Error(t, err)
}

// brokenQueue теряет первую постановку в очередь
type brokenQueue struct {
	*queue.Manager
	failed bool
}

func (b *brokenQueue) Enqueue(ctx context.Context, a *action.Action) (string, error) {
	if !b.failed {
		b.failed = true
		return "", errors.New("disk full")
	}
	return b.Manager.Enqueue(ctx, a)
}

func TestRecorder_RequeueLostAttempts(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	q := queue.NewManager(st, retry.DefaultPolicy(), logger.Discard())
	agg := progress.NewAggregator(st, q, logger.Discard())
	r := NewRecorder(st, agg, &brokenQueue{Manager: q}, logger.Discard())

	sub := Submission{UserID: "u1", CourseID: "c1", QuizID: "q1", LocalScore: 6, LocalPercentage: 60}
	_, err := r.Submit(ctx, sub)
	require.Error(t, err)
	kept, err := r.Submit(ctx, sub)
	require.NoError(t, err)

	attempts, err := r.List(ctx, "u1", "q1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	lost := attempts[0].AttemptID
	if lost == kept.AttemptID {
		lost = attempts[1].AttemptID
	}

	n, err := r.Requeue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	actions, err := q.List(ctx, queue.Filter{Kind: action.KindQuizAttempt})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, lost, actions[1].Payload.(*action.QuizAttemptPayload).AttemptID)

	n, err = r.Requeue(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n, "already queued")

	_, err = r.MarkSynced(ctx, lost, "srv-1", 6, 60, false)
	require.NoError(t, err)
	require.NoError(t, q.Delete(ctx, actions[1].ID))
	n, err = r.Requeue(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n, "synced attempts are not queued again")
}
