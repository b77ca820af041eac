package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/domain/learning"
)

func TestLearningRepository_InsertAttemptDeduplicates(t *testing.T) {
	ctx := context.Background()
	repo := NewLearningRepository()
	completed := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	first, dup, err := repo.InsertAttempt(ctx, &learning.Attempt{
		ID: "s1", UserID: "u1", CourseID: "c1", QuizID: "q1", ClientAttemptID: "a1", CompletedAt: completed,
	}, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, dup)

	again, dup, err := repo.InsertAttempt(ctx, &learning.Attempt{
		ID: "s2", UserID: "u1", CourseID: "c1", QuizID: "q1", ClientAttemptID: "a2", CompletedAt: completed.Add(3 * time.Second),
	}, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, again.ID)

	_, dup, err = repo.InsertAttempt(ctx, &learning.Attempt{
		ID: "s3", UserID: "u1", CourseID: "c1", QuizID: "q1", ClientAttemptID: "a3", CompletedAt: completed.Add(time.Minute),
	}, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, dup)

	list, err := repo.ListAttempts(ctx, "u1", "c1", "q1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestLearningRepository_LessonCompletionFeedsProgress(t *testing.T) {
	ctx := context.Background()
	repo := NewLearningRepository()

	require.NoError(t, repo.SaveLessonCompletion(ctx, "u1", learning.LessonCompletion{CourseID: "c1", LessonID: "l2", Completed: true}))
	require.NoError(t, repo.SaveLessonCompletion(ctx, "u1", learning.LessonCompletion{CourseID: "c1", LessonID: "l2", Completed: false, TimeSpentSeconds: 5}))

	p, err := repo.MergeCourseProgress(ctx, "u1", learning.CourseProgress{CourseID: "c1", CompletedLessonIDs: []string{"l1"}, TotalTimeSpentSeconds: 60})
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l2"}, p.CompletedLessonIDs)
	assert.Equal(t, 60, p.TotalTimeSpentSeconds)
}

func TestLearningRepository_VersionPreconditions(t *testing.T) {
	ctx := context.Background()
	repo := NewLearningRepository()

	require.NoError(t, repo.SaveProfile(ctx, "u1", &learning.Profile{Fields: map[string]string{"name": "Ann"}, Version: 1}, 0))
	err := repo.SaveProfile(ctx, "u1", &learning.Profile{Fields: map[string]string{"name": "Bob"}, Version: 1}, 0)
	assert.ErrorIs(t, err, learning.ErrConflict)

	_, err = repo.GetUserData(ctx, "u1", "theme")
	assert.ErrorIs(t, err, learning.ErrNotFound)

	require.NoError(t, repo.SaveUserData(ctx, "u1", &learning.UserData{Key: "theme", Value: []byte(`"dark"`), Version: 1}, 0))
	err = repo.SaveUserData(ctx, "u1", &learning.UserData{Key: "theme", Value: []byte(`"light"`), Version: 1}, 0)
	assert.ErrorIs(t, err, learning.ErrConflict)
}

func TestSessionRepository_Expiry(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()

	require.NoError(t, repo.Create(ctx, "u1", "live", time.Now().Add(time.Hour)))
	require.NoError(t, repo.Create(ctx, "u2", "stale", time.Now().Add(-time.Hour)))

	userID, err := repo.Validate(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	_, err = repo.Validate(ctx, "stale")
	assert.Error(t, err)
}
