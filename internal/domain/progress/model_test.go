package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/domain/learning"
)

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func TestPercent(t *testing.T) {
	tests := []struct {
		completed, total int
		want             float64
	}{
		{0, 0, 0},
		{3, 0, 0},
		{1, 3, 33.3},
		{2, 3, 66.7},
		{3, 3, 100},
		{5, 3, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.completed, tt.total), "%d/%d", tt.completed, tt.total)
	}
}

func TestSnapshot_CompleteLessonIsIdempotent(t *testing.T) {
	s := NewSnapshot("u1", "c1")
	s.SetLessonCount(4, t0)

	assert.True(t, s.CompleteLesson("l1", "s1", 60, t0))
	first := s.LessonProgress["l1"].CompletedAt

	assert.False(t, s.CompleteLesson("l1", "s1", 30, t0.Add(time.Minute)))

	assert.Equal(t, []string{"l1"}, s.CompletedLessonIDs)
	assert.Equal(t, 25.0, s.OverallProgressPercent)
	assert.Equal(t, 90, s.LessonProgress["l1"].TimeSpentSeconds)
	assert.Equal(t, 90, s.TotalTimeSpentSeconds)
	assert.Equal(t, first, s.LessonProgress["l1"].CompletedAt)
	assert.True(t, s.Dirty)
}

func TestSnapshot_StartLessonMovesPointers(t *testing.T) {
	s := NewSnapshot("u1", "c1")
	s.StartLesson("l1", "s1", t0)
	s.StartLesson("l2", "", t0.Add(time.Minute))
	s.StartLesson("l1", "s1", t0.Add(2*time.Minute))

	assert.Equal(t, "l1", s.CurrentLessonID)
	assert.Equal(t, "s1", s.CurrentSectionID)
	assert.Equal(t, t0, s.LessonProgress["l1"].StartedAt)
	assert.Len(t, s.LessonProgress, 2)
}

func TestSnapshot_SectionCompletes(t *testing.T) {
	s := NewSnapshot("u1", "c1")
	s.SetSectionLessonCount("s1", 2, t0)

	s.CompleteLesson("l1", "s1", 0, t0)
	assert.Empty(t, s.CompletedSectionIDs)

	s.CompleteLesson("l2", "s1", 0, t0)
	assert.Equal(t, []string{"s1"}, s.CompletedSectionIDs)
	assert.NotNil(t, s.SectionProgress["s1"].CompletedAt)
}

func TestSnapshot_QuizBestIsMonotonic(t *testing.T) {
	s := NewSnapshot("u1", "c1")

	results := []QuizResult{
		{AttemptID: "a1", Score: 6, Percentage: 60},
		{AttemptID: "a2", Score: 9, Percentage: 90, Passed: true},
		{AttemptID: "a3", Score: 3, Percentage: 30},
	}

	var best float64
	for _, r := range results {
		s.ApplyQuizResult("q1", r, t0)
		qs := s.QuizScores["q1"]
		assert.GreaterOrEqual(t, qs.BestPercentage, best)
		best = qs.BestPercentage
	}

	qs := s.QuizScores["q1"]
	assert.Equal(t, 90.0, qs.BestPercentage)
	assert.Equal(t, 9.0, qs.BestScore)
	assert.True(t, qs.Passed)
	assert.Equal(t, 3, qs.AttemptCount)

	// сервер оценил лучшую попытку ниже
	s.ReconcileQuizResult("q1", QuizResult{AttemptID: "a2", Score: 5, Percentage: 50})
	qs = s.QuizScores["q1"]
	assert.Equal(t, 90.0, qs.BestPercentage)
	assert.True(t, qs.Passed)
	assert.Equal(t, 3, qs.AttemptCount)
	assert.True(t, qs.History[1].Confirmed)
}

func TestSnapshot_ApplyServer(t *testing.T) {
	s := NewSnapshot("u1", "c1")
	s.SetLessonCount(4, t0)
	s.CompleteLesson("l1", "", 100, t0)

	s.ApplyServer(learning.CourseProgress{
		CourseID:              "c1",
		CompletedLessonIDs:    []string{"l2", "l1"},
		TotalTimeSpentSeconds: 50,
	}, t0.Add(time.Minute))

	assert.Equal(t, []string{"l1", "l2"}, s.CompletedLessonIDs)
	assert.Equal(t, 100, s.TotalTimeSpentSeconds)
	assert.Equal(t, 50.0, s.OverallProgressPercent)
}

func TestSnapshot_MarkSynced(t *testing.T) {
	s := NewSnapshot("u1", "c1")
	s.CompleteLesson("l1", "", 0, t0)

	s.MarkSynced(t0.Add(-time.Second), t0.Add(time.Minute))
	assert.True(t, s.Dirty, "changed after the synced payload")

	s.MarkSynced(t0, t0.Add(time.Minute))
	assert.False(t, s.Dirty)
	assert.Equal(t, t0.Add(time.Minute), s.LastSyncedAt)
}

func TestSnapshot_ReconcileKeepsSyncState(t *testing.T) {
	s := NewSnapshot("u1", "c1")
	s.ApplyQuizResult("q1", QuizResult{AttemptID: "a1", Score: 7, Percentage: 70}, t0)
	s.MarkSynced(t0, t0.Add(time.Second))
	require.False(t, s.Dirty)

	s.ReconcileQuizResult("q1", QuizResult{AttemptID: "a1", Score: 8, Percentage: 80})
	assert.False(t, s.Dirty)
	assert.Equal(t, t0, s.LastModifiedAt)
	assert.Equal(t, 80.0, s.QuizScores["q1"].BestPercentage)
}

func TestSnapshot_CloneAndDecode(t *testing.T) {
	s := NewSnapshot("u1", "c1")
	s.CompleteLesson("l1", "s1", 10, t0)
	s.AddNote("l1", Note{Text: "hi", At: t0}, t0)

	c := s.Clone()
	c.CompleteLesson("l2", "", 0, t0)
	assert.Len(t, s.CompletedLessonIDs, 1)
	assert.Len(t, c.CompletedLessonIDs, 2)

	d, err := Decode([]byte(`{"owner_id":"u1","course_id":"c1"}`))
	require.NoError(t, err)
	assert.NotNil(t, d.LessonProgress)
	assert.Empty(t, d.CompletedLessonIDs)
}
