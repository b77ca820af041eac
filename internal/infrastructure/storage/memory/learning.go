// Package memory хранилища сервера в памяти процесса; используются без
// DATABASE_URI и в тестах.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"studysync/internal/domain/learning"
)

type LearningRepository struct {
	mu          sync.Mutex
	attempts    map[string][]learning.Attempt
	completions map[string]learning.LessonCompletion
	progress    map[string]learning.CourseProgress
	profiles    map[string]learning.Profile
	userData    map[string]learning.UserData
}

var _ learning.Repository = (*LearningRepository)(nil)

func NewLearningRepository() *LearningRepository {
	return &LearningRepository{
		attempts:    make(map[string][]learning.Attempt),
		completions: make(map[string]learning.LessonCompletion),
		progress:    make(map[string]learning.CourseProgress),
		profiles:    make(map[string]learning.Profile),
		userData:    make(map[string]learning.UserData),
	}
}

func key(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += "\x00"
		}
		k += p
	}
	return k
}

func (r *LearningRepository) InsertAttempt(_ context.Context, a *learning.Attempt, window time.Duration) (*learning.Attempt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(a.UserID, a.CourseID, a.QuizID)
	if dup := learning.FindDuplicate(r.attempts[k], a.ClientAttemptID, a.CompletedAt, window); dup != nil {
		out := *dup
		return &out, true, nil
	}

	r.attempts[k] = append(r.attempts[k], *a)
	out := *a
	return &out, false, nil
}

func (r *LearningRepository) ListAttempts(_ context.Context, userID, courseID, quizID string) ([]learning.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append([]learning.Attempt{}, r.attempts[key(userID, courseID, quizID)]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CompletedAt.Before(list[j].CompletedAt) })
	return list, nil
}

func (r *LearningRepository) SaveLessonCompletion(_ context.Context, userID string, c learning.LessonCompletion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(userID, c.CourseID, c.LessonID)
	if prev, ok := r.completions[k]; ok {
		c.Completed = c.Completed || prev.Completed
		c.TimeSpentSeconds = max(c.TimeSpentSeconds, prev.TimeSpentSeconds)
		c.ProgressPercent = max(c.ProgressPercent, prev.ProgressPercent)
	}
	r.completions[k] = c

	if c.Completed {
		pk := key(userID, c.CourseID)
		r.progress[pk] = learning.MergeCourseProgress(r.progress[pk], learning.CourseProgress{
			CourseID:           c.CourseID,
			CompletedLessonIDs: []string{c.LessonID},
		})
	}
	return nil
}

func (r *LearningRepository) MergeCourseProgress(_ context.Context, userID string, p learning.CourseProgress) (*learning.CourseProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(userID, p.CourseID)
	merged := learning.MergeCourseProgress(r.progress[k], p)
	r.progress[k] = merged
	return &merged, nil
}

func (r *LearningRepository) GetProfile(_ context.Context, userID string) (*learning.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, learning.ErrNotFound)
	}
	p.Fields = copyFields(p.Fields)
	return &p, nil
}

func (r *LearningRepository) SaveProfile(_ context.Context, userID string, p *learning.Profile, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.profiles[userID].Version; current != expectedVersion {
		return fmt.Errorf("profile version %d, expected %d: %w", current, expectedVersion, learning.ErrConflict)
	}
	stored := *p
	stored.Fields = copyFields(p.Fields)
	r.profiles[userID] = stored
	return nil
}

func (r *LearningRepository) GetUserData(_ context.Context, userID, dataKey string) (*learning.UserData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.userData[key(userID, dataKey)]
	if !ok {
		return nil, fmt.Errorf("user data %s: %w", dataKey, learning.ErrNotFound)
	}
	return &d, nil
}

func (r *LearningRepository) SaveUserData(_ context.Context, userID string, d *learning.UserData, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(userID, d.Key)
	if current := r.userData[k].Version; current != expectedVersion {
		return fmt.Errorf("user data %s version %d, expected %d: %w", d.Key, current, expectedVersion, learning.ErrConflict)
	}
	r.userData[k] = *d
	return nil
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
