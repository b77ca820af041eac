package learning

import (
	"sort"
	"time"
)

// DefaultDuplicateWindow окно, в котором две попытки одного теста считаются одной
const DefaultDuplicateWindow = 5 * time.Second

// FindDuplicate ищет среди attempts ту же попытку: совпадает клиентский
// идентификатор либо время завершения отличается не больше чем на window.
func FindDuplicate(attempts []Attempt, clientAttemptID string, completedAt time.Time, window time.Duration) *Attempt {
	for i := range attempts {
		a := &attempts[i]
		if clientAttemptID != "" && a.ClientAttemptID == clientAttemptID {
			return a
		}
	}

	for i := range attempts {
		a := &attempts[i]
		if withinWindow(a.CompletedAt, completedAt, window) {
			return a
		}
	}

	return nil
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// MergeCourseProgress объединяет два состояния прогресса: пройденные уроки и
// разделы объединяются, время и процент берутся максимальные.
func MergeCourseProgress(a, b CourseProgress) CourseProgress {
	out := CourseProgress{
		CourseID:               a.CourseID,
		CompletedLessonIDs:     Union(a.CompletedLessonIDs, b.CompletedLessonIDs),
		CompletedSectionIDs:    Union(a.CompletedSectionIDs, b.CompletedSectionIDs),
		OverallProgressPercent: max(a.OverallProgressPercent, b.OverallProgressPercent),
		TotalTimeSpentSeconds:  max(a.TotalTimeSpentSeconds, b.TotalTimeSpentSeconds),
		CurrentLessonID:        a.CurrentLessonID,
		UpdatedAt:              a.UpdatedAt,
	}

	if out.CourseID == "" {
		out.CourseID = b.CourseID
	}
	if b.UpdatedAt.After(a.UpdatedAt) {
		out.UpdatedAt = b.UpdatedAt
		if b.CurrentLessonID != "" {
			out.CurrentLessonID = b.CurrentLessonID
		}
	}
	if out.CurrentLessonID == "" {
		out.CurrentLessonID = b.CurrentLessonID
	}

	return out
}

// Union возвращает отсортированное объединение множеств
func Union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ProfileDivergence возвращает поля, которые на сервере изменились с момента,
// когда клиент видел base, и при этом не совпадают с новым значением клиента.
func ProfileDivergence(server, fields, base map[string]string) []string {
	var diverged []string
	for name, value := range fields {
		current := server[name]
		if current == value {
			continue
		}
		if current != base[name] {
			diverged = append(diverged, name)
		}
	}
	sort.Strings(diverged)
	return diverged
}

// MergeProfile накладывает на серверный профиль поля клиента, которые сервер
// не менял относительно base.
func MergeProfile(server, fields, base map[string]string) map[string]string {
	out := make(map[string]string, len(server)+len(fields))
	for k, v := range server {
		out[k] = v
	}
	for k, v := range fields {
		if server[k] == base[k] {
			out[k] = v
		}
	}
	return out
}
