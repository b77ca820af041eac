package executor

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/slog"

	"studysync/internal/app/client/userdata"
	"studysync/internal/domain/action"
	"studysync/internal/domain/learning"
	"studysync/internal/domain/progress"
	"studysync/internal/domain/quiz"
)

// visitor выполняет одно действие
type visitor struct {
	e         *Executor
	ctx       context.Context
	a         *action.Action
	duplicate bool
}

var _ action.Visitor = (*visitor)(nil)

func (v *visitor) VisitQuizAttempt(p *action.QuizAttemptPayload) error {
	rec, err := v.e.attempts.Get(v.ctx, p.AttemptID)
	switch {
	case errors.Is(err, quiz.ErrNotFound):
		rec = nil
	case err != nil:
		return err
	case rec.Synced():
		return nil
	}

	existing, err := v.e.remote.ListAttempts(v.ctx, p.CourseID, p.QuizID)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}

	if dup := learning.FindDuplicate(existing, p.AttemptID, p.CompletedAt, v.e.duplicateWindow); dup != nil {
		v.duplicate = true
		v.e.log.Info("попытка уже есть на сервере, повторная отправка не нужна",
			slog.String("attempt_id", p.AttemptID),
			slog.String("server_attempt_id", dup.ID),
		)
		return v.finishQuiz(p, rec, *dup)
	}

	resp, err := v.e.remote.SubmitAttempt(v.ctx, p.CourseID, p.QuizID, learning.SubmitAttemptRequest{
		ClientAttemptID:  p.AttemptID,
		Answers:          answers(p.Answers),
		LocalScore:       p.LocalScore,
		LocalPercentage:  p.LocalPercentage,
		TimeSpentSeconds: p.TimeSpentSeconds,
		StartedAt:        p.StartedAt,
		CompletedAt:      p.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("submit attempt: %w", err)
	}
	v.duplicate = resp.Duplicate
	return v.finishQuiz(p, rec, resp.Attempt)
}

func (v *visitor) finishQuiz(p *action.QuizAttemptPayload, rec *quiz.AttemptRecord, server learning.Attempt) error {
	if rec != nil {
		if _, err := v.e.attempts.MarkSynced(v.ctx, rec.AttemptID, server.ID, server.Score, server.Percentage, server.Passed); err != nil {
			return err
		}
	}

	owner := p.UserID
	if owner == "" {
		owner = v.a.OwnerID
	}
	_, err := v.e.progress.ReconcileQuizAttempt(v.ctx, owner, p.CourseID, p.QuizID, progress.QuizResult{
		AttemptID:   p.AttemptID,
		Score:       server.Score,
		Percentage:  server.Percentage,
		Passed:      server.Passed,
		CompletedAt: p.CompletedAt,
	})
	if err != nil {
		return err
	}
	v.markSynced(owner, p.CourseID)
	return nil
}

// markSynced снимает признак изменений, если в партиции больше ничего не ждет отправки
func (v *visitor) markSynced(owner, courseID string) {
	if v.e.backlog == nil {
		return
	}
	snap, err := v.e.progress.GetProgress(v.ctx, owner, courseID)
	if err != nil {
		v.e.log.Warn("не удалось прочитать прогресс", slog.String("course_id", courseID), slog.String("error", err.Error()))
		return
	}
	busy, err := v.e.backlog.Outstanding(v.ctx, v.a.Partition(), v.a.ID)
	if err != nil {
		v.e.log.Warn("не удалось проверить очередь", slog.String("partition", v.a.Partition()), slog.String("error", err.Error()))
		return
	}
	if busy {
		return
	}
	if _, err := v.e.progress.MarkSynced(v.ctx, owner, courseID, snap.LastModifiedAt, v.e.now()); err != nil {
		v.e.log.Warn("не удалось отметить синхронизацию прогресса", slog.String("course_id", courseID), slog.String("error", err.Error()))
	}
}

func (v *visitor) VisitLessonCompletion(p *action.LessonCompletionPayload) error {
	err := v.e.remote.UpdateLessonCompletion(v.ctx, learning.LessonCompletion{
		CourseID:         p.CourseID,
		LessonID:         p.LessonID,
		SectionID:        p.SectionID,
		Completed:        p.Completed,
		TimeSpentSeconds: p.TimeSpentSeconds,
		ProgressPercent:  p.ProgressPercent,
	})
	if err != nil {
		return fmt.Errorf("lesson completion: %w", err)
	}
	v.markSynced(v.a.OwnerID, p.CourseID)
	return nil
}

func (v *visitor) VisitCourseProgress(p *action.CourseProgressPayload) error {
	resp, err := v.e.remote.UpdateCourseProgress(v.ctx, learning.CourseProgress{
		CourseID:               p.CourseID,
		CompletedLessonIDs:     orEmpty(p.CompletedLessonIDs),
		CompletedSectionIDs:    orEmpty(p.CompletedSectionIDs),
		OverallProgressPercent: p.OverallProgressPercent,
		TotalTimeSpentSeconds:  p.TotalTimeSpentSeconds,
		CurrentLessonID:        p.CurrentLessonID,
		UpdatedAt:              p.LastModifiedAt,
	})
	if err != nil {
		return fmt.Errorf("course progress: %w", err)
	}

	if _, err := v.e.progress.ApplyServerProgress(v.ctx, v.a.OwnerID, p.CourseID, *resp); err != nil {
		return err
	}
	if _, err := v.e.progress.MarkSynced(v.ctx, v.a.OwnerID, p.CourseID, p.LastModifiedAt, v.e.now()); err != nil {
		return err
	}
	return nil
}

func (v *visitor) VisitProfileUpdate(p *action.ProfileUpdatePayload) error {
	owner := v.a.OwnerID
	rebased := &action.ProfileUpdatePayload{Fields: p.Fields, Base: v.profileBase(owner, p)}

	server, err := v.e.remote.GetProfile(v.ctx)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}

	if diverged := learning.ProfileDivergence(server.Fields, rebased.Fields, rebased.Base); len(diverged) > 0 {
		return &conflictError{
			reason: fmt.Sprintf("поля %v изменены на сервере", diverged),
			server: server,
			local:  rebased,
		}
	}

	updated, err := v.e.remote.UpdateProfile(v.ctx, learning.ProfileUpdate{Fields: rebased.Fields, Base: rebased.Base})
	if errors.Is(err, learning.ErrConflict) {
		latest, ferr := v.e.remote.GetProfile(v.ctx)
		if ferr != nil {
			latest = nil
		}
		return &conflictError{reason: "профиль изменен на сервере", server: latest, local: rebased}
	}
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	_, err = v.e.userdata.ApplyServerProfile(v.ctx, owner, *updated, true)
	return err
}

// profileBase базовые значения полей: последние известные серверные значения
// из локального представления, если оно уже синхронизировалось.
func (v *visitor) profileBase(owner string, p *action.ProfileUpdatePayload) map[string]string {
	base := make(map[string]string, len(p.Fields))
	for k := range p.Fields {
		base[k] = p.Base[k]
	}

	view, err := v.e.userdata.Profile(v.ctx, owner)
	if err != nil || view.SyncedAt.IsZero() {
		return base
	}
	for k := range p.Fields {
		base[k] = view.Server[k]
	}
	return base
}

func (v *visitor) VisitGenericUserData(p *action.GenericUserDataPayload) error {
	owner := v.a.OwnerID
	rebased := *p
	if entry, err := v.e.userdata.GetData(v.ctx, owner, p.Key); err == nil && entry.Version > rebased.BaseVersion {
		rebased.BaseVersion = entry.Version
	} else if err != nil && !errors.Is(err, userdata.ErrNotFound) {
		return err
	}

	stored, err := v.e.remote.PutUserData(v.ctx, p.Key, learning.UserDataPut{Value: p.Value, BaseVersion: rebased.BaseVersion})
	if errors.Is(err, learning.ErrConflict) {
		latest, ferr := v.e.remote.GetUserData(v.ctx, p.Key)
		if ferr != nil {
			latest = nil
		}
		return &conflictError{reason: "версия данных на сервере изменилась", server: latest, local: &rebased}
	}
	if err != nil {
		return fmt.Errorf("put user data: %w", err)
	}

	_, err = v.e.userdata.ApplyServerData(v.ctx, owner, *stored, true)
	return err
}

func answers(in []action.Answer) []learning.Answer {
	out := make([]learning.Answer, 0, len(in))
	for _, a := range in {
		out = append(out, learning.Answer{QuestionID: a.QuestionID, Answer: a.Answer})
	}
	return out
}

// orEmpty пустой список вместо nil: сервер не принимает null в массивах
func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
