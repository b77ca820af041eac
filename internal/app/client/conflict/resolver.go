// Package conflict хранит обнаруженные конфликты и разрешает их по выбранной
// пользователем политике.
package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/slog"

	clientprogress "studysync/internal/app/client/progress"
	"studysync/internal/app/client/store"
	"studysync/internal/app/client/userdata"
	"studysync/internal/domain/action"
	"studysync/internal/domain/conflict"
	"studysync/internal/domain/learning"
	"studysync/internal/domain/progress"
)

// ErrNoServerState серверное состояние на момент конфликта неизвестно
var ErrNoServerState = errors.New("server state is unknown")

type Enqueuer interface {
	Enqueue(ctx context.Context, a *action.Action) (string, error)
}

type Progress interface {
	ApplyServerProgress(ctx context.Context, ownerID, courseID string, p learning.CourseProgress) (*progress.Snapshot, error)
}

type UserData interface {
	ApplyServerProfile(ctx context.Context, ownerID string, p learning.Profile, keepPending bool) (*userdata.Profile, error)
	UpdateProfile(ctx context.Context, ownerID string, fields map[string]string) (*userdata.Profile, error)
	ApplyServerData(ctx context.Context, ownerID string, d learning.UserData, keepLocal bool) (*userdata.Entry, error)
	PutData(ctx context.Context, ownerID, key string, value json.RawMessage) (*userdata.Entry, error)
}

type Resolver struct {
	store    store.Store
	queue    Enqueuer
	progress Progress
	userdata UserData
	log      *slog.Logger

	mu      sync.RWMutex
	records map[string]*conflict.Record
}

func NewResolver(st store.Store, queue Enqueuer, prog Progress, ud UserData, log *slog.Logger) *Resolver {
	return &Resolver{
		store:    st,
		queue:    queue,
		progress: prog,
		userdata: ud,
		log:      log.With(slog.String("component", "conflicts")),
		records:  make(map[string]*conflict.Record),
	}
}

// Load читает сохраненные конфликты
func (r *Resolver) Load(ctx context.Context) error {
	items, err := r.store.List(ctx, store.CollectionConflicts)
	if err != nil {
		return fmt.Errorf("load conflicts: %w", err)
	}

	records := make(map[string]*conflict.Record, len(items))
	for _, it := range items {
		var rec conflict.Record
		if err := json.Unmarshal(it.Value, &rec); err != nil {
			r.log.Error("поврежденная запись конфликта", slog.String("key", it.Key), slog.String("error", err.Error()))
			continue
		}
		records[rec.ActionID] = &rec
	}

	r.mu.Lock()
	r.records = records
	r.mu.Unlock()
	return nil
}

// Record сохраняет конфликт до явного разрешения
func (r *Resolver) Record(ctx context.Context, rec *conflict.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode conflict %s: %w", rec.ActionID, err)
	}

	indexes := store.Indexes{
		store.IndexActionID: rec.ActionID,
		store.IndexOwnerID:  rec.OwnerID,
	}
	if err := r.store.Put(ctx, store.CollectionConflicts, rec.ActionID, data, indexes); err != nil {
		return fmt.Errorf("save conflict %s: %w", rec.ActionID, err)
	}

	r.mu.Lock()
	r.records[rec.ActionID] = rec
	r.mu.Unlock()

	r.log.Warn("обнаружен конфликт",
		slog.String("action_id", rec.ActionID),
		slog.String("kind", string(rec.Kind)),
		slog.String("reason", rec.Reason),
	)
	return nil
}

// List конфликты в порядке обнаружения
func (r *Resolver) List() []*conflict.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*conflict.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ActionID < out[j].ActionID
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out
}

func (r *Resolver) Get(actionID string) (*conflict.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[actionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", conflict.ErrNotFound, actionID)
	}
	return rec, nil
}

// Resolve разрешает конфликт и удаляет его запись
func (r *Resolver) Resolve(ctx context.Context, actionID string, policy conflict.Policy) error {
	rec, err := r.Get(actionID)
	if err != nil {
		return err
	}

	switch policy {
	case conflict.PolicyClientWins:
		err = r.clientWins(ctx, rec)
	case conflict.PolicyServerWins:
		err = r.serverWins(ctx, rec)
	case conflict.PolicyMerge:
		err = r.merge(ctx, rec)
	default:
		err = fmt.Errorf("%w: %q", conflict.ErrUnknownPolicy, policy)
	}
	if err != nil {
		return fmt.Errorf("resolve %s with %s: %w", actionID, policy, err)
	}

	if err := r.store.Delete(ctx, store.CollectionConflicts, actionID); err != nil {
		return fmt.Errorf("delete conflict %s: %w", actionID, err)
	}

	r.mu.Lock()
	delete(r.records, actionID)
	r.mu.Unlock()

	r.log.Info("конфликт разрешен", slog.String("action_id", actionID), slog.String("policy", string(policy)))
	return nil
}

// clientWins отправляет локальное значение заново; профиль и данные
// перебазируются на серверные значения, чтобы предусловие выполнилось.
func (r *Resolver) clientWins(ctx context.Context, rec *conflict.Record) error {
	switch p := rec.LocalPayload.(type) {
	case *action.ProfileUpdatePayload:
		if server, ok, err := decodeServer[learning.Profile](rec); err != nil {
			return err
		} else if ok {
			if _, err := r.userdata.ApplyServerProfile(ctx, rec.OwnerID, server, false); err != nil {
				return err
			}
		}
		_, err := r.userdata.UpdateProfile(ctx, rec.OwnerID, p.Fields)
		return err

	case *action.GenericUserDataPayload:
		if server, ok, err := decodeServer[learning.UserData](rec); err != nil {
			return err
		} else if ok {
			if _, err := r.userdata.ApplyServerData(ctx, rec.OwnerID, server, false); err != nil {
				return err
			}
		}
		_, err := r.userdata.PutData(ctx, rec.OwnerID, p.Key, p.Value)
		return err
	}

	return r.enqueue(ctx, rec, rec.LocalPayload)
}

// serverWins отбрасывает локальное изменение и обновляет локальные данные
// с сервера
func (r *Resolver) serverWins(ctx context.Context, rec *conflict.Record) error {
	switch rec.Kind {
	case action.KindCourseProgress:
		server, ok, err := decodeServer[learning.CourseProgress](rec)
		if err != nil || !ok {
			return err
		}
		_, err = r.progress.ApplyServerProgress(ctx, rec.OwnerID, rec.CourseID, server)
		return err

	case action.KindProfileUpdate:
		server, ok, err := decodeServer[learning.Profile](rec)
		if err != nil || !ok {
			return err
		}
		_, err = r.userdata.ApplyServerProfile(ctx, rec.OwnerID, server, false)
		return err

	case action.KindGenericUserData:
		server, ok, err := decodeServer[learning.UserData](rec)
		if err != nil || !ok {
			return err
		}
		_, err = r.userdata.ApplyServerData(ctx, rec.OwnerID, server, false)
		return err
	}

	return nil
}

func (r *Resolver) merge(ctx context.Context, rec *conflict.Record) error {
	if !conflict.MergeSupported(rec.Kind) {
		return fmt.Errorf("%w: %s", conflict.ErrMergeUnsupported, rec.Kind)
	}

	switch p := rec.LocalPayload.(type) {
	case *action.CourseProgressPayload:
		server, ok, err := decodeServer[learning.CourseProgress](rec)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoServerState
		}
		merged := learning.MergeCourseProgress(courseProgress(p), server)
		if _, err := r.progress.ApplyServerProgress(ctx, rec.OwnerID, rec.CourseID, merged); err != nil {
			return err
		}

		act := action.New(rec.OwnerID, rec.CourseID, &action.CourseProgressPayload{
			CourseID:               p.CourseID,
			CompletedLessonIDs:     merged.CompletedLessonIDs,
			CompletedSectionIDs:    merged.CompletedSectionIDs,
			OverallProgressPercent: merged.OverallProgressPercent,
			TotalTimeSpentSeconds:  merged.TotalTimeSpentSeconds,
			CurrentLessonID:        merged.CurrentLessonID,
			LastModifiedAt:         p.LastModifiedAt,
		})
		act.CoalesceKey = clientprogress.CoalesceKey(rec.OwnerID, rec.CourseID)
		_, err = r.queue.Enqueue(ctx, act)
		return err

	case *action.LessonCompletionPayload:
		server, ok, err := decodeServer[learning.LessonCompletion](rec)
		if err != nil {
			return err
		}
		merged := *p
		if ok {
			merged.Completed = p.Completed || server.Completed
			merged.TimeSpentSeconds = max(p.TimeSpentSeconds, server.TimeSpentSeconds)
			merged.ProgressPercent = max(p.ProgressPercent, server.ProgressPercent)
		}
		return r.enqueue(ctx, rec, &merged)

	case *action.ProfileUpdatePayload:
		server, ok, err := decodeServer[learning.Profile](rec)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoServerState
		}
		merged := learning.MergeProfile(server.Fields, p.Fields, p.Base)

		send := make(map[string]string)
		for k := range p.Fields {
			if merged[k] != server.Fields[k] {
				send[k] = merged[k]
			}
		}

		if _, err := r.userdata.ApplyServerProfile(ctx, rec.OwnerID, server, false); err != nil {
			return err
		}
		if len(send) == 0 {
			return nil
		}
		_, err = r.userdata.UpdateProfile(ctx, rec.OwnerID, send)
		return err
	}

	return fmt.Errorf("%w: %s", conflict.ErrMergeUnsupported, rec.Kind)
}

func (r *Resolver) enqueue(ctx context.Context, rec *conflict.Record, p action.Payload) error {
	_, err := r.queue.Enqueue(ctx, action.New(rec.OwnerID, rec.CourseID, p))
	return err
}

func decodeServer[T any](rec *conflict.Record) (T, bool, error) {
	var v T
	if len(rec.ServerPayload) == 0 || string(rec.ServerPayload) == "null" {
		return v, false, nil
	}
	if err := json.Unmarshal(rec.ServerPayload, &v); err != nil {
		return v, false, fmt.Errorf("decode server payload: %w", err)
	}
	return v, true, nil
}

func courseProgress(p *action.CourseProgressPayload) learning.CourseProgress {
	return learning.CourseProgress{
		CourseID:               p.CourseID,
		CompletedLessonIDs:     p.CompletedLessonIDs,
		CompletedSectionIDs:    p.CompletedSectionIDs,
		OverallProgressPercent: p.OverallProgressPercent,
		TotalTimeSpentSeconds:  p.TotalTimeSpentSeconds,
		CurrentLessonID:        p.CurrentLessonID,
		UpdatedAt:              p.LastModifiedAt,
	}
}
