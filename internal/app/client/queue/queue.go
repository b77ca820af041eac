// Package queue хранит действия, ожидающие отправки на сервер.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"studysync/internal/app/client/retry"
	"studysync/internal/app/client/store"
	"studysync/internal/domain/action"
)

// Filter условия выборки; пустые поля не учитываются
type Filter struct {
	OwnerID   string
	Partition string
	Kind      action.Kind
	Status    action.Status
}

// Stats счетчики очереди
type Stats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Failed   int `json:"failed"`
}

func (s Stats) Total() int {
	return s.Pending + s.InFlight + s.Failed
}

// Manager очередь действий поверх хранилища. Блокировка очереди - единственная
// точка взаимного исключения для действий: действие в статусе in_flight
// выдается только одному исполнителю.
type Manager struct {
	store  store.Store
	policy retry.Policy
	log    *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	seq       int64
	seqLoaded bool

	hooksMu sync.RWMutex
	hooks   []func(*action.Action)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(st store.Store, policy retry.Policy, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		policy: policy,
		log:    log.With(slog.String("component", "queue")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnEnqueue регистрирует обработчик, вызываемый после постановки действия
func (m *Manager) OnEnqueue(fn func(*action.Action)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *Manager) notify(a *action.Action) {
	m.hooksMu.RLock()
	hooks := append([]func(*action.Action){}, m.hooks...)
	m.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(a)
	}
}

// Enqueue сохраняет действие локально. Если у действия задан CoalesceKey и в
// очереди уже есть ожидающее действие с тем же ключом, заменяется его нагрузка.
func (m *Manager) Enqueue(ctx context.Context, a *action.Action) (string, error) {
	if a == nil || a.Payload == nil {
		return "", action.ErrEmptyPayload
	}
	if !a.Kind.Valid() {
		return "", fmt.Errorf("%w: %q", action.ErrInvalidKind, a.Kind)
	}
	if a.Payload.Kind() != a.Kind {
		return "", fmt.Errorf("%w: kind %s, payload %s", action.ErrKindMismatch, a.Kind, a.Payload.Kind())
	}

	m.mu.Lock()
	stored, err := m.enqueueLocked(ctx, a)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	m.notify(stored)
	return stored.ID, nil
}

func (m *Manager) enqueueLocked(ctx context.Context, a *action.Action) (*action.Action, error) {
	if a.CoalesceKey != "" {
		existing, err := m.findCoalescable(ctx, a)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			existing.Payload = a.Payload
			if err := m.save(ctx, existing); err != nil {
				return nil, err
			}
			m.log.Debug("действие объединено с ожидающим",
				slog.String("id", existing.ID), slog.String("kind", string(existing.Kind)))
			return existing, nil
		}
	}

	seq, err := m.nextSeq(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	out := *a
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = m.policy.MaxAttemptsFor(out.Kind)
	}
	out.Seq = seq
	out.Status = action.StatusPending
	out.AttemptCount = 0
	out.LastAttemptAt = nil
	out.NextAttemptAt = out.CreatedAt
	out.LastError = ""

	if err := m.save(ctx, &out); err != nil {
		return nil, err
	}

	m.log.Debug("действие поставлено в очередь",
		slog.String("id", out.ID),
		slog.String("kind", string(out.Kind)),
		slog.String("partition", out.Partition()),
	)
	return &out, nil
}

func (m *Manager) findCoalescable(ctx context.Context, a *action.Action) (*action.Action, error) {
	actions, err := m.listBy(ctx, store.IndexPartition, a.Partition())
	if err != nil {
		return nil, err
	}
	for _, e := range actions {
		if e.Status == action.StatusPending && e.Kind == a.Kind && e.CoalesceKey == a.CoalesceKey {
			return e, nil
		}
	}
	return nil, nil
}

func (m *Manager) nextSeq(ctx context.Context) (int64, error) {
	if !m.seqLoaded {
		actions, err := m.listAll(ctx)
		if err != nil {
			return 0, err
		}
		for _, a := range actions {
			m.seq = max(m.seq, a.Seq)
		}
		m.seqLoaded = true
	}
	m.seq++
	return m.seq, nil
}

// DequeueNext выбирает самое старое готовое действие и переводит его в in_flight.
// Внутри партиции для каждого вида выдается только голова очереди: если более
// старое действие ждет повтора или выполняется, младшие ждут. Действия в статусе
// failed не блокируют очередь. Пустая партиция означает любую.
// Возвращает nil, nil, если готовых действий нет.
func (m *Manager) DequeueNext(ctx context.Context, partition string) (*action.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		actions []*action.Action
		err     error
	)
	if partition == "" {
		actions, err = m.listAll(ctx)
	} else {
		actions, err = m.listBy(ctx, store.IndexPartition, partition)
	}
	if err != nil {
		return nil, err
	}

	now := m.now()
	next := pickHead(actions, now)
	if next == nil {
		return nil, nil
	}

	next.Status = action.StatusInFlight
	next.LastAttemptAt = &now
	if err := m.save(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// heads возвращает первое незавершенное действие каждой группы (партиция, вид)
// в порядке FIFO. Действия failed группу не блокируют.
func heads(actions []*action.Action) []*action.Action {
	sortFIFO(actions)

	seen := make(map[string]bool)
	var out []*action.Action
	for _, a := range actions {
		if a.Status == action.StatusFailed {
			continue
		}
		group := a.Partition() + "|" + string(a.Kind)
		if seen[group] {
			continue
		}
		seen[group] = true
		out = append(out, a)
	}
	return out
}

// pickHead возвращает голову первой готовой группы
func pickHead(actions []*action.Action, now time.Time) *action.Action {
	for _, a := range heads(actions) {
		if a.Eligible(now) {
			return a
		}
	}
	return nil
}

func sortFIFO(actions []*action.Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		if !actions[i].CreatedAt.Equal(actions[j].CreatedAt) {
			return actions[i].CreatedAt.Before(actions[j].CreatedAt)
		}
		return actions[i].Seq < actions[j].Seq
	})
}

// MarkDone удаляет выполненное действие
func (m *Manager) MarkDone(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, store.CollectionPendingActions, id); err != nil {
		return fmt.Errorf("delete action %s: %w", id, err)
	}
	return nil
}

// MarkFailed фиксирует неудачную попытку. Окончательные ошибки и исчерпанные
// попытки переводят действие в failed, иначе назначается повтор с задержкой.
func (m *Manager) MarkFailed(ctx context.Context, id string, cause error, terminal bool) (*action.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now()
	a.AttemptCount++
	if cause != nil {
		a.LastError = cause.Error()
	}

	if terminal || a.Exhausted() {
		a.Status = action.StatusFailed
	} else {
		a.Status = action.StatusPending
		a.NextAttemptAt = now.Add(m.policy.Backoff(a.AttemptCount))
	}

	if err := m.save(ctx, a); err != nil {
		return nil, err
	}

	if a.Status == action.StatusFailed {
		m.log.Warn("действие не будет повторяться автоматически",
			slog.String("id", a.ID),
			slog.String("kind", string(a.Kind)),
			slog.Int("attempts", a.AttemptCount),
			slog.String("error", a.LastError),
		)
	}
	return a, nil
}

// Release возвращает действие в ожидание без учета попытки
func (m *Manager) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != action.StatusInFlight {
		return nil
	}
	a.Status = action.StatusPending
	return m.save(ctx, a)
}

// RecoverInFlight возвращает в ожидание действия, оставшиеся in_flight после сбоя
func (m *Manager) RecoverInFlight(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	actions, err := m.listBy(ctx, store.IndexStatus, string(action.StatusInFlight))
	if err != nil {
		return 0, err
	}

	for _, a := range actions {
		a.Status = action.StatusPending
		if err := m.save(ctx, a); err != nil {
			return 0, err
		}
	}

	if len(actions) > 0 {
		m.log.Info("восстановлены прерванные действия", slog.Int("count", len(actions)))
	}
	return len(actions), nil
}

// Retry возвращает действие из failed в очередь со сброшенным счетчиком попыток
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	a, err := m.get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if a.Status != action.StatusFailed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", action.ErrNotFailed, id, a.Status)
	}

	a.Status = action.StatusPending
	a.AttemptCount = 0
	a.NextAttemptAt = m.now()
	a.LastError = ""
	err = m.save(ctx, a)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.notify(a)
	return nil
}

// Delete удаляет действие по запросу пользователя
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == action.StatusInFlight {
		return fmt.Errorf("%w: %s", action.ErrInFlight, id)
	}
	if err := m.store.Delete(ctx, store.CollectionPendingActions, id); err != nil {
		return fmt.Errorf("delete action %s: %w", id, err)
	}
	return nil
}

// Outstanding есть ли в партиции действия, кроме exceptID, которые сервер еще не принял
func (m *Manager) Outstanding(ctx context.Context, partition, exceptID string) (bool, error) {
	actions, err := m.listBy(ctx, store.IndexPartition, partition)
	if err != nil {
		return false, err
	}
	for _, a := range actions {
		if a.ID != exceptID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*action.Action, error) {
	return m.get(ctx, id)
}

// List действия по фильтру в порядке очереди
func (m *Manager) List(ctx context.Context, f Filter) ([]*action.Action, error) {
	var (
		actions []*action.Action
		err     error
	)
	switch {
	case f.Partition != "":
		actions, err = m.listBy(ctx, store.IndexPartition, f.Partition)
	case f.Status != "":
		actions, err = m.listBy(ctx, store.IndexStatus, string(f.Status))
	case f.OwnerID != "":
		actions, err = m.listBy(ctx, store.IndexOwnerID, f.OwnerID)
	default:
		actions, err = m.listAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := actions[:0]
	for _, a := range actions {
		if f.OwnerID != "" && a.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Kind != "" && a.Kind != f.Kind {
			continue
		}
		out = append(out, a)
	}
	sortFIFO(out)
	return out, nil
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	actions, err := m.listAll(ctx)
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	for _, a := range actions {
		switch a.Status {
		case action.StatusPending:
			s.Pending++
		case action.StatusInFlight:
			s.InFlight++
		case action.StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

// Partitions партиции, в которых есть готовые к отправке действия
func (m *Manager) Partitions(ctx context.Context) ([]string, error) {
	actions, err := m.listAll(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	seen := make(map[string]bool)
	var out []string
	for _, a := range heads(actions) {
		p := a.Partition()
		if seen[p] || !a.Eligible(now) {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// NextDue ближайший срок повтора среди голов групп. Младшее действие,
// стоящее за откладываемой головой, срок не определяет.
func (m *Manager) NextDue(ctx context.Context) (time.Time, bool, error) {
	actions, err := m.listAll(ctx)
	if err != nil {
		return time.Time{}, false, err
	}

	var (
		next  time.Time
		found bool
	)
	for _, a := range heads(actions) {
		if a.Status != action.StatusPending {
			continue
		}
		if !found || a.NextAttemptAt.Before(next) {
			next = a.NextAttemptAt
			found = true
		}
	}
	return next, found, nil
}

func (m *Manager) get(ctx context.Context, id string) (*action.Action, error) {
	data, err := m.store.Get(ctx, store.CollectionPendingActions, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", action.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get action %s: %w", id, err)
	}

	var a action.Action
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode action %s: %w", id, err)
	}
	return &a, nil
}

func (m *Manager) save(ctx context.Context, a *action.Action) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode action %s: %w", a.ID, err)
	}

	indexes := store.Indexes{
		store.IndexOwnerID:   a.OwnerID,
		store.IndexStatus:    string(a.Status),
		store.IndexPartition: a.Partition(),
	}
	if err := m.store.Put(ctx, store.CollectionPendingActions, a.ID, data, indexes); err != nil {
		return fmt.Errorf("save action %s: %w", a.ID, err)
	}
	return nil
}

func (m *Manager) listAll(ctx context.Context) ([]*action.Action, error) {
	items, err := m.store.List(ctx, store.CollectionPendingActions)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return m.decode(items), nil
}

func (m *Manager) listBy(ctx context.Context, index, value string) ([]*action.Action, error) {
	items, err := m.store.ListByIndex(ctx, store.CollectionPendingActions, index, value)
	if err != nil {
		return nil, fmt.Errorf("list actions by %s: %w", index, err)
	}
	return m.decode(items), nil
}

func (m *Manager) decode(items []store.Item) []*action.Action {
	out := make([]*action.Action, 0, len(items))
	for _, it := range items {
		var a action.Action
		if err := json.Unmarshal(it.Value, &a); err != nil {
			m.log.Error("поврежденная запись очереди пропущена",
				slog.String("id", it.Key), slog.String("error", err.Error()))
			continue
		}
		out = append(out, &a)
	}
	return out
}
