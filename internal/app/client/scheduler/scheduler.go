// Package scheduler запускает проходы синхронизации очереди по событиям сети,
// таймерам и действиям пользователя.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"studysync/internal/app/client/executor"
	"studysync/internal/app/client/netmon"
	"studysync/internal/app/client/store"
	"studysync/internal/domain/action"
	"studysync/internal/domain/conflict"
	"studysync/internal/domain/learning"
)

// ErrBusy проход уже выполняется
var ErrBusy = errors.New("sync pass is already running")

// Reason причина запуска прохода
type Reason string

const (
	ReasonTick    Reason = "tick"
	ReasonOnline  Reason = "online"
	ReasonEnqueue Reason = "enqueue"
	ReasonManual  Reason = "manual"
	ReasonRetry   Reason = "retry"
)

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

type Queue interface {
	RecoverInFlight(ctx context.Context) (int, error)
	Partitions(ctx context.Context) ([]string, error)
	DequeueNext(ctx context.Context, partition string) (*action.Action, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error, terminal bool) (*action.Action, error)
	Release(ctx context.Context, id string) error
	NextDue(ctx context.Context) (time.Time, bool, error)
}

type Executor interface {
	Execute(ctx context.Context, a *action.Action) executor.Outcome
}

type Conflicts interface {
	Record(ctx context.Context, rec *conflict.Record) error
}

// Network источник состояния сети; nil означает, что сеть считается доступной
type Network interface {
	IsOnline() bool
	Subscribe() <-chan netmon.Transition
}

type Settings interface {
	SetTime(ctx context.Context, key string, t time.Time) error
}

type Options struct {
	Interval time.Duration
	Workers  int
}

// PassResult итог одного прохода
type PassResult struct {
	Reason          Reason        `json:"reason"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         time.Time     `json:"end_time"`
	Duration        time.Duration `json:"duration"`
	Recovered       int           `json:"recovered"`
	Succeeded       int           `json:"succeeded"`
	Duplicates      int           `json:"duplicates"`
	Retried         int           `json:"retried"`
	Failed          int           `json:"failed"`
	Conflicts       int           `json:"conflicts"`
	Released        int           `json:"released"`
	TransportErrors int           `json:"transport_errors"`
	Cancelled       bool          `json:"cancelled"`
	// Synced проход доставил действия на сервер или очередь пуста
	Synced bool `json:"synced"`
	Errors          []string      `json:"errors,omitempty"`
}

// Processed число действий, по которым получен результат
func (r *PassResult) Processed() int {
	return r.Succeeded + r.Retried + r.Failed + r.Conflicts
}

// Stats накопленная статистика проходов
type Stats struct {
	TotalPasses     int         `json:"total_passes"`
	TotalSucceeded  int         `json:"total_succeeded"`
	TotalFailed     int         `json:"total_failed"`
	TotalConflicts  int         `json:"total_conflicts"`
	LastSuccessful  time.Time   `json:"last_successful"`
	LastFailed      time.Time   `json:"last_failed"`
	AvgPassDuration float64     `json:"avg_pass_duration"`
	Last            *PassResult `json:"last,omitempty"`
}

type Scheduler struct {
	queue     Queue
	exec      Executor
	conflicts Conflicts
	network   Network
	settings  Settings
	opts      Options
	log       *slog.Logger
	now       func() time.Time

	triggers chan Reason

	mu         sync.Mutex
	state      State
	recovered  bool
	cancelPass context.CancelFunc
	stats      Stats

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(q Queue, exec Executor, conflicts Conflicts, network Network, settings Settings, opts Options, log *slog.Logger, options ...Option) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}

	s := &Scheduler{
		queue:     q,
		exec:      exec,
		conflicts: conflicts,
		network:   network,
		settings:  settings,
		opts:      opts,
		log:       log.With(slog.String("component", "scheduler")),
		now:       time.Now,
		triggers:  make(chan Reason, 16),
		state:     StateIdle,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Trigger сообщает циклу о событии; не блокируется
func (s *Scheduler) Trigger(r Reason) {
	select {
	case s.triggers <- r:
	default:
	}
}

// SyncNow запрашивает внеочередной проход
func (s *Scheduler) SyncNow() {
	s.Trigger(ReasonManual)
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) online() bool {
	return s.network == nil || s.network.IsOnline()
}

// Start запускает цикл обработки событий
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop отменяет текущий проход и ждет завершения цикла
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	var transitions <-chan netmon.Transition
	if s.network != nil {
		transitions = s.network.Subscribe()
	}

	passDone := make(chan struct{}, 1)
	running := false

	start := func(r Reason) {
		if running {
			s.log.Debug("проход уже выполняется, событие пропущено", slog.String("reason", string(r)))
			return
		}
		if r != ReasonManual && !s.online() {
			return
		}
		running = true
		go func() {
			if _, err := s.RunPass(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("ошибка прохода синхронизации", slog.String("error", err.Error()))
			}
			passDone <- struct{}{}
		}()
	}

	s.armRetry(ctx, retry)
	start(ReasonOnline)

	for {
		select {
		case <-ctx.Done():
			if running {
				<-passDone
			}
			return

		case <-ticker.C:
			start(ReasonTick)

		case tr, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if tr.Online {
				s.log.Info("сеть доступна", slog.String("quality", string(tr.Quality)))
				start(ReasonOnline)
			} else {
				s.log.Info("сеть недоступна, текущий проход отменяется")
				s.CancelPass()
			}

		case r := <-s.triggers:
			start(r)

		case <-retry.C:
			start(ReasonRetry)

		case <-passDone:
			running = false
			s.armRetry(ctx, retry)
		}
	}
}

// armRetry взводит таймер на ближайший срок повтора
func (s *Scheduler) armRetry(ctx context.Context, t *time.Timer) {
	next, ok, err := s.queue.NextDue(ctx)
	if err != nil || !ok {
		return
	}
	d := next.Sub(s.now())
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// CancelPass отменяет выполняемый проход
func (s *Scheduler) CancelPass() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelPass != nil {
		s.cancelPass()
	}
}

// RunPass выполняет один проход: партиции обрабатываются параллельно,
// действия внутри партиции строго последовательно.
func (s *Scheduler) RunPass(ctx context.Context, reason Reason) (*PassResult, error) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	passCtx, cancel := context.WithCancel(ctx)
	s.state = StateRunning
	s.cancelPass = cancel
	first := !s.recovered
	s.mu.Unlock()

	res := &PassResult{Reason: reason, StartTime: s.now()}
	t := &tally{res: res}

	defer func() {
		cancel()
		s.finish(res)
	}()

	if first {
		n, err := s.queue.RecoverInFlight(passCtx)
		if err != nil {
			return res, fmt.Errorf("recover in-flight actions: %w", err)
		}
		res.Recovered = n
		s.mu.Lock()
		s.recovered = true
		s.mu.Unlock()
	}

	s.log.Debug("начало прохода синхронизации", slog.String("reason", string(reason)))

	for passCtx.Err() == nil {
		partitions, err := s.queue.Partitions(passCtx)
		if err != nil {
			return res, fmt.Errorf("list partitions: %w", err)
		}
		if len(partitions) == 0 {
			break
		}

		before := res.Processed()
		if err := s.runPartitions(passCtx, partitions, t); err != nil {
			return res, err
		}
		if res.Processed() == before || res.TransportErrors > 0 {
			break
		}
	}

	res.Cancelled = passCtx.Err() != nil
	res.Synced = s.synced(context.WithoutCancel(ctx), res)
	if res.Synced {
		if err := s.settings.SetTime(context.WithoutCancel(ctx), store.SettingLastSuccessfulSync, s.now()); err != nil {
			s.log.Error("не удалось сохранить время синхронизации", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// synced: проход без сетевых ошибок, в котором сервер принял хотя бы одно
// действие, либо проход без работы при пустой очереди. Отложенные и
// отклоненные действия синхронизацией не считаются.
func (s *Scheduler) synced(ctx context.Context, res *PassResult) bool {
	if res.TransportErrors > 0 || res.Cancelled {
		return false
	}
	if res.Succeeded+res.Conflicts > 0 {
		return true
	}
	if res.Processed() > 0 {
		return false
	}
	_, pending, err := s.queue.NextDue(ctx)
	return err == nil && !pending
}

func (s *Scheduler) runPartitions(ctx context.Context, partitions []string, t *tally) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, p := range partitions {
		p := p
		g.Go(func() error {
			return s.drain(gctx, p, t)
		})
	}
	return g.Wait()
}

// drain обрабатывает партицию до исчерпания готовых действий
func (s *Scheduler) drain(ctx context.Context, partition string, t *tally) error {
	for ctx.Err() == nil {
		a, err := s.queue.DequeueNext(ctx, partition)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dequeue %s: %w", partition, err)
		}
		if a == nil {
			return nil
		}

		detached := context.WithoutCancel(ctx)
		if ctx.Err() != nil {
			s.release(detached, a, t)
			return nil
		}

		out := s.exec.Execute(detached, a)
		transport := out.Kind == executor.OutcomeRetry && errors.Is(out.Err, learning.ErrTransport)

		if transport && ctx.Err() != nil {
			s.release(detached, a, t)
			return nil
		}

		s.settle(detached, a, out, t)
		if transport {
			return nil
		}
	}
	return nil
}

func (s *Scheduler) release(ctx context.Context, a *action.Action, t *tally) {
	if err := s.queue.Release(ctx, a.ID); err != nil {
		s.log.Error("не удалось вернуть действие в очередь", slog.String("id", a.ID), slog.String("error", err.Error()))
		return
	}
	t.add(func(r *PassResult) { r.Released++ })
}

// settle записывает результат выполнения действия в очередь
func (s *Scheduler) settle(ctx context.Context, a *action.Action, out executor.Outcome, t *tally) {
	log := s.log.With(slog.String("id", a.ID), slog.String("kind", string(a.Kind)))

	switch out.Kind {
	case executor.OutcomeDone:
		if err := s.queue.MarkDone(ctx, a.ID); err != nil {
			log.Error("не удалось удалить выполненное действие", slog.String("error", err.Error()))
			t.fail(err)
			return
		}
		t.add(func(r *PassResult) {
			r.Succeeded++
			if out.Duplicate {
				r.Duplicates++
			}
		})

	case executor.OutcomeConflict:
		if err := s.conflicts.Record(ctx, out.Conflict); err != nil {
			log.Error("не удалось сохранить конфликт", slog.String("error", err.Error()))
			s.markFailed(ctx, a, err, false, t)
			return
		}
		if err := s.queue.MarkDone(ctx, a.ID); err != nil {
			log.Error("не удалось удалить действие с конфликтом", slog.String("error", err.Error()))
			t.fail(err)
			return
		}
		t.add(func(r *PassResult) { r.Conflicts++ })

	case executor.OutcomeTerminal:
		log.Warn("действие отклонено сервером", slog.String("error", errString(out.Err)))
		s.markFailed(ctx, a, out.Err, true, t)

	default:
		if errors.Is(out.Err, learning.ErrTransport) {
			t.add(func(r *PassResult) { r.TransportErrors++ })
		}
		log.Info("действие будет повторено", slog.String("error", errString(out.Err)))
		s.markFailed(ctx, a, out.Err, false, t)
	}
}

func (s *Scheduler) markFailed(ctx context.Context, a *action.Action, cause error, terminal bool, t *tally) {
	updated, err := s.queue.MarkFailed(ctx, a.ID, cause, terminal)
	if err != nil {
		s.log.Error("не удалось обновить действие", slog.String("id", a.ID), slog.String("error", err.Error()))
		t.fail(err)
		return
	}
	t.add(func(r *PassResult) {
		if updated.Status == action.StatusFailed {
			r.Failed++
		} else {
			r.Retried++
		}
		if cause != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", a.ID, cause))
		}
	})
}

func (s *Scheduler) finish(res *PassResult) {
	res.EndTime = s.now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateIdle
	s.cancelPass = nil

	st := &s.stats
	st.TotalPasses++
	st.TotalSucceeded += res.Succeeded
	st.TotalFailed += res.Failed
	st.TotalConflicts += res.Conflicts
	if res.Synced {
		st.LastSuccessful = res.EndTime
	} else {
		st.LastFailed = res.EndTime
	}
	st.AvgPassDuration += (res.Duration.Seconds() - st.AvgPassDuration) / float64(st.TotalPasses)
	st.Last = res

	if res.Processed() > 0 || res.Cancelled {
		s.log.Info("проход синхронизации завершен",
			slog.String("reason", string(res.Reason)),
			slog.Int("succeeded", res.Succeeded),
			slog.Int("retried", res.Retried),
			slog.Int("failed", res.Failed),
			slog.Int("conflicts", res.Conflicts),
			slog.Bool("cancelled", res.Cancelled),
			slog.Duration("duration", res.Duration),
		)
	}
}

// tally счетчики прохода, общие для параллельных партиций
type tally struct {
	mu  sync.Mutex
	res *PassResult
}

func (t *tally) add(fn func(r *PassResult)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.res)
}

func (t *tally) fail(err error) {
	t.add(func(r *PassResult) { r.Errors = append(r.Errors, err.Error()) })
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
