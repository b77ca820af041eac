// Package client собирает движок синхронизации: локальное хранилище, очередь,
// агрегатор прогресса, монитор сети, планировщик и разрешение конфликтов.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"studysync/internal/app/client/config"
	"studysync/internal/app/client/conflict"
	"studysync/internal/app/client/executor"
	"studysync/internal/app/client/netmon"
	clientprogress "studysync/internal/app/client/progress"
	"studysync/internal/app/client/queue"
	clientquiz "studysync/internal/app/client/quiz"
	"studysync/internal/app/client/remote"
	"studysync/internal/app/client/retry"
	"studysync/internal/app/client/scheduler"
	"studysync/internal/app/client/store"
	"studysync/internal/app/client/userdata"
	"studysync/internal/domain/action"
	domainconflict "studysync/internal/domain/conflict"
	"studysync/internal/domain/progress"
	"studysync/internal/domain/quiz"
)

// Remote сервер обучения вместе с проверкой доступности
type Remote interface {
	executor.Remote
	Health(ctx context.Context) error
}

type Engine struct {
	cfg   *config.Config
	log   *slog.Logger
	owner string

	store    *store.Resilient
	settings *store.Settings

	queue     *queue.Manager
	progress  *clientprogress.Aggregator
	quizzes   *clientquiz.Recorder
	userdata  *userdata.View
	remote    Remote
	monitor   *netmon.Monitor
	executor  *executor.Executor
	conflicts *conflict.Resolver
	scheduler *scheduler.Scheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type options struct {
	store  store.Store
	remote Remote
	signal netmon.PlatformSignal
}

type Option func(*options)

// WithStore основное хранилище вместо SQLite из конфигурации
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithRemote клиент сервера вместо HTTP-клиента из конфигурации
func WithRemote(r Remote) Option {
	return func(o *options) { o.remote = r }
}

// WithSignal сигнал платформы о сети
func WithSignal(s netmon.PlatformSignal) Option {
	return func(o *options) { o.signal = s }
}

func New(cfg *config.Config, log *slog.Logger, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	primary := o.store
	if primary == nil {
		sqlite, err := store.NewSQLiteStore(cfg.DataPath)
		if err != nil {
			log.Warn("Не удалось инициализировать SQLite, используем память", slog.String("error", err.Error()))
			primary = store.NewMemoryStore()
		} else {
			primary = sqlite
		}
	}

	rem := o.remote
	if rem == nil {
		httpClient, err := remote.NewHTTPClient(cfg.HTTPTimeout, cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации HTTP клиента: %w", err)
		}
		rem = remote.New(cfg.BaseURL(), httpClient, remote.FileTokenSource{Path: cfg.TokenPath}, log)
	}

	st := store.NewResilient(primary, log)

	policy := retry.DefaultPolicy()
	for k, n := range cfg.Sync.MaxAttempts {
		policy.MaxAttempts[k] = n
	}

	q := queue.NewManager(st, policy, log)
	agg := clientprogress.NewAggregator(st, q, log)
	view := userdata.NewView(st, q, log)
	rec := clientquiz.NewRecorder(st, agg, q, log)

	monitor := netmon.New(o.signal, netmon.ProbeFunc(rem.Health), netmon.Options{
		ProbeInterval:  cfg.Network.ProbeInterval,
		ProbeTimeout:   cfg.Network.ProbeTimeout,
		StableReadings: cfg.Network.StableReadings,
		StableWindow:   cfg.Network.StableWindow,
		SlowThreshold:  cfg.Network.SlowThreshold,
		FlapWindow:     cfg.Network.FlapWindow,
	}, log)

	exec := executor.New(rem, rec, agg, view, log,
		executor.WithDuplicateWindow(cfg.Sync.DuplicateWindow),
		executor.WithBacklog(q),
	)
	resolver := conflict.NewResolver(st, q, agg, view, log)
	settings := store.NewSettings(st)

	sched := scheduler.New(q, exec, resolver, monitor, settings, scheduler.Options{
		Interval: cfg.Sync.Interval,
		Workers:  cfg.Sync.Workers,
	}, log)

	e := &Engine{
		cfg:       cfg,
		log:       log,
		owner:     cfg.UserID,
		store:     st,
		settings:  settings,
		queue:     q,
		progress:  agg,
		quizzes:   rec,
		userdata:  view,
		remote:    rem,
		monitor:   monitor,
		executor:  exec,
		conflicts: resolver,
		scheduler: sched,
	}

	q.OnEnqueue(func(*action.Action) {
		sched.Trigger(scheduler.ReasonEnqueue)
	})

	if err := resolver.Load(context.Background()); err != nil {
		log.Warn("Не удалось загрузить конфликты", slog.String("error", err.Error()))
	}
	if n, err := rec.Requeue(context.Background(), e.owner); err != nil {
		log.Warn("Не удалось проверить попытки без действий в очереди", slog.String("error", err.Error()))
	} else if n > 0 {
		log.Info("Попытки возвращены в очередь", slog.Int("count", n))
	}
	return e, nil
}

// Start запускает монитор сети и планировщик
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.monitor.Start(ctx)
	e.scheduler.Start(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.flushLoop(ctx)
	}()

	e.log.Info("Клиент запущен",
		slog.String("server", e.cfg.ServerAddress),
		slog.String("env", e.cfg.Env),
		slog.String("user", e.owner),
	)
}

// flushLoop переносит накопленные в памяти записи, пока хранилище деградировано
func (e *Engine) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.store.Degraded() {
				continue
			}
			if err := e.store.Flush(ctx); err != nil {
				e.log.Warn("Хранилище по-прежнему недоступно", slog.Int("pending", e.store.Pending()), slog.String("error", err.Error()))
			}
		}
	}
}

// Stop останавливает фоновые компоненты и закрывает хранилище
func (e *Engine) Stop() error {
	e.log.Info("Завершение работы клиента...")

	e.scheduler.Stop()
	e.monitor.Stop()
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	return e.Close()
}

// Close закрывает хранилище без остановки фоновых компонентов
func (e *Engine) Close() error {
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func (e *Engine) Owner() string {
	return e.owner
}

// SyncNow выполняет проход синхронизации немедленно
func (e *Engine) SyncNow(ctx context.Context) (*scheduler.PassResult, error) {
	return e.scheduler.RunPass(ctx, scheduler.ReasonManual)
}

// TriggerSync просит работающий планировщик запустить проход
func (e *Engine) TriggerSync() {
	e.scheduler.SyncNow()
}

func (e *Engine) StartLesson(ctx context.Context, courseID, lessonID, sectionID string) (*progress.Snapshot, error) {
	return e.progress.StartLesson(ctx, e.owner, courseID, lessonID, sectionID)
}

func (e *Engine) CompleteLesson(ctx context.Context, courseID, lessonID, sectionID string, timeSpent int) (*progress.Snapshot, error) {
	return e.progress.CompleteLesson(ctx, e.owner, courseID, lessonID, sectionID, timeSpent)
}

func (e *Engine) TrackTime(ctx context.Context, courseID, lessonID string, seconds int) (*progress.Snapshot, error) {
	return e.progress.TrackTime(ctx, e.owner, courseID, lessonID, seconds)
}

func (e *Engine) SetLessonCount(ctx context.Context, courseID string, n int) (*progress.Snapshot, error) {
	return e.progress.SetLessonCount(ctx, e.owner, courseID, n)
}

func (e *Engine) SetSectionLessonCount(ctx context.Context, courseID, sectionID string, n int) (*progress.Snapshot, error) {
	return e.progress.SetSectionLessonCount(ctx, e.owner, courseID, sectionID, n)
}

func (e *Engine) RecordInteraction(ctx context.Context, courseID, lessonID string, in progress.Interaction) (*progress.Snapshot, error) {
	return e.progress.RecordInteraction(ctx, e.owner, courseID, lessonID, in)
}

func (e *Engine) UpdatePosition(ctx context.Context, courseID, lessonID string, pos progress.Position) (*progress.Snapshot, error) {
	return e.progress.UpdatePosition(ctx, e.owner, courseID, lessonID, pos)
}

func (e *Engine) AddNote(ctx context.Context, courseID, lessonID, text string) (*progress.Snapshot, error) {
	return e.progress.AddNote(ctx, e.owner, courseID, lessonID, text)
}

func (e *Engine) AddBookmark(ctx context.Context, courseID, lessonID string, b progress.Bookmark) (*progress.Snapshot, error) {
	return e.progress.AddBookmark(ctx, e.owner, courseID, lessonID, b)
}

func (e *Engine) GetProgress(ctx context.Context, courseID string) (*progress.Snapshot, error) {
	return e.progress.GetProgress(ctx, e.owner, courseID)
}

// SubmitQuiz записывает попытку от имени владельца движка
func (e *Engine) SubmitQuiz(ctx context.Context, sub clientquiz.Submission) (*quiz.AttemptRecord, error) {
	sub.UserID = e.owner
	return e.quizzes.Submit(ctx, sub)
}

func (e *Engine) QuizAttempts(ctx context.Context, quizID string) ([]*quiz.AttemptRecord, error) {
	return e.quizzes.List(ctx, e.owner, quizID)
}

func (e *Engine) Profile(ctx context.Context) (*userdata.Profile, error) {
	return e.userdata.Profile(ctx, e.owner)
}

func (e *Engine) UpdateProfile(ctx context.Context, fields map[string]string) (*userdata.Profile, error) {
	return e.userdata.UpdateProfile(ctx, e.owner, fields)
}

func (e *Engine) PutData(ctx context.Context, key string, value json.RawMessage) (*userdata.Entry, error) {
	return e.userdata.PutData(ctx, e.owner, key, value)
}

func (e *Engine) GetData(ctx context.Context, key string) (*userdata.Entry, error) {
	return e.userdata.GetData(ctx, e.owner, key)
}

func (e *Engine) ListData(ctx context.Context) ([]*userdata.Entry, error) {
	return e.userdata.ListData(ctx, e.owner)
}

func (e *Engine) Actions(ctx context.Context, f queue.Filter) ([]*action.Action, error) {
	return e.queue.List(ctx, f)
}

// RetryAction возвращает действие из failed в очередь
func (e *Engine) RetryAction(ctx context.Context, id string) error {
	return e.queue.Retry(ctx, id)
}

func (e *Engine) DeleteAction(ctx context.Context, id string) error {
	return e.queue.Delete(ctx, id)
}

func (e *Engine) Conflicts() []*domainconflict.Record {
	return e.conflicts.List()
}

// Resolve разрешает конфликт по названию политики
func (e *Engine) Resolve(ctx context.Context, actionID, policy string) error {
	p, err := domainconflict.ParsePolicy(policy)
	if err != nil {
		return err
	}
	return e.conflicts.Resolve(ctx, actionID, p)
}

// Status состояние синхронизации для пользователя
type Status struct {
	Pending            int             `json:"pending"`
	InFlight           int             `json:"in_flight"`
	Failed             int             `json:"failed"`
	Conflicts          int             `json:"conflicts"`
	LastSuccessfulSync time.Time       `json:"last_successful_sync,omitempty"`
	Online             bool            `json:"online"`
	Quality            netmon.Quality  `json:"quality"`
	Degraded           bool            `json:"degraded"`
	DegradedWrites     int             `json:"degraded_writes,omitempty"`
	Scheduler          scheduler.State `json:"scheduler"`
	Stats              scheduler.Stats `json:"stats"`
}

func (e *Engine) Status(ctx context.Context) (*Status, error) {
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}

	last, err := e.settings.GetTime(ctx, store.SettingLastSuccessfulSync)
	if err != nil {
		return nil, fmt.Errorf("last sync: %w", err)
	}

	return &Status{
		Pending:            stats.Pending,
		InFlight:           stats.InFlight,
		Failed:             stats.Failed,
		Conflicts:          len(e.conflicts.List()),
		LastSuccessfulSync: last,
		Online:             e.monitor.IsOnline(),
		Quality:            e.monitor.Quality(),
		Degraded:           e.store.Degraded(),
		DegradedWrites:     e.store.Pending(),
		Scheduler:          e.scheduler.State(),
		Stats:              e.scheduler.Stats(),
	}, nil
}

// CheckConnection выполняет одно измерение сети
func (e *Engine) CheckConnection(ctx context.Context) netmon.Reading {
	return e.monitor.Observe(ctx)
}
