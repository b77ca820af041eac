// Package netmon следит за доступностью сети и сервера.
package netmon

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/exp/slog"
)

type Quality string

const (
	QualityUnknown  Quality = "unknown"
	QualityGood     Quality = "good"
	QualitySlow     Quality = "slow"
	QualityUnstable Quality = "unstable"
	QualityOffline  Quality = "offline"
)

// Transition смена состояния сети
type Transition struct {
	Online  bool
	Quality Quality
	At      time.Time
}

// PlatformSignal сигнал платформы о наличии сетевого интерфейса
type PlatformSignal interface {
	Up() bool
}

// Prober активная проверка доступности сервера
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc адаптер функции к Prober
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// InterfaceSignal считает сеть доступной, если есть поднятый не-loopback интерфейс с адресом
type InterfaceSignal struct{}

func (InterfaceSignal) Up() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

type Options struct {
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	StableReadings int
	StableWindow   time.Duration
	SlowThreshold  time.Duration
	FlapWindow     int
}

func DefaultOptions() Options {
	return Options{
		ProbeInterval:  2 * time.Second,
		ProbeTimeout:   3 * time.Second,
		StableReadings: 3,
		StableWindow:   4 * time.Second,
		SlowThreshold:  1500 * time.Millisecond,
		FlapWindow:     6,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = d.ProbeInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	if o.StableReadings <= 0 {
		o.StableReadings = d.StableReadings
	}
	if o.StableWindow < 0 {
		o.StableWindow = 0
	}
	if o.SlowThreshold <= 0 {
		o.SlowThreshold = d.SlowThreshold
	}
	if o.FlapWindow <= 1 {
		o.FlapWindow = d.FlapWindow
	}
	return o
}

// Reading результат одного измерения
type Reading struct {
	Up      bool
	Latency time.Duration
	At      time.Time
}

// Monitor объединяет сигнал платформы и активную проверку. Смена состояния
// сообщается только после StableReadings согласованных измерений, охватывающих
// не менее StableWindow.
type Monitor struct {
	signal PlatformSignal
	prober Prober
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	mu             sync.RWMutex
	online         bool
	known          bool
	quality        Quality
	candidate      bool
	candidateCount int
	candidateSince time.Time
	history        []bool
	latency        time.Duration
	subs           []chan Transition

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func New(signal PlatformSignal, prober Prober, opts Options, log *slog.Logger, options ...Option) *Monitor {
	if signal == nil {
		signal = InterfaceSignal{}
	}
	m := &Monitor{
		signal:  signal,
		prober:  prober,
		opts:    opts.withDefaults(),
		log:     log.With(slog.String("component", "netmon")),
		now:     time.Now,
		quality: QualityUnknown,
	}
	for _, o := range options {
		o(m)
	}
	return m
}

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) Quality() Quality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.quality
}

// Subscribe возвращает канал переходов; канал закрывается в Stop
func (m *Monitor) Subscribe() <-chan Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Transition, 8)
	m.subs = append(m.subs, ch)
	return ch
}

// Start запускает периодические измерения
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop останавливает измерения и закрывает каналы подписчиков
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.mu.Lock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.cancel = nil
	m.mu.Unlock()
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()

	m.Observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Observe(ctx)
		}
	}
}

// Observe выполняет одно измерение и обновляет состояние
func (m *Monitor) Observe(ctx context.Context) Reading {
	r := m.read(ctx)
	m.apply(r)
	return r
}

func (m *Monitor) read(ctx context.Context) Reading {
	if !m.signal.Up() {
		return Reading{At: m.now()}
	}
	if m.prober == nil {
		return Reading{Up: true, At: m.now()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := m.prober.Probe(probeCtx)
	latency := time.Since(start)
	if err != nil {
		m.log.Debug("проверка сервера не прошла", slog.String("error", err.Error()))
		return Reading{Latency: latency, At: m.now()}
	}
	return Reading{Up: true, Latency: latency, At: m.now()}
}

// apply учитывает измерение. Подписчики получают только смену online/offline;
// качество связи доступно через Quality.
func (m *Monitor) apply(r Reading) {
	m.mu.Lock()

	prevKnown, prevOnline := m.known, m.online

	m.history = append(m.history, r.Up)
	if len(m.history) > m.opts.FlapWindow {
		m.history = m.history[len(m.history)-m.opts.FlapWindow:]
	}
	if r.Up {
		m.latency = r.Latency
	}

	if m.known && r.Up == m.online {
		m.candidateCount = 0
	} else {
		if m.candidateCount == 0 || m.candidate != r.Up {
			m.candidate = r.Up
			m.candidateCount = 0
			m.candidateSince = r.At
		}
		m.candidateCount++
		if m.candidateCount >= m.opts.StableReadings && r.At.Sub(m.candidateSince) >= m.opts.StableWindow {
			m.online = r.Up
			m.known = true
			m.candidateCount = 0
		}
	}

	prevQuality := m.quality
	m.quality = m.computeQuality()
	if m.quality != prevQuality {
		m.log.Debug("качество сети изменилось", slog.String("quality", string(m.quality)))
	}

	if !m.known || (prevKnown && m.online == prevOnline) {
		m.mu.Unlock()
		return
	}

	tr := Transition{Online: m.online, Quality: m.quality, At: r.At}
	// отправка под блокировкой, чтобы не пересечься с закрытием каналов в Stop
	for _, ch := range m.subs {
		select {
		case ch <- tr:
		default:
			m.log.Warn("подписчик не успевает читать переходы сети")
		}
	}
	m.mu.Unlock()

	m.log.Info("состояние сети изменилось",
		slog.Bool("online", tr.Online),
		slog.String("quality", string(tr.Quality)),
	)
}

func (m *Monitor) computeQuality() Quality {
	if !m.known {
		return QualityUnknown
	}
	if !m.online {
		return QualityOffline
	}
	if flips(m.history) >= 2 {
		return QualityUnstable
	}
	if m.latency > m.opts.SlowThreshold {
		return QualitySlow
	}
	return QualityGood
}

func flips(history []bool) int {
	n := 0
	for i := 1; i < len(history); i++ {
		if history[i] != history[i-1] {
			n++
		}
	}
	return n
}
