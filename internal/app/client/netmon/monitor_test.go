package netmon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/utils/logger"
)

type fakeSignal struct{ up atomic.Bool }

func (s *fakeSignal) Up() bool { return s.up.Load() }

type fakeProber struct {
	mu    sync.Mutex
	err   error
	delay time.Duration
	calls int
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.mu.Lock()
	err, delay := p.err, p.delay
	p.calls++
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (p *fakeProber) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func newTestMonitor(opts Options) (*Monitor, *fakeSignal, *fakeProber, *stepClock) {
	sig := &fakeSignal{}
	sig.up.Store(true)
	prober := &fakeProber{}
	clock := &stepClock{now: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)}
	m := New(sig, prober, opts, logger.Discard(), WithClock(clock.Now))
	return m, sig, prober, clock
}

// observe делает измерение и сдвигает часы на интервал опроса
func observe(m *Monitor, clock *stepClock) {
	m.Observe(context.Background())
	clock.now = clock.now.Add(2 * time.Second)
}

func TestMonitor_Debounce(t *testing.T) {
	m, _, _, clock := newTestMonitor(DefaultOptions())
	ch := m.Subscribe()

	observe(m, clock)
	observe(m, clock)
	assert.False(t, m.IsOnline(), "two readings are not enough")
	assert.Equal(t, QualityUnknown, m.Quality())

	observe(m, clock)
	assert.True(t, m.IsOnline())
	assert.Equal(t, QualityGood, m.Quality())

	select {
	case tr := <-ch:
		assert.True(t, tr.Online)
		assert.Equal(t, QualityGood, tr.Quality)
	default:
		t.Fatal("no transition emitted")
	}

	// одиночный сбой не переводит в offline
	m.prober.(*fakeProber).set(errors.New("timeout"))
	observe(m, clock)
	assert.True(t, m.IsOnline())
}

func TestMonitor_CaptivePortalIsOffline(t *testing.T) {
	m, _, prober, clock := newTestMonitor(DefaultOptions())
	prober.set(errors.New("unexpected redirect"))

	for i := 0; i < 5; i++ {
		observe(m, clock)
	}
	assert.False(t, m.IsOnline())
	assert.Equal(t, QualityOffline, m.Quality())
}

func TestMonitor_PlatformSignalDownSkipsProbe(t *testing.T) {
	m, sig, prober, clock := newTestMonitor(DefaultOptions())
	sig.up.Store(false)

	for i := 0; i < 3; i++ {
		observe(m, clock)
	}
	assert.False(t, m.IsOnline())
	assert.Zero(t, prober.calls)
}

func TestMonitor_StableWindow(t *testing.T) {
	opts := DefaultOptions()
	opts.StableWindow = 10 * time.Second
	m, _, _, clock := newTestMonitor(opts)

	for i := 0; i < 5; i++ {
		observe(m, clock)
	}
	assert.False(t, m.IsOnline(), "readings span only 8s")

	observe(m, clock)
	assert.True(t, m.IsOnline())
}

func TestMonitor_Unstable(t *testing.T) {
	m, _, prober, clock := newTestMonitor(DefaultOptions())
	for i := 0; i < 3; i++ {
		observe(m, clock)
	}
	require.True(t, m.IsOnline())

	prober.set(errors.New("reset"))
	observe(m, clock)
	prober.set(nil)
	observe(m, clock)

	assert.True(t, m.IsOnline())
	assert.Equal(t, QualityUnstable, m.Quality())
}

func TestMonitor_Slow(t *testing.T) {
	opts := DefaultOptions()
	opts.SlowThreshold = 5 * time.Millisecond
	m, _, prober, clock := newTestMonitor(opts)
	prober.delay = 20 * time.Millisecond

	for i := 0; i < 3; i++ {
		observe(m, clock)
	}
	assert.True(t, m.IsOnline())
	assert.Equal(t, QualitySlow, m.Quality())
}

func TestMonitor_StartStop(t *testing.T) {
	opts := DefaultOptions()
	opts.ProbeInterval = time.Millisecond
	opts.StableWindow = 0
	sig := &fakeSignal{}
	sig.up.Store(true)
	m := New(sig, nil, opts, logger.Discard())
	ch := m.Subscribe()

	m.Start(context.Background())

	select {
	case tr := <-ch:
		assert.True(t, tr.Online)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not report online")
	}

	m.Stop()
	_, ok := <-ch
	assert.False(t, ok, "channel is closed on stop")
}

func TestMonitor_QualityChangesAreNotTransitions(t *testing.T) {
	m, _, prober, clock := newTestMonitor(DefaultOptions())
	ch := m.Subscribe()

	for i := 0; i < 3; i++ {
		observe(m, clock)
	}
	require.True(t, m.IsOnline())
	tr := <-ch
	assert.True(t, tr.Online)

	// одиночные сбои: good -> unstable -> good, без перехода в offline
	for i := 0; i < 4; i++ {
		prober.set(errors.New("reset"))
		observe(m, clock)
		prober.set(nil)
		observe(m, clock)
	}
	assert.True(t, m.IsOnline())
	assert.Equal(t, QualityUnstable, m.Quality())

	select {
	case tr := <-ch:
		t.Fatalf("unexpected transition %+v", tr)
	default:
	}

	for i := 0; i < 6; i++ {
		observe(m, clock)
	}
	assert.Equal(t, QualityGood, m.Quality())
	select {
	case tr := <-ch:
		t.Fatalf("unexpected transition %+v", tr)
	default:
	}
}

func TestMonitor_OfflineEdgeIsReported(t *testing.T) {
	m, _, prober, clock := newTestMonitor(DefaultOptions())
	ch := m.Subscribe()

	for i := 0; i < 3; i++ {
		observe(m, clock)
	}
	<-ch

	prober.set(errors.New("timeout"))
	for i := 0; i < 3; i++ {
		observe(m, clock)
	}
	require.False(t, m.IsOnline())

	select {
	case tr := <-ch:
		assert.False(t, tr.Online)
		assert.Equal(t, QualityOffline, tr.Quality)
	default:
		t.Fatal("offline edge not reported")
	}
}
