package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/app/client/config"
	clientquiz "studysync/internal/app/client/quiz"
	"studysync/internal/app/client/remote"
	"studysync/internal/app/client/store"
	"studysync/internal/app/server/api"
	"studysync/internal/domain/action"
	"studysync/internal/domain/learning"
	"studysync/internal/domain/session"
	"studysync/internal/infrastructure/storage/memory"
	"studysync/internal/utils/logger"
)

// switchTransport обрывает запросы, пока offline установлен, и записывает
// дошедшие до сервера запросы
type switchTransport struct {
	offline *atomic.Bool
	sent    *requestLog
}

func (t switchTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.offline.Load() {
		return nil, errors.New("network is unreachable")
	}
	t.sent.add(r.Method + " " + r.URL.EscapedPath())
	return http.DefaultTransport.RoundTrip(r)
}

type requestLog struct {
	mu   sync.Mutex
	list []string
}

func (l *requestLog) add(req string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, req)
}

func (l *requestLog) writes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, req := range l.list {
		if !strings.HasPrefix(req, http.MethodGet+" ") {
			out = append(out, req)
		}
	}
	return out
}

type harness struct {
	srv      *httptest.Server
	repo     *memory.LearningRepository
	learning *learning.Service
	token    string
	offline  atomic.Bool
	sent     requestLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Discard()

	h := &harness{repo: memory.NewLearningRepository()}
	h.learning = learning.NewService(h.repo, log)
	sessions := session.NewService(memory.NewSessionRepository(), time.Hour, log)

	h.srv = httptest.NewServer(api.New(api.Deps{
		Learning: h.learning,
		Sessions: sessions,
		Storage:  "memory",
	}, log))
	t.Cleanup(h.srv.Close)

	token, err := sessions.Create(context.Background(), "u1")
	require.NoError(t, err)
	h.token = token
	return h
}

// device движок отдельного устройства пользователя u1 со своим хранилищем
func (h *harness) device(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.Config{
		Env:           "local",
		ServerAddress: "test",
		UserID:        "u1",
		Sync: config.Sync{
			Interval:        time.Hour,
			Workers:         2,
			DuplicateWindow: learning.DefaultDuplicateWindow,
		},
	}

	rem := remote.New(h.srv.URL, &http.Client{Transport: switchTransport{offline: &h.offline, sent: &h.sent}}, remote.StaticToken(h.token), logger.Discard())
	e, err := New(cfg, logger.Discard(), WithStore(store.NewMemoryStore()), WithRemote(rem))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func (h *harness) serverProgress(t *testing.T, courseID string) *learning.CourseProgress {
	t.Helper()
	p, err := h.repo.MergeCourseProgress(context.Background(), "u1", learning.CourseProgress{CourseID: courseID})
	require.NoError(t, err)
	return p
}

func quizSubmission(completedAt time.Time) clientquiz.Submission {
	return clientquiz.Submission{
		CourseID:         "c1",
		QuizID:           "q1",
		Answers:          []action.Answer{{QuestionID: "x", Answer: "b"}},
		LocalScore:       8,
		LocalPercentage:  80,
		TimeSpentSeconds: 240,
		CompletedAt:      completedAt,
	}
}

func TestEngine_OfflineThenReconnect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.offline.Store(true)
	e := h.device(t)

	_, err := e.SetLessonCount(ctx, "c1", 10)
	require.NoError(t, err)
	_, err = e.CompleteLesson(ctx, "c1", "l1", "", 120)
	require.NoError(t, err)
	rec, err := e.SubmitQuiz(ctx, quizSubmission(time.Now().UTC()))
	require.NoError(t, err)

	// локальное состояние доступно без сети
	snap, err := e.GetProgress(ctx, "c1")
	require.NoError(t, err)
	assert.Contains(t, snap.CompletedLessonIDs, "l1")
	assert.Equal(t, 10.0, snap.OverallProgressPercent)
	assert.Equal(t, 80.0, snap.QuizScores["q1"].BestPercentage)

	res, err := e.SyncNow(ctx)
	require.NoError(t, err)
	assert.Positive(t, res.TransportErrors)

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Pending)
	assert.True(t, status.LastSuccessfulSync.IsZero())

	h.offline.Store(false)

	// первая неудачная попытка ждет задержку повтора
	require.Eventually(t, func() bool {
		if _, err := e.SyncNow(ctx); err != nil {
			return false
		}
		st, err := e.Status(ctx)
		return err == nil && st.Pending == 0 && st.InFlight == 0
	}, 5*time.Second, 200*time.Millisecond)

	attempts, err := h.learning.ListAttempts(ctx, "u1", "c1", "q1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, rec.AttemptID, attempts[0].ClientAttemptID)
	assert.True(t, attempts[0].Passed)

	local, err := e.QuizAttempts(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.True(t, local[0].Synced())
	assert.Equal(t, attempts[0].ID, local[0].ServerAttemptID)

	assert.Contains(t, h.serverProgress(t, "c1").CompletedLessonIDs, "l1")

	status, err = e.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.LastSuccessfulSync.IsZero())
}

func TestEngine_ReconnectReplaysInCreationOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.offline.Store(true)
	e := h.device(t)

	_, err := e.SetLessonCount(ctx, "c1", 10)
	require.NoError(t, err)
	_, err = e.CompleteLesson(ctx, "c1", "l1", "", 120)
	require.NoError(t, err)
	sub := quizSubmission(time.Now().UTC())
	sub.LocalScore, sub.LocalPercentage = 7, 70
	_, err = e.SubmitQuiz(ctx, sub)
	require.NoError(t, err)

	h.offline.Store(false)
	res, err := e.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.TransportErrors)

	assert.Equal(t, []string{
		"PUT /api/v1/courses/c1/lessons/l1/completion",
		"POST /api/v1/courses/c1/quizzes/q1/attempts",
	}, h.sent.writes())

	snap, err := e.GetProgress(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.OverallProgressPercent)
	assert.Equal(t, 70.0, snap.QuizScores["q1"].BestPercentage)
	assert.False(t, snap.Dirty)
	assert.False(t, snap.LastSyncedAt.IsZero())

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Pending)
	assert.False(t, status.LastSuccessfulSync.IsZero())
}

func TestEngine_TwoDevicesMergeProgress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	phone, laptop := h.device(t), h.device(t)

	_, err := phone.CompleteLesson(ctx, "c1", "l1", "", 60)
	require.NoError(t, err)
	_, err = phone.SyncNow(ctx)
	require.NoError(t, err)

	_, err = laptop.CompleteLesson(ctx, "c1", "l2", "", 90)
	require.NoError(t, err)
	_, err = laptop.TrackTime(ctx, "c1", "l2", 30)
	require.NoError(t, err)
	_, err = laptop.SyncNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"l1", "l2"}, h.serverProgress(t, "c1").CompletedLessonIDs)

	snap, err := laptop.GetProgress(ctx, "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"l1", "l2"}, snap.CompletedLessonIDs)
	assert.False(t, snap.Dirty)
}

func TestEngine_TwoDevicesSameQuizAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	phone, laptop := h.device(t), h.device(t)
	completed := time.Now().UTC().Truncate(time.Second)

	_, err := phone.SubmitQuiz(ctx, quizSubmission(completed))
	require.NoError(t, err)
	_, err = phone.SyncNow(ctx)
	require.NoError(t, err)

	_, err = laptop.SubmitQuiz(ctx, quizSubmission(completed.Add(2*time.Second)))
	require.NoError(t, err)
	res, err := laptop.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)

	attempts, err := h.learning.ListAttempts(ctx, "u1", "c1", "q1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	local, err := laptop.QuizAttempts(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, attempts[0].ID, local[0].ServerAttemptID)
}

func TestEngine_TwoDevicesProfileConflict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	phone, laptop := h.device(t), h.device(t)

	_, err := phone.UpdateProfile(ctx, map[string]string{"name": "Ann"})
	require.NoError(t, err)
	_, err = phone.SyncNow(ctx)
	require.NoError(t, err)

	_, err = laptop.UpdateProfile(ctx, map[string]string{"name": "Bob"})
	require.NoError(t, err)
	res, err := laptop.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicts)

	conflicts := laptop.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, action.KindProfileUpdate, conflicts[0].Kind)

	var server learning.Profile
	require.NoError(t, json.Unmarshal(conflicts[0].ServerPayload, &server))
	assert.Equal(t, "Ann", server.Fields["name"])

	require.NoError(t, laptop.Resolve(ctx, conflicts[0].ActionID, "client_wins"))
	assert.Empty(t, laptop.Conflicts())

	res, err = laptop.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	profile, err := h.learning.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Bob", profile.Fields["name"])
	assert.Equal(t, int64(2), profile.Version)
}

func TestEngine_UserDataServerWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	phone, laptop := h.device(t), h.device(t)

	_, err := phone.PutData(ctx, "theme", json.RawMessage(`"dark"`))
	require.NoError(t, err)
	_, err = phone.SyncNow(ctx)
	require.NoError(t, err)

	_, err = laptop.PutData(ctx, "theme", json.RawMessage(`"light"`))
	require.NoError(t, err)
	res, err := laptop.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Conflicts)

	id := laptop.Conflicts()[0].ActionID
	require.NoError(t, laptop.Resolve(ctx, id, "server_wins"))

	entry, err := laptop.GetData(ctx, "theme")
	require.NoError(t, err)
	assert.JSONEq(t, `"dark"`, string(entry.Value))
	assert.Equal(t, int64(1), entry.Version)

	status, err := laptop.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.Pending)
	assert.Zero(t, status.Conflicts)
}

func TestEngine_ResolveUnknownPolicy(t *testing.T) {
	h := newHarness(t)
	e := h.device(t)

	err := e.Resolve(context.Background(), "missing", "coin_flip")
	assert.Error(t, err)
}
