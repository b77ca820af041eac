package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/domain/learning"
	"studysync/internal/utils/logger"
)

func TestClient_SubmitAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/courses/c%201/quizzes/q1/attempts", r.URL.EscapedPath())
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req learning.SubmitAttemptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "local-1", req.ClientAttemptID)

		_ = json.NewEncoder(w).Encode(learning.SubmitAttemptResponse{
			Attempt: learning.Attempt{ID: "srv-1", Percentage: 75, Passed: true},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), StaticToken("secret"), logger.Discard())
	resp, err := c.SubmitAttempt(context.Background(), "c 1", "q1", learning.SubmitAttemptRequest{ClientAttemptID: "local-1"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", resp.ID)
	assert.True(t, resp.Passed)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
		msg    string
	}{
		{http.StatusConflict, `{"title":"Conflict","detail":"version mismatch"}`, learning.ErrConflict, "version mismatch"},
		{http.StatusUnprocessableEntity, `{"error":"bad answers"}`, learning.ErrValidation, "bad answers"},
		{http.StatusServiceUnavailable, `down`, learning.ErrTransport, "down"},
		{http.StatusUnauthorized, ``, learning.ErrTransport, ""},
		{http.StatusTooManyRequests, ``, learning.ErrTransport, ""},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(srv.URL, srv.Client(), nil, logger.Discard())
			_, err := c.GetProfile(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var re *learning.RemoteError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.status, re.Status)
			assert.Equal(t, tt.msg, re.Message)
		})
	}
}

func TestClient_NetworkErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, &http.Client{Timeout: time.Second}, nil, logger.Discard())
	err := c.Health(context.Background())
	assert.ErrorIs(t, err, learning.ErrTransport)
	assert.True(t, learning.Retryable(err))
}

func TestClient_ListAttemptsAndProgress(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/c1/quizzes/q1/attempts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(learning.AttemptList{Attempts: []learning.Attempt{{ID: "a1"}, {ID: "a2"}}})
	})
	mux.HandleFunc("/api/v1/courses/c1/progress", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		var p learning.CourseProgress
		_ = json.NewDecoder(r.Body).Decode(&p)
		p.CompletedLessonIDs = append(p.CompletedLessonIDs, "l9")
		_ = json.NewEncoder(w).Encode(p)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, srv.Client(), nil, logger.Discard())

	attempts, err := c.ListAttempts(context.Background(), "c1", "q1")
	require.NoError(t, err)
	assert.Len(t, attempts, 2)

	p, err := c.UpdateCourseProgress(context.Background(), learning.CourseProgress{CourseID: "c1", CompletedLessonIDs: []string{"l1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l9"}, p.CompletedLessonIDs)
}

func TestFileTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	src := FileTokenSource{Path: path}

	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, SaveToken(path, "abc\n"))
	token, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}
