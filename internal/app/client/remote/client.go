// Package remote HTTP-клиент сервера обучения.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"studysync/internal/domain/learning"
)

const userAgent = "StudySync-Client/1.0"

// TokenSource источник bearer-токена; токеном управляет внешний компонент
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken постоянный токен
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// FileTokenSource читает токен из файла при каждом запросе, чтобы подхватывать обновления
type FileTokenSource struct {
	Path string
}

func (f FileTokenSource) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения токена: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveToken записывает токен в файл
func SaveToken(path, token string) error {
	return os.WriteFile(path, []byte(token), 0600)
}

type Client struct {
	client  *http.Client
	baseURL string
	tokens  TokenSource
	log     *slog.Logger
}

// NewHTTPClient http.Client с таймаутом и, если указан, собственным корневым сертификатом
func NewHTTPClient(timeout time.Duration, caCertPath string) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 10,
	}

	if caCertPath != "" {
		pem, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения сертификата: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("сертификат %s не распознан", caCertPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

func New(baseURL string, httpClient *http.Client, tokens TokenSource, log *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Client{
		client:  httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		log:     log.With(slog.String("component", "remote")),
	}
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

func attemptsPath(courseID, quizID string) string {
	return "/api/v1/courses/" + url.PathEscape(courseID) + "/quizzes/" + url.PathEscape(quizID) + "/attempts"
}

func (c *Client) SubmitAttempt(ctx context.Context, courseID, quizID string, req learning.SubmitAttemptRequest) (*learning.SubmitAttemptResponse, error) {
	var resp learning.SubmitAttemptResponse
	if err := c.do(ctx, http.MethodPost, attemptsPath(courseID, quizID), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListAttempts(ctx context.Context, courseID, quizID string) ([]learning.Attempt, error) {
	var resp learning.AttemptList
	if err := c.do(ctx, http.MethodGet, attemptsPath(courseID, quizID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Attempts, nil
}

func (c *Client) UpdateLessonCompletion(ctx context.Context, lc learning.LessonCompletion) error {
	path := "/api/v1/courses/" + url.PathEscape(lc.CourseID) + "/lessons/" + url.PathEscape(lc.LessonID) + "/completion"
	return c.do(ctx, http.MethodPut, path, lc, nil)
}

func (c *Client) UpdateCourseProgress(ctx context.Context, p learning.CourseProgress) (*learning.CourseProgress, error) {
	var resp learning.CourseProgress
	path := "/api/v1/courses/" + url.PathEscape(p.CourseID) + "/progress"
	if err := c.do(ctx, http.MethodPut, path, p, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetProfile(ctx context.Context) (*learning.Profile, error) {
	var resp learning.Profile
	if err := c.do(ctx, http.MethodGet, "/api/v1/profile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdateProfile(ctx context.Context, u learning.ProfileUpdate) (*learning.Profile, error) {
	var resp learning.Profile
	if err := c.do(ctx, http.MethodPatch, "/api/v1/profile", u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetUserData(ctx context.Context, key string) (*learning.UserData, error) {
	var resp learning.UserData
	if err := c.do(ctx, http.MethodGet, "/api/v1/userdata/"+url.PathEscape(key), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) PutUserData(ctx context.Context, key string, put learning.UserDataPut) (*learning.UserData, error) {
	var resp learning.UserData
	if err := c.do(ctx, http.MethodPut, "/api/v1/userdata/"+url.PathEscape(key), put, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do выполняет запрос. Ошибки сети и статусы классифицируются через learning.RemoteError.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return &learning.RemoteError{Kind: learning.ErrValidation, Message: "ошибка маршалинга тела запроса", Err: err}
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &learning.RemoteError{Kind: learning.ErrValidation, Message: "ошибка создания запроса", Err: err}
	}

	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return learning.Transport(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.log.Debug("Отправка запроса", slog.String("method", method), slog.String("path", path))

	resp, err := c.client.Do(req)
	if err != nil {
		return learning.Transport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return learning.Transport(fmt.Errorf("ошибка чтения ответа: %w", err))
	}

	c.log.Debug("Получен ответ", slog.String("path", path), slog.Int("status", resp.StatusCode))

	if resp.StatusCode >= 400 {
		return learning.FromStatus(resp.StatusCode, errorMessage(data))
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			// сервер мог уже принять запрос
			return learning.Transport(fmt.Errorf("ошибка парсинга ответа: %w", err))
		}
	}
	return nil
}

// errorMessage достает текст ошибки из problem+json или {"error": ...}
func errorMessage(body []byte) string {
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &problem); err != nil {
		return strings.TrimSpace(string(body))
	}
	switch {
	case problem.Detail != "":
		return problem.Detail
	case problem.Error != "":
		return problem.Error
	}
	return problem.Title
}
