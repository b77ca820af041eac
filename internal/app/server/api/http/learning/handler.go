// Package learning HTTP-операции сервера обучения
package learning

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"studysync/internal/app/server/api/http/middleware/auth"
	"studysync/internal/domain/learning"
)

type Handler struct {
	service    learning.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service learning.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log.With(slog.String("component", "learning_handler")),
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.submitAttemptOp(), h.submitAttempt)
	huma.Register(api, h.listAttemptsOp(), h.listAttempts)
	huma.Register(api, h.lessonCompletionOp(), h.lessonCompletion)
	huma.Register(api, h.courseProgressOp(), h.courseProgress)
	huma.Register(api, h.getProfileOp(), h.getProfile)
	huma.Register(api, h.updateProfileOp(), h.updateProfile)
	huma.Register(api, h.getUserDataOp(), h.getUserData)
	huma.Register(api, h.putUserDataOp(), h.putUserData)
}

func (h *Handler) submitAttempt(ctx context.Context, input *submitAttemptInput) (*submitAttemptOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	resp, err := h.service.SubmitAttempt(ctx, userID, input.CourseID, input.QuizID, input.Body)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &submitAttemptOutput{Body: *resp}, nil
}

func (h *Handler) listAttempts(ctx context.Context, input *listAttemptsInput) (*listAttemptsOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	attempts, err := h.service.ListAttempts(ctx, userID, input.CourseID, input.QuizID)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	if attempts == nil {
		attempts = []learning.Attempt{}
	}
	return &listAttemptsOutput{Body: learning.AttemptList{Attempts: attempts}}, nil
}

func (h *Handler) lessonCompletion(ctx context.Context, input *lessonCompletionInput) (*statusOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	c := input.Body
	c.CourseID, c.LessonID = input.CourseID, input.LessonID

	if err := h.service.UpdateLessonCompletion(ctx, userID, c); err != nil {
		return nil, h.toHTTP(err)
	}
	return &statusOutput{Body: statusResponse{Status: "OK"}}, nil
}

func (h *Handler) courseProgress(ctx context.Context, input *courseProgressInput) (*courseProgressOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	p := input.Body
	p.CourseID = input.CourseID

	merged, err := h.service.UpdateCourseProgress(ctx, userID, p)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &courseProgressOutput{Body: *merged}, nil
}

func (h *Handler) getProfile(ctx context.Context, _ *struct{}) (*profileOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	p, err := h.service.GetProfile(ctx, userID)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &profileOutput{Body: *p}, nil
}

func (h *Handler) updateProfile(ctx context.Context, input *updateProfileInput) (*profileOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	p, err := h.service.UpdateProfile(ctx, userID, input.Body)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &profileOutput{Body: *p}, nil
}

func (h *Handler) getUserData(ctx context.Context, input *getUserDataInput) (*userDataOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	d, err := h.service.GetUserData(ctx, userID, input.Key)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &userDataOutput{Body: *d}, nil
}

func (h *Handler) putUserData(ctx context.Context, input *putUserDataInput) (*userDataOutput, error) {
	userID, ok := auth.GetUserID(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("Unauthorized")
	}

	if input.Body.Value == nil {
		return nil, huma.Error422UnprocessableEntity("value is required")
	}
	value, err := json.Marshal(input.Body.Value)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("value is not valid JSON", err)
	}

	d, err := h.service.PutUserData(ctx, userID, input.Key, learning.UserDataPut{
		Value:       value,
		BaseVersion: input.Body.BaseVersion,
	})
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &userDataOutput{Body: *d}, nil
}

// toHTTP ошибки сервиса в статусы: 422 ввод, 409 предусловие, 404 нет данных
func (h *Handler) toHTTP(err error) error {
	switch {
	case errors.Is(err, learning.ErrInvalidInput):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, learning.ErrConflict):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, learning.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	}

	h.log.Error("learning request failed", slog.Any("error", err))
	return huma.Error500InternalServerError("internal error")
}
