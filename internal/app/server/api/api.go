// Package api собирает HTTP API сервера синхронизации обучения.
//
//	GET   /api/v1/health                                          (публичный)
//	POST  /api/v1/courses/{courseId}/quizzes/{quizId}/attempts     (auth)
//	GET   /api/v1/courses/{courseId}/quizzes/{quizId}/attempts     (auth)
//	PUT   /api/v1/courses/{courseId}/lessons/{lessonId}/completion (auth)
//	PUT   /api/v1/courses/{courseId}/progress                      (auth)
//	GET   /api/v1/profile                                         (auth)
//	PATCH /api/v1/profile                                         (auth)
//	GET   /api/v1/userdata/{key}                                  (auth)
//	PUT   /api/v1/userdata/{key}                                  (auth)
package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"

	healthAPI "studysync/internal/app/server/api/http/health"
	learningAPI "studysync/internal/app/server/api/http/learning"
	"studysync/internal/app/server/api/http/middleware"
	"studysync/internal/app/server/api/http/middleware/auth"
	"studysync/internal/app/server/api/http/middleware/logger"
	"studysync/internal/domain/learning"
	"studysync/internal/domain/session"
)

// Deps сервисы, из которых собирается API
type Deps struct {
	Learning learning.Servicer
	Sessions session.Servicer
	// Storage имя хранилища для health
	Storage string
	Pinger  healthAPI.Pinger
}

type Handlers struct {
	Health   *healthAPI.Handler
	Learning *learningAPI.Handler
}

// New создает *chi.Mux со всеми операциями через huma.Register
func New(deps Deps, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()
	mux.Use(chimw.Recoverer)

	config := huma.DefaultConfig("StudySync API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, config)

	h := handlers(deps, log)
	h.Health.SetupRoutes(API)
	h.Learning.SetupRoutes(API)

	return mux
}

func handlers(deps Deps, log *slog.Logger) *Handlers {
	authMW := auth.New(deps.Sessions, log)
	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(log, middlewares.GetAllAndClear(), deps.Storage, deps.Pinger)

	middlewares.Add(authMW.Middleware())
	middlewares.Add(loggerMW.Middleware())
	learningHandler := learningAPI.NewHandler(deps.Learning, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health:   healthHandler,
		Learning: learningHandler,
	}
}
