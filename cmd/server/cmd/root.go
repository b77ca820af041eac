package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"studysync/internal/app/server/api"
	"studysync/internal/app/server/config"
	"studysync/internal/domain/learning"
	"studysync/internal/domain/session"
	"studysync/internal/infrastructure/storage/memory"
	"studysync/internal/infrastructure/storage/postgres"
	"studysync/internal/utils/logger"
)

var (
	cfg   *config.Config
	log   *slog.Logger
	debug bool
)

var rootCmd = &cobra.Command{
	Use:               "studysync-server",
	Short:             "Сервер синхронизации прогресса обучения",
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setup(_ *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	level := cfg.Logger.LogLevel
	if debug {
		level = "debug"
	}
	log = logger.WithLevel(cfg.Env, level)
	return nil
}

// backend хранилища и сервисы сервера
type backend struct {
	deps  api.Deps
	close func()
}

func openBackend(ctx context.Context) (*backend, error) {
	opts := []learning.Option{
		learning.WithDuplicateWindow(cfg.Sync.DuplicateWindow),
		learning.WithPassPercentage(cfg.Sync.PassPercentage),
	}
	if cfg.Sync.AnswerKeysPath != "" {
		keys, err := loadAnswerKeys(cfg.Sync.AnswerKeysPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, learning.WithGrader(keys))
	}

	if !cfg.UsesPostgres() {
		log.Warn("DATABASE_URI не задан, данные хранятся в памяти")
		return &backend{
			deps: api.Deps{
				Learning: learning.NewService(memory.NewLearningRepository(), log, opts...),
				Sessions: session.NewService(memory.NewSessionRepository(), cfg.Server.SessionTTL, log),
				Storage:  "memory",
			},
			close: func() {},
		}, nil
	}

	storage, err := postgres.New(ctx, cfg.DB.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("подключение к базе: %w", err)
	}

	return &backend{
		deps: api.Deps{
			Learning: learning.NewService(postgres.NewLearningRepository(storage, log), log, opts...),
			Sessions: session.NewService(postgres.NewSessionRepository(storage, log), cfg.Server.SessionTTL, log),
			Storage:  "postgres",
			Pinger:   storage,
		},
		close: func() { _ = storage.Close() },
	}, nil
}

func loadAnswerKeys(path string) (learning.KeyGrader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение ключей ответов: %w", err)
	}
	var keys learning.KeyGrader
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("разбор ключей ответов %s: %w", path, err)
	}
	return keys, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "включить отладочный режим")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenCreateCmd)
}
