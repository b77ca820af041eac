// cmd/client/cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"studysync/cmd/client/cmd/types"
	"studysync/internal/app/client"
	"studysync/internal/app/client/config"
	"studysync/internal/utils/logger"
)

var (
	cfgFile   string
	cfg       *config.Config
	log       *slog.Logger
	app       *client.Engine
	debug     bool
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "studysync",
	Short: "StudySync - офлайн-клиент синхронизации обучения",
	Long: `StudySync сохраняет прогресс уроков, попытки тестов, профиль и
пользовательские данные локально и синхронизирует их с сервером,
когда появляется сеть.

Все изменения сначала попадают в локальную очередь и не теряются
при обрыве связи.`,
	PersistentPreRunE:  setupApp,
	PersistentPostRunE: closeApp,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	// Файл конфигурации в формате .env загружается до переменных окружения
	if cfgFile != "" {
		if err := godotenv.Load(cfgFile); err != nil {
			return fmt.Errorf("ошибка загрузки конфигурации %s: %w", cfgFile, err)
		}
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Переопределяем настройки из флагов командной строки
	if serverURL != "" {
		cfg.ServerAddress = serverURL
	}

	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	log = logger.WithLevel(cfg.Env, level)

	app, err = client.New(cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	cmd.SetContext(context.WithValue(cmd.Context(), types.ClientAppKey, app))
	return nil
}

func closeApp(_ *cobra.Command, _ []string) error {
	if app == nil {
		return nil
	}
	return app.Close()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "файл конфигурации (.env)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "включить отладочный режим")
	rootCmd.PersistentFlags().BoolVar(&types.JSONOutput, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "адрес сервера StudySync (host:port)")
}
