package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"studysync/internal/domain/learning"
	"studysync/internal/domain/session"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	defaultRunAddress = "localhost:8080"
)

type Config struct {
	Env    string
	DB     db
	Server server
	Logger logger
	Sync   syncConfig
}

type db struct {
	// DatabaseURI пустой: хранилище в памяти
	DatabaseURI string
}

type server struct {
	RunAddress string
	SessionTTL time.Duration
}

type logger struct {
	LogLevel string
}

type syncConfig struct {
	DuplicateWindow time.Duration
	PassPercentage  float64
	// AnswerKeysPath JSON quizId -> questionId -> answer для оценки на сервере
	AnswerKeysPath string
}

// MustLoad загружает конфигурацию сервера
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// Load читает .env (если есть), переменные окружения и значения по умолчанию
func Load() (*Config, error) {
	for _, envPath := range []string{".env", "../../.env"} {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("load %s: %w", envPath, err)
			}
			break
		}
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", EnvLocal)
	v.SetDefault("RUN_ADDRESS", defaultRunAddress)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SESSION_TTL", session.DefaultTTL)
	v.SetDefault("SYNC_DUPLICATE_WINDOW", learning.DefaultDuplicateWindow)
	v.SetDefault("PASS_PERCENTAGE", learning.DefaultPassPercentage)

	cfg := &Config{
		Env:    v.GetString("APP_ENV"),
		DB:     db{DatabaseURI: v.GetString("DATABASE_URI")},
		Server: server{RunAddress: v.GetString("RUN_ADDRESS"), SessionTTL: v.GetDuration("SESSION_TTL")},
		Logger: logger{LogLevel: v.GetString("LOG_LEVEL")},
		Sync: syncConfig{
			DuplicateWindow: v.GetDuration("SYNC_DUPLICATE_WINDOW"),
			PassPercentage:  v.GetFloat64("PASS_PERCENTAGE"),
			AnswerKeysPath:  v.GetString("ANSWER_KEYS_PATH"),
		},
	}

	if cfg.Server.RunAddress == "" {
		return nil, fmt.Errorf("run_address must not be empty")
	}
	if cfg.Sync.DuplicateWindow < 0 {
		return nil, fmt.Errorf("sync_duplicate_window must not be negative")
	}
	return cfg, nil
}

// UsesPostgres задан ли DATABASE_URI
func (c *Config) UsesPostgres() bool {
	return c.DB.DatabaseURI != ""
}
