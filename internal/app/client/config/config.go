package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"studysync/internal/domain/action"
)

const (
	defaultServerAddress = "localhost:8080"
	defaultLogLevel      = "info"
	defaultEnv           = "local"
	defaultConfigDir     = ".studysync"
	defaultUserID        = "local"
)

type Config struct {
	Env           string
	ServerAddress string
	LogLevel      string
	ConfigDir     string
	TokenPath     string
	DataPath      string
	UserID        string
	EnableTLS     bool
	CACertPath    string
	HTTPTimeout   time.Duration

	Sync    Sync
	Network Network
}

// Sync параметры синхронизации
type Sync struct {
	Interval        time.Duration
	Workers         int
	DuplicateWindow time.Duration
	MaxAttempts     map[action.Kind]int
}

// Network параметры монитора сети
type Network struct {
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	StableReadings int
	StableWindow   time.Duration
	SlowThreshold  time.Duration
	FlapWindow     int
}

// MustLoad загружает конфигурацию клиента
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}
	return cfg
}

// Load читает .env, переменные окружения и значения по умолчанию
func Load() (*Config, error) {
	// Определяем путь к .env файлу (относительно места запуска)
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Printf("Ошибка загрузки .env файла: %v\n", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", defaultEnv)
	v.SetDefault("SERVER_ADDRESS", defaultServerAddress)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("CONFIG_DIR", defaultConfigDir)
	v.SetDefault("USER_ID", defaultUserID)
	v.SetDefault("ENABLE_TLS", false)
	v.SetDefault("HTTP_TIMEOUT", 30*time.Second)

	v.SetDefault("SYNC_INTERVAL", 30*time.Second)
	v.SetDefault("SYNC_WORKERS", 2)
	v.SetDefault("SYNC_DUPLICATE_WINDOW", 5*time.Second)
	v.SetDefault("SYNC_MAX_ATTEMPTS_QUIZ_ATTEMPT", 5)
	v.SetDefault("SYNC_MAX_ATTEMPTS_PROFILE_UPDATE", 5)
	v.SetDefault("SYNC_MAX_ATTEMPTS_LESSON_COMPLETION", 3)
	v.SetDefault("SYNC_MAX_ATTEMPTS_COURSE_PROGRESS", 3)
	v.SetDefault("SYNC_MAX_ATTEMPTS_GENERIC_USER_DATA", 3)

	v.SetDefault("NET_PROBE_INTERVAL", 2*time.Second)
	v.SetDefault("NET_PROBE_TIMEOUT", 3*time.Second)
	v.SetDefault("NET_STABLE_READINGS", 3)
	v.SetDefault("NET_STABLE_WINDOW", 4*time.Second)
	v.SetDefault("NET_SLOW_THRESHOLD", 1500*time.Millisecond)
	v.SetDefault("NET_FLAP_WINDOW", 6)

	// Получаем домашнюю директорию пользователя
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	configDir := v.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		configDir = filepath.Join(homeDir, configDir)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("создание директории конфигурации: %w", err)
	}

	dataPath := v.GetString("DATA_PATH")
	if dataPath == "" {
		dataPath = filepath.Join(configDir, "studysync.db")
	}

	maxAttempts := make(map[action.Kind]int, len(action.Kinds()))
	for _, k := range action.Kinds() {
		maxAttempts[k] = v.GetInt("SYNC_MAX_ATTEMPTS_" + strings.ToUpper(string(k)))
	}

	cfg := &Config{
		Env:           v.GetString("APP_ENV"),
		ServerAddress: v.GetString("SERVER_ADDRESS"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		ConfigDir:     configDir,
		TokenPath:     filepath.Join(configDir, "token"),
		DataPath:      dataPath,
		UserID:        v.GetString("USER_ID"),
		EnableTLS:     v.GetBool("ENABLE_TLS"),
		CACertPath:    v.GetString("CA_CERT_PATH"),
		HTTPTimeout:   v.GetDuration("HTTP_TIMEOUT"),
		Sync: Sync{
			Interval:        v.GetDuration("SYNC_INTERVAL"),
			Workers:         v.GetInt("SYNC_WORKERS"),
			DuplicateWindow: v.GetDuration("SYNC_DUPLICATE_WINDOW"),
			MaxAttempts:     maxAttempts,
		},
		Network: Network{
			ProbeInterval:  v.GetDuration("NET_PROBE_INTERVAL"),
			ProbeTimeout:   v.GetDuration("NET_PROBE_TIMEOUT"),
			StableReadings: v.GetInt("NET_STABLE_READINGS"),
			StableWindow:   v.GetDuration("NET_STABLE_WINDOW"),
			SlowThreshold:  v.GetDuration("NET_SLOW_THRESHOLD"),
			FlapWindow:     v.GetInt("NET_FLAP_WINDOW"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server_address не может быть пустым")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id не может быть пустым")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync_workers должно быть больше нуля")
	}
	if c.Sync.DuplicateWindow < 0 {
		return fmt.Errorf("sync_duplicate_window не может быть отрицательным")
	}
	for k, n := range c.Sync.MaxAttempts {
		if n < 1 {
			return fmt.Errorf("sync_max_attempts_%s должно быть больше нуля", k)
		}
	}
	return nil
}

// BaseURL адрес сервера со схемой
func (c *Config) BaseURL() string {
	if c.EnableTLS {
		return "https://" + c.ServerAddress
	}
	return "http://" + c.ServerAddress
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// IsDev проверяет, dev ли окружение
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == ""
}
