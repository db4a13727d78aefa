package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации ассистента.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Tools       ToolsConfig       `mapstructure:"tools"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr собирает host:port для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig описывает хранилище: sqlite (локально) или postgres.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite | postgres
	Path     string `mapstructure:"path"`   // файл sqlite
	URL      string `mapstructure:"url"`    // DSN postgres
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub промптов и kill-switch инструментов).
// Пустой Addr, Redis не используется.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к публичному RSA ключу для проверки JWT.
// Без ключа HTTP API работает без аутентификации (локальный режим).
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	Issuer        string `mapstructure:"issuer"`
	PublicKey     []byte
}

// EngineConfig: параметры цикла задач.
type EngineConfig struct {
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	TaskTimeout           time.Duration `mapstructure:"task_timeout"`
	Retention             time.Duration `mapstructure:"retention"`
	MaxRetries            int           `mapstructure:"max_retries"`
	HistoryWindow         int           `mapstructure:"history_window"`
	MemoryLimit           int           `mapstructure:"memory_limit"`
	PlanningWordThreshold int           `mapstructure:"planning_word_threshold"`
}

// PermissionsConfig — параметры Permission Authority.
type PermissionsConfig struct {
	PromptTimeout      time.Duration `mapstructure:"prompt_timeout"`
	TrustedTools       []string      `mapstructure:"trusted_tools"`
	AuditRingSize      int           `mapstructure:"audit_ring_size"`
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`
	Notifier           string        `mapstructure:"notifier"` // terminal | redis | local
}

// ToolsConfig удаленные инструменты и защита вызовов.
type ToolsConfig struct {
	Remote   []RemoteToolConfig `mapstructure:"remote"`
	Disabled []string           `mapstructure:"disabled"` // отключены при старте

	// Настройки Circuit Breaker и лимита для обработчиков
	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`
	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// RemoteToolConfig: инструмент, исполняемый внешним gRPC коннектором.
type RemoteToolConfig struct {
	Name        string        `mapstructure:"name"`
	Description string        `mapstructure:"description"`
	Category    string        `mapstructure:"category"`
	RiskLevel   string        `mapstructure:"risk_level"`
	Target      string        `mapstructure:"target"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LLMConfig — OpenAI-совместимый endpoint.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path явный путь к файлу (флаг --config), может быть пустым.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")    // имя файла без расширения
		v.SetConfigType("yaml")      // формат
		v.AddConfigPath(".")         // ищем в корне
		v.AddConfigPath("./configs") // и в папке с конфигами
	}

	// 2. Настройка переменных окружения (ENV)
	// ASSISTANT_SERVER_PORT=9000 перекроет server.port
	v.SetEnvPrefix("assistant")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет, работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключ из ENV (для Docker/K8s) или из файла
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate отсеивает заведомо неработающие комбинации
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return errors.New("database.url is required for postgres")
	}
	if c.Permissions.Notifier == "redis" && c.Redis.Addr == "" {
		return errors.New("redis.addr is required for redis notifier")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "assistant.db")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("engine.sweep_interval", 60*time.Second)
	v.SetDefault("engine.task_timeout", 30*time.Minute)
	v.SetDefault("engine.retention", time.Hour)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.history_window", 10)
	v.SetDefault("engine.memory_limit", 5)
	v.SetDefault("engine.planning_word_threshold", 20)

	v.SetDefault("permissions.prompt_timeout", 30*time.Second)
	v.SetDefault("permissions.trusted_tools", []string{"file_manager", "window_manager"})
	v.SetDefault("permissions.audit_ring_size", 1000)
	v.SetDefault("permissions.audit_buffer_size", 1000)
	v.SetDefault("permissions.audit_flush_interval", 1*time.Second)
	v.SetDefault("permissions.notifier", "terminal")

	v.SetDefault("tools.rate_limit", 100)
	v.SetDefault("tools.rate_burst", 20)
	v.SetDefault("tools.cb_max_requests", 1)
	v.SetDefault("tools.cb_interval", 60*time.Second)
	v.SetDefault("tools.cb_timeout", 30*time.Second)

	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.model", "llama3")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
}

// loadKeyResource — ключ либо прямо в ENV, либо файл по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
