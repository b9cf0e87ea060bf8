package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"dreamweaver/pkg/logger"
	"dreamweaver/pkg/utils"
)

// Поддерживаемые значения переключателей
const (
	AIClientOpenAI = "openai"
	AIClientOllama = "ollama"

	ImageProviderOpenAI = "openai"
	ImageProviderSana   = "sana"
	ImageProviderNone   = "none"

	HistoryBackendSQLite   = "sqlite"
	HistoryBackendRedis    = "redis"
	HistoryBackendPostgres = "postgres"

	// MalformedPolicyDegrade - битый JSON превращается в принудительное завершение истории.
	MalformedPolicyDegrade = "degrade"
	// MalformedPolicyFail - битый JSON считается ошибкой операции.
	MalformedPolicyFail = "fail"
)

// Config структура для хранения всей конфигурации приложения.
type Config struct {
	AppEnv  string `env:"APP_ENV" env-default:"development"`
	Logger  logger.Config
	Server  ServerConfig
	Session SessionConfig
	AI      AIConfig
	Image   ImageConfig
	History HistoryConfig
	Redis   RedisConfig
	DB      DBConfig
	Rabbit  RabbitMQConfig
}

// ServerConfig настройки HTTP сервера.
type ServerConfig struct {
	Port               string        `env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout        time.Duration `env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout       time.Duration `env:"SERVER_WRITE_TIMEOUT" env-default:"3m"` // Должен быть больше GENERATION_TIMEOUT
	IdleTimeout        time.Duration `env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	CORSAllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS" env-default:"http://localhost:3000"`
}

// SessionConfig настройки машины состояний сессии.
type SessionConfig struct {
	GenerationTimeout       time.Duration `env:"GENERATION_TIMEOUT" env-default:"2m"`
	AmbientStopDelay        time.Duration `env:"AMBIENT_STOP_DELAY" env-default:"20m"`
	MalformedResponsePolicy string        `env:"MALFORMED_RESPONSE_POLICY" env-default:"degrade"`
}

// AIConfig настройки текстовой модели.
type AIConfig struct {
	ClientType     string        `env:"AI_CLIENT_TYPE" env-default:"openai"`
	BaseURL        string        `env:"AI_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model          string        `env:"AI_MODEL" env-default:"gpt-4o-mini"`
	APIKey         string        `env:"AI_API_KEY"`
	Timeout        time.Duration `env:"AI_TIMEOUT" env-default:"90s"`
	MaxAttempts    int           `env:"AI_MAX_ATTEMPTS" env-default:"3"`
	BaseRetryDelay time.Duration `env:"AI_BASE_RETRY_DELAY" env-default:"1s"`
	Temperature    float64       `env:"AI_TEMPERATURE" env-default:"0.9"`
}

// ImageConfig настройки генерации иллюстраций.
type ImageConfig struct {
	Provider      string           `env:"IMAGE_PROVIDER" env-default:"openai"`
	Model         string           `env:"IMAGE_MODEL" env-default:"dall-e-3"`
	APIKey        string           `env:"IMAGE_API_KEY"`  // Пусто - берем AI_API_KEY
	BaseURL       string           `env:"IMAGE_BASE_URL"` // Пусто - берем AI_BASE_URL
	Sana          SanaServerConfig `env-prefix:"SANA_SERVER_"`
	SavePath      string           `env:"IMAGE_SAVE_PATH" env-default:"./data/images"`
	PublicBaseURL string           `env:"IMAGE_PUBLIC_BASE_URL" env-default:"/images"`
}

// SanaServerConfig конфигурация для подключения к локальному SANA серверу.
type SanaServerConfig struct {
	BaseURL string `env:"BASE_URL"`
	Timeout int    `env:"TIMEOUT_SEC" env-default:"120"` // Таймаут в секундах
}

// HistoryConfig выбор хранилища истории.
type HistoryConfig struct {
	Backend    string `env:"HISTORY_BACKEND" env-default:"sqlite"`
	Key        string `env:"HISTORY_KEY" env-default:"storyHistory"`
	SQLitePath string `env:"SQLITE_PATH" env-default:"./data/dreamweaver.db"`
}

// RedisConfig подключение к Redis.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// DBConfig подключение к PostgreSQL.
type DBConfig struct {
	Host        string        `env:"DB_HOST" env-default:"localhost"`
	Port        string        `env:"DB_PORT" env-default:"5432"`
	User        string        `env:"DB_USER" env-default:"postgres"`
	Password    string        `env:"DB_PASSWORD"`
	Name        string        `env:"DB_NAME" env-default:"dreamweaver"`
	SSLMode     string        `env:"DB_SSL_MODE" env-default:"disable"`
	MaxConns    int           `env:"DB_MAX_CONNS" env-default:"5"`
	IdleTimeout time.Duration `env:"DB_IDLE_TIMEOUT" env-default:"5m"`
}

// RabbitMQConfig публикация событий о завершенных историях. Пустой URL выключает публикацию.
type RabbitMQConfig struct {
	URL           string `env:"RABBITMQ_URL"`
	StoryExchange string `env:"RABBITMQ_STORY_EXCHANGE" env-default:"story_events"`
}

// Load загружает конфигурацию из .env файла (если есть) и переменных окружения.
func Load(envFiles ...string) (*Config, error) {
	// Отсутствие .env не ошибка
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	// Секреты из /run/secrets имеют приоритет над env
	cfg.AI.APIKey = utils.SecretOrDefault("ai_api_key", cfg.AI.APIKey)
	cfg.Image.APIKey = utils.SecretOrDefault("image_api_key", cfg.Image.APIKey)
	cfg.DB.Password = utils.SecretOrDefault("postgres_password", cfg.DB.Password)

	if cfg.Image.APIKey == "" {
		cfg.Image.APIKey = cfg.AI.APIKey
	}
	if cfg.Image.BaseURL == "" {
		cfg.Image.BaseURL = cfg.AI.BaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения переключателей и взаимозависимые настройки.
func (c *Config) Validate() error {
	switch strings.ToLower(c.AI.ClientType) {
	case AIClientOpenAI, AIClientOllama:
	default:
		return fmt.Errorf("invalid AI_CLIENT_TYPE '%s'", c.AI.ClientType)
	}
	switch strings.ToLower(c.Image.Provider) {
	case ImageProviderOpenAI, ImageProviderNone:
	case ImageProviderSana:
		if c.Image.Sana.BaseURL == "" {
			return fmt.Errorf("SANA_SERVER_BASE_URL is required for IMAGE_PROVIDER=sana")
		}
	default:
		return fmt.Errorf("invalid IMAGE_PROVIDER '%s'", c.Image.Provider)
	}
	switch strings.ToLower(c.History.Backend) {
	case HistoryBackendSQLite, HistoryBackendRedis, HistoryBackendPostgres:
	default:
		return fmt.Errorf("invalid HISTORY_BACKEND '%s'", c.History.Backend)
	}
	switch strings.ToLower(c.Session.MalformedResponsePolicy) {
	case MalformedPolicyDegrade, MalformedPolicyFail:
	default:
		return fmt.Errorf("invalid MALFORMED_RESPONSE_POLICY '%s'", c.Session.MalformedResponsePolicy)
	}
	if c.Session.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	if c.AI.MaxAttempts < 1 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be at least 1")
	}
	if strings.TrimSpace(c.History.Key) == "" {
		return fmt.Errorf("HISTORY_KEY must not be empty")
	}
	return nil
}

// GetAllowedOrigins разбирает CORS_ALLOWED_ORIGINS.
func (c *Config) GetAllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.Server.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// PostgresDSN собирает строку подключения к PostgreSQL.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(c.DB.User), url.QueryEscape(c.DB.Password), c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

// MaskedPostgresDSN - DSN без пароля для логов.
func (c *Config) MaskedPostgresDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%s/%s?sslmode=%s",
		c.DB.User, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}
