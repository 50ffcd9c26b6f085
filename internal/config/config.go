package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"storybook-server/internal/utils"
)

// ProviderKind - предпочтение пользователя по провайдеру генерации изображений.
type ProviderKind string

const (
	ProviderDirect   ProviderKind = "direct"
	ProviderTemplate ProviderKind = "template"
)

// Config содержит конфигурацию для Storybook Service
type Config struct {
	// Настройки сервера
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Настройки PostgreSQL
	DBHost        string        `envconfig:"DB_HOST" required:"true"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" required:"true"`
	DBName        string        `envconfig:"DB_NAME" required:"true"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string

	// Настройки Redis (маркер активной генерации)
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	// Настройки RabbitMQ
	RabbitMQURL      string `envconfig:"RABBITMQ_URL" required:"true"`
	StoryEventsQueue string `envconfig:"STORY_EVENTS_QUEUE" default:"story_events"`

	// Файловое хранилище
	FileStoreRoot string `envconfig:"FILE_STORE_ROOT" default:"/var/lib/storybook/files"`

	// Текстовая модель (expand/extract/страницы/промпты/классификация схем)
	TextModelName    string `envconfig:"TEXT_MODEL_NAME" default:"gpt-4o-mini"`
	TextModelBaseURL string `envconfig:"TEXT_MODEL_BASE_URL" default:""`
	TextModelTimeout int    `envconfig:"TEXT_MODEL_TIMEOUT_SECONDS" default:"120"`
	PromptTokenLimit int    `envconfig:"PROMPT_TOKEN_LIMIT" default:"6000"`

	// Провайдер изображений
	ImageProvider        ProviderKind  `envconfig:"IMAGE_PROVIDER" default:"direct"`
	ImageProviderTimeout int           `envconfig:"IMAGE_PROVIDER_TIMEOUT_SECONDS" default:"180"`
	TemplateProviderURL  string        `envconfig:"TEMPLATE_PROVIDER_URL" default:""`
	DefaultImageModel    string        `envconfig:"DEFAULT_IMAGE_MODEL" default:"stability-ai/sdxl"`
	GenerationGuardTTL   time.Duration `envconfig:"GENERATION_GUARD_TTL" default:"15m"`
	MaxConcurrentImages  int           `envconfig:"MAX_CONCURRENT_IMAGES" default:"4"`

	// Секреты БЕЗ envconfig тегов
	JWTSecret        string
	OpenAIAPIKey     string
	ImageProviderKey string
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов
func LoadConfig() (*Config, error) {
	var cfg Config
	// Загружаем НЕсекретные переменные
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации storybook-server: %w", err)
	}

	// Загружаем ОБЯЗАТЕЛЬНЫЕ секреты
	var loadErr error
	cfg.DBPassword, loadErr = utils.ReadSecret("db_password")
	if loadErr != nil {
		return nil, fmt.Errorf("не удалось прочитать секрет db_password: %w", loadErr)
	}
	cfg.JWTSecret, loadErr = utils.ReadSecret("jwt_secret")
	if loadErr != nil {
		return nil, fmt.Errorf("не удалось прочитать секрет jwt_secret: %w", loadErr)
	}

	// Ключи провайдеров опциональны на старте: их отсутствие ловится
	// fail-fast проверкой перед конкретным вызовом генерации.
	cfg.OpenAIAPIKey, _ = utils.ReadSecret("openai_api_key")
	cfg.ImageProviderKey, _ = utils.ReadSecret("image_provider_key")

	return &cfg, nil
}
