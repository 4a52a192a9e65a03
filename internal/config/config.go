// Package config загружает конфигурацию движка из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"engine"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"gating_engine"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// Драйвер хранилища: postgres (продакшен) или memory (локальная разработка).
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- HTTP ---
	HTTPAddr           string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPRequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"30s"`
	// Хеш API-ключа в формате Argon2id (генерируется scripts/generate_hash.go).
	// Пустое значение = аутентификация выключена (только для разработки).
	APIKeyHash string `envconfig:"API_KEY_HASH" default:""`

	// --- Rewards ---
	// Сколько токенов начисляется за полный час вовлечённости.
	// Неполные часы сгорают (floor), см. rewards.Service.
	RewardTokensPerHour int64 `envconfig:"REWARD_TOKENS_PER_HOUR" default:"10"`
	// Горизонт хранения маркеров идемпотентности. Окно старше горизонта
	// не начисляется вообще, даже если маркер уже удалён.
	MarkerRetention time.Duration `envconfig:"MARKER_RETENTION" default:"720h"`

	// --- Unlocks ---
	UnlockCost            int64 `envconfig:"UNLOCK_COST" default:"20"`
	UnlockDurationMinutes int   `envconfig:"UNLOCK_DURATION_MINUTES" default:"60"`

	// --- Collaborators ---
	EngagementBaseURL   string        `envconfig:"ENGAGEMENT_BASE_URL" default:"http://engagement:8081"`
	PaymentBaseURL      string        `envconfig:"PAYMENT_BASE_URL" default:"http://payments:8082"`
	EnforcementBaseURL  string        `envconfig:"ENFORCEMENT_BASE_URL" default:"http://enforcement:8083"`
	CollaboratorTimeout time.Duration `envconfig:"COLLABORATOR_TIMEOUT" default:"5s"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"30"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Ledger ---
	// Сколько раз повторяем мутацию при конфликте версий, прежде чем
	// вернуть ErrTransientConflict.
	LedgerMaxRetries int `envconfig:"LEDGER_MAX_RETRIES" default:"5"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// UnlockDuration возвращает длительность разблокировки как time.Duration.
func (c *Config) UnlockDuration() time.Duration {
	return time.Duration(c.UnlockDurationMinutes) * time.Minute
}

func (c *Config) Validate() error {
	if c.RewardTokensPerHour <= 0 {
		return fmt.Errorf("REWARD_TOKENS_PER_HOUR должен быть > 0")
	}
	if c.UnlockCost <= 0 {
		return fmt.Errorf("UNLOCK_COST должен быть > 0")
	}
	if c.UnlockDurationMinutes <= 0 {
		return fmt.Errorf("UNLOCK_DURATION_MINUTES должен быть > 0")
	}
	if c.MarkerRetention <= 0 {
		return fmt.Errorf("MARKER_RETENTION должен быть > 0")
	}
	if c.LedgerMaxRetries <= 0 {
		return fmt.Errorf("LEDGER_MAX_RETRIES должен быть > 0")
	}
	if c.StorageDriver != "postgres" && c.StorageDriver != "memory" {
		return fmt.Errorf("STORAGE_DRIVER: ожидается postgres или memory, получено %q", c.StorageDriver)
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
