// Package config загружает и проверяет конфигурацию directory-api из
// переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища.
const (
	StorageBackendLocal = "local"
	StorageBackendGCS   = "gcs"
)

// Политики числа карточек на владельца.
const (
	BusinessPolicyOne       = "one"
	BusinessPolicyUnlimited = "unlimited"
)

// Config: все настройки directory-api.
type Config struct {
	// --- Сервер ---

	// HTTP-порт
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Окружение (development, production). В production детали ошибок скрыты.
	Environment string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// Ожидаемый issuer (необязательно)
	JWTIssuer string
	// JWKS endpoint провайдера
	JWTJWKSURL string
	// Допуск расхождения часов
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления ключей JWKS
	JWKSRefreshInterval time.Duration
	// Роль для эндпоинтов модерации
	AdminRole string

	// --- Объектное хранилище ---

	// local или gcs
	StorageBackend string
	// Корневой каталог локального бэкенда
	StorageLocalRoot string
	// Базовый URL публичных ссылок на объекты
	StoragePublicBaseURL string
	// Имя бакета GCS
	GCSBucket string
	// JSON сервисного аккаунта (необязательно, иначе ADC)
	GCSCredentialsJSON string

	// --- Заявки ---

	// Максимальный размер вложения в байтах
	MaxUploadSize int64
	// Число параллельно загружаемых вложений (1 = последовательно)
	StagingConcurrency int
	// one или unlimited
	BusinessPerOwner string

	// --- Лимиты ---

	ReviewRateMax       int
	ReviewRateWindow    time.Duration
	BusinessRateMax     int
	BusinessRateWindow  time.Duration
	ContactRateMax      int
	ContactRateWindow   time.Duration
	RateLimitSweepEvery time.Duration
	// HTTP throttle на клиента
	HTTPRatePerSecond float64
	HTTPRateBurst     int

	// --- Redis (опционально) ---

	// Пустое значение отключает маркеры дубликатов и блокировки заявок
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TTL маркеров дубликатов
	MarkerTTL time.Duration
	// TTL блокировок заявок
	SubmissionLockTTL time.Duration

	// --- Kafka (опционально) ---

	// Пустое значение отключает публикацию событий
	KafkaBrokers []string
	KafkaTopic   string

	// --- Кэш ---

	CacheSize int
	CacheTTL  time.Duration

	// --- Фоновые задачи ---

	DephealthCheckInterval time.Duration
	ShutdownTimeout        time.Duration
}

// Load читает конфигурацию из окружения, проверяет её и возвращает
// Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// LD_PORT: HTTP-порт (по умолчанию 8080)
	cfg.Port, err = getEnvInt("LD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("LD_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("LD_PORT: value %d out of range 1-65535", cfg.Port)
	}

	// LD_LOG_LEVEL: уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LD_LOG_LEVEL: %w", err)
	}

	// LD_LOG_FORMAT: формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("LD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LD_LOG_FORMAT: invalid value %q, allowed: json, text", cfg.LogFormat)
	}

	// LD_ENVIRONMENT: development или production (по умолчанию production)
	cfg.Environment = getEnvDefault("LD_ENVIRONMENT", "production")
	if cfg.Environment != "development" && cfg.Environment != "production" {
		return nil, fmt.Errorf("LD_ENVIRONMENT: invalid value %q, allowed: development, production", cfg.Environment)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("LD_DB_HOST"); err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("LD_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("LD_DB_PORT: %w", err)
	}

	if cfg.DBName, err = getEnvRequired("LD_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("LD_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("LD_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("LD_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("LD_DB_SSL_MODE: invalid value %q, allowed: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	// LD_JWT_JWKS_URL: обязательна, IdP подписывает токены пользователей
	if cfg.JWTJWKSURL, err = getEnvRequired("LD_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("LD_JWT_ISSUER", "")

	if cfg.JWTLeeway, err = getEnvDuration("LD_JWT_LEEWAY", 30*time.Second); err != nil {
		return nil, fmt.Errorf("LD_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvDuration("LD_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("LD_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("LD_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("LD_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.AdminRole = getEnvDefault("LD_ADMIN_ROLE", "directory-admin")

	// --- Объектное хранилище ---

	cfg.StorageBackend = getEnvDefault("LD_STORAGE_BACKEND", StorageBackendLocal)
	switch cfg.StorageBackend {
	case StorageBackendLocal:
		cfg.StorageLocalRoot = getEnvDefault("LD_STORAGE_LOCAL_ROOT", "./data/media")
		cfg.StoragePublicBaseURL = getEnvDefault("LD_STORAGE_PUBLIC_BASE_URL",
			fmt.Sprintf("http://localhost:%d/media", cfg.Port))
	case StorageBackendGCS:
		if cfg.GCSBucket, err = getEnvRequired("LD_GCS_BUCKET"); err != nil {
			return nil, err
		}
		cfg.GCSCredentialsJSON = getEnvDefault("LD_GCS_CREDENTIALS_JSON", "")
		cfg.StoragePublicBaseURL = getEnvDefault("LD_STORAGE_PUBLIC_BASE_URL",
			"https://storage.googleapis.com/"+cfg.GCSBucket)
	default:
		return nil, fmt.Errorf("LD_STORAGE_BACKEND: invalid value %q, allowed: local, gcs", cfg.StorageBackend)
	}
	cfg.StoragePublicBaseURL = strings.TrimRight(cfg.StoragePublicBaseURL, "/")

	// --- Заявки ---

	// LD_MAX_UPLOAD_SIZE: байт на вложение (по умолчанию 5 MiB)
	cfg.MaxUploadSize, err = getEnvInt64("LD_MAX_UPLOAD_SIZE", 5*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("LD_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize < 1 {
		return nil, fmt.Errorf("LD_MAX_UPLOAD_SIZE: value %d must be positive", cfg.MaxUploadSize)
	}

	cfg.StagingConcurrency, err = getEnvInt("LD_STAGING_CONCURRENCY", 1)
	if err != nil {
		return nil, fmt.Errorf("LD_STAGING_CONCURRENCY: %w", err)
	}
	if cfg.StagingConcurrency < 1 || cfg.StagingConcurrency > 10 {
		return nil, fmt.Errorf("LD_STAGING_CONCURRENCY: value %d out of range 1-10", cfg.StagingConcurrency)
	}

	cfg.BusinessPerOwner = getEnvDefault("LD_BUSINESS_PER_OWNER", BusinessPolicyOne)
	if cfg.BusinessPerOwner != BusinessPolicyOne && cfg.BusinessPerOwner != BusinessPolicyUnlimited {
		return nil, fmt.Errorf("LD_BUSINESS_PER_OWNER: invalid value %q, allowed: one, unlimited", cfg.BusinessPerOwner)
	}

	// --- Лимиты ---

	if cfg.ReviewRateMax, cfg.ReviewRateWindow, err = getRateLimit("LD_RATE_LIMIT_REVIEW", 5, time.Hour); err != nil {
		return nil, err
	}
	if cfg.BusinessRateMax, cfg.BusinessRateWindow, err = getRateLimit("LD_RATE_LIMIT_BUSINESS", 3, 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ContactRateMax, cfg.ContactRateWindow, err = getRateLimit("LD_RATE_LIMIT_CONTACT", 5, time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateLimitSweepEvery, err = getEnvDuration("LD_RATE_LIMIT_SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("LD_RATE_LIMIT_SWEEP_INTERVAL: %w", err)
	}

	rps := getEnvDefault("LD_HTTP_RATE_PER_SECOND", "10")
	cfg.HTTPRatePerSecond, err = strconv.ParseFloat(rps, 64)
	if err != nil || cfg.HTTPRatePerSecond <= 0 {
		return nil, fmt.Errorf("LD_HTTP_RATE_PER_SECOND: invalid value %q", rps)
	}
	cfg.HTTPRateBurst, err = getEnvInt("LD_HTTP_RATE_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("LD_HTTP_RATE_BURST: %w", err)
	}
	if cfg.HTTPRateBurst < 1 {
		return nil, fmt.Errorf("LD_HTTP_RATE_BURST: value %d must be positive", cfg.HTTPRateBurst)
	}

	// --- Redis ---

	cfg.RedisAddr = getEnvDefault("LD_REDIS_ADDR", "")
	cfg.RedisPassword = getEnvDefault("LD_REDIS_PASSWORD", "")
	if cfg.RedisDB, err = getEnvInt("LD_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("LD_REDIS_DB: %w", err)
	}
	if cfg.MarkerTTL, err = getEnvDuration("LD_MARKER_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("LD_MARKER_TTL: %w", err)
	}
	if cfg.SubmissionLockTTL, err = getEnvDuration("LD_SUBMISSION_LOCK_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("LD_SUBMISSION_LOCK_TTL: %w", err)
	}

	// --- Kafka ---

	cfg.KafkaBrokers = parseCSV(getEnvDefault("LD_KAFKA_BROKERS", ""))
	cfg.KafkaTopic = getEnvDefault("LD_KAFKA_TOPIC", "directory-events")

	// --- Кэш ---

	if cfg.CacheSize, err = getEnvInt("LD_CACHE_SIZE", 1000); err != nil {
		return nil, fmt.Errorf("LD_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 || cfg.CacheSize > 1000000 {
		return nil, fmt.Errorf("LD_CACHE_SIZE: value %d out of range 1-1000000", cfg.CacheSize)
	}
	if cfg.CacheTTL, err = getEnvDuration("LD_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("LD_CACHE_TTL: %w", err)
	}

	// --- Фоновые задачи ---

	if cfg.DephealthCheckInterval, err = getEnvDuration("LD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("LD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("LD_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("LD_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// IsProduction сообщает, нужно ли скрывать от клиентов детали ошибок.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL для меток метрик и миграций.
func (c *Config) DatabaseURL(scheme string) string {
	return fmt.Sprintf(
		"%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme, c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер по конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает переменную или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: required environment variable is not set", key)
	}
	return val, nil
}

// getEnvDefault возвращает переменную или defaultVal.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %q", val)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q (use Go format: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getRateLimit читает пару <prefix>_MAX и <prefix>_WINDOW.
func getRateLimit(prefix string, defaultMax int, defaultWindow time.Duration) (int, time.Duration, error) {
	maxAttempts, err := getEnvInt(prefix+"_MAX", defaultMax)
	if err != nil {
		return 0, 0, fmt.Errorf("%s_MAX: %w", prefix, err)
	}
	if maxAttempts < 1 {
		return 0, 0, fmt.Errorf("%s_MAX: value %d must be positive", prefix, maxAttempts)
	}
	window, err := getEnvDuration(prefix+"_WINDOW", defaultWindow)
	if err != nil {
		return 0, 0, fmt.Errorf("%s_WINDOW: %w", prefix, err)
	}
	if window <= 0 {
		return 0, 0, fmt.Errorf("%s_WINDOW: must be positive", prefix)
	}
	return maxAttempts, window, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid level %q, allowed: debug, info, warn, error", level)
	}
}

// parseCSV разбивает список через запятую, обрезает пробелы и отбрасывает пустые элементы.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
