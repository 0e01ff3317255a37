// Пакет config — загрузка и валидация конфигурации Cold Storage Service
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Драйверы хранилища записей.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverBadger   = "badger"
	StoreDriverMemory   = "memory"
)

// Виды backend-ов холодного хранения.
const (
	BackendKindS3     = "s3"
	BackendKindHTTP   = "http"
	BackendKindMemory = "memory"
)

// Режимы формирования ссылок на содержимое.
const (
	AccessModeTemplate = "template"
	AccessModePresign  = "presign"
)

// BackendSpec — описание одного backend-а из CS_BACKENDS.
type BackendSpec struct {
	// ID — идентификатор backend-а, совпадает с ContentRef.BackendID
	ID string
	// Kind — вид backend-а (s3, http, memory)
	Kind string
}

// Config содержит все параметры конфигурации Cold Storage Service.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8009)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- Хранилище записей ---

	// Драйвер хранилища: postgres, badger, memory
	StoreDriver string
	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Директория данных badger
	BadgerDir string

	// --- Backend-ы ---

	// Зарегистрированные backend-ы
	Backends []BackendSpec
	// Таймаут одного обращения к backend-у
	BackendTimeout time.Duration

	// Регион S3
	S3Region string
	// Bucket S3
	S3Bucket string
	// Endpoint S3 (MinIO, Localstack); пустой — AWS
	S3Endpoint string
	// Access Key ID (пустой — стандартная цепочка credentials)
	S3AccessKeyID string
	// Secret Access Key
	S3SecretAccessKey string
	// Максимальное количество попыток запроса к S3
	S3MaxRetries int
	// Tier восстановления из Glacier: Standard, Bulk, Expedited
	S3RestoreTier string

	// Базовый URL HTTP backend-а
	HTTPBackendURL string
	// Путь к CA-сертификату HTTP backend-а (опционально)
	HTTPBackendCACertPath string
	// Bearer-токен для HTTP backend-а (опционально)
	HTTPBackendToken string

	// Задержка, после которой memory backend считает содержимое восстановленным
	MemoryRestoreDelay time.Duration

	// --- Сверка ---

	// Интервал сверки восстанавливаемых записей
	ReconcileInterval time.Duration
	// Количество записей, опрашиваемых параллельно
	ReconcileConcurrency int
	// Интервал защитной проверки холодных записей (0 — отключена)
	ColdSweepInterval time.Duration

	// --- Уведомления ---

	// URL NATS (пустой — уведомления только в лог)
	NATSURL string
	// Subject для событий
	NATSSubject string

	// --- Ссылки на содержимое ---

	// Режим: template или presign
	AccessMode string
	// Базовый URL для ссылок в режиме template
	AccessBaseURL string
	// Время жизни presigned-ссылки
	AccessURLTTL time.Duration
	// Размер кэша presigned-ссылок
	AccessCacheSize int

	// --- JWT ---

	// URL JWKS endpoint (пустой — аутентификация отключена)
	JWTJWKSURL string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Путь к CA-сертификату для JWKS
	CACertPath string
	// Пропускать проверку TLS-сертификатов
	TLSSkipVerify bool

	// --- topologymetrics ---

	// Имя группы в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CS_PORT — порт HTTP-сервера (по умолчанию 8005)
	cfg.Port, err = getEnvInt("CS_PORT", 8005)
	if err != nil {
		return nil, fmt.Errorf("CS_PORT: %w", err)
	}
	if cfg.Port < 8000 || cfg.Port > 8009 {
		return nil, fmt.Errorf("CS_PORT: значение %d вне допустимого диапазона 8000-8009", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("CS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Хранилище записей ---

	cfg.StoreDriver = getEnvDefault("CS_STORE_DRIVER", StoreDriverPostgres)
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if err := loadPostgres(cfg); err != nil {
			return nil, err
		}
	case StoreDriverBadger:
		cfg.BadgerDir, err = getEnvRequired("CS_BADGER_DIR")
		if err != nil {
			return nil, err
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("CS_STORE_DRIVER: недопустимое значение %q, допустимые: postgres, badger, memory", cfg.StoreDriver)
	}

	// --- Backend-ы ---

	cfg.Backends, err = parseBackends(getEnvDefault("CS_BACKENDS", "memory=memory"))
	if err != nil {
		return nil, fmt.Errorf("CS_BACKENDS: %w", err)
	}

	cfg.BackendTimeout, err = getEnvDuration("CS_BACKEND_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_BACKEND_TIMEOUT: %w", err)
	}

	if cfg.HasBackendKind(BackendKindS3) {
		if err := loadS3(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.HasBackendKind(BackendKindHTTP) {
		cfg.HTTPBackendURL, err = getEnvRequired("CS_HTTP_BACKEND_URL")
		if err != nil {
			return nil, err
		}
		cfg.HTTPBackendURL = strings.TrimRight(cfg.HTTPBackendURL, "/")
		cfg.HTTPBackendCACertPath = getEnvDefault("CS_HTTP_BACKEND_CA_CERT_PATH", "")
		cfg.HTTPBackendToken = getEnvDefault("CS_HTTP_BACKEND_TOKEN", "")
	}

	cfg.MemoryRestoreDelay, err = getEnvDuration("CS_MEMORY_RESTORE_DELAY", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_MEMORY_RESTORE_DELAY: %w", err)
	}

	// --- Сверка ---

	cfg.ReconcileInterval, err = getEnvDuration("CS_RECONCILE_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("CS_RECONCILE_INTERVAL: значение должно быть положительным")
	}

	cfg.ReconcileConcurrency, err = getEnvInt("CS_RECONCILE_CONCURRENCY", 1)
	if err != nil {
		return nil, fmt.Errorf("CS_RECONCILE_CONCURRENCY: %w", err)
	}
	if cfg.ReconcileConcurrency < 1 || cfg.ReconcileConcurrency > 64 {
		return nil, fmt.Errorf("CS_RECONCILE_CONCURRENCY: значение %d вне допустимого диапазона 1-64", cfg.ReconcileConcurrency)
	}

	// CS_COLD_SWEEP_INTERVAL — 0 отключает защитную проверку
	cfg.ColdSweepInterval, err = getEnvDuration("CS_COLD_SWEEP_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CS_COLD_SWEEP_INTERVAL: %w", err)
	}

	// --- Уведомления ---

	cfg.NATSURL = getEnvDefault("CS_NATS_URL", "")
	cfg.NATSSubject = getEnvDefault("CS_NATS_SUBJECT", "coldstorage.events")

	// --- Ссылки на содержимое ---

	cfg.AccessMode = getEnvDefault("CS_ACCESS_MODE", AccessModeTemplate)
	switch cfg.AccessMode {
	case AccessModeTemplate:
		cfg.AccessBaseURL = strings.TrimRight(
			getEnvDefault("CS_ACCESS_BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")
		if _, err := url.ParseRequestURI(cfg.AccessBaseURL); err != nil {
			return nil, fmt.Errorf("CS_ACCESS_BASE_URL: некорректный URL %q", cfg.AccessBaseURL)
		}
	case AccessModePresign:
		if !cfg.HasBackendKind(BackendKindS3) {
			return nil, fmt.Errorf("CS_ACCESS_MODE: режим presign требует backend вида s3 в CS_BACKENDS")
		}
	default:
		return nil, fmt.Errorf("CS_ACCESS_MODE: недопустимое значение %q, допустимые: template, presign", cfg.AccessMode)
	}

	cfg.AccessURLTTL, err = getEnvDuration("CS_ACCESS_URL_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CS_ACCESS_URL_TTL: %w", err)
	}

	cfg.AccessCacheSize, err = getEnvInt("CS_ACCESS_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("CS_ACCESS_CACHE_SIZE: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("CS_JWT_JWKS_URL", "")

	cfg.JWTLeeway, err = getEnvDuration("CS_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_JWT_LEEWAY: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("CS_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CS_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWKSClientTimeout, err = getEnvDuration("CS_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	cfg.CACertPath = getEnvDefault("CS_CA_CERT_PATH", "")

	cfg.TLSSkipVerify, err = getEnvBool("CS_TLS_SKIP_VERIFY", false)
	if err != nil {
		return nil, fmt.Errorf("CS_TLS_SKIP_VERIFY: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CS_DEPHEALTH_GROUP", "artstore")

	cfg.DephealthCheckInterval, err = getEnvDuration("CS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// loadPostgres загружает параметры подключения к PostgreSQL.
func loadPostgres(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("CS_DB_HOST")
	if err != nil {
		return err
	}

	cfg.DBPort, err = getEnvInt("CS_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("CS_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("CS_DB_NAME")
	if err != nil {
		return err
	}

	cfg.DBUser, err = getEnvRequired("CS_DB_USER")
	if err != nil {
		return err
	}

	cfg.DBPassword, err = getEnvRequired("CS_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("CS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("CS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

// loadS3 загружает параметры S3 backend-а.
func loadS3(cfg *Config) error {
	var err error

	cfg.S3Region, err = getEnvRequired("CS_S3_REGION")
	if err != nil {
		return err
	}

	cfg.S3Bucket, err = getEnvRequired("CS_S3_BUCKET")
	if err != nil {
		return err
	}

	cfg.S3Endpoint = getEnvDefault("CS_S3_ENDPOINT", "")
	cfg.S3AccessKeyID = getEnvDefault("CS_S3_ACCESS_KEY_ID", "")
	cfg.S3SecretAccessKey = getEnvDefault("CS_S3_SECRET_ACCESS_KEY", "")

	cfg.S3MaxRetries, err = getEnvInt("CS_S3_MAX_RETRIES", 10)
	if err != nil {
		return fmt.Errorf("CS_S3_MAX_RETRIES: %w", err)
	}

	cfg.S3RestoreTier = getEnvDefault("CS_S3_RESTORE_TIER", "Standard")
	switch cfg.S3RestoreTier {
	case "Standard", "Bulk", "Expedited":
	default:
		return fmt.Errorf("CS_S3_RESTORE_TIER: недопустимое значение %q, допустимые: Standard, Bulk, Expedited", cfg.S3RestoreTier)
	}
	return nil
}

// HasBackendKind проверяет, зарегистрирован ли backend указанного вида.
func (c *Config) HasBackendKind(kind string) bool {
	for _, b := range c.Backends {
		if b.Kind == kind {
			return true
		}
	}
	return false
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
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

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
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
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseBackends разбирает список вида "id=kind,id2=kind2".
// Идентификаторы должны быть уникальны.
func parseBackends(s string) ([]BackendSpec, error) {
	var result []BackendSpec
	seen := make(map[string]bool)

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, kind, ok := strings.Cut(part, "=")
		id = strings.TrimSpace(id)
		kind = strings.TrimSpace(kind)
		if !ok || id == "" || kind == "" {
			return nil, fmt.Errorf("некорректный элемент %q, ожидается id=kind", part)
		}
		switch kind {
		case BackendKindS3, BackendKindHTTP, BackendKindMemory:
		default:
			return nil, fmt.Errorf("backend %q: недопустимый вид %q, допустимые: s3, http, memory", id, kind)
		}
		if seen[id] {
			return nil, fmt.Errorf("backend %q указан дважды", id)
		}
		seen[id] = true
		result = append(result, BackendSpec{ID: id, Kind: kind})
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("не задано ни одного backend-а")
	}
	return result, nil
}
