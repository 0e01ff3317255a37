package database

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/cold-storage/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("coldstorage_test"),
		postgres.WithUsername("coldstorage"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("CS_STORE_DRIVER", "postgres")
	t.Setenv("CS_DB_HOST", host)
	t.Setenv("CS_DB_PORT", port.Port())
	t.Setenv("CS_DB_NAME", "coldstorage_test")
	t.Setenv("CS_DB_USER", "coldstorage")
	t.Setenv("CS_DB_PASSWORD", "test-password")
	t.Setenv("CS_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// TestMigrateURL проверяет экранирование пароля в URL миграций.
func TestMigrateURL(t *testing.T) {
	cfg := &config.Config{
		DBUser: "cs", DBPassword: "p@ss/word", DBHost: "db", DBPort: 5432,
		DBName: "coldstorage", DBSSLMode: "disable",
	}
	got := migrateURL(cfg)
	if !strings.HasPrefix(got, "pgx5://cs:p%40ss%2Fword@db:5432/coldstorage") {
		t.Errorf("migrateURL: получено %q", got)
	}
	if !strings.HasSuffix(got, "?sslmode=disable") {
		t.Errorf("migrateURL: ожидался sslmode=disable, получено %q", got)
	}
}

// TestMigrate проверяет применение миграций и создание таблицы records.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'records')",
	).Scan(&exists)
	if err != nil {
		t.Fatalf("Ошибка проверки таблицы records: %v", err)
	}
	if !exists {
		t.Error("таблица records не создана")
	}

	// Инвариант: основное и холодное содержимое одновременно запрещены
	_, err = pool.Exec(ctx, `INSERT INTO records (id, primary_backend_id, primary_key, cold_backend_id, cold_key, has_cold_storage_marker)
		VALUES ('6f1c1f7e-3f53-4a8e-9d7a-7d1b0c7f0001', 'b', 'p', 'b', 'c', TRUE)`)
	if err == nil {
		t.Error("ожидалось нарушение ограничения records_single_location")
	}

	checker := NewReadinessChecker(pool)
	if status, msg := checker.CheckReady(); status != "ok" {
		t.Errorf("CheckReady: ожидалось ok, получено %q (%s)", status, msg)
	}
}
