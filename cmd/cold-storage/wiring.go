package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/cold-storage/internal/access"
	"github.com/bigkaa/goartstore/cold-storage/internal/backend"
	"github.com/bigkaa/goartstore/cold-storage/internal/config"
	"github.com/bigkaa/goartstore/cold-storage/internal/database"
	"github.com/bigkaa/goartstore/cold-storage/internal/notify"
	"github.com/bigkaa/goartstore/cold-storage/internal/repository"
)

// readinessChecker совпадает с handlers.ReadinessChecker.
type readinessChecker interface {
	CheckReady() (status string, message string)
}

type alwaysReady struct{}

func (alwaysReady) CheckReady() (string, string) { return "ok", "in-memory" }

// store — открытое хранилище записей и функция его закрытия.
type store struct {
	repo      repository.RecordRepository
	readiness readinessChecker
	pool      *pgxpool.Pool
	close     func()
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, err
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &store{
			repo:      repository.NewRecordRepository(pool),
			readiness: database.NewReadinessChecker(pool),
			pool:      pool,
			close:     pool.Close,
		}, nil

	case config.StoreDriverBadger:
		db, err := repository.OpenBadger(cfg.BadgerDir, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Badger открыт", slog.String("dir", cfg.BadgerDir))
		return &store{
			repo:      repository.NewBadgerRecordRepository(db),
			readiness: repository.NewBadgerReadinessChecker(db),
			close: func() {
				if err := db.Close(); err != nil {
					logger.Error("Ошибка закрытия badger", slog.String("error", err.Error()))
				}
			},
		}, nil

	case config.StoreDriverMemory:
		logger.Warn("Записи хранятся в памяти и теряются при перезапуске")
		return &store{
			repo:      repository.NewMemoryRecordRepository(),
			readiness: alwaysReady{},
			close:     func() {},
		}, nil
	}
	return nil, fmt.Errorf("неизвестный драйвер хранилища: %s", cfg.StoreDriver)
}

// backendSet — реестр backend-ов и общий S3-клиент (если есть S3 backend-ы).
type backendSet struct {
	registry *backend.Registry
	s3Client *s3.Client
	s3IDs    []string
}

func buildBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backendSet, error) {
	set := &backendSet{registry: backend.NewRegistry()}

	if cfg.HasBackendKind(config.BackendKindS3) {
		client, err := backend.NewS3Client(ctx, backend.S3ClientConfig{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			MaxRetries:      cfg.S3MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		set.s3Client = client
	}

	for _, spec := range cfg.Backends {
		var b backend.Backend
		switch spec.Kind {
		case config.BackendKindS3:
			b = backend.NewS3Backend(set.s3Client, cfg.S3Bucket, cfg.S3RestoreTier, logger)
			set.s3IDs = append(set.s3IDs, spec.ID)
		case config.BackendKindHTTP:
			var token backend.TokenProvider
			if cfg.HTTPBackendToken != "" {
				token = backend.StaticToken(cfg.HTTPBackendToken)
			}
			httpBackend, err := backend.NewHTTPBackend(cfg.HTTPBackendURL, cfg.HTTPBackendCACertPath, cfg.BackendTimeout, token, logger)
			if err != nil {
				return nil, err
			}
			b = httpBackend
		case config.BackendKindMemory:
			b = backend.NewMemoryBackend(cfg.MemoryRestoreDelay)
		default:
			return nil, fmt.Errorf("backend %s: неизвестный вид %s", spec.ID, spec.Kind)
		}
		if err := set.registry.Register(spec.ID, b); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// buildNotifier возвращает уведомитель и функцию закрытия соединения.
// Без CS_NATS_URL события только пишутся в лог.
func buildNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, func(), error) {
	logNotifier := notify.NewLogNotifier(logger)
	if cfg.NATSURL == "" {
		return logNotifier, func() {}, nil
	}

	conn, err := notify.ConnectNATS(cfg.NATSURL, serviceID, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := conn.Drain(); err != nil {
			logger.Warn("Ошибка drain NATS", slog.String("error", err.Error()))
		}
	}
	return notify.Multi{logNotifier, notify.NewNATSNotifier(conn, cfg.NATSSubject, logger)}, closeFn, nil
}

func buildLocator(cfg *config.Config, backends *backendSet, logger *slog.Logger) access.Locator {
	template := access.NewTemplateLocator(cfg.AccessBaseURL)
	if !presignEnabled(cfg, backends) {
		return template
	}
	return newPresignLocator(cfg, backends, template, logger)
}

// buildDownloads — locator прямых ссылок для GET .../content/{field}.
// Без fallback на шаблон: шаблон указывает на этот же маршрут.
// nil — прямые ссылки не выдаются.
func buildDownloads(cfg *config.Config, backends *backendSet, logger *slog.Logger) access.Locator {
	if !presignEnabled(cfg, backends) {
		return nil
	}
	return newPresignLocator(cfg, backends, nil, logger)
}

func presignEnabled(cfg *config.Config, backends *backendSet) bool {
	return cfg.AccessMode == config.AccessModePresign && backends.s3Client != nil
}

func newPresignLocator(cfg *config.Config, backends *backendSet, fallback access.Locator, logger *slog.Logger) *access.PresignLocator {
	return access.NewPresignLocator(
		s3.NewPresignClient(backends.s3Client),
		cfg.S3Bucket,
		backends.s3IDs,
		cfg.AccessURLTTL,
		cfg.AccessCacheSize,
		fallback,
		logger,
	)
}

