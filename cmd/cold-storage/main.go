// Точка входа Cold Storage Service.
// Загружает конфигурацию, открывает хранилище записей, регистрирует backend-ы,
// запускает сверку восстанавливаемых записей и защитную проверку холодных,
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/cold-storage/internal/api/handlers"
	"github.com/bigkaa/goartstore/cold-storage/internal/api/middleware"
	"github.com/bigkaa/goartstore/cold-storage/internal/config"
	"github.com/bigkaa/goartstore/cold-storage/internal/server"
	"github.com/bigkaa/goartstore/cold-storage/internal/service"
)

const serviceID = "cold-storage"

func main() {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("Cold Storage запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store_driver", cfg.StoreDriver),
		slog.Int("backends", len(cfg.Backends)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Хранилище записей
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища записей", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.close()

	// 4. Backend-ы холодного хранения
	backends, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации backend-ов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Backend-ы зарегистрированы", slog.Any("ids", backends.registry.IDs()))

	// 5. Уведомления и ссылки на содержимое
	notifier, closeNotifier, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к NATS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeNotifier()

	locator := buildLocator(cfg, backends, logger)

	// 6. Сервисы
	coldSvc := service.NewColdStorageService(st.repo, backends.registry, cfg.BackendTimeout, logger)

	reconcileSvc := service.NewReconcileService(
		st.repo, backends.registry, notifier, locator,
		cfg.ReconcileInterval, cfg.ReconcileConcurrency, cfg.BackendTimeout, logger,
	)
	reconcileSvc.Start(ctx)

	sweepSvc := service.NewColdSweepService(st.repo, backends.registry, cfg.ColdSweepInterval, cfg.BackendTimeout, logger)
	sweepSvc.Start(ctx)

	// 7. topologymetrics
	deps := service.DephealthDeps{
		JWKSURL:       cfg.JWTJWKSURL,
		TLSSkipVerify: cfg.TLSSkipVerify,
	}
	if cfg.HasBackendKind(config.BackendKindHTTP) {
		deps.HTTPBackendURL = cfg.HTTPBackendURL
	}
	if st.pool != nil {
		deps.DB = stdlib.OpenDBFromPool(st.pool)
		deps.PostgresURL = cfg.DatabaseURL()
		defer deps.DB.Close()
	}

	var depHealth handlers.DependencyHealth
	dephealthSvc, err := service.NewDephealthService(serviceID, cfg.DephealthGroup, deps, cfg.DephealthCheckInterval, logger)
	if err != nil {
		logger.Warn("topologymetrics не запущен", slog.String("error", err.Error()))
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		depHealth = dephealthSvc
		defer dephealthSvc.Stop()
	}

	// 8. JWT
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWTJWKSURL,
			CACertPath:      cfg.CACertPath,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			ClientTimeout:   cfg.JWKSClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWT", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWTJWKSURL))
	} else {
		logger.Warn("CS_JWT_JWKS_URL не задан, API работает без аутентификации")
	}

	// 9. HTTP-сервер
	var apiOpts []handlers.APIOption
	if downloads := buildDownloads(cfg, backends, logger); downloads != nil {
		apiOpts = append(apiOpts, handlers.WithDownloads(downloads))
	}
	srv := server.New(cfg, logger,
		handlers.NewAPIHandler(coldSvc, logger, apiOpts...),
		handlers.NewMaintenanceHandler(reconcileSvc, sweepSvc),
		handlers.NewHealthHandler(st.readiness, depHealth),
		jwtAuth,
	)

	runErr := srv.Run()

	logger.Info("Остановка фоновых процессов...")
	reconcileSvc.Stop()
	sweepSvc.Stop()
	cancel()

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Cold Storage остановлен")
}
