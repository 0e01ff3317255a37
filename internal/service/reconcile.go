// reconcile.go — сверка доступности восстанавливаемого содержимого.
//
// Каждый проход выбирает записи с beingRetrieved = true и опрашивает
// backend каждой записи. Если содержимое стало доступным, признак
// восстановления снимается и публикуется событие
// coldStorageContentAvailable.
//
// Записи обрабатываются независимо: ошибка опроса, сохранения или
// уведомления одной записи не влияет на остальные.
//
// Запускается как горутина с периодическим тикером (CS_RECONCILE_INTERVAL)
// и вручную через POST /api/v1/maintenance/reconcile.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/cold-storage/internal/access"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
	"github.com/bigkaa/goartstore/cold-storage/internal/notify"
	"github.com/bigkaa/goartstore/cold-storage/internal/repository"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_reconcile_runs_total",
		Help: "Общее количество проходов сверки",
	})

	// reconcileRecordsTotal — результаты обработки записей: available, pending, resolved, failed.
	reconcileRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cs_reconcile_records_total",
		Help: "Записи, обработанные сверкой, по результату",
	}, []string{"result"})

	reconcileBeingRetrieved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cs_reconcile_being_retrieved",
		Help: "Записи, оставшиеся в восстановлении после последнего прохода",
	})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cs_reconcile_duration_seconds",
		Help:    "Длительность прохода сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})

	notifyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_notify_failures_total",
		Help: "Общее количество неудачных публикаций событий",
	})
)

// recordOutcome — результат обработки одной записи.
type recordOutcome int

const (
	outcomePending recordOutcome = iota
	outcomeAvailable
	// outcomeResolved — восстановление уже завершено другим процессом
	outcomeResolved
	outcomeFailed
)

func (o recordOutcome) String() string {
	switch o {
	case outcomeAvailable:
		return "available"
	case outcomeResolved:
		return "resolved"
	case outcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// ReconcileService — сервис сверки доступности.
type ReconcileService struct {
	repo           repository.RecordRepository
	backends       BackendResolver
	notifier       notify.Notifier
	locator        access.Locator
	interval       time.Duration
	concurrency    int
	backendTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // сверка в процессе выполнения
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
// concurrency — количество записей, опрашиваемых параллельно (не меньше 1).
func NewReconcileService(
	repo repository.RecordRepository,
	backends BackendResolver,
	notifier notify.Notifier,
	locator access.Locator,
	interval time.Duration,
	concurrency int,
	backendTimeout time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ReconcileService{
		repo:           repo,
		backends:       backends,
		notifier:       notifier,
		locator:        locator,
		interval:       interval,
		concurrency:    concurrency,
		backendTimeout: backendTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
		slog.Int("concurrency", rs.concurrency),
	)
}

// Stop останавливает фоновую сверку.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход сверки.
// Если проход уже выполняется, возвращает nil, true.
//
// TotalBeingRetrieved — записи, оставшиеся в восстановлении,
// TotalAvailable — записи, ставшие доступными в этом проходе.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*model.ReconciliationResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	result := &model.ReconciliationResult{StartedAt: rs.now()}

	records, err := rs.repo.ListBeingRetrieved(ctx)
	if err != nil {
		rs.logger.Error("Ошибка выборки восстанавливаемых записей",
			slog.String("error", err.Error()),
		)
		result.CompletedAt = rs.now()
		return result, false
	}

	rs.logger.Debug("Сверка начата", slog.Int("being_retrieved", len(records)))

	result.TotalBeingRetrieved = len(records)

	var (
		g      errgroup.Group
		countM sync.Mutex
	)
	g.SetLimit(rs.concurrency)

	for _, rec := range records {
		g.Go(func() error {
			outcome := rs.reconcileRecord(ctx, rec)
			reconcileRecordsTotal.WithLabelValues(outcome.String()).Inc()

			countM.Lock()
			defer countM.Unlock()
			switch outcome {
			case outcomeAvailable:
				result.TotalAvailable++
				result.TotalBeingRetrieved--
			case outcomeResolved:
				result.TotalBeingRetrieved--
			case outcomeFailed:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	result.CompletedAt = rs.now()
	duration := result.CompletedAt.Sub(result.StartedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	reconcileBeingRetrieved.Set(float64(result.TotalBeingRetrieved))

	rs.logger.Debug("Сверка завершена",
		slog.Int("being_retrieved", result.TotalBeingRetrieved),
		slog.Int("available", result.TotalAvailable),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", duration),
	)

	return result, false
}

// reconcileRecord опрашивает backend одной записи и применяет результат.
// Паника или ошибка одной записи не выходит за пределы этой функции.
func (rs *ReconcileService) reconcileRecord(ctx context.Context, rec *model.Record) (outcome recordOutcome) {
	log := rs.logger.With(slog.String("record_id", rec.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Паника при сверке записи", slog.Any("panic", r))
			outcome = outcomeFailed
		}
	}()

	if rec.ColdContent == nil {
		log.Error("Восстанавливаемая запись без холодного содержимого")
		return outcomeFailed
	}
	log = log.With(slog.String("backend_id", rec.ColdContent.BackendID))

	status, err := rs.pollStatus(ctx, *rec.ColdContent)
	if err != nil {
		log.Warn("Ошибка опроса backend-а", slog.String("error", err.Error()))
		return outcomeFailed
	}
	if !status.Downloadable {
		return outcomePending
	}

	rec, err = rs.completeRetrieval(ctx, rec, status.DownloadableUntil)
	if err != nil {
		log.Error("Ошибка сохранения записи", slog.String("error", err.Error()))
		return outcomeFailed
	}
	if rec == nil {
		return outcomeResolved
	}

	log.Info("Восстановленное содержимое доступно")

	if err := rs.notify(ctx, rec, status.DownloadableUntil); err != nil {
		notifyFailuresTotal.Inc()
		log.Error("Ошибка публикации события", slog.String("error", err.Error()))
	}
	return outcomeAvailable
}

// pollStatus вызывает Status backend-а с таймаутом.
func (rs *ReconcileService) pollStatus(ctx context.Context, ref model.ContentRef) (*model.BackendStatus, error) {
	b, err := rs.backends.Resolve(ref.BackendID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := withTimeout(ctx, rs.backendTimeout)
	defer cancel()

	return b.Status(callCtx, ref)
}

// completeRetrieval снимает признак восстановления с проверкой версии.
// Возвращает nil, nil, если после перечитывания запись уже не восстанавливается.
func (rs *ReconcileService) completeRetrieval(ctx context.Context, rec *model.Record, until *time.Time) (*model.Record, error) {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		if attempt > 0 {
			var err error
			rec, err = rs.repo.GetByID(ctx, rec.ID)
			if err != nil {
				return nil, err
			}
			if !rec.BeingRetrieved {
				return nil, nil
			}
		}

		lifecycle.ApplyRetrievalCompleted(rec, until)
		err := rs.repo.Save(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("запись %s: %w", rec.ID, repository.ErrConflict)
}

// notify публикует событие coldStorageContentAvailable.
func (rs *ReconcileService) notify(ctx context.Context, rec *model.Record, until *time.Time) error {
	props := make(map[string]string, 2)
	if until != nil {
		props[notify.PropColdStorageAvailableUntil] = until.UTC().Format(time.RFC3339)
	}

	location, err := rs.locator.ResolveAccessURL(ctx, rec, access.FieldColdContent)
	if err != nil {
		rs.logger.Warn("Не удалось сформировать ссылку на содержимое",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	} else {
		props[notify.PropArchiveLocation] = location
	}

	return rs.notifier.Emit(ctx, notify.Event{
		Name:       notify.EventColdStorageContentAvailable,
		RecordID:   rec.ID,
		Properties: props,
		OccurredAt: rs.now(),
	})
}
