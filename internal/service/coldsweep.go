// coldsweep.go — защитная проверка холодных записей.
//
// Между успешным Restore и сохранением beingRetrieved = true процесс может
// завершиться. Тогда backend восстанавливает содержимое, а запись остаётся
// в состоянии cold и не попадает в сверку. Проверка опрашивает холодные
// записи без признака восстановления и снова помечает восстанавливаемыми
// те, для которых backend сообщает о выполняющемся восстановлении или об уже
// завершённом, результат которого запись не отражает. Следующая сверка
// фиксирует доступность и отправляет уведомление.
//
// Интервал задаётся CS_COLD_SWEEP_INTERVAL (0 — проверка отключена).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
	"github.com/bigkaa/goartstore/cold-storage/internal/repository"
)

// sweepPageSize — размер страницы выборки холодных записей.
const sweepPageSize = 100

var (
	coldSweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_cold_sweep_runs_total",
		Help: "Общее количество проходов защитной проверки",
	})
	coldSweepRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_cold_sweep_recovered_total",
		Help: "Записи, снова помеченные как восстанавливаемые",
	})
)

// ColdSweepService — сервис защитной проверки холодных записей.
type ColdSweepService struct {
	repo           repository.RecordRepository
	backends       BackendResolver
	interval       time.Duration
	backendTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu        sync.Mutex
	inProcess bool
	cancel    context.CancelFunc
}

// NewColdSweepService создаёт сервис защитной проверки.
func NewColdSweepService(
	repo repository.RecordRepository,
	backends BackendResolver,
	interval time.Duration,
	backendTimeout time.Duration,
	logger *slog.Logger,
) *ColdSweepService {
	return &ColdSweepService{
		repo:           repo,
		backends:       backends,
		interval:       interval,
		backendTimeout: backendTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger.With(slog.String("component", "cold_sweep")),
	}
}

// Start запускает периодическую проверку. При нулевом интервале ничего не делает.
func (cs *ColdSweepService) Start(ctx context.Context) {
	if cs.interval <= 0 {
		cs.logger.Info("Защитная проверка холодных записей отключена")
		return
	}

	csCtx, cancel := context.WithCancel(ctx)
	cs.cancel = cancel

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()
		for {
			select {
			case <-csCtx.Done():
				return
			case <-ticker.C:
				cs.RunOnce(csCtx)
			}
		}
	}()

	cs.logger.Info("Защитная проверка холодных записей запущена",
		slog.String("interval", cs.interval.String()),
	)
}

// Stop останавливает периодическую проверку.
func (cs *ColdSweepService) Stop() {
	if cs.cancel != nil {
		cs.cancel()
		cs.logger.Info("Защитная проверка холодных записей остановлена")
	}
}

// RunOnce выполняет один проход. Если проход уже выполняется, возвращает nil, true.
func (cs *ColdSweepService) RunOnce(ctx context.Context) (*model.SweepResult, bool) {
	cs.mu.Lock()
	if cs.inProcess {
		cs.mu.Unlock()
		cs.logger.Warn("Защитная проверка уже выполняется, пропуск")
		return nil, true
	}
	cs.inProcess = true
	cs.mu.Unlock()

	defer func() {
		cs.mu.Lock()
		cs.inProcess = false
		cs.mu.Unlock()
	}()

	result := &model.SweepResult{}
	after := ""
	for {
		page, err := cs.repo.ListCold(ctx, after, sweepPageSize)
		if err != nil {
			cs.logger.Error("Ошибка выборки холодных записей",
				slog.String("after_id", after),
				slog.String("error", err.Error()),
			)
			break
		}

		for _, rec := range page {
			result.Checked++
			ok, err := cs.sweepRecord(ctx, rec)
			switch {
			case err != nil:
				result.Failed++
				cs.logger.Warn("Ошибка проверки холодной записи",
					slog.String("record_id", rec.ID),
					slog.String("error", err.Error()),
				)
			case ok:
				result.Recovered++
			}
		}

		if len(page) < sweepPageSize {
			break
		}
		// Курсор по ID: записи, выпавшие из выборки, не сдвигают следующую страницу
		after = page[len(page)-1].ID
	}

	coldSweepRunsTotal.Inc()
	coldSweepRecoveredTotal.Add(float64(result.Recovered))

	cs.logger.Info("Защитная проверка завершена",
		slog.Int("checked", result.Checked),
		slog.Int("recovered", result.Recovered),
		slog.Int("failed", result.Failed),
	)
	return result, false
}

// sweepRecord возвращает true, если запись снова помечена как восстанавливаемая.
func (cs *ColdSweepService) sweepRecord(ctx context.Context, rec *model.Record) (bool, error) {
	if !lifecycle.HasColdContent(rec) || rec.BeingRetrieved {
		return false, nil
	}

	b, err := cs.backends.Resolve(rec.ColdContent.BackendID)
	if err != nil {
		return false, err
	}

	callCtx, cancel := withTimeout(ctx, cs.backendTimeout)
	defer cancel()

	status, err := b.Status(callCtx, *rec.ColdContent)
	if err != nil {
		return false, err
	}
	if !status.RestoreInProgress && !restoreNotApplied(rec, status) {
		return false, nil
	}

	lifecycle.ApplyRetrievalRequested(rec, cs.now())
	if err := cs.repo.Save(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Запись изменена параллельно, следующий проход проверит её снова
			return false, nil
		}
		return false, err
	}

	cs.logger.Info("Запись снова помечена как восстанавливаемая",
		slog.String("record_id", rec.ID),
		slog.String("backend_id", rec.ColdContent.BackendID),
	)
	return true, nil
}

// restoreNotApplied — backend уже завершил восстановление, а запись об этом не знает:
// срок доступности от backend-а не совпадает с сохранённым. Сравнение с точностью
// до секунды (x-amz-restore и PostgreSQL хранят время с разной точностью).
// Объект без срока (не архивный класс хранения) восстановлением не считается.
func restoreNotApplied(rec *model.Record, status *model.BackendStatus) bool {
	if !status.Downloadable || status.DownloadableUntil == nil {
		return false
	}
	if rec.AvailableUntil == nil {
		return true
	}
	return !rec.AvailableUntil.Truncate(time.Second).Equal(status.DownloadableUntil.Truncate(time.Second))
}
