// maintenance.go — обработчики /api/v1/maintenance/*.
// Ручной запуск прохода сверки и защитной проверки холодных записей.
package handlers

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/cold-storage/internal/api/errors"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// ReconcileRunner — запуск одного прохода сверки.
type ReconcileRunner interface {
	// RunOnce возвращает результат и true, если проход уже выполняется.
	RunOnce(ctx context.Context) (*model.ReconciliationResult, bool)
}

// SweepRunner — запуск одной защитной проверки холодных записей.
type SweepRunner interface {
	RunOnce(ctx context.Context) (*model.SweepResult, bool)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
	sweeper    SweepRunner
}

// NewMaintenanceHandler создаёт обработчик. sweeper может быть nil.
func NewMaintenanceHandler(reconciler ReconcileRunner, sweeper SweepRunner) *MaintenanceHandler {
	return &MaintenanceHandler{reconciler: reconciler, sweeper: sweeper}
}

type reconcileResponse struct {
	TotalBeingRetrieved int       `json:"total_being_retrieved"`
	TotalAvailable      int       `json:"total_available"`
	Failed              int       `json:"failed"`
	StartedAt           time.Time `json:"started_at"`
	CompletedAt         time.Time `json:"completed_at"`
}

type sweepResponse struct {
	Checked   int `json:"checked"`
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
}

// Reconcile — POST /api/v1/maintenance/reconcile.
// Если проход уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, inProgress := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
		return
	}

	writeJSON(w, http.StatusOK, reconcileResponse{
		TotalBeingRetrieved: result.TotalBeingRetrieved,
		TotalAvailable:      result.TotalAvailable,
		Failed:              result.Failed,
		StartedAt:           result.StartedAt,
		CompletedAt:         result.CompletedAt,
	})
}

// ColdSweep — POST /api/v1/maintenance/cold-sweep.
func (h *MaintenanceHandler) ColdSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		apierrors.NotFound(w, "Проверка холодных записей не настроена")
		return
	}

	result, inProgress := h.sweeper.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Проверка холодных записей уже выполняется")
		return
	}

	writeJSON(w, http.StatusOK, sweepResponse{
		Checked:   result.Checked,
		Recovered: result.Recovered,
		Failed:    result.Failed,
	})
}
