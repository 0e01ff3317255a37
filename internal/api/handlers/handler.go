// Пакет handlers — HTTP-обработчики Cold Storage.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bigkaa/goartstore/cold-storage/internal/access"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// RecordService — операции над записями, которые использует API.
type RecordService interface {
	CreateRecord(ctx context.Context, title string, content model.ContentRef) (*model.Record, error)
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	ListRecords(ctx context.Context, limit, offset int) ([]*model.Record, error)
	MoveToCold(ctx context.Context, id string) (*model.Record, error)
	RequestRetrieval(ctx context.Context, id string, window time.Duration) (*model.Record, error)
}

// APIHandler — обработчики /api/v1/records.
type APIHandler struct {
	records   RecordService
	downloads access.Locator
	validate  *validator.Validate
	logger    *slog.Logger
}

// APIOption настраивает APIHandler.
type APIOption func(*APIHandler)

// WithDownloads задаёт locator прямых ссылок для GET .../content/{field}.
// Locator не должен возвращать ссылки на сам этот маршрут.
func WithDownloads(l access.Locator) APIOption {
	return func(h *APIHandler) { h.downloads = l }
}

// NewAPIHandler создаёт обработчик записей.
func NewAPIHandler(records RecordService, logger *slog.Logger, opts ...APIOption) *APIHandler {
	h := &APIHandler{
		records:  records,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With(slog.String("component", "api")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
