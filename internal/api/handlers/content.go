// content.go — GET /api/v1/records/{id}/content/{field}.
// Адрес, который TemplateLocator подставляет в archiveLocation.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/cold-storage/internal/access"
	apierrors "github.com/bigkaa/goartstore/cold-storage/internal/api/errors"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/lifecycle"
)

// contentResponse — описание содержимого поля, когда прямой ссылки нет.
type contentResponse struct {
	RecordID       string     `json:"record_id"`
	Field          string     `json:"field"`
	BackendID      string     `json:"backend_id"`
	Key            string     `json:"key"`
	BeingRetrieved bool       `json:"being_retrieved"`
	AvailableUntil *time.Time `json:"available_until,omitempty"`
}

// GetContent отдаёт 302 на прямую ссылку (presigned S3), если её можно выдать,
// иначе 200 с описанием содержимого.
func (h *APIHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	field := chi.URLParam(r, "field")
	ref, err := access.ContentOf(rec, field)
	if err != nil {
		if errors.Is(err, access.ErrUnknownField) {
			apierrors.ValidationError(w, "Поле должно быть primaryContent или coldContent")
			return
		}
		h.writeServiceError(w, err)
		return
	}

	if h.downloads != nil {
		u, err := h.downloads.ResolveAccessURL(r.Context(), rec, field)
		switch {
		case err == nil:
			http.Redirect(w, r, u, http.StatusFound)
			return
		case !errors.Is(err, access.ErrNoDirectLink):
			h.logger.Warn("Ошибка формирования ссылки на содержимое",
				slog.String("record_id", rec.ID),
				slog.String("error", err.Error()),
			)
			h.writeServiceError(w, lifecycle.BackendUnavailable("Не удалось сформировать ссылку на содержимое", err))
			return
		}
	}

	writeJSON(w, http.StatusOK, contentResponse{
		RecordID:       rec.ID,
		Field:          field,
		BackendID:      ref.BackendID,
		Key:            ref.Key,
		BeingRetrieved: rec.BeingRetrieved,
		AvailableUntil: rec.AvailableUntil,
	})
}
