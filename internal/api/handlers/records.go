// records.go — обработчики /api/v1/records.
// Создание и чтение записей, перемещение в холодное хранилище, запрос восстановления.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/bigkaa/goartstore/cold-storage/internal/api/errors"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
	"github.com/bigkaa/goartstore/cold-storage/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type contentRefDTO struct {
	BackendID string `json:"backend_id" validate:"required"`
	Key       string `json:"key" validate:"required"`
}

type createRecordRequest struct {
	Title   string        `json:"title" validate:"required,max=1024"`
	Content contentRefDTO `json:"content" validate:"required"`
}

type retrievalRequest struct {
	AvailabilityDays int `json:"availability_days" validate:"required,min=1,max=365"`
}

type recordResponse struct {
	ID                   string         `json:"id"`
	Title                string         `json:"title"`
	PrimaryContent       *contentRefDTO `json:"primary_content,omitempty"`
	ColdContent          *contentRefDTO `json:"cold_content,omitempty"`
	HasColdStorageMarker bool           `json:"has_cold_storage_marker"`
	BeingRetrieved       bool           `json:"being_retrieved"`
	RetrievalRequestedAt *time.Time     `json:"retrieval_requested_at,omitempty"`
	AvailableUntil       *time.Time     `json:"available_until,omitempty"`
	Version              int64          `json:"version"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type recordListResponse struct {
	Items  []recordResponse `json:"items"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func toContentDTO(ref *model.ContentRef) *contentRefDTO {
	if ref == nil {
		return nil
	}
	return &contentRefDTO{BackendID: ref.BackendID, Key: ref.Key}
}

func toRecordResponse(r *model.Record) recordResponse {
	return recordResponse{
		ID:                   r.ID,
		Title:                r.Title,
		PrimaryContent:       toContentDTO(r.PrimaryContent),
		ColdContent:          toContentDTO(r.ColdContent),
		HasColdStorageMarker: r.HasColdStorageMarker,
		BeingRetrieved:       r.BeingRetrieved,
		RetrievalRequestedAt: r.RetrievalRequestedAt,
		AvailableUntil:       r.AvailableUntil,
		Version:              r.Version,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

// decodeAndValidate читает JSON-тело и проверяет его тегами validate.
// При ошибке записывает 400 и возвращает false.
func (h *APIHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		apierrors.ValidationError(w, validationMessage(err))
		return false
	}
	return true
}

// validationMessage формирует сообщение по первому нарушенному правилу.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("Поле %s нарушает правило %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("Поле %s нарушает правило %s", fe.Namespace(), fe.Tag())
	}
	return err.Error()
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrValidation) {
		apierrors.ValidationError(w, err.Error())
		return
	}
	apierrors.LifecycleError(w, h.logger, err)
}

// CreateRecord — POST /api/v1/records.
func (h *APIHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	rec, err := h.records.CreateRecord(r.Context(), req.Title, model.ContentRef{
		BackendID: req.Content.BackendID,
		Key:       req.Content.Key,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordResponse(rec))
}

// GetRecord — GET /api/v1/records/{id}.
func (h *APIHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// ListRecords — GET /api/v1/records?limit&offset.
func (h *APIHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", defaultListLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	if limit < 1 || limit > maxListLimit {
		apierrors.ValidationError(w, fmt.Sprintf("limit должен быть от 1 до %d", maxListLimit))
		return
	}
	if offset < 0 {
		apierrors.ValidationError(w, "offset не может быть отрицательным")
		return
	}

	records, err := h.records.ListRecords(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := recordListResponse{Items: make([]recordResponse, 0, len(records)), Limit: limit, Offset: offset}
	for _, rec := range records {
		resp.Items = append(resp.Items, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// MoveToCold — POST /api/v1/records/{id}/cold-storage.
func (h *APIHandler) MoveToCold(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.MoveToCold(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// RequestRetrieval — POST /api/v1/records/{id}/retrieval.
// Окно доступности задаётся в днях.
func (h *APIHandler) RequestRetrieval(w http.ResponseWriter, r *http.Request) {
	var req retrievalRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	window := time.Duration(req.AvailabilityDays) * 24 * time.Hour
	rec, err := h.records.RequestRetrieval(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toRecordResponse(rec))
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Параметр %s должен быть целым числом", name))
		return 0, false
	}
	return v, true
}
