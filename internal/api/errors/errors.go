// Пакет errors — конструкторы стандартных ошибок в формате Artstore.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/lifecycle"
)

// Общие коды ошибок. Ошибки жизненного цикла используют lifecycle.Kind как код.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeConflict            = "CONFLICT"
	CodeReconcileInProgress = "RECONCILE_IN_PROGRESS"
	CodeInternalError       = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате Artstore.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// ReconcileInProgress — 409 проход уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// StatusForKind возвращает HTTP-статус для вида ошибки жизненного цикла.
func StatusForKind(kind lifecycle.Kind) int {
	switch kind {
	case lifecycle.KindAlreadyInColdStorage, lifecycle.KindConcurrentModification:
		return http.StatusConflict
	case lifecycle.KindNoPrimaryContent, lifecycle.KindNoColdContent, lifecycle.KindRecordNotFound:
		return http.StatusNotFound
	case lifecycle.KindRetrievalAlreadyInProgress:
		return http.StatusForbidden
	case lifecycle.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// LifecycleError записывает ошибку операции. Ошибки вне lifecycle.Error — 500.
func LifecycleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var lerr *lifecycle.Error
	if !errors.As(err, &lerr) {
		logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	status := StatusForKind(lerr.Kind)
	if status >= http.StatusInternalServerError {
		logger.Warn("Ошибка backend-а", slog.String("error", err.Error()))
	}
	// Детали причины не раскрываются клиенту
	WriteError(w, status, string(lerr.Kind), lerr.Message)
}
