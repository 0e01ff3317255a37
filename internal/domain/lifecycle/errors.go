package lifecycle

import (
	"errors"
	"fmt"
)

// Kind — машиночитаемый вид ошибки жизненного цикла.
type Kind string

const (
	// KindAlreadyInColdStorage — содержимое уже в холодном хранилище (conflict)
	KindAlreadyInColdStorage Kind = "ALREADY_IN_COLD_STORAGE"
	// KindNoPrimaryContent — у записи нет основного содержимого (not found)
	KindNoPrimaryContent Kind = "NO_PRIMARY_CONTENT"
	// KindNoColdContent — у записи нет холодного содержимого (not found)
	KindNoColdContent Kind = "NO_COLD_CONTENT"
	// KindRetrievalAlreadyInProgress — восстановление уже запрошено (forbidden)
	KindRetrievalAlreadyInProgress Kind = "RETRIEVAL_IN_PROGRESS"
	// KindBackendUnavailable — backend не выполнил запрос
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	// KindRecordNotFound — запись не найдена
	KindRecordNotFound Kind = "RECORD_NOT_FOUND"
	// KindConcurrentModification — запись изменена параллельно
	KindConcurrentModification Kind = "CONCURRENT_MODIFICATION"
)

// Error — ошибка операции жизненного цикла.
// Сравнивается через errors.Is по Kind с sentinel-значениями ниже.
type Error struct {
	Kind    Kind   // Вид ошибки
	Message string // Человекочитаемое описание
	Err     error  // Исходная причина (для BackendUnavailable)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel-значения для errors.Is.
var (
	ErrAlreadyInColdStorage       = &Error{Kind: KindAlreadyInColdStorage}
	ErrNoPrimaryContent           = &Error{Kind: KindNoPrimaryContent}
	ErrNoColdContent              = &Error{Kind: KindNoColdContent}
	ErrRetrievalAlreadyInProgress = &Error{Kind: KindRetrievalAlreadyInProgress}
	ErrBackendUnavailable         = &Error{Kind: KindBackendUnavailable}
	ErrRecordNotFound             = &Error{Kind: KindRecordNotFound}
	ErrConcurrentModification     = &Error{Kind: KindConcurrentModification}
)

// KindOf возвращает вид ошибки или пустую строку, если это не *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// BackendUnavailable оборачивает ошибку backend-а.
func BackendUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindBackendUnavailable, Message: message, Err: cause}
}
