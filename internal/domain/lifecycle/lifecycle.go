// Пакет lifecycle — правила переходов жизненного цикла холодного хранения.
//
// Состояния записи выводятся из её полей:
//   - empty — нет ни основного, ни холодного содержимого
//   - primary — содержимое в основном хранилище
//   - cold — содержимое в холодном хранилище
//   - retrieving — холодное содержимое восстанавливается
//
// Переходы: primary → cold (MoveToCold), cold → retrieving (RequestRetrieval),
// retrieving → cold (CompleteRetrieval, выполняется сверкой).
// Обратного перехода cold → primary нет.
//
// Функции Check* не изменяют запись, Apply* изменяют её на месте
// и должны вызываться только после успешной проверки.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// State — состояние записи в жизненном цикле.
type State string

const (
	StateEmpty      State = "empty"
	StatePrimary    State = "primary"
	StateCold       State = "cold"
	StateRetrieving State = "retrieving"
)

// StateOf вычисляет состояние записи по её полям.
func StateOf(r *model.Record) State {
	switch {
	case HasColdContent(r) && r.BeingRetrieved:
		return StateRetrieving
	case HasColdContent(r):
		return StateCold
	case r.PrimaryContent != nil:
		return StatePrimary
	default:
		return StateEmpty
	}
}

// HasColdContent — у записи включён маркер и есть холодное содержимое.
func HasColdContent(r *model.Record) bool {
	return r.HasColdStorageMarker && r.ColdContent != nil
}

// CheckMoveToCold проверяет предусловия перемещения в холодное хранилище.
// Порядок проверок важен: сначала конфликт, затем отсутствие содержимого.
func CheckMoveToCold(r *model.Record) error {
	if HasColdContent(r) {
		return &Error{
			Kind:    KindAlreadyInColdStorage,
			Message: fmt.Sprintf("основное содержимое записи %s уже в холодном хранилище", r.ID),
		}
	}
	if r.PrimaryContent == nil {
		return &Error{
			Kind:    KindNoPrimaryContent,
			Message: fmt.Sprintf("у записи %s нет основного содержимого", r.ID),
		}
	}
	return nil
}

// ApplyMoveToCold переносит ссылку на содержимое в холодное хранилище.
func ApplyMoveToCold(r *model.Record) {
	r.HasColdStorageMarker = true
	r.ColdContent = r.PrimaryContent
	r.PrimaryContent = nil
}

// CheckRetrieval проверяет предусловия запроса на восстановление.
func CheckRetrieval(r *model.Record) error {
	if !HasColdContent(r) {
		return &Error{
			Kind:    KindNoColdContent,
			Message: fmt.Sprintf("для записи %s не задано холодное содержимое", r.ID),
		}
	}
	if r.BeingRetrieved {
		return &Error{
			Kind:    KindRetrievalAlreadyInProgress,
			Message: fmt.Sprintf("холодное содержимое записи %s уже восстанавливается", r.ID),
		}
	}
	return nil
}

// ApplyRetrievalRequested помечает запись как восстанавливаемую.
func ApplyRetrievalRequested(r *model.Record, now time.Time) {
	r.BeingRetrieved = true
	r.RetrievalRequestedAt = &now
}

// ApplyRetrievalCompleted снимает признак восстановления.
// until — срок доступности от backend-а (может быть nil).
func ApplyRetrievalCompleted(r *model.Record, until *time.Time) {
	r.BeingRetrieved = false
	r.AvailableUntil = until
}

// Validate проверяет инварианты записи.
func Validate(r *model.Record) error {
	if r.PrimaryContent != nil && r.ColdContent != nil {
		return fmt.Errorf("запись %s: основное и холодное содержимое заданы одновременно", r.ID)
	}
	if r.BeingRetrieved && r.ColdContent == nil {
		return fmt.Errorf("запись %s: восстановление без холодного содержимого", r.ID)
	}
	if r.ColdContent != nil && !r.HasColdStorageMarker {
		return fmt.Errorf("запись %s: холодное содержимое без маркера холодного хранения", r.ID)
	}
	return nil
}
