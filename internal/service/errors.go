// errors.go — ошибки сервисного слоя и преобразование ошибок нижних слоёв.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/cold-storage/internal/repository"
)

// ErrValidation — ошибка валидации входных данных.
var ErrValidation = errors.New("ошибка валидации")

// maxSaveAttempts — сколько раз операция перечитывает запись при конфликте версии.
const maxSaveAttempts = 3

// recordNotFound возвращает ошибку вида RecordNotFound.
func recordNotFound(id string) error {
	return &lifecycle.Error{
		Kind:    lifecycle.KindRecordNotFound,
		Message: fmt.Sprintf("запись %s не найдена", id),
	}
}

// concurrentModification возвращает ошибку вида ConcurrentModification.
func concurrentModification(id string, cause error) error {
	return &lifecycle.Error{
		Kind:    lifecycle.KindConcurrentModification,
		Message: fmt.Sprintf("запись %s изменена параллельно, повторите запрос", id),
		Err:     cause,
	}
}

// mapRepoError переводит ErrNotFound репозитория в RecordNotFound.
func mapRepoError(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return recordNotFound(id)
	}
	return err
}
