// Пакет backend — backend-ы холодного хранения.
//
// Backend выполняет запрос на восстановление содержимого и сообщает
// его текущее состояние. Физическое перемещение байтов между уровнями
// хранения выполняет сам backend (S3 lifecycle, Storage Element и т.п.).
//
// Реализации:
//   - S3Backend — S3/Glacier через RestoreObject и HeadObject
//   - HTTPBackend — внешний сервис с REST API восстановления
//   - MemoryBackend — имитация с задержкой восстановления (dev, тесты)
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// ErrUnknownBackend — backend с указанным идентификатором не зарегистрирован.
var ErrUnknownBackend = errors.New("backend не зарегистрирован")

// Backend — backend холодного хранения.
type Backend interface {
	// Restore запрашивает восстановление содержимого на срок window.
	Restore(ctx context.Context, ref model.ContentRef, window time.Duration) error
	// Status возвращает текущее состояние содержимого.
	Status(ctx context.Context, ref model.ContentRef) (*model.BackendStatus, error)
}

// Registry — реестр backend-ов по идентификатору.
// Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register добавляет backend. Повторная регистрация идентификатора — ошибка.
func (r *Registry) Register(id string, b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[id]; ok {
		return fmt.Errorf("backend %q уже зарегистрирован", id)
	}
	r.backends[id] = b
	return nil
}

// Resolve возвращает backend по идентификатору.
func (r *Registry) Resolve(id string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}
	return b, nil
}

// IDs возвращает отсортированный список зарегистрированных идентификаторов.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// windowDays переводит окно доступности в целое число дней (не меньше 1).
func windowDays(window time.Duration) int32 {
	const day = 24 * time.Hour
	days := int32((window + day - 1) / day)
	if days < 1 {
		days = 1
	}
	return days
}
