package backend

import (
	"context"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// memoryRestore — состояние одного запроса на восстановление.
type memoryRestore struct {
	requestedAt time.Time
	window      time.Duration
}

// MemoryBackend — имитация холодного хранилища.
// Содержимое становится доступным через delay после Restore
// и остаётся доступным в течение запрошенного окна.
type MemoryBackend struct {
	delay time.Duration
	now   func() time.Time

	mu       sync.Mutex
	restores map[string]memoryRestore
}

// MemoryOption — опция MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBackend) { m.now = now }
}

// NewMemoryBackend создаёт имитацию с указанной задержкой восстановления.
func NewMemoryBackend(delay time.Duration, opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		delay:    delay,
		now:      func() time.Time { return time.Now().UTC() },
		restores: make(map[string]memoryRestore),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore регистрирует запрос. Повторный запрос во время восстановления
// не сбрасывает его, запрос после истечения окна начинает новое.
func (m *MemoryBackend) Restore(_ context.Context, ref model.ContentRef, window time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if r, ok := m.restores[ref.Key]; ok && now.Before(r.requestedAt.Add(m.delay)) {
		return nil
	}
	m.restores[ref.Key] = memoryRestore{requestedAt: now, window: window}
	return nil
}

// Status вычисляет состояние по времени запроса.
func (m *MemoryBackend) Status(_ context.Context, ref model.ContentRef) (*model.BackendStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.restores[ref.Key]
	if !ok {
		return &model.BackendStatus{}, nil
	}

	now := m.now()
	readyAt := r.requestedAt.Add(m.delay)
	until := readyAt.Add(r.window)

	switch {
	case now.Before(readyAt):
		return &model.BackendStatus{RestoreInProgress: true}, nil
	case now.Before(until):
		return &model.BackendStatus{Downloadable: true, DownloadableUntil: &until}, nil
	default:
		delete(m.restores, ref.Key)
		return &model.BackendStatus{}, nil
	}
}
