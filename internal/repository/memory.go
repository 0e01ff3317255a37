package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// memoryRecordRepo — in-memory реализация RecordRepository.
// Используется при CS_STORE_DRIVER=memory и в тестах сервисного слоя.
type memoryRecordRepo struct {
	mu      sync.RWMutex
	records map[string]*model.Record
	now     func() time.Time
}

// NewMemoryRecordRepository создаёт пустое in-memory хранилище записей.
func NewMemoryRecordRepository() RecordRepository {
	return &memoryRecordRepo{
		records: make(map[string]*model.Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *memoryRecordRepo) Create(_ context.Context, r *model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.ID]; ok {
		return fmt.Errorf("%w: запись с таким ID уже существует", ErrConflict)
	}

	now := m.now()
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *memoryRecordRepo) GetByID(_ context.Context, id string) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *memoryRecordRepo) List(_ context.Context, limit, offset int) ([]*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sorted(func(*model.Record) bool { return true })
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return page(all, limit, offset), nil
}

func (m *memoryRecordRepo) Save(_ context.Context, r *model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[r.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != r.Version {
		return fmt.Errorf("%w: версия записи %s (%d) устарела", ErrConflict, r.ID, r.Version)
	}

	r.Version++
	r.UpdatedAt = m.now()
	r.CreatedAt = stored.CreatedAt
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *memoryRecordRepo) ListBeingRetrieved(_ context.Context) ([]*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sorted(func(r *model.Record) bool { return r.BeingRetrieved }), nil
}

func (m *memoryRecordRepo) ListCold(_ context.Context, afterID string, limit int) ([]*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return cursorPage(m.sorted(isColdIdle), afterID, limit), nil
}

// sorted возвращает копии записей, удовлетворяющих фильтру, по возрастанию ID.
// Вызывается под мьютексом.
func (m *memoryRecordRepo) sorted(filter func(*model.Record) bool) []*model.Record {
	var result []*model.Record
	for _, r := range m.records {
		if filter(r) {
			result = append(result, r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// isColdIdle — холодная запись без активного восстановления.
func isColdIdle(r *model.Record) bool {
	return r.ColdContent != nil && r.HasColdStorageMarker && !r.BeingRetrieved
}

// cursorPage возвращает до limit записей с ID больше afterID.
// Срез должен быть упорядочен по ID.
func cursorPage(records []*model.Record, afterID string, limit int) []*model.Record {
	if afterID != "" {
		i := sort.Search(len(records), func(i int) bool { return records[i].ID > afterID })
		records = records[i:]
	}
	return page(records, limit, 0)
}

// page применяет limit/offset к срезу.
func page(records []*model.Record, limit, offset int) []*model.Record {
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
