package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// Префикс ключей записей в badger: "r:<uuid>".
const badgerRecordPrefix = "r:"

// recordDoc — JSON-представление записи в badger.
type recordDoc struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	PrimaryContent       *refDoc    `json:"primary_content,omitempty"`
	ColdContent          *refDoc    `json:"cold_content,omitempty"`
	BeingRetrieved       bool       `json:"being_retrieved"`
	HasColdStorageMarker bool       `json:"has_cold_storage_marker"`
	RetrievalRequestedAt *time.Time `json:"retrieval_requested_at,omitempty"`
	AvailableUntil       *time.Time `json:"available_until,omitempty"`
	Version              int64      `json:"version"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type refDoc struct {
	BackendID string `json:"backend_id"`
	Key       string `json:"key"`
}

// badgerLogger — адаптер slog → badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger открывает badger в указанной директории.
// Пустой dir — in-memory режим (для тестов).
func OpenBadger(dir string, logger *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("создание директории badger %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger.With(slog.String("component", "badger"))})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия badger: %w", err)
	}
	return db, nil
}

// badgerRecordRepo — реализация RecordRepository поверх badger.
// Проверка версии и запись выполняются в одной транзакции db.Update,
// конфликт транзакций badger отображается в ErrConflict.
type badgerRecordRepo struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerRecordRepository создаёт репозиторий записей поверх badger.
func NewBadgerRecordRepository(db *badger.DB) RecordRepository {
	return &badgerRecordRepo{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func recordKey(id string) []byte {
	return []byte(badgerRecordPrefix + id)
}

func (b *badgerRecordRepo) Create(_ context.Context, r *model.Record) error {
	now := b.now()
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(r.ID))
		if err == nil {
			return fmt.Errorf("%w: запись с таким ID уже существует", ErrConflict)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		doc := toDoc(r)
		doc.Version = 1
		doc.CreatedAt = now
		doc.UpdatedAt = now
		return putDoc(txn, doc)
	})
	if err != nil {
		return b.mapTxnError("ошибка создания записи", err)
	}

	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (b *badgerRecordRepo) GetByID(_ context.Context, id string) (*model.Record, error) {
	var rec *model.Record
	err := b.db.View(func(txn *badger.Txn) error {
		doc, err := getDoc(txn, id)
		if err != nil {
			return err
		}
		rec = fromDoc(doc)
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

func (b *badgerRecordRepo) List(_ context.Context, limit, offset int) ([]*model.Record, error) {
	all, err := b.scan(func(*model.Record) bool { return true })
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return page(all, limit, offset), nil
}

func (b *badgerRecordRepo) Save(_ context.Context, r *model.Record) error {
	now := b.now()
	err := b.db.Update(func(txn *badger.Txn) error {
		stored, err := getDoc(txn, r.ID)
		if err != nil {
			return err
		}
		if stored.Version != r.Version {
			return fmt.Errorf("%w: версия записи %s (%d) устарела", ErrConflict, r.ID, r.Version)
		}

		doc := toDoc(r)
		doc.Version = r.Version + 1
		doc.CreatedAt = stored.CreatedAt
		doc.UpdatedAt = now
		return putDoc(txn, doc)
	})
	if err != nil {
		return b.mapTxnError("ошибка сохранения записи", err)
	}

	r.Version++
	r.UpdatedAt = now
	return nil
}

func (b *badgerRecordRepo) ListBeingRetrieved(_ context.Context) ([]*model.Record, error) {
	result, err := b.scan(func(r *model.Record) bool { return r.BeingRetrieved })
	if err != nil {
		return nil, fmt.Errorf("ошибка получения восстанавливаемых записей: %w", err)
	}
	return result, nil
}

func (b *badgerRecordRepo) ListCold(_ context.Context, afterID string, limit int) ([]*model.Record, error) {
	result, err := b.scan(isColdIdle)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения холодных записей: %w", err)
	}
	return cursorPage(result, afterID, limit), nil
}

// scan обходит все записи по префиксу (ключи упорядочены по ID).
func (b *badgerRecordRepo) scan(filter func(*model.Record) bool) ([]*model.Record, error) {
	var result []*model.Record
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerRecordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var doc recordDoc
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return fmt.Errorf("декодирование %s: %w", it.Item().Key(), err)
			}
			if rec := fromDoc(&doc); filter(rec) {
				result = append(result, rec)
			}
		}
		return nil
	})
	return result, err
}

// mapTxnError отображает ошибки badger на ошибки слоя репозиториев.
func (b *badgerRecordRepo) mapTxnError(msg string, err error) error {
	switch {
	case errors.Is(err, ErrConflict):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: параллельная транзакция", ErrConflict)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

func getDoc(txn *badger.Txn, id string) (*recordDoc, error) {
	item, err := txn.Get(recordKey(id))
	if err != nil {
		return nil, err
	}
	var doc recordDoc
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	}); err != nil {
		return nil, fmt.Errorf("декодирование записи %s: %w", id, err)
	}
	return &doc, nil
}

func putDoc(txn *badger.Txn, doc *recordDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("кодирование записи %s: %w", doc.ID, err)
	}
	return txn.Set(recordKey(doc.ID), data)
}

func toDoc(r *model.Record) *recordDoc {
	return &recordDoc{
		ID:                   r.ID,
		Title:                r.Title,
		PrimaryContent:       toRefDoc(r.PrimaryContent),
		ColdContent:          toRefDoc(r.ColdContent),
		BeingRetrieved:       r.BeingRetrieved,
		HasColdStorageMarker: r.HasColdStorageMarker,
		RetrievalRequestedAt: r.RetrievalRequestedAt,
		AvailableUntil:       r.AvailableUntil,
		Version:              r.Version,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func fromDoc(d *recordDoc) *model.Record {
	return &model.Record{
		ID:                   d.ID,
		Title:                d.Title,
		PrimaryContent:       fromRefDoc(d.PrimaryContent),
		ColdContent:          fromRefDoc(d.ColdContent),
		BeingRetrieved:       d.BeingRetrieved,
		HasColdStorageMarker: d.HasColdStorageMarker,
		RetrievalRequestedAt: d.RetrievalRequestedAt,
		AvailableUntil:       d.AvailableUntil,
		Version:              d.Version,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}

func toRefDoc(ref *model.ContentRef) *refDoc {
	if ref == nil {
		return nil
	}
	return &refDoc{BackendID: ref.BackendID, Key: ref.Key}
}

func fromRefDoc(d *refDoc) *model.ContentRef {
	if d == nil {
		return nil
	}
	return &model.ContentRef{BackendID: d.BackendID, Key: d.Key}
}

// BadgerReadinessChecker — проверка готовности badger для /health/ready.
type BadgerReadinessChecker struct {
	db *badger.DB
}

// NewBadgerReadinessChecker создаёт checker.
func NewBadgerReadinessChecker(db *badger.DB) *BadgerReadinessChecker {
	return &BadgerReadinessChecker{db: db}
}

// CheckReady возвращает "fail", если база закрыта.
func (c *BadgerReadinessChecker) CheckReady() (string, string) {
	if c.db.IsClosed() {
		return "fail", "badger закрыт"
	}
	return "ok", ""
}
