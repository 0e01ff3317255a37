// Пакет repository — слой доступа к записям Cold Storage Service.
// PostgreSQL — чистый SQL через pgx, без ORM. Для локального запуска
// доступны badger и in-memory реализации с той же семантикой.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности или версии записи.
	ErrConflict = errors.New("конфликт — запись уже существует или изменена")
)

// RecordRepository — хранилище записей.
//
// Save реализует оптимистичную блокировку: запись сохраняется, только если
// версия в хранилище совпадает с r.Version. При успехе r.Version
// увеличивается на 1 и обновляется r.UpdatedAt, при расхождении версии
// возвращается ErrConflict.
type RecordRepository interface {
	// Create создаёт новую запись (Version = 1).
	Create(ctx context.Context, r *model.Record) error
	// GetByID возвращает запись по UUID.
	GetByID(ctx context.Context, id string) (*model.Record, error)
	// List возвращает записи, упорядоченные по времени создания.
	List(ctx context.Context, limit, offset int) ([]*model.Record, error)
	// Save сохраняет изменения записи с проверкой версии.
	Save(ctx context.Context, r *model.Record) error
	// ListBeingRetrieved возвращает записи с beingRetrieved = true.
	ListBeingRetrieved(ctx context.Context) ([]*model.Record, error)
	// ListCold возвращает холодные записи, не помеченные как восстанавливаемые,
	// с ID больше afterID (пустой — с начала), по возрастанию ID.
	ListCold(ctx context.Context, afterID string, limit int) ([]*model.Record, error)
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isInvalidTextRepresentation — значение не приводится к типу столбца
// (например, ID не в формате UUID).
func isInvalidTextRepresentation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02" // invalid_text_representation
	}
	return false
}
