package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

const recordColumns = `id, title, primary_backend_id, primary_key, cold_backend_id, cold_key,
	being_retrieved, has_cold_storage_marker, retrieval_requested_at, available_until,
	version, created_at, updated_at`

// recordRepo — реализация RecordRepository для PostgreSQL.
type recordRepo struct {
	db DBTX
}

// NewRecordRepository создаёт репозиторий записей поверх PostgreSQL.
func NewRecordRepository(db DBTX) RecordRepository {
	return &recordRepo{db: db}
}

func (r *recordRepo) Create(ctx context.Context, rec *model.Record) error {
	query := `
		INSERT INTO records (id, title, primary_backend_id, primary_key, cold_backend_id, cold_key,
			being_retrieved, has_cold_storage_marker, retrieval_requested_at, available_until, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		RETURNING version, created_at, updated_at`

	pBackend, pKey := refColumns(rec.PrimaryContent)
	cBackend, cKey := refColumns(rec.ColdContent)

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.Title, pBackend, pKey, cBackend, cKey,
		rec.BeingRetrieved, rec.HasColdStorageMarker, rec.RetrievalRequestedAt, rec.AvailableUntil,
	).Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

func (r *recordRepo) GetByID(ctx context.Context, id string) (*model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidTextRepresentation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

func (r *recordRepo) List(ctx context.Context, limit, offset int) ([]*model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	return r.queryRecords(ctx, "ошибка получения списка записей", query, limit, offset)
}

func (r *recordRepo) Save(ctx context.Context, rec *model.Record) error {
	query := `
		UPDATE records SET
			title = $2,
			primary_backend_id = $3, primary_key = $4,
			cold_backend_id = $5, cold_key = $6,
			being_retrieved = $7, has_cold_storage_marker = $8,
			retrieval_requested_at = $9, available_until = $10,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $11
		RETURNING version, updated_at`

	pBackend, pKey := refColumns(rec.PrimaryContent)
	cBackend, cKey := refColumns(rec.ColdContent)

	var version int64
	var updatedAt time.Time
	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.Title, pBackend, pKey, cBackend, cKey,
		rec.BeingRetrieved, rec.HasColdStorageMarker, rec.RetrievalRequestedAt, rec.AvailableUntil,
		rec.Version,
	).Scan(&version, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.saveMissError(ctx, rec)
		}
		if isInvalidTextRepresentation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка сохранения записи: %w", err)
	}

	rec.Version = version
	rec.UpdatedAt = updatedAt
	return nil
}

// saveMissError различает отсутствующую запись и расхождение версии.
func (r *recordRepo) saveMissError(ctx context.Context, rec *model.Record) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM records WHERE id = $1)`, rec.ID).Scan(&exists)
	if isInvalidTextRepresentation(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ошибка проверки существования записи: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: версия записи %s (%d) устарела", ErrConflict, rec.ID, rec.Version)
}

func (r *recordRepo) ListBeingRetrieved(ctx context.Context) ([]*model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE being_retrieved ORDER BY id`

	return r.queryRecords(ctx, "ошибка получения восстанавливаемых записей", query)
}

func (r *recordRepo) ListCold(ctx context.Context, afterID string, limit int) ([]*model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records
		WHERE cold_key IS NOT NULL AND has_cold_storage_marker AND NOT being_retrieved
			AND id > $1
		ORDER BY id
		LIMIT $2`

	if afterID == "" {
		afterID = uuid.Nil.String()
	}
	return r.queryRecords(ctx, "ошибка получения холодных записей", query, afterID, limit)
}

// queryRecords выполняет запрос и сканирует все строки в записи.
func (r *recordRepo) queryRecords(ctx context.Context, errMsg, query string, args ...any) ([]*model.Record, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	defer rows.Close()

	var result []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: сканирование: %w", errMsg, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return result, nil
}

// scanRecord читает одну строку records в model.Record.
func scanRecord(row pgx.Row) (*model.Record, error) {
	rec := &model.Record{}
	var pBackend, pKey, cBackend, cKey *string

	err := row.Scan(
		&rec.ID, &rec.Title, &pBackend, &pKey, &cBackend, &cKey,
		&rec.BeingRetrieved, &rec.HasColdStorageMarker, &rec.RetrievalRequestedAt, &rec.AvailableUntil,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.PrimaryContent = refFromColumns(pBackend, pKey)
	rec.ColdContent = refFromColumns(cBackend, cKey)
	return rec, nil
}

// refColumns раскладывает ContentRef на пару nullable-колонок.
func refColumns(ref *model.ContentRef) (backendID, key *string) {
	if ref == nil {
		return nil, nil
	}
	b, k := ref.BackendID, ref.Key
	return &b, &k
}

// refFromColumns собирает ContentRef из пары nullable-колонок.
func refFromColumns(backendID, key *string) *model.ContentRef {
	if backendID == nil || key == nil {
		return nil
	}
	return &model.ContentRef{BackendID: *backendID, Key: *key}
}
