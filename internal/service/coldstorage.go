// coldstorage.go — операции жизненного цикла холодного хранения записи.
//
// MoveToCold переносит ссылку на основное содержимое в холодное хранилище
// без обращения к backend-у. RequestRetrieval запрашивает восстановление
// у backend-а и помечает запись как восстанавливаемую. Завершение
// восстановления выполняет ReconcileService.
//
// Обе операции читают запись в начале вызова и сохраняют её с проверкой
// версии. При конфликте версии запись перечитывается и предусловия
// проверяются заново.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/cold-storage/internal/backend"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
	"github.com/bigkaa/goartstore/cold-storage/internal/repository"
)

// BackendResolver — источник backend-ов по идентификатору.
type BackendResolver interface {
	Resolve(id string) (backend.Backend, error)
}

// ColdStorageService — сервис операций над записями.
type ColdStorageService struct {
	repo           repository.RecordRepository
	backends       BackendResolver
	backendTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// NewColdStorageService создаёт сервис.
// backendTimeout ограничивает одно обращение к backend-у (0 — без ограничения).
func NewColdStorageService(
	repo repository.RecordRepository,
	backends BackendResolver,
	backendTimeout time.Duration,
	logger *slog.Logger,
) *ColdStorageService {
	return &ColdStorageService{
		repo:           repo,
		backends:       backends,
		backendTimeout: backendTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger.With(slog.String("component", "cold_storage")),
	}
}

// CreateRecord создаёт запись с основным содержимым.
// Backend содержимого должен быть зарегистрирован.
func (s *ColdStorageService) CreateRecord(ctx context.Context, title string, content model.ContentRef) (*model.Record, error) {
	if content.BackendID == "" || content.Key == "" {
		return nil, fmt.Errorf("%w: не заданы backend_id или key содержимого", ErrValidation)
	}
	if _, err := s.backends.Resolve(content.BackendID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}

	rec := &model.Record{
		ID:             uuid.New().String(),
		Title:          title,
		PrimaryContent: &content,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("создание записи: %w", err)
	}

	s.logger.Info("Запись создана",
		slog.String("record_id", rec.ID),
		slog.String("backend_id", content.BackendID),
	)
	return rec, nil
}

// GetRecord возвращает запись по ID.
func (s *ColdStorageService) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(id, err)
	}
	return rec, nil
}

// ListRecords возвращает страницу записей.
func (s *ColdStorageService) ListRecords(ctx context.Context, limit, offset int) ([]*model.Record, error) {
	return s.repo.List(ctx, limit, offset)
}

// MoveToCold перемещает основное содержимое записи в холодное хранилище.
//
// Ошибки: AlreadyInColdStorage, NoPrimaryContent, RecordNotFound,
// ConcurrentModification.
func (s *ColdStorageService) MoveToCold(ctx context.Context, id string) (*model.Record, error) {
	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		rec, err := s.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := lifecycle.CheckMoveToCold(rec); err != nil {
			return nil, err
		}
		lifecycle.ApplyMoveToCold(rec)

		err = s.repo.Save(ctx, rec)
		switch {
		case err == nil:
			s.logger.Info("Содержимое перемещено в холодное хранилище",
				slog.String("record_id", rec.ID),
				slog.String("backend_id", rec.ColdContent.BackendID),
			)
			return rec, nil
		case errors.Is(err, repository.ErrConflict):
			lastErr = err
			s.logger.Debug("Конфликт версии при перемещении, повтор",
				slog.String("record_id", id),
				slog.Int("attempt", attempt+1),
			)
		default:
			return nil, fmt.Errorf("сохранение записи %s: %w", id, mapRepoError(id, err))
		}
	}
	return nil, concurrentModification(id, lastErr)
}

// RequestRetrieval запрашивает восстановление холодного содержимого
// на срок window. window не ограничивается и не подставляется по умолчанию.
//
// При ошибке backend-а запись не изменяется.
// Ошибки: NoColdContent, RetrievalAlreadyInProgress, BackendUnavailable,
// RecordNotFound, ConcurrentModification.
func (s *ColdStorageService) RequestRetrieval(ctx context.Context, id string, window time.Duration) (*model.Record, error) {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckRetrieval(rec); err != nil {
		return nil, err
	}

	if err := s.restore(ctx, *rec.ColdContent, window); err != nil {
		s.logger.Warn("Backend не принял запрос на восстановление",
			slog.String("record_id", id),
			slog.String("backend_id", rec.ColdContent.BackendID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// Restore идемпотентен для backend-а, при конфликте повторяется только сохранение
	var lastErr error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		if attempt > 0 {
			rec, err = s.GetRecord(ctx, id)
			if err != nil {
				return nil, err
			}
			if err := lifecycle.CheckRetrieval(rec); err != nil {
				return nil, err
			}
		}

		lifecycle.ApplyRetrievalRequested(rec, s.now())
		err = s.repo.Save(ctx, rec)
		switch {
		case err == nil:
			s.logger.Info("Запрошено восстановление холодного содержимого",
				slog.String("record_id", rec.ID),
				slog.String("backend_id", rec.ColdContent.BackendID),
				slog.Duration("window", window),
			)
			return rec, nil
		case errors.Is(err, repository.ErrConflict):
			lastErr = err
		default:
			return nil, fmt.Errorf("сохранение записи %s: %w", id, mapRepoError(id, err))
		}
	}
	return nil, concurrentModification(id, lastErr)
}

// restore вызывает Restore backend-а с таймаутом.
func (s *ColdStorageService) restore(ctx context.Context, ref model.ContentRef, window time.Duration) error {
	b, err := s.backends.Resolve(ref.BackendID)
	if err != nil {
		return lifecycle.BackendUnavailable(fmt.Sprintf("backend %q недоступен", ref.BackendID), err)
	}

	callCtx, cancel := withTimeout(ctx, s.backendTimeout)
	defer cancel()

	if err := b.Restore(callCtx, ref, window); err != nil {
		return lifecycle.BackendUnavailable(fmt.Sprintf("запрос восстановления %s", ref.Key), err)
	}
	return nil
}

// withTimeout возвращает контекст с таймаутом (timeout <= 0 — без таймаута).
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
