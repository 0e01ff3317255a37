// Пакет access — формирование ссылок на содержимое записей.
//
// Ссылка передаётся в уведомлениях о доступности восстановленного
// содержимого (свойство archiveLocation) и обслуживается маршрутом
// GET /api/v1/records/{id}/content/{field}.
package access

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// Поля записи, на содержимое которых строится ссылка.
const (
	FieldPrimaryContent = "primaryContent"
	FieldColdContent    = "coldContent"
)

var (
	// ErrUnknownField — поле не является полем содержимого.
	ErrUnknownField = errors.New("неизвестное поле содержимого")
	// ErrNoDirectLink — для backend-а содержимого прямая ссылка не выдаётся.
	ErrNoDirectLink = errors.New("прямая ссылка недоступна")
)

// Locator формирует ссылку на содержимое поля записи.
type Locator interface {
	ResolveAccessURL(ctx context.Context, rec *model.Record, field string) (string, error)
}

// ContentOf возвращает ссылку на содержимое указанного поля.
// Пустое поле — lifecycle.ErrNoPrimaryContent или lifecycle.ErrNoColdContent.
func ContentOf(rec *model.Record, field string) (*model.ContentRef, error) {
	var (
		ref  *model.ContentRef
		kind lifecycle.Kind
	)
	switch field {
	case FieldPrimaryContent:
		ref, kind = rec.PrimaryContent, lifecycle.KindNoPrimaryContent
	case FieldColdContent:
		ref, kind = rec.ColdContent, lifecycle.KindNoColdContent
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if ref == nil {
		return nil, &lifecycle.Error{
			Kind:    kind,
			Message: fmt.Sprintf("У записи %s нет содержимого в поле %s", rec.ID, field),
		}
	}
	return ref, nil
}

// TemplateLocator строит ссылку вида {base}/api/v1/records/{id}/content/{field}.
type TemplateLocator struct {
	baseURL string
}

// NewTemplateLocator создаёт locator по шаблону.
func NewTemplateLocator(baseURL string) *TemplateLocator {
	return &TemplateLocator{baseURL: baseURL}
}

// ResolveAccessURL возвращает ссылку по шаблону.
func (l *TemplateLocator) ResolveAccessURL(_ context.Context, rec *model.Record, field string) (string, error) {
	if _, err := ContentOf(rec, field); err != nil {
		return "", err
	}
	return l.baseURL + "/api/v1/records/" + url.PathEscape(rec.ID) + "/content/" + field, nil
}
