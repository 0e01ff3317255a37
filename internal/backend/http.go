package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
	"github.com/bigkaa/goartstore/cold-storage/internal/tlsconfig"
)

// TokenProvider — функция, возвращающая токен для авторизации запросов к backend-у.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken возвращает TokenProvider с фиксированным токеном.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

// Статусы восстановления в ответе HTTP backend-а.
const (
	httpStatusNone      = "none"
	httpStatusArchived  = "archived"
	httpStatusOngoing   = "ongoing"
	httpStatusAvailable = "available"
)

// restoreRequest — тело POST /api/v1/objects/{key}/restore.
type restoreRequest struct {
	Days int32 `json:"days"`
}

// restoreStatusResponse — ответ GET /api/v1/objects/{key}/restore.
type restoreStatusResponse struct {
	Status         string     `json:"status"`
	AvailableUntil *time.Time `json:"available_until,omitempty"`
}

// HTTPBackend — backend, реализующий REST API восстановления:
//   - POST {base}/api/v1/objects/{key}/restore — запрос (202, 409 — уже выполняется)
//   - GET {base}/api/v1/objects/{key}/restore — состояние
type HTTPBackend struct {
	baseURL       string
	httpClient    *http.Client
	tokenProvider TokenProvider
	logger        *slog.Logger
}

// NewHTTPBackend создаёт HTTP backend.
// caCertPath — путь к CA-сертификату (пустая строка — стандартный пул).
// tokenProvider может быть nil.
func NewHTTPBackend(baseURL, caCertPath string, timeout time.Duration, tokenProvider TokenProvider, logger *slog.Logger) (*HTTPBackend, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := tlsconfig.Client(caCertPath, false)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата backend-а: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат backend-а добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &HTTPBackend{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
		tokenProvider: tokenProvider,
		logger:        logger.With(slog.String("component", "http_backend")),
	}, nil
}

func (b *HTTPBackend) restoreURL(key string) string {
	return b.baseURL + "/api/v1/objects/" + url.PathEscape(key) + "/restore"
}

// Restore отправляет запрос на восстановление.
func (b *HTTPBackend) Restore(ctx context.Context, ref model.ContentRef, window time.Duration) error {
	body, err := json.Marshal(restoreRequest{Days: windowDays(window)})
	if err != nil {
		return fmt.Errorf("кодирование запроса Restore: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.restoreURL(ref.Key), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса Restore: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.do(req)
	if err != nil {
		return fmt.Errorf("запрос Restore %s: %w", ref.Key, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		b.logger.Debug("Восстановление уже выполняется", slog.String("key", ref.Key))
		return nil
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend Restore %s вернул статус %d: %s", ref.Key, resp.StatusCode, string(respBody))
	}
}

// Status запрашивает состояние восстановления.
func (b *HTTPBackend) Status(ctx context.Context, ref model.ContentRef) (*model.BackendStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.restoreURL(ref.Key), nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса Status: %w", err)
	}

	resp, err := b.do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос Status %s: %w", ref.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("backend Status %s вернул статус %d: %s", ref.Key, resp.StatusCode, string(respBody))
	}

	var sr restoreStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("декодирование Status %s: %w", ref.Key, err)
	}

	switch sr.Status {
	case httpStatusAvailable:
		return &model.BackendStatus{Downloadable: true, DownloadableUntil: sr.AvailableUntil}, nil
	case httpStatusOngoing:
		return &model.BackendStatus{RestoreInProgress: true}, nil
	case httpStatusArchived, httpStatusNone:
		return &model.BackendStatus{}, nil
	default:
		return nil, fmt.Errorf("backend Status %s: неизвестный статус %q", ref.Key, sr.Status)
	}
}

// do добавляет авторизацию и выполняет запрос.
func (b *HTTPBackend) do(req *http.Request) (*http.Response, error) {
	if b.tokenProvider != nil {
		token, err := b.tokenProvider(req.Context())
		if err != nil {
			return nil, fmt.Errorf("получение токена: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return b.httpClient.Do(req)
}
