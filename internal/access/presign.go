package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// Prometheus-метрики кэша ссылок.
var (
	presignCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_access_cache_hits_total",
		Help: "Общее количество попаданий в кэш presigned-ссылок.",
	})
	presignCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cs_access_cache_misses_total",
		Help: "Общее количество промахов кэша presigned-ссылок.",
	})
)

// Presigner — подмножество s3.PresignClient.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// PresignLocator выдаёт presigned GET-ссылки S3 для содержимого S3 backend-ов.
// Для остальных backend-ов используется fallback, без него — ErrNoDirectLink.
//
// Ссылки кэшируются на половину срока жизни, чтобы выданная из кэша
// ссылка оставалась действительной не меньше ttl/2.
type PresignLocator struct {
	presigner  Presigner
	bucket     string
	backendIDs map[string]bool
	ttl        time.Duration
	fallback   Locator
	cache      *expirable.LRU[model.ContentRef, string]
	logger     *slog.Logger
}

// NewPresignLocator создаёт locator.
// backendIDs — идентификаторы backend-ов вида s3.
func NewPresignLocator(presigner Presigner, bucket string, backendIDs []string, ttl time.Duration, cacheSize int, fallback Locator, logger *slog.Logger) *PresignLocator {
	ids := make(map[string]bool, len(backendIDs))
	for _, id := range backendIDs {
		ids[id] = true
	}
	return &PresignLocator{
		presigner:  presigner,
		bucket:     bucket,
		backendIDs: ids,
		ttl:        ttl,
		fallback:   fallback,
		cache:      expirable.NewLRU[model.ContentRef, string](cacheSize, nil, ttl/2),
		logger:     logger.With(slog.String("component", "presign_locator")),
	}
}

// ResolveAccessURL возвращает presigned-ссылку (из кэша или новую).
func (l *PresignLocator) ResolveAccessURL(ctx context.Context, rec *model.Record, field string) (string, error) {
	ref, err := ContentOf(rec, field)
	if err != nil {
		return "", err
	}
	if !l.backendIDs[ref.BackendID] {
		if l.fallback == nil {
			return "", fmt.Errorf("%w: backend %s", ErrNoDirectLink, ref.BackendID)
		}
		return l.fallback.ResolveAccessURL(ctx, rec, field)
	}

	if u, ok := l.cache.Get(*ref); ok {
		presignCacheHitsTotal.Inc()
		return u, nil
	}
	presignCacheMissesTotal.Inc()

	req, err := l.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(ref.Key),
	}, s3.WithPresignExpires(l.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", ref.Key, err)
	}

	l.cache.Add(*ref, req.URL)
	l.logger.Debug("Presigned-ссылка сформирована",
		slog.String("record_id", rec.ID),
		slog.String("key", ref.Key),
	)
	return req.URL, nil
}
