package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// S3API — подмножество методов s3.Client, используемых S3Backend.
type S3API interface {
	RestoreObject(ctx context.Context, params *s3.RestoreObjectInput, optFns ...func(*s3.Options)) (*s3.RestoreObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3ClientConfig — параметры подключения к S3.
type S3ClientConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	MaxRetries      int
}

// NewS3Client создаёт клиент S3.
// Endpoint задаётся для MinIO/Localstack, тогда включается path-style адресация.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("S3: не задан регион")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	// Без явных ключей используется стандартная цепочка credentials
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("загрузка конфигурации AWS: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Backend — холодное хранилище S3 (Glacier / Deep Archive).
type S3Backend struct {
	client S3API
	bucket string
	tier   types.Tier
	logger *slog.Logger
}

// NewS3Backend создаёт backend поверх S3.
// tier — Standard, Bulk или Expedited.
func NewS3Backend(client S3API, bucket, tier string, logger *slog.Logger) *S3Backend {
	return &S3Backend{
		client: client,
		bucket: bucket,
		tier:   types.Tier(tier),
		logger: logger.With(slog.String("component", "s3_backend"), slog.String("bucket", bucket)),
	}
}

// Restore выполняет RestoreObject на ceil(window) дней.
// Код RestoreAlreadyInProgress считается успехом.
func (b *S3Backend) Restore(ctx context.Context, ref model.ContentRef, window time.Duration) error {
	_, err := b.client.RestoreObject(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(ref.Key),
		RestoreRequest: &types.RestoreRequest{
			Days: aws.Int32(windowDays(window)),
			GlacierJobParameters: &types.GlacierJobParameters{
				Tier: b.tier,
			},
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "RestoreAlreadyInProgress" {
			b.logger.Debug("Восстановление уже выполняется",
				slog.String("key", ref.Key),
			)
			return nil
		}
		return fmt.Errorf("S3 RestoreObject %s: %w", ref.Key, err)
	}

	b.logger.Debug("Запрос на восстановление отправлен",
		slog.String("key", ref.Key),
		slog.Int("days", int(windowDays(window))),
		slog.String("tier", string(b.tier)),
	)
	return nil
}

// Status читает заголовок x-amz-restore через HeadObject.
func (b *S3Backend) Status(ctx context.Context, ref model.ContentRef) (*model.BackendStatus, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("S3 HeadObject %s: %w", ref.Key, err)
	}

	if out.Restore != nil {
		return parseRestoreHeader(*out.Restore)
	}

	switch out.StorageClass {
	case types.StorageClassGlacier, types.StorageClassDeepArchive:
		// Архивный объект без запроса на восстановление
		return &model.BackendStatus{}, nil
	default:
		return &model.BackendStatus{Downloadable: true}, nil
	}
}

var (
	ongoingRequestRe = regexp.MustCompile(`ongoing-request="(true|false)"`)
	expiryDateRe     = regexp.MustCompile(`expiry-date="([^"]+)"`)
)

// parseRestoreHeader разбирает значение x-amz-restore:
//
//	ongoing-request="true"
//	ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"
func parseRestoreHeader(header string) (*model.BackendStatus, error) {
	m := ongoingRequestRe.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("некорректный заголовок x-amz-restore: %q", header)
	}
	if m[1] == "true" {
		return &model.BackendStatus{RestoreInProgress: true}, nil
	}

	status := &model.BackendStatus{Downloadable: true}
	if e := expiryDateRe.FindStringSubmatch(header); e != nil {
		until, err := http.ParseTime(e[1])
		if err != nil {
			return nil, fmt.Errorf("некорректный expiry-date %q: %w", e[1], err)
		}
		until = until.UTC()
		status.DownloadableUntil = &until
	}
	return status, nil
}
