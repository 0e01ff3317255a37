package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bigkaa/goartstore/cold-storage/internal/access"
	"github.com/bigkaa/goartstore/cold-storage/internal/config"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
	"github.com/bigkaa/goartstore/cold-storage/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	for _, driver := range []string{config.StoreDriverMemory, config.StoreDriverBadger} {
		t.Run(driver, func(t *testing.T) {
			cfg := &config.Config{StoreDriver: driver, BadgerDir: t.TempDir()}
			st, err := openStore(ctx, cfg, discardLogger())
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			defer st.close()

			if status, _ := st.readiness.CheckReady(); status != "ok" {
				t.Errorf("ожидался ok, получен %s", status)
			}
			if st.pool != nil {
				t.Error("pool должен быть nil вне postgres")
			}
		})
	}

	if _, err := openStore(ctx, &config.Config{StoreDriver: "sqlite"}, discardLogger()); err == nil {
		t.Error("ожидалась ошибка для неизвестного драйвера")
	}
}

func TestBuildBackends(t *testing.T) {
	cfg := &config.Config{
		Backends: []config.BackendSpec{
			{ID: "dev", Kind: config.BackendKindMemory},
			{ID: "se-archive", Kind: config.BackendKindHTTP},
		},
		HTTPBackendURL:     "http://storage-element:8010",
		HTTPBackendToken:   "secret",
		BackendTimeout:     time.Second,
		MemoryRestoreDelay: time.Minute,
	}
	set, err := buildBackends(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildBackends: %v", err)
	}
	ids := set.registry.IDs()
	if len(ids) != 2 || ids[0] != "dev" || ids[1] != "se-archive" {
		t.Errorf("неожиданные backend-ы: %v", ids)
	}
	if set.s3Client != nil {
		t.Error("S3-клиент не должен создаваться без s3 backend-ов")
	}

	cfg.Backends = append(cfg.Backends, config.BackendSpec{ID: "tape", Kind: "tape"})
	if _, err := buildBackends(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("ожидалась ошибка для неизвестного вида backend-а")
	}
}

func TestBuildNotifier_WithoutNATS(t *testing.T) {
	n, closeFn, err := buildNotifier(&config.Config{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	if _, ok := n.(*notify.LogNotifier); !ok {
		t.Errorf("без NATS ожидался LogNotifier, получен %T", n)
	}
	if err := n.Emit(context.Background(), notify.Event{Name: notify.EventColdStorageContentAvailable, RecordID: "r1"}); err != nil {
		t.Errorf("Emit: %v", err)
	}
}

func TestBuildLocator_PresignWithoutS3(t *testing.T) {
	cfg := &config.Config{AccessMode: config.AccessModePresign, AccessBaseURL: "http://localhost:8005"}
	set, err := buildBackends(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := buildLocator(cfg, set, discardLogger()).(*access.TemplateLocator); !ok {
		t.Error("без S3 ожидался TemplateLocator")
	}
}

// TestBuildDownloads_NoSelfRedirect — ссылки для маршрута content не указывают на него же.
func TestBuildDownloads_NoSelfRedirect(t *testing.T) {
	cfg := &config.Config{
		AccessMode:      config.AccessModePresign,
		AccessBaseURL:   "http://localhost:8005",
		AccessURLTTL:    time.Hour,
		AccessCacheSize: 10,
		S3Bucket:        "archive",
	}
	set := &backendSet{
		s3Client: s3.New(s3.Options{
			Region:      "us-east-1",
			Credentials: aws.AnonymousCredentials{},
		}),
		s3IDs: []string{"s3-cold"},
	}
	rec := &model.Record{
		ID:                   "rec-1",
		ColdContent:          &model.ContentRef{BackendID: "memory", Key: "a.bin"},
		HasColdStorageMarker: true,
	}
	ctx := context.Background()

	downloads := buildDownloads(cfg, set, discardLogger())
	if downloads == nil {
		t.Fatal("в режиме presign ожидался locator прямых ссылок")
	}
	if _, err := downloads.ResolveAccessURL(ctx, rec, access.FieldColdContent); !errors.Is(err, access.ErrNoDirectLink) {
		t.Errorf("не-S3 backend: ожидалась ErrNoDirectLink, получено %v", err)
	}

	// В уведомлениях для того же backend-а используется шаблон
	u, err := buildLocator(cfg, set, discardLogger()).ResolveAccessURL(ctx, rec, access.FieldColdContent)
	if err != nil {
		t.Fatalf("ResolveAccessURL: %v", err)
	}
	if !strings.HasSuffix(u, "/api/v1/records/rec-1/content/coldContent") {
		t.Errorf("ожидалась ссылка по шаблону, получено %q", u)
	}

	if buildDownloads(&config.Config{AccessMode: config.AccessModeTemplate}, set, discardLogger()) != nil {
		t.Error("в режиме template прямые ссылки не выдаются")
	}
}
