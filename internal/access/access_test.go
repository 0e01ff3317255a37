package access

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func coldRecord(backendID string) *model.Record {
	return &model.Record{
		ID:                   "rec-1",
		ColdContent:          &model.ContentRef{BackendID: backendID, Key: "docs/a.pdf"},
		HasColdStorageMarker: true,
	}
}

func TestTemplateLocator(t *testing.T) {
	l := NewTemplateLocator("https://cs.example.com")

	got, err := l.ResolveAccessURL(context.Background(), coldRecord("memory"), FieldColdContent)
	if err != nil {
		t.Fatalf("ResolveAccessURL: %v", err)
	}
	want := "https://cs.example.com/api/v1/records/rec-1/content/coldContent"
	if got != want {
		t.Errorf("ожидалось %q, получено %q", want, got)
	}

	if _, err := l.ResolveAccessURL(context.Background(), coldRecord("memory"), FieldPrimaryContent); !errors.Is(err, lifecycle.ErrNoPrimaryContent) {
		t.Errorf("пустое поле: ожидалась ErrNoPrimaryContent, получено %v", err)
	}
	if _, err := l.ResolveAccessURL(context.Background(), coldRecord("memory"), "thumbnail"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("неизвестное поле: ожидалась ErrUnknownField, получено %v", err)
	}
}

// mockPresigner — mock Presigner.
type mockPresigner struct {
	calls   int
	expires time.Duration
	err     error
}

func (m *mockPresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	opts := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(opts)
	}
	m.expires = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL:    "https://s3.example.com/" + aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key) + "?X-Amz-Signature=abc",
		Method: "GET",
	}, nil
}

func TestPresignLocator_Cache(t *testing.T) {
	p := &mockPresigner{}
	l := NewPresignLocator(p, "archive", []string{"glacier"}, time.Hour, 10, NewTemplateLocator("http://localhost:8005"), testLogger())

	for i := 0; i < 3; i++ {
		got, err := l.ResolveAccessURL(context.Background(), coldRecord("glacier"), FieldColdContent)
		if err != nil {
			t.Fatalf("ResolveAccessURL: %v", err)
		}
		if got != "https://s3.example.com/archive/docs/a.pdf?X-Amz-Signature=abc" {
			t.Errorf("неожиданная ссылка %q", got)
		}
	}

	if p.calls != 1 {
		t.Errorf("PresignGetObject: ожидался 1 вызов, получено %d", p.calls)
	}
	if p.expires != time.Hour {
		t.Errorf("Expires: ожидалось 1h, получено %v", p.expires)
	}
}

func TestPresignLocator_Fallback(t *testing.T) {
	p := &mockPresigner{}
	l := NewPresignLocator(p, "archive", []string{"glacier"}, time.Hour, 10, NewTemplateLocator("http://localhost:8005"), testLogger())

	got, err := l.ResolveAccessURL(context.Background(), coldRecord("memory"), FieldColdContent)
	if err != nil {
		t.Fatalf("ResolveAccessURL: %v", err)
	}
	if got != "http://localhost:8005/api/v1/records/rec-1/content/coldContent" {
		t.Errorf("ожидалась ссылка по шаблону, получено %q", got)
	}
	if p.calls != 0 {
		t.Error("presign не должен вызываться для не-S3 backend-а")
	}
}

// TestPresignLocator_NoFallback — без fallback для не-S3 backend-а ссылки нет.
func TestPresignLocator_NoFallback(t *testing.T) {
	l := NewPresignLocator(&mockPresigner{}, "archive", []string{"glacier"}, time.Hour, 10, nil, testLogger())

	if _, err := l.ResolveAccessURL(context.Background(), coldRecord("memory"), FieldColdContent); !errors.Is(err, ErrNoDirectLink) {
		t.Errorf("ожидалась ErrNoDirectLink, получено %v", err)
	}
	if _, err := l.ResolveAccessURL(context.Background(), coldRecord("glacier"), FieldColdContent); err != nil {
		t.Errorf("S3 backend: %v", err)
	}
}

func TestPresignLocator_Error(t *testing.T) {
	p := &mockPresigner{err: errors.New("нет credentials")}
	l := NewPresignLocator(p, "archive", []string{"glacier"}, time.Hour, 10, NewTemplateLocator("http://x"), testLogger())

	if _, err := l.ResolveAccessURL(context.Background(), coldRecord("glacier"), FieldColdContent); err == nil {
		t.Error("ожидалась ошибка presign")
	}
}
