package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bigkaa/goartstore/cold-storage/internal/domain/model"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Registry ---

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	mem := NewMemoryBackend(time.Minute)

	if err := reg.Register("glacier", mem); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register("archive", mem); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register("glacier", mem); err == nil {
		t.Error("повторная регистрация должна вернуть ошибку")
	}

	b, err := reg.Resolve("glacier")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b != mem {
		t.Error("Resolve вернул другой backend")
	}

	_, err = reg.Resolve("tape")
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("ожидалась ErrUnknownBackend, получено %v", err)
	}

	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != "archive" || ids[1] != "glacier" {
		t.Errorf("IDs: ожидалось [archive glacier], получено %v", ids)
	}
}

func TestWindowDays(t *testing.T) {
	tests := []struct {
		window time.Duration
		want   int32
	}{
		{0, 1},
		{time.Hour, 1},
		{24 * time.Hour, 1},
		{25 * time.Hour, 2},
		{7 * 24 * time.Hour, 7},
		{-time.Hour, 1},
	}
	for _, tt := range tests {
		if got := windowDays(tt.window); got != tt.want {
			t.Errorf("windowDays(%v) = %d, ожидалось %d", tt.window, got, tt.want)
		}
	}
}

// --- MemoryBackend ---

// fakeClock — управляемые часы для MemoryBackend.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryBackend_Lifecycle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	mem := NewMemoryBackend(time.Hour, WithClock(clock.Now))
	ctx := context.Background()
	ref := model.ContentRef{BackendID: "memory", Key: "doc-1"}

	// До запроса — архивное содержимое
	st, err := mem.Status(ctx, ref)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Downloadable || st.RestoreInProgress {
		t.Errorf("до Restore ожидался пустой статус, получено %+v", st)
	}

	if err := mem.Restore(ctx, ref, 48*time.Hour); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	st, _ = mem.Status(ctx, ref)
	if !st.RestoreInProgress || st.Downloadable {
		t.Errorf("сразу после Restore ожидался RestoreInProgress, получено %+v", st)
	}

	// Повторный запрос во время восстановления не сбрасывает его
	clock.Advance(30 * time.Minute)
	if err := mem.Restore(ctx, ref, 48*time.Hour); err != nil {
		t.Fatalf("повторный Restore: %v", err)
	}
	clock.Advance(31 * time.Minute)

	st, _ = mem.Status(ctx, ref)
	if !st.Downloadable {
		t.Fatalf("после задержки ожидался Downloadable, получено %+v", st)
	}
	wantUntil := time.Date(2026, 1, 12, 13, 0, 0, 0, time.UTC)
	if st.DownloadableUntil == nil || !st.DownloadableUntil.Equal(wantUntil) {
		t.Errorf("DownloadableUntil: ожидалось %v, получено %v", wantUntil, st.DownloadableUntil)
	}

	// После окна содержимое снова архивное
	clock.Advance(49 * time.Hour)
	st, _ = mem.Status(ctx, ref)
	if st.Downloadable || st.RestoreInProgress {
		t.Errorf("после окна ожидался пустой статус, получено %+v", st)
	}
}

// --- S3Backend ---

// mockS3 — mock S3API.
type mockS3 struct {
	restoreFn func(ctx context.Context, in *s3.RestoreObjectInput) (*s3.RestoreObjectOutput, error)
	headFn    func(ctx context.Context, in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
}

func (m *mockS3) RestoreObject(ctx context.Context, in *s3.RestoreObjectInput, _ ...func(*s3.Options)) (*s3.RestoreObjectOutput, error) {
	return m.restoreFn(ctx, in)
}

func (m *mockS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return m.headFn(ctx, in)
}

func TestS3Backend_Restore(t *testing.T) {
	var got *s3.RestoreObjectInput
	client := &mockS3{
		restoreFn: func(_ context.Context, in *s3.RestoreObjectInput) (*s3.RestoreObjectOutput, error) {
			got = in
			return &s3.RestoreObjectOutput{}, nil
		},
	}
	b := NewS3Backend(client, "archive", "Bulk", testLogger())

	err := b.Restore(context.Background(), model.ContentRef{BackendID: "s3", Key: "a/b.pdf"}, 36*time.Hour)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if aws.ToString(got.Bucket) != "archive" || aws.ToString(got.Key) != "a/b.pdf" {
		t.Errorf("неверные bucket/key: %s/%s", aws.ToString(got.Bucket), aws.ToString(got.Key))
	}
	if aws.ToInt32(got.RestoreRequest.Days) != 2 {
		t.Errorf("Days: ожидалось 2, получено %d", aws.ToInt32(got.RestoreRequest.Days))
	}
	if got.RestoreRequest.GlacierJobParameters.Tier != types.TierBulk {
		t.Errorf("Tier: ожидался Bulk, получен %s", got.RestoreRequest.GlacierJobParameters.Tier)
	}
}

func TestS3Backend_Restore_AlreadyInProgress(t *testing.T) {
	client := &mockS3{
		restoreFn: func(context.Context, *s3.RestoreObjectInput) (*s3.RestoreObjectOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "RestoreAlreadyInProgress", Message: "in progress"}
		},
	}
	b := NewS3Backend(client, "archive", "Standard", testLogger())

	if err := b.Restore(context.Background(), model.ContentRef{Key: "k"}, time.Hour); err != nil {
		t.Errorf("RestoreAlreadyInProgress должен считаться успехом, получено %v", err)
	}
}

func TestS3Backend_Restore_Error(t *testing.T) {
	cause := &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	client := &mockS3{
		restoreFn: func(context.Context, *s3.RestoreObjectInput) (*s3.RestoreObjectOutput, error) {
			return nil, cause
		},
	}
	b := NewS3Backend(client, "archive", "Standard", testLogger())

	err := b.Restore(context.Background(), model.ContentRef{Key: "k"}, time.Hour)
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "AccessDenied" {
		t.Errorf("ожидалась обёрнутая ошибка AccessDenied, получено %v", err)
	}
}

func TestS3Backend_Status(t *testing.T) {
	until := time.Date(2012, 12, 21, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		out  *s3.HeadObjectOutput
		want model.BackendStatus
	}{
		{
			name: "восстановление выполняется",
			out:  &s3.HeadObjectOutput{Restore: aws.String(`ongoing-request="true"`), StorageClass: types.StorageClassGlacier},
			want: model.BackendStatus{RestoreInProgress: true},
		},
		{
			name: "восстановлено",
			out: &s3.HeadObjectOutput{
				Restore:      aws.String(`ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"`),
				StorageClass: types.StorageClassGlacier,
			},
			want: model.BackendStatus{Downloadable: true, DownloadableUntil: &until},
		},
		{
			name: "архив без запроса",
			out:  &s3.HeadObjectOutput{StorageClass: types.StorageClassDeepArchive},
			want: model.BackendStatus{},
		},
		{
			name: "обычный класс хранения",
			out:  &s3.HeadObjectOutput{StorageClass: types.StorageClassStandard},
			want: model.BackendStatus{Downloadable: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockS3{
				headFn: func(context.Context, *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
					return tt.out, nil
				},
			}
			b := NewS3Backend(client, "archive", "Standard", testLogger())

			st, err := b.Status(context.Background(), model.ContentRef{Key: "k"})
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			assertStatus(t, st, tt.want)
		})
	}
}

func TestParseRestoreHeader_Invalid(t *testing.T) {
	for _, h := range []string{"", "garbage", `ongoing-request="false", expiry-date="not a date"`} {
		if _, err := parseRestoreHeader(h); err == nil {
			t.Errorf("parseRestoreHeader(%q): ожидалась ошибка", h)
		}
	}
}

// assertStatus сравнивает статусы backend-а.
func assertStatus(t *testing.T, got *model.BackendStatus, want model.BackendStatus) {
	t.Helper()
	if got.Downloadable != want.Downloadable || got.RestoreInProgress != want.RestoreInProgress {
		t.Errorf("статус: ожидалось %+v, получено %+v", want, *got)
	}
	switch {
	case want.DownloadableUntil == nil && got.DownloadableUntil != nil:
		t.Errorf("DownloadableUntil: ожидался nil, получено %v", *got.DownloadableUntil)
	case want.DownloadableUntil != nil && (got.DownloadableUntil == nil || !got.DownloadableUntil.Equal(*want.DownloadableUntil)):
		t.Errorf("DownloadableUntil: ожидалось %v, получено %v", *want.DownloadableUntil, got.DownloadableUntil)
	}
}

// --- HTTPBackend ---

// setupMockArchive создаёт mock HTTP-сервер внешнего архива.
func setupMockArchive(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestHTTPBackend_Restore(t *testing.T) {
	var gotDays int32
	server := setupMockArchive(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/objects/doc-1/restore" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("неверный Authorization: %q", r.Header.Get("Authorization"))
		}
		var req restoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("декодирование тела: %v", err)
		}
		gotDays = req.Days
		w.WriteHeader(http.StatusAccepted)
	})

	b, err := NewHTTPBackend(server.URL+"/", "", 5*time.Second, StaticToken("secret"), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Restore(context.Background(), model.ContentRef{Key: "doc-1"}, 72*time.Hour); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if gotDays != 3 {
		t.Errorf("days: ожидалось 3, получено %d", gotDays)
	}
}

func TestHTTPBackend_Restore_Statuses(t *testing.T) {
	tests := []struct {
		code    int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusConflict, false},
		{http.StatusInternalServerError, true},
		{http.StatusForbidden, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			server := setupMockArchive(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			})
			b, err := NewHTTPBackend(server.URL, "", 5*time.Second, nil, testLogger())
			if err != nil {
				t.Fatal(err)
			}

			err = b.Restore(context.Background(), model.ContentRef{Key: "k"}, time.Hour)
			if (err != nil) != tt.wantErr {
				t.Errorf("код %d: ошибка %v, ожидалась ошибка=%v", tt.code, err, tt.wantErr)
			}
		})
	}
}

func TestHTTPBackend_Restore_TokenError(t *testing.T) {
	called := false
	server := setupMockArchive(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	failing := func(context.Context) (string, error) { return "", errors.New("нет токена") }

	b, err := NewHTTPBackend(server.URL, "", 5*time.Second, failing, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Restore(context.Background(), model.ContentRef{Key: "k"}, time.Hour); err == nil {
		t.Error("ожидалась ошибка получения токена")
	}
	if called {
		t.Error("запрос не должен отправляться без токена")
	}
}

func TestHTTPBackend_Status(t *testing.T) {
	until := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		body    string
		want    model.BackendStatus
		wantErr bool
	}{
		{"available", `{"status":"available","available_until":"2026-03-01T00:00:00Z"}`, model.BackendStatus{Downloadable: true, DownloadableUntil: &until}, false},
		{"ongoing", `{"status":"ongoing"}`, model.BackendStatus{RestoreInProgress: true}, false},
		{"archived", `{"status":"archived"}`, model.BackendStatus{}, false},
		{"unknown", `{"status":"lost"}`, model.BackendStatus{}, true},
		{"broken", `{`, model.BackendStatus{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupMockArchive(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					w.WriteHeader(http.StatusMethodNotAllowed)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			})
			b, err := NewHTTPBackend(server.URL, "", 5*time.Second, nil, testLogger())
			if err != nil {
				t.Fatal(err)
			}

			st, err := b.Status(context.Background(), model.ContentRef{Key: "k"})
			if tt.wantErr {
				if err == nil {
					t.Error("ожидалась ошибка")
				}
				return
			}
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			assertStatus(t, st, tt.want)
		})
	}
}

func TestHTTPBackend_Status_ServerError(t *testing.T) {
	server := setupMockArchive(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	b, err := NewHTTPBackend(server.URL, "", 5*time.Second, nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Status(context.Background(), model.ContentRef{Key: "k"}); err == nil {
		t.Error("ожидалась ошибка для 502")
	}
}

func TestNewHTTPBackend_BadCACert(t *testing.T) {
	_, err := NewHTTPBackend("http://localhost", "/nonexistent/ca.pem", time.Second, nil, testLogger())
	if err == nil {
		t.Error("ожидалась ошибка для несуществующего CA-сертификата")
	}
}

// TestNewHTTPBackend_CACertWithoutPEM — файл без сертификатов не принимается молча.
func TestNewHTTPBackend_CACertWithoutPEM(t *testing.T) {
	path := t.TempDir() + "/ca.pem"
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewHTTPBackend("https://localhost", path, time.Second, nil, testLogger()); err == nil {
		t.Error("ожидалась ошибка для CA-файла без PEM-блоков")
	}
}
