package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockPublisher — mock Publisher.
type mockPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (m *mockPublisher) Publish(subject string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.subjects = append(m.subjects, subject)
	m.payloads = append(m.payloads, data)
	return nil
}

func TestNATSNotifier_Emit(t *testing.T) {
	pub := &mockPublisher{}
	n := NewNATSNotifier(pub, "coldstorage.events", testLogger())

	ev := Event{
		Name:     EventColdStorageContentAvailable,
		RecordID: "rec-1",
		Properties: map[string]string{
			PropColdStorageAvailableUntil: "2026-02-01T00:00:00Z",
			PropArchiveLocation:           "http://localhost:8005/api/v1/records/rec-1/content/coldContent",
		},
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := n.Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if len(pub.subjects) != 1 || pub.subjects[0] != "coldstorage.events.coldStorageContentAvailable" {
		t.Fatalf("subject: получено %v", pub.subjects)
	}

	var got Event
	if err := json.Unmarshal(pub.payloads[0], &got); err != nil {
		t.Fatalf("декодирование: %v", err)
	}
	if got.RecordID != "rec-1" || got.Properties[PropColdStorageAvailableUntil] != "2026-02-01T00:00:00Z" {
		t.Errorf("событие: получено %+v", got)
	}
}

func TestNATSNotifier_PublishError(t *testing.T) {
	pub := &mockPublisher{err: errors.New("nats: connection closed")}
	n := NewNATSNotifier(pub, "coldstorage.events", testLogger())

	if err := n.Emit(context.Background(), Event{Name: "x"}); err == nil {
		t.Error("ожидалась ошибка публикации")
	}
}

// recordingNotifier запоминает события.
type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Emit(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMulti_Emit(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("сбой")}
	c := &recordingNotifier{}

	err := Multi{a, b, c, NewLogNotifier(testLogger())}.Emit(context.Background(), Event{Name: "e"})
	if err == nil {
		t.Error("ожидалась ошибка от второго получателя")
	}
	if len(a.events) != 1 || len(c.events) != 1 {
		t.Error("событие должно дойти до всех получателей")
	}
}
