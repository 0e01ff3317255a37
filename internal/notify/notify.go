// Пакет notify — публикация событий об изменении доступности содержимого.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Имена событий и свойств.
const (
	// EventColdStorageContentAvailable — восстановленное содержимое доступно для скачивания
	EventColdStorageContentAvailable = "coldStorageContentAvailable"

	// PropColdStorageAvailableUntil — до какого момента содержимое доступно (RFC 3339)
	PropColdStorageAvailableUntil = "coldStorageAvailableUntil"
	// PropArchiveLocation — ссылка на скачивание восстановленного содержимого
	PropArchiveLocation = "archiveLocation"
)

// Event — событие, связанное с записью.
type Event struct {
	Name       string            `json:"name"`
	RecordID   string            `json:"record_id"`
	Properties map[string]string `json:"properties"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier — получатель событий.
type Notifier interface {
	Emit(ctx context.Context, event Event) error
}

// Publisher — подмножество *nats.Conn, используемое NATSNotifier.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier публикует события в NATS в формате JSON.
type NATSNotifier struct {
	pub     Publisher
	subject string
	logger  *slog.Logger
}

// NewNATSNotifier создаёт notifier поверх готового соединения.
func NewNATSNotifier(pub Publisher, subject string, logger *slog.Logger) *NATSNotifier {
	return &NATSNotifier{
		pub:     pub,
		subject: subject,
		logger:  logger.With(slog.String("component", "nats_notifier")),
	}
}

// ConnectNATS устанавливает соединение с NATS с бесконечным переподключением.
func ConnectNATS(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Соединение с NATS потеряно", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Соединение с NATS восстановлено", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("подключение к NATS %s: %w", url, err)
	}
	return conn, nil
}

// Emit публикует событие в subject.<name>.
func (n *NATSNotifier) Emit(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("кодирование события %s: %w", event.Name, err)
	}

	subject := n.subject + "." + event.Name
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("публикация события %s в %s: %w", event.Name, subject, err)
	}

	n.logger.Debug("Событие опубликовано",
		slog.String("subject", subject),
		slog.String("record_id", event.RecordID),
	)
	return nil
}

// LogNotifier записывает события в лог. Используется без NATS.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт notifier, пишущий события в лог.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "log_notifier"))}
}

// Emit пишет событие в лог на уровне info.
func (n *LogNotifier) Emit(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("event", event.Name),
		slog.String("record_id", event.RecordID),
	}
	for k, v := range event.Properties {
		attrs = append(attrs, slog.String(k, v))
	}
	n.logger.Info("Событие", attrs...)
	return nil
}

// Multi рассылает событие всем получателям и объединяет ошибки.
type Multi []Notifier

// Emit вызывает Emit каждого получателя.
func (m Multi) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
