package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"allies-service/internal/observability"
	"allies-service/internal/rabbitmq"
)

const AuditRoutingKey = "allies-service.audit"

const auditSchemaVersion = 1

const (
	LevelInfo  = "INFO"
	LevelError = "ERROR"
)

// Envelope matches the log-collector audit_log schema.
type Envelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventID       string       `json:"event_id"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        string       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

// AuditPayload is the payload for audit_log events.
type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type AuditEmitter struct {
	publisher   rabbitmq.Publisher
	service     string
	environment string
	logger      *slog.Logger
}

func NewAuditEmitter(publisher rabbitmq.Publisher, service, environment string, logger *slog.Logger) *AuditEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditEmitter{publisher: publisher, service: service, environment: environment, logger: logger}
}

// EmitAudit records text in the local log and publishes it to the logs
// exchange. Publish failures are logged and otherwise ignored.
func (e *AuditEmitter) EmitAudit(ctx context.Context, level, text, requestID, userID string) {
	if e == nil {
		return
	}
	e.logger.Log(ctx, slogLevel(level), "audit: "+text, "request_id", requestID, "user_id", userID)
	if e.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: auditSchemaVersion,
		EventID:       uuid.NewString(),
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
		},
	}

	if err := e.publisher.Publish(ctx, AuditRoutingKey, envelope); err != nil {
		e.logger.Warn("failed to publish audit log", "err", err, "request_id", requestID)
		return
	}
	observability.IncAuditEventPublished(envelope.EventType)
}

func slogLevel(level string) slog.Level {
	if level == LevelError {
		return slog.LevelWarn
	}
	return slog.LevelDebug
}
