package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"portfolio-cms/backend/internal/audit"
	"portfolio-cms/backend/internal/audit/domain"
)

const instrumentationName = "portfolio-cms/security"

// recordEmitter is the slice of otellog.Logger the emitter needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an audit.Emitter that sends security events as OTel log
// records via provider. A nil provider yields a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) audit.Emitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &eventEmitter{logger: provider.Logger(instrumentationName)}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.SecurityEvent) error { return nil }

type eventEmitter struct {
	logger recordEmitter
}

// Emit converts ev to a log record. Metadata becomes the JSON body.
func (e *eventEmitter) Emit(ctx context.Context, ev *domain.SecurityEvent) error {
	if ev == nil {
		return nil
	}
	rec := otellog.Record{}
	rec.SetEventName(string(ev.Type))
	rec.SetSeverity(severityFor(ev.Type))
	rec.SetSeverityText(severityFor(ev.Type).String())
	if !ev.CreatedAt.IsZero() {
		rec.SetTimestamp(ev.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		rec.SetBody(otellog.StringValue(string(b)))
	}
	rec.AddAttributes(
		otellog.String("event_id", ev.ID),
		otellog.String("event_type", string(ev.Type)),
		otellog.String("client_ip", ev.IP),
	)
	if ev.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", ev.UserID))
	}
	if ev.UserAgent != "" {
		rec.AddAttributes(otellog.String("user_agent", ev.UserAgent))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severityFor(t domain.EventType) otellog.Severity {
	switch t {
	case domain.EventSuspiciousActivity, domain.EventTokenInvalid, domain.EventLoginFailure,
		domain.EventRateLimited, domain.EventTwoFactorFailed:
		return otellog.SeverityWarn
	}
	return otellog.SeverityInfo
}
