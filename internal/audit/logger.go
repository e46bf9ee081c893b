package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"portfolio-cms/backend/internal/audit/domain"
	auditrepo "portfolio-cms/backend/internal/audit/repository"
)

// recordTimeout bounds a single async write.
const recordTimeout = 5 * time.Second

// DrainDuration is how long shutdown should wait for in-flight events.
const DrainDuration = recordTimeout

// Event is what callers hand to LogEvent. ID and timestamp are filled in.
type Event struct {
	Type      domain.EventType
	UserID    string
	IP        string
	UserAgent string
	Metadata  map[string]any
}

// EventLogger records security events. LogEvent is fire-and-forget: it never blocks
// on or fails because of the sinks.
type EventLogger interface {
	LogEvent(ctx context.Context, e Event)
}

// Emitter forwards a security event to an external pipeline (OTel logs).
type Emitter interface {
	Emit(ctx context.Context, e *domain.SecurityEvent) error
}

// Logger implements EventLogger over zap, an optional Emitter, an OTel counter and
// an optional repository.
type Logger struct {
	repo    auditrepo.Repository
	emitter Emitter
	counter metric.Int64Counter
	logger  *zap.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

type Option func(*Logger)

// WithRepository persists every event to repo.
func WithRepository(repo auditrepo.Repository) Option {
	return func(l *Logger) { l.repo = repo }
}

// WithEmitter forwards every event to em.
func WithEmitter(em Emitter) Option {
	return func(l *Logger) { l.emitter = em }
}

// WithMeter counts events on security_events_total{type}.
func WithMeter(m metric.Meter) Option {
	return func(l *Logger) {
		if m == nil {
			return
		}
		if c, err := newCounter(m); err == nil {
			l.counter = c
		} else {
			l.logger.Warn("security event counter unavailable", zap.Error(err))
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger returns a Logger. logger may be nil.
func NewLogger(logger *zap.Logger, opts ...Option) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Logger{logger: logger, now: time.Now}
	l.counter, _ = newCounter(noop.NewMeterProvider().Meter("portfolio-cms/audit"))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newCounter(m metric.Meter) (metric.Int64Counter, error) {
	return m.Int64Counter("security_events_total",
		metric.WithDescription("Security events recorded, by type."),
		metric.WithUnit("{event}"),
	)
}

// LogEvent stamps e and records it in a goroutine with its own timeout, so request
// cancellation does not abort the write.
func (l *Logger) LogEvent(ctx context.Context, e Event) {
	ev := l.stamp(e)
	bg := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		rctx, cancel := context.WithTimeout(bg, recordTimeout)
		defer cancel()
		l.Record(rctx, ev)
	}()
}

// Record writes ev to every sink synchronously. Sink failures are logged and dropped.
func (l *Logger) Record(ctx context.Context, ev *domain.SecurityEvent) {
	if ev == nil {
		return
	}
	l.logger.Log(levelFor(ev.Type), "security event",
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("user_id", ev.UserID),
		zap.String("ip", ev.IP),
		zap.String("user_agent", ev.UserAgent),
		zap.Any("metadata", ev.Metadata),
		zap.Time("timestamp", ev.CreatedAt),
	)
	l.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(ev.Type))))
	if l.emitter != nil {
		if err := l.emitter.Emit(ctx, ev); err != nil {
			l.logger.Warn("security event emit failed", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
	if l.repo != nil {
		if err := l.repo.Create(ctx, ev); err != nil {
			l.logger.Error("security event persist failed", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}

// Wait blocks until every event handed to LogEvent so far has been recorded.
func (l *Logger) Wait() {
	l.wg.Wait()
}

func (l *Logger) stamp(e Event) *domain.SecurityEvent {
	ip := e.IP
	if ip == "" {
		ip = "unknown"
	}
	var meta map[string]any
	if len(e.Metadata) > 0 {
		meta = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
	}
	return &domain.SecurityEvent{
		ID:        uuid.New().String(),
		Type:      e.Type,
		UserID:    e.UserID,
		IP:        ip,
		UserAgent: e.UserAgent,
		Metadata:  meta,
		CreatedAt: l.now().UTC(),
	}
}

func levelFor(t domain.EventType) zapcore.Level {
	switch t {
	case domain.EventSuspiciousActivity, domain.EventTokenInvalid, domain.EventLoginFailure,
		domain.EventRateLimited, domain.EventTwoFactorFailed:
		return zap.WarnLevel
	}
	return zap.InfoLevel
}

// Nop discards events.
type Nop struct{}

func (Nop) LogEvent(context.Context, Event) {}
