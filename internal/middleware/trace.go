package middleware

import (
	"context"
	"strings"
	"unicode"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// LocalCorrelationID holds the request's correlation id.
	LocalCorrelationID = "correlation_id"

	correlationHeader   = "X-Correlation-ID"
	maxCorrelationIDLen = 64
)

// Trace names the request and caller behind a unit of work. It travels with
// contexts that outlive the request, such as chat sockets and notification
// streams, so their logs can be joined back to the request that opened them.
type Trace struct {
	CorrelationID string
	UserID        string
}

type traceKey struct{}

// CorrelationID assigns every request a correlation id, honouring a sane
// X-Correlation-ID or X-Request-ID from the client.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := acceptCorrelationID(c.Get(correlationHeader))
		if id == "" {
			id = acceptCorrelationID(c.Get("X-Request-ID"))
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(LocalCorrelationID, id)
		c.Set(correlationHeader, id)
		c.SetUserContext(WithTrace(c.UserContext(), Trace{CorrelationID: id}))
		return c.Next()
	}
}

// acceptCorrelationID rejects ids that would pollute log lines.
func acceptCorrelationID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxCorrelationIDLen {
		return ""
	}
	for _, r := range id {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.') {
			return ""
		}
	}
	return id
}

// RequestTrace returns the trace of the active request. The user id is only
// present once an auth guard has run.
func RequestTrace(c *fiber.Ctx) Trace {
	if c == nil {
		return Trace{}
	}
	trace := TraceFromContext(c.UserContext())
	if id, ok := c.Locals(LocalCorrelationID).(string); ok && id != "" {
		trace.CorrelationID = id
	}
	if uid, ok := c.Locals(LocalUserID).(string); ok && uid != "" {
		trace.UserID = uid
	}
	return trace
}

// WithTrace attaches trace to ctx.
func WithTrace(ctx context.Context, trace Trace) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, trace)
}

// TraceFromContext returns the trace carried by ctx, if any.
func TraceFromContext(ctx context.Context) Trace {
	if ctx == nil {
		return Trace{}
	}
	trace, _ := ctx.Value(traceKey{}).(Trace)
	return trace
}

// Logger annotates base with the trace's non-empty fields.
func (t Trace) Logger(base zerolog.Logger) zerolog.Logger {
	if t.CorrelationID == "" && t.UserID == "" {
		return base
	}
	builder := base.With()
	if t.CorrelationID != "" {
		builder = builder.Str("correlation_id", t.CorrelationID)
	}
	if t.UserID != "" {
		builder = builder.Str("user_id", t.UserID)
	}
	return builder.Logger()
}
