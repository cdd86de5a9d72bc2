// Package audit is the append-only trail of authorization decisions and
// identity events. Writes are best-effort relative to the operation that
// triggered them: a failing append never blocks or fails the request, but
// the failure itself is reported on the operational error channel.
package audit

import (
	"context"
	"strings"
	"time"

	"veyra.org/internal/ids"
	"veyra.org/internal/obs"
	"veyra.org/internal/rbac"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so decisions
// can be reconstructed per request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Trail records and queries audit entries.
type Trail struct {
	store rbac.AuditStore
	now   func() time.Time
}

// Option configures Trail behavior.
type Option func(*Trail)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(t *Trail) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTrail constructs a Trail on the given store.
func NewTrail(store rbac.AuditStore, opts ...Option) *Trail {
	t := &Trail{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ rbac.AuditRecorder = (*Trail)(nil)

// Record appends one entry, filling ID and CreatedAt, and folding the
// request id from context into the detail map. Store failures are logged
// and swallowed.
func (t *Trail) Record(ctx context.Context, rec rbac.AuditRecord) {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now().UTC()
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		if rec.Detail == nil {
			rec.Detail = map[string]string{}
		}
		rec.Detail["request_id"] = rid
	}
	if err := t.store.Append(ctx, &rec); err != nil {
		obs.LogEvent(map[string]any{
			"level":  "error",
			"msg":    "audit append failed",
			"error":  err.Error(),
			"action": rec.Action,
			"org_id": rec.OrganizationID,
		})
	}
}

// Query returns one page of an organization's trail, newest first.
func (t *Trail) Query(ctx context.Context, organizationID string, page, limit int) ([]rbac.AuditRecord, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 1000 {
		limit = 50
	}
	return t.store.ListByOrg(ctx, organizationID, (page-1)*limit, limit)
}
