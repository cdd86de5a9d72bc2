package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"veyra.org/internal/rbac"
)

type stubAuditStore struct {
	records []rbac.AuditRecord
	err     error
}

func (s *stubAuditStore) Append(_ context.Context, rec *rbac.AuditRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, *rec)
	return nil
}

func (s *stubAuditStore) ListByOrg(_ context.Context, orgID string, offset, limit int) ([]rbac.AuditRecord, error) {
	var out []rbac.AuditRecord
	for _, rec := range s.records {
		if rec.OrganizationID == orgID {
			out = append(out, rec)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func TestRecordFillsIdentityAndTimestamp(t *testing.T) {
	store := &stubAuditStore{}
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	trail := NewTrail(store, WithClock(func() time.Time { return fixed }))

	trail.Record(context.Background(), rbac.AuditRecord{
		OrganizationID: "org-1",
		Action:         rbac.AuditLogin,
	})
	if len(store.records) != 1 {
		t.Fatalf("expected one record, got %d", len(store.records))
	}
	rec := store.records[0]
	if rec.ID == "" {
		t.Fatalf("record must be assigned an id")
	}
	if !rec.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected timestamp: %v", rec.CreatedAt)
	}
}

func TestRecordFoldsRequestID(t *testing.T) {
	store := &stubAuditStore{}
	trail := NewTrail(store)

	ctx := WithRequestID(context.Background(), "req-123")
	trail.Record(ctx, rbac.AuditRecord{
		OrganizationID: "org-1",
		Action:         rbac.AuditAccessAllowed,
		Detail:         map[string]string{"permission": "tickets:read:self"},
	})
	rec := store.records[0]
	if rec.Detail["request_id"] != "req-123" {
		t.Fatalf("request id missing from detail: %v", rec.Detail)
	}
	if rec.Detail["permission"] != "tickets:read:self" {
		t.Fatalf("existing detail must be preserved: %v", rec.Detail)
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &stubAuditStore{err: errors.New("disk full")}
	trail := NewTrail(store)

	// Must not panic or propagate; the triggering request goes on.
	trail.Record(context.Background(), rbac.AuditRecord{
		OrganizationID: "org-1",
		Action:         rbac.AuditLogin,
	})
}

func TestQueryPaginates(t *testing.T) {
	store := &stubAuditStore{}
	trail := NewTrail(store)
	for i := 0; i < 5; i++ {
		trail.Record(context.Background(), rbac.AuditRecord{OrganizationID: "org-1", Action: rbac.AuditLogin})
	}

	page, err := trail.Query(context.Background(), "org-1", 1, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page))
	}
	last, err := trail.Query(context.Background(), "org-1", 3, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(last) != 1 {
		t.Fatalf("expected 1 record on the last page, got %d", len(last))
	}
	// Out-of-range page numbers and limits fall back to defaults.
	if _, err := trail.Query(context.Background(), "org-1", -1, 5000); err != nil {
		t.Fatalf("Query with bad paging: %v", err)
	}
}
