package db

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/g960059/setrouble/internal/model"
)

func openStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "fixes.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, ctx
}

func ptrTime(t time.Time) *time.Time {
	v := t
	return &v
}

func ptrStr(s string) *string {
	return &s
}

func TestInsertFixAndGetRoundTrip(t *testing.T) {
	store, ctx := openStore(t)
	requested := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	rec := model.FixRecord{
		FixID:       "fix-1",
		RequestRef:  "ref-1",
		AlertID:     "a1",
		AnalysisID:  "restorecon",
		RequestedAt: requested,
		CompletedAt: ptrTime(requested.Add(time.Second)),
		ResultCode:  model.FixResultCompleted,
		ActionID:    ptrStr("act-1"),
		Output:      ptrStr("Relabeled /srv/www/index.html"),
	}
	if err := store.InsertFix(ctx, rec); err != nil {
		t.Fatalf("insert fix: %v", err)
	}

	got, err := store.GetFix(ctx, "fix-1")
	if err != nil {
		t.Fatalf("get fix: %v", err)
	}
	if !got.RequestedAt.Equal(requested) || got.CompletedAt == nil || !got.CompletedAt.Equal(requested.Add(time.Second)) {
		t.Fatalf("timestamps lost: %+v", got)
	}
	if got.ResultCode != model.FixResultCompleted || got.ActionID == nil || *got.ActionID != "act-1" {
		t.Fatalf("unexpected fix: %+v", got)
	}
	if got.ErrorText != nil {
		t.Fatalf("expected nil error text, got %q", *got.ErrorText)
	}
	if got.Output == nil || *got.Output != "Relabeled /srv/www/index.html" {
		t.Fatalf("unexpected output: %+v", got.Output)
	}

	byRef, err := store.GetFixByRequestRef(ctx, "ref-1")
	if err != nil {
		t.Fatalf("get by request ref: %v", err)
	}
	if byRef.FixID != "fix-1" {
		t.Fatalf("unexpected fix by ref: %+v", byRef)
	}
}

func TestInsertFixDefaultsAndDuplicate(t *testing.T) {
	store, ctx := openStore(t)
	rec := model.FixRecord{FixID: "fix-1", RequestRef: "ref-1", AlertID: "a1", AnalysisID: "catchall"}
	if err := store.InsertFix(ctx, rec); err != nil {
		t.Fatalf("insert fix: %v", err)
	}
	got, err := store.GetFix(ctx, "fix-1")
	if err != nil {
		t.Fatalf("get fix: %v", err)
	}
	if got.RequestedAt.IsZero() || got.ResultCode != model.FixResultFailed || got.CompletedAt != nil {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	rec.FixID = "fix-2"
	if err := store.InsertFix(ctx, rec); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused request ref, got %v", err)
	}
}

func TestGetFixNotFound(t *testing.T) {
	store, ctx := openStore(t)
	if _, err := store.GetFix(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetFixByRequestRef(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordFixRedactsErrorText(t *testing.T) {
	store, ctx := openStore(t)
	err := store.RecordFix(ctx, model.FixRecord{
		FixID:      "fix-1",
		RequestRef: "ref-1",
		AlertID:    "a1",
		AnalysisID: "restorecon",
		ResultCode: model.FixResultFailed,
		ErrorText:  ptrStr("run fix: E_FIX_FAILED: bridge rejected Authorization: Bearer abc.def"),
		Output:     ptrStr("api_key=live-secret-123"),
	})
	if err != nil {
		t.Fatalf("record fix: %v", err)
	}
	got, err := store.GetFix(ctx, "fix-1")
	if err != nil {
		t.Fatalf("get fix: %v", err)
	}
	if got.ErrorText == nil || strings.Contains(*got.ErrorText, "abc.def") || !strings.Contains(*got.ErrorText, "E_FIX_FAILED") {
		t.Fatalf("error text not redacted: %+v", got.ErrorText)
	}
	if got.Output == nil || strings.Contains(*got.Output, "live-secret-123") {
		t.Fatalf("output not redacted: %+v", got.Output)
	}
}

func TestListFixesOrdersNewestFirstAndFilters(t *testing.T) {
	store, ctx := openStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seed := []struct {
		id, alert string
		at        time.Time
	}{
		{"f1", "a1", base},
		{"f2", "b2", base.Add(500 * time.Millisecond)},
		{"f3", "a1", base.Add(time.Second)},
		{"f4", "a1", base.Add(2 * time.Second)},
	}
	for _, s := range seed {
		if err := store.InsertFix(ctx, model.FixRecord{
			FixID: s.id, RequestRef: "ref-" + s.id, AlertID: s.alert, AnalysisID: "restorecon",
			RequestedAt: s.at, ResultCode: model.FixResultCompleted,
		}); err != nil {
			t.Fatalf("insert %s: %v", s.id, err)
		}
	}

	all, err := store.ListFixes(ctx, ListFixesOptions{})
	if err != nil {
		t.Fatalf("list fixes: %v", err)
	}
	var ids []string
	for _, r := range all {
		ids = append(ids, r.FixID)
	}
	if strings.Join(ids, ",") != "f4,f3,f2,f1" {
		t.Fatalf("unexpected order: %v", ids)
	}

	limited, err := store.ListFixes(ctx, ListFixesOptions{AlertID: "a1", Limit: 2})
	if err != nil {
		t.Fatalf("list filtered fixes: %v", err)
	}
	if len(limited) != 2 || limited[0].FixID != "f4" || limited[1].FixID != "f3" {
		t.Fatalf("unexpected filtered list: %+v", limited)
	}
}

func TestPurgeBefore(t *testing.T) {
	store, ctx := openStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		if err := store.InsertFix(ctx, model.FixRecord{
			FixID: id, RequestRef: "ref-" + id, AlertID: "a1", AnalysisID: "x",
			RequestedAt: base.Add(time.Duration(i) * 48 * time.Hour), ResultCode: model.FixResultCompleted,
		}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	n, err := store.PurgeBefore(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
	if _, err := store.GetFix(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old row should be gone, got %v", err)
	}
	if _, err := store.GetFix(ctx, "new"); err != nil {
		t.Fatalf("new row should remain: %v", err)
	}
}
