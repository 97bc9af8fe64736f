package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/g960059/setrouble/internal/db"
	"github.com/g960059/setrouble/internal/model"
)

// NewJournal opens a migrated fix journal in a temp dir and returns its path.
func NewJournal(t *testing.T) (*db.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "setrouble-test.db")
	store, err := db.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open test journal: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, path
}

// SeedFix writes a completed or failed journal row.
func SeedFix(t *testing.T, store *db.Store, fixID, alertID, analysisID string, at time.Time, failure string) model.FixRecord {
	t.Helper()
	completed := at.Add(200 * time.Millisecond)
	rec := model.FixRecord{
		FixID:       fixID,
		RequestRef:  "ref-" + fixID,
		AlertID:     alertID,
		AnalysisID:  analysisID,
		RequestedAt: at,
		CompletedAt: &completed,
		ResultCode:  model.FixResultCompleted,
	}
	if failure != "" {
		rec.ResultCode = model.FixResultFailed
		rec.ErrorText = &failure
	} else {
		action := "act-" + fixID
		rec.ActionID = &action
	}
	if err := store.InsertFix(context.Background(), rec); err != nil {
		t.Fatalf("seed fix %s: %v", fixID, err)
	}
	return rec
}
