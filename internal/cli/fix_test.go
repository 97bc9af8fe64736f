package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/setrouble/internal/api"
	"github.com/g960059/setrouble/internal/db"
	"github.com/g960059/setrouble/internal/model"
	"github.com/g960059/setrouble/internal/testutil"
)

func journalRows(t *testing.T, path string) []model.FixRecord {
	t.Helper()
	store, err := db.Open(context.Background(), path)
	require.NoError(t, err)
	defer store.Close()
	recs, err := store.ListFixes(context.Background(), db.ListFixesOptions{})
	require.NoError(t, err)
	return recs
}

func TestFixRecordsCompletedRequest(t *testing.T) {
	env := newTestEnv(t)
	var got api.FixRequest
	env.bridge.handle("/v1/alerts/a1/fix", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"schema_version":"v1","action_id":"act-1","result_code":"completed","output":"relabeled index.html"}`)
	})

	out, err := env.run(t, "fix", "a1", "restorecon")
	require.NoError(t, err)
	assert.Contains(t, out, "fix restorecon on a1: completed (action act-1)")
	assert.Contains(t, out, "relabeled index.html")
	assert.Equal(t, "restorecon", got.AnalysisID)
	assert.NotEmpty(t, got.RequestRef)

	rows := journalRows(t, env.journal)
	require.Len(t, rows, 1)
	assert.Equal(t, got.RequestRef, rows[0].RequestRef)
	assert.Equal(t, model.FixResultCompleted, rows[0].ResultCode)
	require.NotNil(t, rows[0].ActionID)
	assert.Equal(t, "act-1", *rows[0].ActionID)
	require.NotNil(t, rows[0].CompletedAt)
}

func TestFixRecordsFailedRequest(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.handle("/v1/alerts/a1/fix", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"schema_version":"v1","error":{"code":"E_NOT_FIXABLE","message":"catchall cannot be applied"}}`)
	})

	_, err := env.run(t, "fix", "a1", "catchall")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "E_NOT_FIXABLE")

	rows := journalRows(t, env.journal)
	require.Len(t, rows, 1)
	assert.Equal(t, model.FixResultFailed, rows[0].ResultCode)
	require.NotNil(t, rows[0].ErrorText)
	assert.Contains(t, *rows[0].ErrorText, "E_NOT_FIXABLE")
}

func TestFixJSONAndNoJournal(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.handle("/v1/alerts/a1/fix", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"schema_version":"v1","action_id":"act-2","result_code":"completed"}`)
	})

	out, err := env.run(t, "fix", "a1", "restorecon", "--no-journal", "--format", "json")
	require.NoError(t, err)
	var view FixView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "completed", view.ResultCode)
	assert.Equal(t, "act-2", view.ActionID)
	assert.Empty(t, journalRows(t, env.journal))
}

func TestFixesListsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	store, path := testutil.NewJournal(t)
	env.journal = path
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	testutil.SeedFix(t, store, "f1", "a1", "restorecon", base, "")
	testutil.SeedFix(t, store, "f2", "b2", "catchall", base.Add(time.Minute), "E_NOT_FIXABLE: catchall cannot be applied")

	out, err := env.run(t, "fixes")
	require.NoError(t, err)
	assert.Contains(t, out, "REQUESTED")
	assert.Less(t, strings.Index(out, "catchall"), strings.Index(out, "restorecon"))
	assert.Contains(t, out, "act-f1")
	assert.Contains(t, out, "E_NOT_FIXABLE")

	out, err = env.run(t, "fixes", "--alert", "a1", "--format", "json")
	require.NoError(t, err)
	var views []FixView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "f1", views[0].FixID)
}

func TestFixesEmpty(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "fixes")
	require.NoError(t, err)
	assert.Equal(t, "No fix requests recorded.\n", out)

	out, err = env.run(t, "fixes", "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestFixesPurge(t *testing.T) {
	env := newTestEnv(t)
	store, path := testutil.NewJournal(t)
	env.journal = path
	testutil.SeedFix(t, store, "old", "a1", "restorecon", time.Now().Add(-90*24*time.Hour), "")
	testutil.SeedFix(t, store, "new", "a1", "restorecon", time.Now().Add(-time.Hour), "")

	out, err := env.run(t, "fixes", "purge", "--older-than", "720h")
	require.NoError(t, err)
	assert.Equal(t, "purged 1 fix requests\n", out)

	rows := journalRows(t, env.journal)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].FixID)

	_, err = env.run(t, "fixes", "purge", "--older-than", "0s")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
