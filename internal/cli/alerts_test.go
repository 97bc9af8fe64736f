package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/setrouble/internal/api"
	"github.com/g960059/setrouble/internal/render"
)

func TestListText(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "list")
	require.NoError(t, err)

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "DESCRIPTION")
	assert.Regexp(t, `a1\s+3\s+SELinux is preventing httpd`, out)
	assert.Regexp(t, `b2\s+1\s+SELinux is preventing sshd`, out)
}

func TestListJSON(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "list", "--format", "json")
	require.NoError(t, err)

	var got api.AlertsEnvelope
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Alerts, 2)
	assert.Equal(t, "a1", got.Alerts[0].LocalID)
	assert.Equal(t, 3, got.Alerts[0].Count)
}

func TestListEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.handle("/v1/alerts", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"schema_version":"v1","alerts":[]}`)
	})

	out, err := env.run(t, "list")
	require.NoError(t, err)
	assert.Equal(t, render.MsgNoAlerts+"\n", out)

	out, err = env.run(t, "list", "--format", "json")
	require.NoError(t, err)
	var got api.AlertsEnvelope
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.NotNil(t, got.Alerts)
	assert.Empty(t, got.Alerts)
	assert.Contains(t, out, `"alerts": []`)
}

func TestListDaemonError(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.handle("/v1/alerts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"schema_version":"v1","error":{"code":"E_DAEMON_UNAVAILABLE","message":"setroubleshootd is not running"}}`)
	})

	_, err := env.run(t, "list")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "E_DAEMON_UNAVAILABLE")
}

func TestShowText(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "show", "a1")
	require.NoError(t, err)

	assert.Contains(t, out, "SELinux is preventing httpd from read access")
	assert.Contains(t, out, "3 occurrences")
	assert.Contains(t, out, "id: a1")
	assert.Contains(t, out, "If you want to fix the label.")
	assert.Contains(t, out, render.MsgApplyFix+" (restorecon)")
	assert.Contains(t, out, render.MsgCannotFix)
	assert.Contains(t, out, "type=AVC")
	assert.NotContains(t, out, "\x1b[", "non-terminal output must be plain")
}

func TestShowJSON(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "show", "a1", "--format", "json")
	require.NoError(t, err)

	var got api.AlertDetailEnvelope
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "a1", got.Alert.LocalID)
	require.Len(t, got.Alert.PluginAnalysis, 2)
	assert.True(t, got.Alert.PluginAnalysis[0].Fixable)
}

func TestShowUnknownAlert(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.handle("/v1/alerts/zz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"schema_version":"v1","error":{"code":"E_ALERT_NOT_FOUND","message":"no alert zz"}}`)
	})

	_, err := env.run(t, "show", "zz")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "E_ALERT_NOT_FOUND")
}

func TestShowRequiresOneArg(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "show")
	require.Error(t, err)
}
