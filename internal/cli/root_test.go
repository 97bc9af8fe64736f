package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/setrouble/internal/appclient"
	"github.com/g960059/setrouble/internal/config"
)

const (
	alertsBody = `{"schema_version":"v1","alerts":[` +
		`{"local_id":"a1","description":"SELinux is preventing httpd from read access on the file index.html.","count":3},` +
		`{"local_id":"b2","description":"SELinux is preventing sshd from write access on the directory .ssh.","count":1}]}`
	detailBody = `{"schema_version":"v1","alert":{"local_id":"a1",` +
		`"summary":"SELinux is preventing httpd from read access on the file index.html.","report_count":3,` +
		`"plugin_analysis":[` +
		`{"analysis_id":"restorecon","fixable":true,"if_text":"If you want to fix the label.","then_text":"index.html default label should be httpd_sys_content_t.","do_text":"# /sbin/restorecon -v index.html"},` +
		`{"analysis_id":"catchall","fixable":false,"if_text":"If you believe that httpd should be allowed read access.","then_text":"You should report this as a bug.","do_text":"# ausearch -c 'httpd' --raw | audit2allow -M my-httpd"}],` +
		`"audit_event":["type=AVC msg=audit(1700000000.123:42): avc:  denied  { read } for  pid=1234 comm=\"httpd\""]}}`
)

// bridge is a fake setroubleshoot bridge served over httptest. Routes
// registered with handle replace the defaults.
type bridge struct {
	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	srv      *httptest.Server
	requests []string
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	b := &bridge{routes: map[string]http.HandlerFunc{}}
	b.handle("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"schema_version":"v1","generated_at":"2026-10-18T00:00:00Z","status":"ok"}`)
	})
	b.handle("/v1/alerts", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, alertsBody)
	})
	b.handle("/v1/alerts/a1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, detailBody)
	})
	b.handle("/v1/watch", func(w http.ResponseWriter, _ *http.Request) {})
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *bridge) handle(path string, fn http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[path] = fn
}

func (b *bridge) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	fn, ok := b.routes[r.URL.Path]
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
	b.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	fn(w, r)
}

func (b *bridge) requested(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.requests {
		if r == method+" "+path {
			n++
		}
	}
	return n
}

// testEnv runs commands against a bridge with an isolated config dir and
// fix journal.
type testEnv struct {
	bridge  *bridge
	journal string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return &testEnv{
		bridge:  newBridge(t),
		journal: filepath.Join(t.TempDir(), "fixes.db"),
	}
}

func (e *testEnv) options() *RootOptions {
	return &RootOptions{
		LogWriter: io.Discard,
		NewClient: func(cfg config.Config) *appclient.Client {
			return appclient.NewWithClient(e.bridge.srv.URL, e.bridge.srv.Client())
		},
	}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(context.Background(), t, &bytes.Buffer{}, args...)
}

func (e *testEnv) runContext(ctx context.Context, t *testing.T, out io.ReadWriter, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommandWithOptions(e.options())
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--journal-path", e.journal))
	err := cmd.ExecuteContext(ctx)
	if buf, ok := out.(interface{ String() string }); ok {
		return buf.String(), err
	}
	return "", err
}

// syncBuffer is a bytes.Buffer safe for a writer and a reader goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Read(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "list", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootMissingConfigFile(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "list", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "load config")
}

func TestRootHasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"watch", "list", "show", "fix", "fixes"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(io.EOF))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", io.EOF)))
	assert.Equal(t, "x: EOF", WrapExitError(ExitCommandError, "x", io.EOF).Error())
	assert.Equal(t, "bare", NewExitError(ExitFailure, "bare").Error())
}
