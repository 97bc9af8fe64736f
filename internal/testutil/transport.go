package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/g960059/setrouble/internal/model"
)

// Call is one recorded transport invocation.
type Call struct {
	Method string
	Arg    string
}

// FakeTransport is a scriptable daemon link. Zero values answer
// immediately with success and empty payloads.
type FakeTransport struct {
	mu sync.Mutex

	InitErr   error
	InitGate  chan struct{}
	Alerts    []model.AlertSummary
	AlertsErr error
	Details   map[string]model.AlertDetails
	DetailErr map[string]error
	// DetailGate, when set, holds every GetAlert until a value is sent.
	DetailGate chan struct{}
	FixOutcome model.FixOutcome
	FixErr     error
	// FixGate, when set, holds every RunFix until a value is sent.
	FixGate chan struct{}

	calls    []Call
	handlers []func(model.Notification)
	subCtx   []context.Context
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		Details:   map[string]model.AlertDetails{},
		DetailErr: map[string]error{},
	}
}

func (f *FakeTransport) record(method, arg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Arg: arg})
}

func (f *FakeTransport) Init(ctx context.Context) error {
	f.record("init", "")
	f.mu.Lock()
	gate, err := f.InitGate, f.InitErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *FakeTransport) GetAlerts(ctx context.Context) ([]model.AlertSummary, error) {
	f.record("get_alerts", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AlertsErr != nil {
		return nil, f.AlertsErr
	}
	return append([]model.AlertSummary(nil), f.Alerts...), nil
}

func (f *FakeTransport) GetAlert(ctx context.Context, localID string) (model.AlertDetails, error) {
	f.record("get_alert", localID)
	f.mu.Lock()
	gate := f.DetailGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.AlertDetails{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DetailErr[localID]; err != nil {
		return model.AlertDetails{}, err
	}
	d, ok := f.Details[localID]
	if !ok {
		return model.AlertDetails{}, fmt.Errorf("alert %s not found", localID)
	}
	return d, nil
}

func (f *FakeTransport) HandleAlert(ctx context.Context, handler func(model.Notification)) {
	f.record("handle_alert", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	f.subCtx = append(f.subCtx, ctx)
}

func (f *FakeTransport) RunFix(ctx context.Context, req model.FixRequest) (model.FixOutcome, error) {
	f.record("run_fix", req.AlertID+"/"+req.AnalysisID)
	f.mu.Lock()
	gate := f.FixGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.FixOutcome{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FixOutcome, f.FixErr
}

// Push delivers n to every live subscription.
func (f *FakeTransport) Push(n model.Notification) {
	f.mu.Lock()
	var live []func(model.Notification)
	for i, h := range f.handlers {
		if f.subCtx[i].Err() == nil {
			live = append(live, h)
		}
	}
	f.mu.Unlock()
	for _, h := range live {
		h(n)
	}
}

// PushAll delivers n to every handler ever registered, including those of
// cancelled subscriptions, to simulate a late push racing a disconnect.
func (f *FakeTransport) PushAll(n model.Notification) {
	f.mu.Lock()
	handlers := slices.Clone(f.handlers)
	f.mu.Unlock()
	for _, h := range handlers {
		h(n)
	}
}

// SetDetails replaces the payload served for an id.
func (f *FakeTransport) SetDetails(d model.AlertDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Details[d.LocalID] = d
}

// SetAlerts replaces the bulk listing.
func (f *FakeTransport) SetAlerts(alerts []model.AlertSummary, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Alerts = alerts
	f.AlertsErr = err
}

func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts calls of method, optionally restricted to arg.
func (f *FakeTransport) CallCount(method string, arg ...string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method != method {
			continue
		}
		if len(arg) > 0 && c.Arg != arg[0] {
			continue
		}
		n++
	}
	return n
}

// ActiveSubscriptions counts subscriptions whose context is still live.
func (f *FakeTransport) ActiveSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ctx := range f.subCtx {
		if ctx.Err() == nil {
			n++
		}
	}
	return n
}

// Recorder collects snapshots delivered to a supervisor listener.
type Recorder struct {
	mu    sync.Mutex
	snaps []model.Snapshot
}

func (r *Recorder) Listen(s model.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *Recorder) All() []model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Snapshot(nil), r.snaps...)
}

func (r *Recorder) Last() model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return model.Snapshot{}
	}
	return r.snaps[len(r.snaps)-1]
}

// WaitFor blocks until a delivered snapshot satisfies cond and returns it.
func (r *Recorder) WaitFor(t *testing.T, cond func(model.Snapshot) bool, msg string) model.Snapshot {
	t.Helper()
	var found model.Snapshot
	require.Eventually(t, func() bool {
		for _, s := range r.All() {
			if cond(s) {
				found = s
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, msg)
	return found
}
