package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/g960059/setrouble/internal/alertstore"
	"github.com/g960059/setrouble/internal/clock"
	"github.com/g960059/setrouble/internal/model"
)

const DefaultConnectTimeout = 5 * time.Second

type Options struct {
	// ConnectTimeout is how long an attempt may stay outstanding before
	// the error flag is raised. The attempt itself keeps running.
	ConnectTimeout time.Duration
	// RetainOnDisconnect keeps alerts displayed through a disconnect;
	// otherwise the store is cleared when the link drops.
	RetainOnDisconnect    bool
	CoalesceDetailFetches bool
	DetailFetchRate       float64
	DetailFetchBurst      int
	Clock                 clock.Clock
	Logger                *zap.Logger
	FixRecorder           FixRecorder
}

// Supervisor owns the daemon connection lifecycle and the alert store.
// Every state change happens on the goroutine running Run; the exported
// methods only enqueue work for it.
type Supervisor struct {
	transport Transport
	store     *alertstore.Store
	fetcher   *Fetcher
	clock     clock.Clock
	logger    *zap.Logger
	opts      Options

	mu        sync.Mutex
	queue     []func()
	stopped   bool
	wake      chan struct{}
	listeners map[int]Listener
	nextID    int
	fixes     sync.WaitGroup

	// loop-owned
	ctx           context.Context
	state         model.ConnectionState
	phase         model.Phase
	lastErr       error
	timeout       *clock.Timer
	attempt       uint64
	session       uint64
	sessionCancel context.CancelFunc
}

func New(transport Transport, store *alertstore.Store, opts Options) *Supervisor {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if store == nil {
		store = alertstore.New()
	}
	s := &Supervisor{
		transport: transport,
		store:     store,
		clock:     opts.Clock,
		logger:    opts.Logger.Named("supervisor"),
		opts:      opts,
		wake:      make(chan struct{}, 1),
		listeners: map[int]Listener{},
		phase:     model.PhaseIdle,
	}
	s.fetcher = newFetcher(transport, store, opts.Logger.Named("fetcher"), opts, s.post, s.render)
	return s
}

// Run processes supervisor work until ctx is done. It renders once on
// start so listeners see the idle state.
func (s *Supervisor) Run(ctx context.Context) error {
	s.ctx = ctx
	s.render()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			s.fixes.Wait()
			return ctx.Err()
		case <-s.wake:
			for {
				fn := s.dequeue()
				if fn == nil {
					break
				}
				fn()
			}
		}
	}
}

// Subscribe registers a listener and returns its unsubscribe func.
func (s *Supervisor) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Connect starts a connection attempt unless one is outstanding or the
// link is already up.
func (s *Supervisor) Connect() {
	s.post(s.connect)
}

// Disconnect drops the link and abandons any outstanding attempt.
func (s *Supervisor) Disconnect() {
	s.post(func() {
		if s.state.Connecting {
			s.stopTimeout()
			s.attempt++
			s.state.Connecting = false
		}
		s.setDisconnected()
	})
}

// RunFix asks the daemon to apply a remediation without waiting for the
// answer. The returned request ref identifies the request in logs and in
// the fix journal.
func (s *Supervisor) RunFix(alertID, analysisID string) string {
	req := model.FixRequest{AlertID: alertID, AnalysisID: analysisID, RequestRef: uuid.NewString()}
	s.post(func() { s.runFix(req) })
	return req.RequestRef
}

// Snapshot returns the current state as seen by the loop.
func (s *Supervisor) Snapshot(ctx context.Context) (model.Snapshot, error) {
	out := make(chan model.Snapshot, 1)
	s.post(func() { out <- s.snapshot() })
	select {
	case snap := <-out:
		return snap, nil
	case <-ctx.Done():
		return model.Snapshot{}, ctx.Err()
	}
}

func (s *Supervisor) connect() {
	if s.state.Connecting || s.state.Connected {
		return
	}
	s.attempt++
	attempt := s.attempt
	s.state.Connecting = true
	s.phase = model.PhaseConnecting
	s.timeout = s.clock.AfterFunc(s.opts.ConnectTimeout, func() {
		s.post(func() { s.onConnectTimeout(attempt) })
	})
	s.logger.Debug("connecting to daemon", zap.Uint64("attempt", attempt))
	s.render()

	ctx := s.ctx
	go func() {
		err := s.transport.Init(ctx)
		s.post(func() { s.onInit(attempt, err) })
	}()
}

func (s *Supervisor) onConnectTimeout(attempt uint64) {
	if attempt != s.attempt || !s.state.Connecting {
		return
	}
	s.timeout = nil
	s.state.Error = true
	s.lastErr = errors.Mark(errors.Newf("no answer from daemon after %s", s.opts.ConnectTimeout), ErrConnectTimeout)
	s.logger.Warn("daemon connection still pending", zap.Duration("timeout", s.opts.ConnectTimeout))
	s.render()
}

func (s *Supervisor) onInit(attempt uint64, err error) {
	if attempt != s.attempt || !s.state.Connecting {
		return
	}
	s.stopTimeout()
	s.state.Connecting = false
	if err != nil {
		s.state.Connected = false
		s.state.Error = true
		s.phase = model.PhaseFailed
		s.lastErr = mark(err, ErrConnectFailure, "init daemon connection")
		s.logger.Error("unable to connect to daemon", zap.Error(s.lastErr))
		s.render()
		return
	}

	s.state.Connected = true
	s.state.Error = false
	s.phase = model.PhaseConnected
	s.lastErr = nil
	s.logger.Info("connected to daemon")
	s.render()

	s.session++
	session := s.session
	subCtx, cancel := context.WithCancel(s.ctx)
	s.sessionCancel = cancel

	// Subscribe before listing so nothing raised in between is missed;
	// the resulting duplicates are absorbed by the store upsert.
	s.transport.HandleAlert(subCtx, func(n model.Notification) {
		s.post(func() { s.onNotification(session, n) })
	})
	ctx := s.ctx
	go func() {
		alerts, err := s.transport.GetAlerts(ctx)
		s.post(func() { s.onAlertsListed(session, alerts, err) })
	}()
}

func (s *Supervisor) onAlertsListed(session uint64, alerts []model.AlertSummary, err error) {
	if session != s.session || !s.state.Connected {
		return
	}
	if err != nil {
		s.lastErr = mark(err, ErrBulkFetchFailure, "get alerts")
		s.logger.Error("unable to get setroubleshootd alerts", zap.Error(s.lastErr))
		s.setDisconnected()
		return
	}
	for _, a := range alerts {
		s.store.Upsert(a.LocalID, a.Description, a.Count, nil)
	}
	s.logger.Debug("listed alerts", zap.Int("count", len(alerts)))
	s.render()
	// The listing carries no details, so every entry is refreshed.
	for _, a := range alerts {
		s.fetcher.Fetch(s.ctx, a.LocalID)
	}
}

func (s *Supervisor) onNotification(session uint64, n model.Notification) {
	if session != s.session || !s.state.Connected {
		return
	}
	count := n.Count
	if count <= 0 {
		count = 1
		if known, ok := s.store.Get(n.LocalID); ok {
			count = known.Count
		}
	}
	created := s.store.Upsert(n.LocalID, n.Level, count, nil)
	s.logger.Debug("alert notification",
		zap.String("local_id", n.LocalID),
		zap.String("level", n.Level),
		zap.Bool("new", created))
	s.render()
	s.fetcher.Fetch(s.ctx, n.LocalID)
}

func (s *Supervisor) setDisconnected() {
	if s.sessionCancel != nil {
		s.sessionCancel()
		s.sessionCancel = nil
	}
	s.session++
	s.state.Connected = false
	s.phase = model.PhaseDisconnected
	if !s.opts.RetainOnDisconnect {
		s.store.Reset()
	}
	s.render()
}

func (s *Supervisor) runFix(req model.FixRequest) {
	ctx := s.ctx
	logger := s.logger.With(
		zap.String("alert_id", req.AlertID),
		zap.String("analysis_id", req.AnalysisID),
		zap.String("request_ref", req.RequestRef))
	if alert, ok := s.store.Get(req.AlertID); ok && alert.Details != nil {
		if r, found := alert.Details.Remediation(req.AnalysisID); found && !r.Fixable {
			logger.Warn("requested solution is not marked fixable")
		}
	}
	recorder := s.opts.FixRecorder
	now := s.clock.Now
	s.fixes.Add(1)
	go func() {
		defer s.fixes.Done()
		requested := now()
		outcome, err := s.transport.RunFix(ctx, req)
		if err != nil {
			err = mark(err, ErrFixFailure, "run fix")
			logger.Error("fix request failed", zap.Error(err))
		} else {
			logger.Info("fix request completed",
				zap.String("action_id", outcome.ActionID),
				zap.String("result_code", outcome.ResultCode))
		}
		rec := req.Record(uuid.NewString(), requested, now(), outcome, err)
		if recorder == nil {
			return
		}
		if err := recorder.RecordFix(context.WithoutCancel(ctx), rec); err != nil {
			logger.Warn("unable to record fix request", zap.Error(err))
		}
	}()
}

func (s *Supervisor) stopTimeout() {
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
}

func (s *Supervisor) snapshot() model.Snapshot {
	snap := model.Snapshot{
		ConnectionState: s.state,
		Phase:           s.phase,
		Entries:         s.store.Snapshot(),
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

func (s *Supervisor) render() {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	for _, l := range listeners {
		l(s.snapshot())
	}
}

func (s *Supervisor) post(fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) dequeue() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	fn := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return fn
}

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	s.stopTimeout()
	if s.sessionCancel != nil {
		s.sessionCancel()
		s.sessionCancel = nil
	}
}
