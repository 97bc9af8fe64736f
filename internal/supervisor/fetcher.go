package supervisor

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/g960059/setrouble/internal/alertstore"
	"github.com/g960059/setrouble/internal/model"
)

// Fetcher issues per-alert detail requests and merges the results back on
// the supervisor loop. All methods except the request goroutine run on
// the loop.
type Fetcher struct {
	transport Transport
	store     *alertstore.Store
	logger    *zap.Logger
	limiter   *rate.Limiter
	post      func(func())
	changed   func()

	// coalesce keeps at most one request in flight per id; the value
	// records whether another trigger arrived meanwhile.
	coalesce bool
	inFlight map[string]bool
}

func newFetcher(transport Transport, store *alertstore.Store, logger *zap.Logger, opts Options, post func(func()), changed func()) *Fetcher {
	limit := rate.Inf
	if opts.DetailFetchRate > 0 {
		limit = rate.Limit(opts.DetailFetchRate)
	}
	burst := opts.DetailFetchBurst
	if burst <= 0 {
		burst = 1
	}
	return &Fetcher{
		transport: transport,
		store:     store,
		logger:    logger,
		limiter:   rate.NewLimiter(limit, burst),
		post:      post,
		changed:   changed,
		coalesce:  opts.CoalesceDetailFetches,
		inFlight:  map[string]bool{},
	}
}

// Fetch requests details for localID. Results taken before a store reset
// are discarded on arrival.
func (f *Fetcher) Fetch(ctx context.Context, localID string) {
	if f.coalesce {
		if _, busy := f.inFlight[localID]; busy {
			f.inFlight[localID] = true
			return
		}
		f.inFlight[localID] = false
	}
	epoch := f.store.Epoch()
	go func() {
		if err := f.limiter.Wait(ctx); err != nil {
			f.post(func() { f.complete(ctx, localID, epoch, model.AlertDetails{}, err) })
			return
		}
		details, err := f.transport.GetAlert(ctx, localID)
		f.post(func() { f.complete(ctx, localID, epoch, details, err) })
	}()
}

func (f *Fetcher) complete(ctx context.Context, localID string, epoch uint64, details model.AlertDetails, err error) {
	switch {
	case err != nil:
		f.logger.Warn("unable to get alert details",
			zap.String("local_id", localID),
			zap.Error(mark(err, ErrDetailFetchFailure, "get alert "+localID)))
	case f.store.ApplyDetails(epoch, localID, details):
		f.changed()
	default:
		f.logger.Debug("dropped stale alert details", zap.String("local_id", localID))
	}

	if !f.coalesce {
		return
	}
	dirty := f.inFlight[localID]
	delete(f.inFlight, localID)
	if dirty && ctx.Err() == nil {
		if _, known := f.store.Get(localID); known {
			f.Fetch(ctx, localID)
		}
	}
}
