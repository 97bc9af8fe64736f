package supervisor

import (
	"context"

	"github.com/g960059/setrouble/internal/model"
)

// Transport is the daemon link the supervisor drives.
//
// HandleAlert registers handler for live pushes and must return without
// waiting for any; delivery stops once ctx is cancelled. Pushes are
// at-least-once and may repeat.
type Transport interface {
	Init(ctx context.Context) error
	GetAlerts(ctx context.Context) ([]model.AlertSummary, error)
	GetAlert(ctx context.Context, localID string) (model.AlertDetails, error)
	HandleAlert(ctx context.Context, handler func(model.Notification))
	RunFix(ctx context.Context, req model.FixRequest) (model.FixOutcome, error)
}

// Listener receives a fresh snapshot after every mutation. It runs on the
// supervisor loop and must not block for long.
type Listener func(model.Snapshot)

// FixRecorder journals fix requests. It is called off the loop.
type FixRecorder interface {
	RecordFix(ctx context.Context, rec model.FixRecord) error
}
