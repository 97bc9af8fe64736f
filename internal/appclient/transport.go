package appclient

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/g960059/setrouble/internal/api"
	"github.com/g960059/setrouble/internal/model"
)

const lineTypeAlert = "alert"

type TransportOptions struct {
	PollInterval    time.Duration
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
	Logger          *zap.Logger
}

// Transport adapts Client to the supervisor's daemon link.
type Transport struct {
	client *Client
	opts   TransportOptions
	logger *zap.Logger
}

func NewTransport(client *Client, opts TransportOptions) *Transport {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{client: client, opts: opts, logger: logger.Named("transport")}
}

func (t *Transport) Init(ctx context.Context) error {
	resp, err := t.client.Health(ctx)
	if err != nil {
		return err
	}
	if status := strings.TrimSpace(resp.Status); status != "" && status != "ok" {
		return &RequestError{Code: model.ErrDaemonDown, Message: "bridge reports status " + status}
	}
	return nil
}

func (t *Transport) GetAlerts(ctx context.Context) ([]model.AlertSummary, error) {
	env, err := t.client.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.AlertSummary, 0, len(env.Alerts))
	for _, a := range env.Alerts {
		out = append(out, model.AlertSummary{LocalID: a.LocalID, Description: a.Description, Count: a.Count})
	}
	return out, nil
}

func (t *Transport) GetAlert(ctx context.Context, localID string) (model.AlertDetails, error) {
	env, err := t.client.GetAlert(ctx, localID)
	if err != nil {
		return model.AlertDetails{}, err
	}
	return DetailsFromAPI(env.Alert), nil
}

// HandleAlert starts a watch on the alerts scope and returns at once. The
// watch ends when ctx is cancelled or the daemon refuses it for good.
func (t *Transport) HandleAlert(ctx context.Context, handler func(model.Notification)) {
	go func() {
		err := t.client.WatchLoop(ctx, WatchLoopOptions{
			Scope:           ScopeAlerts,
			PollInterval:    t.opts.PollInterval,
			RetryMinBackoff: t.opts.RetryMinBackoff,
			RetryMaxBackoff: t.opts.RetryMaxBackoff,
		}, func(line api.WatchLine) error {
			if line.Type != lineTypeAlert || line.Alert == nil || line.Alert.LocalID == "" {
				return nil
			}
			handler(model.Notification{
				LocalID: line.Alert.LocalID,
				Level:   line.Alert.Level,
				Count:   line.Alert.Count,
			})
			return nil
		})
		if err != nil && ctx.Err() == nil {
			t.logger.Error("alert watch stopped", zap.Error(err))
		}
	}()
}

func (t *Transport) RunFix(ctx context.Context, req model.FixRequest) (model.FixOutcome, error) {
	resp, err := t.client.Fix(ctx, req.AlertID, api.FixRequest{
		RequestRef: req.RequestRef,
		AnalysisID: req.AnalysisID,
	})
	if err != nil {
		return model.FixOutcome{}, err
	}
	outcome := model.FixOutcome{ActionID: resp.ActionID, ResultCode: resp.ResultCode}
	if resp.Output != nil {
		outcome.Output = *resp.Output
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != "" {
		return outcome, errors.Newf("fix %s: %s", resp.ResultCode, *resp.ErrorCode)
	}
	return outcome, nil
}

// DetailsFromAPI converts a wire alert detail into the model payload.
func DetailsFromAPI(a api.AlertDetail) model.AlertDetails {
	out := model.AlertDetails{
		LocalID:     a.LocalID,
		Summary:     a.Summary,
		ReportCount: a.ReportCount,
		AuditEvent:  append([]string(nil), a.AuditEvent...),
	}
	for _, p := range a.PluginAnalysis {
		out.PluginAnalysis = append(out.PluginAnalysis, model.Remediation{
			AnalysisID: p.AnalysisID,
			Fixable:    p.Fixable,
			IfText:     p.IfText,
			ThenText:   p.ThenText,
			DoText:     p.DoText,
		})
	}
	return out
}

// DetailsToAPI is the inverse of DetailsFromAPI.
func DetailsToAPI(d model.AlertDetails) api.AlertDetail {
	out := api.AlertDetail{
		LocalID:        d.LocalID,
		Summary:        d.Summary,
		ReportCount:    d.ReportCount,
		PluginAnalysis: make([]api.AnalysisItem, 0, len(d.PluginAnalysis)),
		AuditEvent:     append([]string{}, d.AuditEvent...),
	}
	for _, r := range d.PluginAnalysis {
		out.PluginAnalysis = append(out.PluginAnalysis, api.AnalysisItem{
			AnalysisID: r.AnalysisID,
			Fixable:    r.Fixable,
			IfText:     r.IfText,
			ThenText:   r.ThenText,
			DoText:     r.DoText,
		})
	}
	return out
}
