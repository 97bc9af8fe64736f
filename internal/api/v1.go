package api

import "time"

const SchemaVersion = "v1"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

// HealthResponse is the bridge liveness answer. Status is "ok" while
// setroubleshootd is reachable.
type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
}

type AlertItem struct {
	LocalID     string `json:"local_id"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

type AlertsEnvelope struct {
	SchemaVersion string      `json:"schema_version"`
	GeneratedAt   time.Time   `json:"generated_at"`
	Alerts        []AlertItem `json:"alerts"`
}

type AnalysisItem struct {
	AnalysisID string `json:"analysis_id"`
	Fixable    bool   `json:"fixable"`
	IfText     string `json:"if_text"`
	ThenText   string `json:"then_text"`
	DoText     string `json:"do_text"`
}

type AlertDetail struct {
	LocalID        string         `json:"local_id"`
	Summary        string         `json:"summary"`
	ReportCount    int            `json:"report_count"`
	PluginAnalysis []AnalysisItem `json:"plugin_analysis"`
	AuditEvent     []string       `json:"audit_event"`
}

type AlertDetailEnvelope struct {
	SchemaVersion string      `json:"schema_version"`
	GeneratedAt   time.Time   `json:"generated_at"`
	Alert         AlertDetail `json:"alert"`
}

// AlertEvent is the payload of an "alert" watch line. Count is omitted by
// daemons that do not track occurrences per push.
type AlertEvent struct {
	LocalID string `json:"local_id"`
	Level   string `json:"level"`
	Count   int    `json:"count,omitempty"`
}

type WatchLine struct {
	SchemaVersion string      `json:"schema_version"`
	GeneratedAt   time.Time   `json:"generated_at"`
	EmittedAt     time.Time   `json:"emitted_at"`
	StreamID      string      `json:"stream_id"`
	Cursor        string      `json:"cursor"`
	Scope         string      `json:"scope"`
	Type          string      `json:"type"`
	Sequence      int64       `json:"sequence"`
	Alert         *AlertEvent `json:"alert,omitempty"`
}

type FixRequest struct {
	RequestRef string `json:"request_ref"`
	AnalysisID string `json:"analysis_id"`
}

type ActionResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	ActionID      string    `json:"action_id"`
	ResultCode    string    `json:"result_code"`
	CompletedAt   *string   `json:"completed_at,omitempty"`
	ErrorCode     *string   `json:"error_code,omitempty"`
	Output        *string   `json:"output,omitempty"`
}
