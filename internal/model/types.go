package model

import "time"

// Alert is one SELinux denial as tracked by the client. LocalID is
// assigned by the daemon and is stable for the lifetime of the alert.
type Alert struct {
	LocalID     string
	Description string
	Count       int
	Details     *AlertDetails
}

// AlertDetails is the lazily fetched payload for an alert.
type AlertDetails struct {
	LocalID        string
	Summary        string
	ReportCount    int
	PluginAnalysis []Remediation
	AuditEvent     []string
}

// Remediation is one candidate fix proposed by a setroubleshoot plugin.
type Remediation struct {
	AnalysisID string
	Fixable    bool
	IfText     string
	ThenText   string
	DoText     string
}

// AlertSummary is one row of the bulk alert listing.
type AlertSummary struct {
	LocalID     string
	Description string
	Count       int
}

// Notification is a live push for a new or repeated alert. Count is zero
// when the daemon did not carry a counter.
type Notification struct {
	LocalID string
	Level   string
	Count   int
}

// ConnectionState mirrors the supervisor's view of the daemon link.
// Connecting is true exactly while a connection attempt is outstanding.
type ConnectionState struct {
	Connected  bool
	Connecting bool
	Error      bool
}

// Phase is the supervisor's connection lifecycle position.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseFailed       Phase = "failed"
	PhaseDisconnected Phase = "disconnected"
)

// Snapshot is a point-in-time copy handed to presentation listeners.
// Nothing in it aliases supervisor or store state.
type Snapshot struct {
	ConnectionState
	Phase     Phase
	LastError string
	Entries   []Alert
}

// Clone returns a deep copy of the alert.
func (a Alert) Clone() Alert {
	out := a
	if a.Details != nil {
		d := a.Details.Clone()
		out.Details = &d
	}
	return out
}

// Clone returns a deep copy of the details payload.
func (d AlertDetails) Clone() AlertDetails {
	out := d
	if d.PluginAnalysis != nil {
		out.PluginAnalysis = append([]Remediation(nil), d.PluginAnalysis...)
	}
	if d.AuditEvent != nil {
		out.AuditEvent = append([]string(nil), d.AuditEvent...)
	}
	return out
}

// Remediation looks up a plugin analysis by id.
func (d AlertDetails) Remediation(analysisID string) (Remediation, bool) {
	for _, r := range d.PluginAnalysis {
		if r.AnalysisID == analysisID {
			return r, true
		}
	}
	return Remediation{}, false
}

// FixRequest asks the daemon to apply one remediation.
type FixRequest struct {
	AlertID    string
	AnalysisID string
	RequestRef string
}

// FixOutcome is the daemon's answer to a fix request.
type FixOutcome struct {
	ActionID   string
	ResultCode string
	Output     string
}

type FixResult string

const (
	FixResultCompleted FixResult = "completed"
	FixResultFailed    FixResult = "failed"
)

// FixRecord is one journal row for a fix request issued by the operator.
type FixRecord struct {
	FixID       string
	RequestRef  string
	AlertID     string
	AnalysisID  string
	RequestedAt time.Time
	CompletedAt *time.Time
	ResultCode  FixResult
	ActionID    *string
	Output      *string
	ErrorText   *string
}

// Record builds the journal row for a finished request. A non-nil err
// marks the row failed and keeps only its message.
func (r FixRequest) Record(fixID string, requested, completed time.Time, outcome FixOutcome, err error) FixRecord {
	rec := FixRecord{
		FixID:       fixID,
		RequestRef:  r.RequestRef,
		AlertID:     r.AlertID,
		AnalysisID:  r.AnalysisID,
		RequestedAt: requested.UTC(),
	}
	done := completed.UTC()
	rec.CompletedAt = &done
	if err != nil {
		msg := err.Error()
		rec.ResultCode = FixResultFailed
		rec.ErrorText = &msg
		return rec
	}
	rec.ResultCode = FixResultCompleted
	if outcome.ActionID != "" {
		id := outcome.ActionID
		rec.ActionID = &id
	}
	if outcome.Output != "" {
		out := outcome.Output
		rec.Output = &out
	}
	return rec
}

// Error codes returned by the daemon bridge.
const (
	ErrAlertNotFound    = "E_ALERT_NOT_FOUND"
	ErrAnalysisNotFound = "E_ANALYSIS_NOT_FOUND"
	ErrNotFixable       = "E_NOT_FIXABLE"
	ErrCursorInvalid    = "E_CURSOR_INVALID"
	ErrCursorExpired    = "E_CURSOR_EXPIRED"
	ErrDaemonDown       = "E_DAEMON_UNAVAILABLE"
)
