package supervisor

import "github.com/cockroachdb/errors"

// Transport failures are marked with one of these before they are logged
// or surfaced through Snapshot.LastError. None of them escape the loop.
var (
	ErrConnectTimeout     = errors.New("connection attempt timed out")
	ErrConnectFailure     = errors.New("connection to daemon failed")
	ErrBulkFetchFailure   = errors.New("listing alerts failed")
	ErrDetailFetchFailure = errors.New("fetching alert details failed")
	ErrFixFailure         = errors.New("fix request failed")
)

func mark(err error, kind error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), kind)
}
