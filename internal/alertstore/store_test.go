package alertstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/setrouble/internal/model"
)

func details(id, summary string, count int) *model.AlertDetails {
	return &model.AlertDetails{
		LocalID:     id,
		Summary:     summary,
		ReportCount: count,
		PluginAnalysis: []model.Remediation{
			{AnalysisID: "restorecon", Fixable: true, IfText: "if you want to fix the label", ThenText: "restore the label", DoText: "/sbin/restorecon -v /var/www/html/index.html"},
		},
		AuditEvent: []string{"type=AVC msg=audit(1): avc: denied { read } for pid=1 comm=\"httpd\""},
	}
}

func TestUpsertAppendsInOrder(t *testing.T) {
	s := New()
	assert.True(t, s.Upsert("a1", "denied", 1, nil))
	assert.True(t, s.Upsert("a2", "denied", 3, nil))
	assert.True(t, s.Upsert("a3", "denied", 1, nil))

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a1", "a2", "a3"}, []string{snap[0].LocalID, snap[1].LocalID, snap[2].LocalID})
	assert.Nil(t, snap[0].Details)
}

type upsertCall struct {
	desc    string
	count   int
	details *model.AlertDetails
}

func TestUpsertSameIDLastWriteWinsStickyDetails(t *testing.T) {
	tests := []struct {
		name        string
		calls       []upsertCall
		wantDesc    string
		wantCount   int
		wantSummary string
	}{
		{
			name: "bare notifications only",
			calls: []upsertCall{
				{"denied", 1, nil},
				{"denied again", 2, nil},
			},
			wantDesc:  "denied again",
			wantCount: 2,
		},
		{
			name: "details survive a later bare notification",
			calls: []upsertCall{
				{"denied", 1, details("a1", "first", 1)},
				{"denied again", 4, nil},
			},
			wantDesc:    "denied again",
			wantCount:   4,
			wantSummary: "first",
		},
		{
			name: "newer details replace older details",
			calls: []upsertCall{
				{"denied", 1, details("a1", "first", 1)},
				{"denied", 2, nil},
				{"denied", 3, details("a1", "second", 3)},
				{"denied", 2, nil},
			},
			wantDesc:    "denied",
			wantCount:   2,
			wantSummary: "second",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			for _, c := range tt.calls {
				s.Upsert("a1", c.desc, c.count, c.details)
			}
			require.Equal(t, 1, s.Len())
			got, ok := s.Get("a1")
			require.True(t, ok)
			assert.Equal(t, tt.wantDesc, got.Description)
			assert.Equal(t, tt.wantCount, got.Count)
			if tt.wantSummary == "" {
				assert.Nil(t, got.Details)
				return
			}
			require.NotNil(t, got.Details)
			assert.Equal(t, tt.wantSummary, got.Details.Summary)
		})
	}
}

func TestUpsertManyIDsKeepsOneEntryEach(t *testing.T) {
	s := New()
	for round := 1; round <= 3; round++ {
		for i := 0; i < 50; i++ {
			s.Upsert(fmt.Sprintf("id-%d", i), "denied", round, nil)
		}
	}
	snap := s.Snapshot()
	require.Len(t, snap, 50)
	for i, a := range snap {
		assert.Equal(t, fmt.Sprintf("id-%d", i), a.LocalID)
		assert.Equal(t, 3, a.Count)
	}
}

func TestApplyDetailsMergesSummaryAndCount(t *testing.T) {
	s := New()
	s.Upsert("a1", "denied", 1, nil)
	ok := s.ApplyDetails(s.Epoch(), "a1", *details("a1", "SELinux is preventing httpd from read access", 7))
	require.True(t, ok)

	got, _ := s.Get("a1")
	assert.Equal(t, "SELinux is preventing httpd from read access", got.Description)
	assert.Equal(t, 7, got.Count)
	require.NotNil(t, got.Details)
	assert.Len(t, got.Details.PluginAnalysis, 1)
}

func TestApplyDetailsKeepsScalarsWhenPayloadEmpty(t *testing.T) {
	s := New()
	s.Upsert("a1", "denied", 5, nil)
	require.True(t, s.ApplyDetails(s.Epoch(), "a1", model.AlertDetails{LocalID: "a1"}))
	got, _ := s.Get("a1")
	assert.Equal(t, "denied", got.Description)
	assert.Equal(t, 5, got.Count)
	assert.NotNil(t, got.Details)
}

func TestApplyDetailsDropsUnknownID(t *testing.T) {
	s := New()
	s.Upsert("a1", "denied", 1, nil)
	assert.False(t, s.ApplyDetails(s.Epoch(), "missing", *details("missing", "x", 1)))
	assert.Equal(t, 1, s.Len())
}

func TestApplyDetailsDropsResultFromBeforeReset(t *testing.T) {
	s := New()
	s.Upsert("a1", "denied", 1, nil)
	epoch := s.Epoch()
	s.Reset()
	assert.Equal(t, 0, s.Len())

	s.Upsert("a1", "denied", 1, nil)
	assert.False(t, s.ApplyDetails(epoch, "a1", *details("a1", "stale", 1)))
	got, _ := s.Get("a1")
	assert.Nil(t, got.Details)

	assert.True(t, s.ApplyDetails(s.Epoch(), "a1", *details("a1", "fresh", 1)))
}

func TestSnapshotIsIsolatedFromStore(t *testing.T) {
	s := New()
	s.Upsert("a1", "denied", 1, details("a1", "summary", 1))

	snap := s.Snapshot()
	snap[0].Description = "mutated"
	snap[0].Details.AuditEvent[0] = "mutated"
	snap[0].Details.PluginAnalysis[0].Fixable = false

	got, _ := s.Get("a1")
	assert.Equal(t, "denied", got.Description)
	assert.NotEqual(t, "mutated", got.Details.AuditEvent[0])
	assert.True(t, got.Details.PluginAnalysis[0].Fixable)
}

func TestUpsertCopiesCallerDetails(t *testing.T) {
	s := New()
	d := details("a1", "summary", 1)
	s.Upsert("a1", "denied", 1, d)
	d.AuditEvent[0] = "changed by caller"

	got, _ := s.Get("a1")
	assert.NotEqual(t, "changed by caller", got.Details.AuditEvent[0])
}
