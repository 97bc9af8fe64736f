package alertstore

import "github.com/g960059/setrouble/internal/model"

// Store holds the ordered alert collection. It is not safe for concurrent
// use; the supervisor loop owns it.
type Store struct {
	entries []model.Alert
	index   map[string]int
	epoch   uint64
}

func New() *Store {
	return &Store{index: map[string]int{}}
}

// Upsert updates description and count of a known alert and replaces its
// details only when details is non-nil. Unknown alerts are appended.
// It reports whether a new entry was created.
func (s *Store) Upsert(localID, description string, count int, details *model.AlertDetails) bool {
	if idx, ok := s.index[localID]; ok {
		entry := &s.entries[idx]
		entry.Description = description
		entry.Count = count
		if details != nil {
			d := details.Clone()
			entry.Details = &d
		}
		return false
	}
	entry := model.Alert{LocalID: localID, Description: description, Count: count}
	if details != nil {
		d := details.Clone()
		entry.Details = &d
	}
	s.index[localID] = len(s.entries)
	s.entries = append(s.entries, entry)
	return true
}

// ApplyDetails merges a fetched payload. Results taken before the last
// Reset, or for ids no longer present, are dropped and false is returned.
func (s *Store) ApplyDetails(epoch uint64, localID string, details model.AlertDetails) bool {
	if epoch != s.epoch {
		return false
	}
	idx, ok := s.index[localID]
	if !ok {
		return false
	}
	entry := &s.entries[idx]
	if details.Summary != "" {
		entry.Description = details.Summary
	}
	if details.ReportCount > 0 {
		entry.Count = details.ReportCount
	}
	d := details.Clone()
	entry.Details = &d
	return true
}

func (s *Store) Get(localID string) (model.Alert, bool) {
	idx, ok := s.index[localID]
	if !ok {
		return model.Alert{}, false
	}
	return s.entries[idx].Clone(), true
}

// Snapshot returns a deep copy of all alerts in insertion order.
func (s *Store) Snapshot() []model.Alert {
	out := make([]model.Alert, len(s.entries))
	for i, entry := range s.entries {
		out[i] = entry.Clone()
	}
	return out
}

// Reset drops every alert and invalidates in-flight detail results.
func (s *Store) Reset() {
	s.entries = nil
	s.index = map[string]int{}
	s.epoch++
}

func (s *Store) Epoch() uint64 {
	return s.epoch
}

func (s *Store) Len() int {
	return len(s.entries)
}
