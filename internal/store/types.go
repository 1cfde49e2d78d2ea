package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist in the requested station.
	ErrNotFound = errors.New("store: record not found")
	// ErrActiveRunExists is returned by CreateRun when the appliance already
	// has an in-progress run.
	ErrActiveRunExists = errors.New("store: appliance already has an active run")
	// ErrStaleRun is returned by UpdateRun when the stored run changed since
	// it was read. The caller re-reads and decides again.
	ErrStaleRun = errors.New("store: check run changed since it was read")
)

// RunFilter narrows ListRuns. StationID is mandatory; the rest are optional.
type RunFilter struct {
	StationID   string
	ApplianceID string
	Start       *time.Time
	End         *time.Time
	WithIssues  bool
}

// matches reports whether a run with the given fields passes the filter.
func (f RunFilter) matches(stationID, applianceID string, start time.Time, hasIssues bool) bool {
	if stationID != f.StationID {
		return false
	}
	if f.ApplianceID != "" && applianceID != f.ApplianceID {
		return false
	}
	if f.Start != nil && start.Before(*f.Start) {
		return false
	}
	if f.End != nil && start.After(*f.End) {
		return false
	}
	if f.WithIssues && !hasIssues {
		return false
	}
	return true
}
