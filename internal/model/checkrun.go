package model

import "time"

// RunStatus is the lifecycle state of a CheckRun.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in-progress"
	RunStatusCompleted  RunStatus = "completed"
)

// ResultStatus is the outcome recorded for one checklist item.
type ResultStatus string

const (
	ResultStatusDone    ResultStatus = "done"
	ResultStatusIssue   ResultStatus = "issue"
	ResultStatusSkipped ResultStatus = "skipped"
)

// Valid reports whether s is one of the known result statuses.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultStatusDone, ResultStatusIssue, ResultStatusSkipped:
		return true
	}
	return false
}

// CheckRun is one inspection session against an appliance, possibly shared
// by several contributors.
type CheckRun struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	StationID          string     `gorm:"size:64;not null;index:idx_check_runs_station_appliance" json:"stationId"`
	ApplianceID        string     `gorm:"size:64;not null;index:idx_check_runs_station_appliance" json:"applianceId"`
	StartTime          time.Time  `gorm:"not null;index" json:"startTime"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	CompletedBy        string     `gorm:"size:128;not null" json:"completedBy"`
	Contributors       []string   `gorm:"serializer:json" json:"contributors"`
	Status             RunStatus  `gorm:"size:16;not null;index" json:"status"`
	HasIssues          bool       `gorm:"not null" json:"hasIssues"`
	AdditionalComments string     `gorm:"size:2048" json:"additionalComments,omitempty"`
	// Version increments on every update so writers in other processes
	// cannot overwrite each other.
	Version   int       `gorm:"not null;default:1" json:"-"`
	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`

	// Associations
	Results []CheckResult `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"results"`
}

// AddContributor appends name unless it is already present.
// It reports whether the list changed.
func (r *CheckRun) AddContributor(name string) bool {
	for _, c := range r.Contributors {
		if c == name {
			return false
		}
	}
	r.Contributors = append(r.Contributors, name)
	return true
}

// Active reports whether the run is still accepting results.
func (r *CheckRun) Active() bool {
	return r.Status == RunStatusInProgress
}

// CheckResult is the outcome of one checklist item within a run.
// (RunID, ItemID) is unique: a later submission supersedes the earlier one.
type CheckResult struct {
	ID              string       `gorm:"primaryKey;size:36" json:"id"`
	RunID           string       `gorm:"size:36;not null;uniqueIndex:idx_check_results_run_item" json:"runId"`
	ItemID          string       `gorm:"size:64;not null;uniqueIndex:idx_check_results_run_item" json:"itemId"`
	StationID       string       `gorm:"size:64;not null;index" json:"stationId"`
	ItemName        string       `gorm:"size:128" json:"itemName,omitempty"`
	ItemDescription string       `gorm:"size:512" json:"itemDescription,omitempty"`
	Status          ResultStatus `gorm:"size:16;not null" json:"status"`
	Comment         string       `gorm:"size:2048" json:"comment,omitempty"`
	PhotoURL        string       `gorm:"size:512" json:"photoUrl,omitempty"`
	CompletedBy     string       `gorm:"size:128" json:"completedBy,omitempty"`
	CreatedAt       time.Time    `gorm:"not null" json:"createdAt"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updatedAt"`
}

// HasIssues reports whether any of the results is an issue.
func HasIssues(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == ResultStatusIssue {
			return true
		}
	}
	return false
}
