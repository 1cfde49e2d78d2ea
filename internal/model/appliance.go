package model

import "time"

// Appliance represents a vehicle subject to inspection.
// Identity is (StationID, ID) so two stations may reuse the same id string.
type Appliance struct {
	StationID   string    `gorm:"primaryKey;size:64" json:"stationId"`
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"size:128;not null" json:"name"`
	Description string    `gorm:"size:512" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"-"`
	UpdatedAt   time.Time `gorm:"not null" json:"-"`
}

// ChecklistItem is a single line of a checklist template.
type ChecklistItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order"`
}

// ChecklistTemplate defines what must be checked on one appliance.
type ChecklistTemplate struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	StationID   string          `gorm:"size:64;not null;uniqueIndex:idx_checklist_station_appliance" json:"stationId"`
	ApplianceID string          `gorm:"size:64;not null;uniqueIndex:idx_checklist_station_appliance" json:"applianceId"`
	Items       []ChecklistItem `gorm:"serializer:json" json:"items"`
	CreatedAt   time.Time       `gorm:"not null" json:"-"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updatedAt"`
}
