package model

import "time"

// Station is the tenant boundary. Every other record carries a StationID.
type Station struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	BrigadeID string    `gorm:"size:64;index" json:"brigadeId,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`
}
