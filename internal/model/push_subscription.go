package model

import "time"

// PushSubscription holds a browser push subscription for one station's
// issue alerts.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	StationID string    `gorm:"size:64;not null;index"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
