package models

import "time"

// Rig is a remotely drivable simulator rig shared by many users.
// Heartbeat and telemetry fields are written by the on-rig agent;
// session fields are owned by the queue orchestrator.
type Rig struct {
	ID                 string    `gorm:"primaryKey;size:64"`
	Name               string    `gorm:"size:128;not null"`
	Claimed            bool      `gorm:"default:false"`
	LastHeartbeat      time.Time `gorm:"index"`
	InCar              bool      `gorm:"default:false"`
	SimulatorConnected bool      `gorm:"default:false"`
	Speed              float64   `gorm:"default:0"`

	SessionState     string `gorm:"size:16;default:idle"`
	SessionDuration  int    `gorm:"default:0"` // seconds
	SessionStartedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
