package models

import "time"

// RigCommand is a best-effort command relayed to a rig's on-device agent.
// The agent pulls pending commands and reports completed/failed against
// the command ID.
type RigCommand struct {
	ID        string `gorm:"primaryKey;size:36"`
	RigID     string `gorm:"size:64;not null;index"`
	Action    string `gorm:"size:32;not null"`
	Params    string `gorm:"type:text"`
	Status    string `gorm:"size:16;default:pending;index"`
	Detail    string `gorm:"size:256"`
	CreatedAt time.Time
	AckedAt   *time.Time
}

// Rig command statuses.
const (
	CommandPending   = "pending"
	CommandCompleted = "completed"
	CommandFailed    = "failed"
)
