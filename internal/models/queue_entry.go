package models

import "time"

// QueueEntry is a user's claim on a turn at a rig. Waiting entries hold
// contiguous positions 1..N per rig; at most one entry per rig is active.
type QueueEntry struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	RigID    string `gorm:"size:64;not null;index:idx_rig_status"`
	UserID   string `gorm:"size:64;not null;index"`
	Position int
	Status   string `gorm:"size:16;default:waiting;index:idx_rig_status"`

	JoinedAt            time.Time
	BecamePositionOneAt *time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	NotifiedAt          *time.Time
}

// Queue entry statuses.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)
