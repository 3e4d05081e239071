package models

import "time"

// CreditAccount holds a user's credit balance. 100 credits buy one session.
type CreditAccount struct {
	UserID    string `gorm:"primaryKey;size:64"`
	Balance   int    `gorm:"default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
