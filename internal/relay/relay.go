// Package relay persists best-effort commands for rig agents. Commands
// are rows; the agent pulls pending ones and reports completed or failed
// against the command ID. Delivery is best-effort: a lost command is a
// logged warning, never a rolled-back ledger mutation.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tverberg/pitlane/internal/models"
	"gorm.io/gorm"
)

// Defaults for the caller-side acknowledgment poll.
const (
	DefaultAwaitAttempts = 10
	DefaultAwaitInterval = time.Second
)

// ErrAwaitTimeout is returned when a command is not acknowledged within
// the polling budget.
var ErrAwaitTimeout = errors.New("relay: command not acknowledged in time")

// Dispatch records a command for the rig's agent and returns it.
func Dispatch(db *gorm.DB, rigID, action string, params map[string]interface{}) (*models.RigCommand, error) {
	if rigID == "" {
		return nil, fmt.Errorf("relay: rigID is required")
	}
	if action == "" {
		return nil, fmt.Errorf("relay: action is required")
	}

	encoded := "{}"
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("relay: marshal params for %s: %w", action, err)
		}
		encoded = string(data)
	}

	cmd := models.RigCommand{
		ID:        uuid.NewString(),
		RigID:     rigID,
		Action:    action,
		Params:    encoded,
		Status:    models.CommandPending,
		CreatedAt: time.Now(),
	}
	if err := db.Create(&cmd).Error; err != nil {
		return nil, fmt.Errorf("relay: dispatch %s to rig %s: %w", action, rigID, err)
	}
	return &cmd, nil
}

// Pending returns unacknowledged commands for a rig, oldest first.
func Pending(db *gorm.DB, rigID string) ([]models.RigCommand, error) {
	if rigID == "" {
		return nil, fmt.Errorf("relay: rigID is required")
	}
	var cmds []models.RigCommand
	if err := db.Where("rig_id = ? AND status = ?", rigID, models.CommandPending).
		Order("created_at ASC").Find(&cmds).Error; err != nil {
		return nil, fmt.Errorf("relay: pending for rig %s: %w", rigID, err)
	}
	return cmds, nil
}

// Ack records the agent's completed/failed report for a command.
func Ack(db *gorm.DB, commandID, status, detail string) error {
	if commandID == "" {
		return fmt.Errorf("relay: commandID is required")
	}
	if status != models.CommandCompleted && status != models.CommandFailed {
		return fmt.Errorf("relay: status must be %s or %s, got %q",
			models.CommandCompleted, models.CommandFailed, status)
	}

	result := db.Model(&models.RigCommand{}).
		Where("id = ? AND status = ?", commandID, models.CommandPending).
		Updates(map[string]interface{}{
			"status":   status,
			"detail":   detail,
			"acked_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("relay: ack %s: %w", commandID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("relay: command %s not found or already acknowledged", commandID)
	}
	return nil
}

// ExpirePending marks every pending command for a rig as failed. Used
// when a forced leave supersedes whatever the agent had in flight.
func ExpirePending(db *gorm.DB, rigID, detail string) (int64, error) {
	if rigID == "" {
		return 0, fmt.Errorf("relay: rigID is required")
	}
	result := db.Model(&models.RigCommand{}).
		Where("rig_id = ? AND status = ?", rigID, models.CommandPending).
		Updates(map[string]interface{}{
			"status":   models.CommandFailed,
			"detail":   detail,
			"acked_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("relay: expire pending for rig %s: %w", rigID, result.Error)
	}
	return result.RowsAffected, nil
}

// Await polls until the command is acknowledged, the attempt budget runs
// out, or ctx is cancelled. The timeout is caller-side only; the command
// row stays pending for the agent regardless.
func Await(ctx context.Context, db *gorm.DB, commandID string, attempts int, interval time.Duration) (*models.RigCommand, error) {
	if attempts <= 0 {
		attempts = DefaultAwaitAttempts
	}
	if interval <= 0 {
		interval = DefaultAwaitInterval
	}

	for i := 0; i < attempts; i++ {
		var cmd models.RigCommand
		if err := db.Where("id = ?", commandID).First(&cmd).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("relay: command %s not found", commandID)
			}
			return nil, fmt.Errorf("relay: await %s: %w", commandID, err)
		}
		if cmd.Status != models.CommandPending {
			return &cmd, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, ErrAwaitTimeout
}
