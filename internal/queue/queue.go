// Package queue implements the ordered waiting line and timed-session
// orchestration for rigs. The row store is the single source of truth;
// every operation is a short read-check-write round trip and every read
// runs the reconciliation sweep first.
package queue

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tverberg/pitlane/internal/credits"
	"github.com/tverberg/pitlane/internal/liveness"
	"github.com/tverberg/pitlane/internal/models"
	"github.com/tverberg/pitlane/internal/relay"
	"github.com/tverberg/pitlane/internal/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// withLock takes a row lock where the backend supports one. SQLite
// serializes the whole database, so no clause is needed there.
func withLock(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// loadRig fetches and locks the rig row, serializing queue mutations per rig.
func loadRig(tx *gorm.DB, rigID string) (*models.Rig, error) {
	var rig models.Rig
	if err := withLock(tx).Where("id = ?", rigID).First(&rig).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("rig %s not found", rigID)
		}
		return nil, internal(err, "queue: load rig %s", rigID)
	}
	return &rig, nil
}

// Join debits the session fee and appends the user to the rig's waiting
// line. The debit and the insert commit or fail together.
func Join(db *gorm.DB, rigID, userID string) (*models.QueueEntry, error) {
	if rigID == "" || userID == "" {
		return nil, precondition("rig and user are required")
	}

	var entry models.QueueEntry
	now := time.Now()
	err := db.Transaction(func(tx *gorm.DB) error {
		rig, err := loadRig(tx, rigID)
		if err != nil {
			return err
		}
		if !rig.Claimed {
			return precondition("rig %s is not claimed", rigID)
		}
		if !liveness.Online(rig, now) {
			return precondition("rig %s is offline", rigID)
		}

		var existing int64
		if err := tx.Model(&models.QueueEntry{}).
			Where("rig_id = ? AND user_id = ? AND status IN ?",
				rigID, userID, []string{models.StatusWaiting, models.StatusActive}).
			Count(&existing).Error; err != nil {
			return internal(err, "queue: check existing entry for %s", userID)
		}
		if existing > 0 {
			return conflict("user %s is already queued on rig %s", userID, rigID)
		}

		if _, err := credits.Debit(tx, userID, credits.SessionFee); err != nil {
			if errors.Is(err, credits.ErrInsufficientCredits) {
				return insufficient("user %s needs %d credits to join", userID, credits.SessionFee)
			}
			return internal(err, "queue: debit join fee for %s", userID)
		}

		var waiting int64
		if err := tx.Model(&models.QueueEntry{}).
			Where("rig_id = ? AND status = ?", rigID, models.StatusWaiting).
			Count(&waiting).Error; err != nil {
			return internal(err, "queue: count waiting entries")
		}

		entry = models.QueueEntry{
			RigID:    rigID,
			UserID:   userID,
			Position: int(waiting) + 1,
			Status:   models.StatusWaiting,
			JoinedAt: now,
		}
		if entry.Position == 1 {
			entry.BecamePositionOneAt = &now
		}
		if err := tx.Create(&entry).Error; err != nil {
			return internal(err, "queue: create entry for %s", userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Activate grants the rig to the front-of-line user: the entry turns
// active, leaves the waiting sequence, and the session clock is armed
// pending movement.
func Activate(db *gorm.DB, rigID, userID string, duration time.Duration) (*models.QueueEntry, error) {
	if rigID == "" || userID == "" {
		return nil, precondition("rig and user are required")
	}

	var entry models.QueueEntry
	now := time.Now()
	err := db.Transaction(func(tx *gorm.DB) error {
		rig, err := loadRig(tx, rigID)
		if err != nil {
			return err
		}

		if err := tx.Where("rig_id = ? AND user_id = ? AND status = ?",
			rigID, userID, models.StatusWaiting).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("user %s has no waiting entry on rig %s", userID, rigID)
			}
			return internal(err, "queue: load entry for %s", userID)
		}
		if entry.Position != 1 {
			return conflict("user %s is at position %d; only position 1 can activate", userID, entry.Position)
		}

		if !liveness.Online(rig, now) {
			return precondition("rig %s is offline", rigID)
		}
		if !rig.SimulatorConnected {
			return precondition("rig %s has no simulator connection", rigID)
		}
		if rig.InCar {
			return precondition("rig %s is still occupied", rigID)
		}
		if session.FromRig(rig).State != session.StateIdle {
			return precondition("a session is still active on rig %s", rigID)
		}

		// Single-active invariant is enforced here, not by the schema.
		var active int64
		if err := tx.Model(&models.QueueEntry{}).
			Where("rig_id = ? AND status = ?", rigID, models.StatusActive).
			Count(&active).Error; err != nil {
			return internal(err, "queue: count active entries")
		}
		if active > 0 {
			return precondition("another turn is already active on rig %s", rigID)
		}

		if err := tx.Model(&models.QueueEntry{}).Where("id = ?", entry.ID).
			Updates(map[string]interface{}{
				"status":     models.StatusActive,
				"started_at": now,
				"position":   0,
			}).Error; err != nil {
			return internal(err, "queue: activate entry %d", entry.ID)
		}
		entry.Status = models.StatusActive
		entry.StartedAt = &now
		entry.Position = 0

		// Close the gap: everyone behind moves up one slot, and the new
		// head gets a fresh activation grace window.
		if err := shiftWaitingDown(tx, rigID, 1, now); err != nil {
			return err
		}

		clock := session.Pending(duration)
		if err := tx.Model(&models.Rig{}).Where("id = ?", rigID).
			Updates(clock.Columns()).Error; err != nil {
			return internal(err, "queue: arm session clock on rig %s", rigID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Complete ends the rig's active turn, if any, and clears the session
// clock. Completing a rig with no active turn is a no-op success.
func Complete(db *gorm.DB, rigID string) error {
	if rigID == "" {
		return precondition("rig is required")
	}

	now := time.Now()
	return db.Transaction(func(tx *gorm.DB) error {
		if _, err := loadRig(tx, rigID); err != nil {
			return err
		}

		var entry models.QueueEntry
		if err := tx.Where("rig_id = ? AND status = ?", rigID, models.StatusActive).
			First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return internal(err, "queue: load active entry on rig %s", rigID)
		}

		if err := tx.Model(&models.QueueEntry{}).Where("id = ?", entry.ID).
			Updates(map[string]interface{}{
				"status":       models.StatusCompleted,
				"completed_at": now,
			}).Error; err != nil {
			return internal(err, "queue: complete entry %d", entry.ID)
		}

		if err := tx.Model(&models.Rig{}).Where("id = ?", rigID).
			Updates(session.Idle().Columns()).Error; err != nil {
			return internal(err, "queue: clear session clock on rig %s", rigID)
		}

		// The next driver's activation window starts now, not when they
		// first reached the head of the line.
		return stampHead(tx, rigID, now)
	})
}

// LeaveResult reports what Leave did.
type LeaveResult struct {
	WasActive bool
	Refunded  int
}

// Leave removes the user's waiting or active entry. A waiting leave
// refunds the session fee; an active leave forfeits it (the turn was
// granted) and sends a best-effort reset command to the rig.
func Leave(db *gorm.DB, rigID, userID string) (*LeaveResult, error) {
	if rigID == "" || userID == "" {
		return nil, precondition("rig and user are required")
	}

	var res LeaveResult
	now := time.Now()
	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := loadRig(tx, rigID); err != nil {
			return err
		}

		var entry models.QueueEntry
		if err := tx.Where("rig_id = ? AND user_id = ? AND status IN ?",
			rigID, userID, []string{models.StatusWaiting, models.StatusActive}).
			First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("user %s has no entry on rig %s", userID, rigID)
			}
			return internal(err, "queue: load entry for %s", userID)
		}

		if err := tx.Delete(&models.QueueEntry{}, entry.ID).Error; err != nil {
			return internal(err, "queue: delete entry %d", entry.ID)
		}

		if entry.Status == models.StatusWaiting {
			if _, err := credits.Credit(tx, userID, credits.SessionFee); err != nil {
				return internal(err, "queue: refund %s", userID)
			}
			res.Refunded = credits.SessionFee
			return shiftWaitingDown(tx, rigID, entry.Position, now)
		}

		res.WasActive = true
		if err := tx.Model(&models.Rig{}).Where("id = ?", rigID).
			Updates(session.Idle().Columns()).Error; err != nil {
			return internal(err, "queue: clear session clock on rig %s", rigID)
		}
		return stampHead(tx, rigID, now)
	})
	if err != nil {
		return nil, err
	}

	// Compensating device command: fire-and-forget, never rolls back the
	// committed ledger mutation.
	if res.WasActive {
		if _, err := relay.ExpirePending(db, rigID, "superseded by reset"); err != nil {
			logrus.WithError(err).WithField("rig", rigID).
				Warn("queue: expiring pending commands failed after active leave")
		}
		if _, err := relay.Dispatch(db, rigID, "reset", nil); err != nil {
			logrus.WithError(err).WithField("rig", rigID).
				Warn("queue: reset command dispatch failed after active leave")
		}
	}
	return &res, nil
}

// shiftWaitingDown closes the gap left at removedPos: every waiting entry
// behind it moves up one slot. If the head slot changed hands, the new
// head gets a fresh grace window.
func shiftWaitingDown(tx *gorm.DB, rigID string, removedPos int, now time.Time) error {
	if err := tx.Model(&models.QueueEntry{}).
		Where("rig_id = ? AND status = ? AND position > ?", rigID, models.StatusWaiting, removedPos).
		Update("position", gorm.Expr("position - 1")).Error; err != nil {
		return internal(err, "queue: shift waiting entries on rig %s", rigID)
	}
	if removedPos == 1 {
		return stampHead(tx, rigID, now)
	}
	return nil
}

// stampHead resets the waiting head's grace window and notification mark.
func stampHead(tx *gorm.DB, rigID string, now time.Time) error {
	if err := tx.Model(&models.QueueEntry{}).
		Where("rig_id = ? AND status = ? AND position = 1", rigID, models.StatusWaiting).
		Updates(map[string]interface{}{
			"became_position_one_at": now,
			"notified_at":            nil,
		}).Error; err != nil {
		return internal(err, "queue: stamp head on rig %s", rigID)
	}
	return nil
}
