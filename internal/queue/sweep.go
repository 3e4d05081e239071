package queue

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tverberg/pitlane/internal/credits"
	"github.com/tverberg/pitlane/internal/liveness"
	"github.com/tverberg/pitlane/internal/models"
	"github.com/tverberg/pitlane/internal/session"
	"gorm.io/gorm"
)

// PositionOneGrace is how long the waiting head has to activate before
// the sweep expires the entry.
const PositionOneGrace = 60 * time.Second

// Reconcile is the self-healing pass run ahead of every read. Each step
// is idempotent, so concurrent sweeps from independent pollers never
// conflict. Order matters: head expiry, hard-offline purge, orphan-active
// revert, then the movement gate on the session clock.
func Reconcile(db *gorm.DB, rigID string) error {
	if rigID == "" {
		return precondition("rig is required")
	}

	now := time.Now()
	return db.Transaction(func(tx *gorm.DB) error {
		rig, err := loadRig(tx, rigID)
		if err != nil {
			return err
		}
		if err := expireStaleHead(tx, rig, now); err != nil {
			return err
		}
		if err := purgeHardOffline(tx, rig, now); err != nil {
			return err
		}
		if err := revertOrphanActive(tx, rig, now); err != nil {
			return err
		}
		return applyMovementGate(tx, rig, now)
	})
}

// expireStaleHead deletes a waiting head whose activation grace window
// lapsed while nothing was active on the rig.
func expireStaleHead(tx *gorm.DB, rig *models.Rig, now time.Time) error {
	var active int64
	if err := tx.Model(&models.QueueEntry{}).
		Where("rig_id = ? AND status = ?", rig.ID, models.StatusActive).
		Count(&active).Error; err != nil {
		return internal(err, "queue: sweep count active on rig %s", rig.ID)
	}
	if active > 0 {
		return nil
	}

	var head models.QueueEntry
	if err := tx.Where("rig_id = ? AND status = ? AND position = 1", rig.ID, models.StatusWaiting).
		First(&head).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return internal(err, "queue: sweep load head on rig %s", rig.ID)
	}
	if head.BecamePositionOneAt == nil || now.Sub(*head.BecamePositionOneAt) <= PositionOneGrace {
		return nil
	}

	if err := tx.Delete(&models.QueueEntry{}, head.ID).Error; err != nil {
		return internal(err, "queue: sweep expire head %d", head.ID)
	}
	// The join fee is forfeited here; see DESIGN.md before changing.
	logrus.WithFields(logrus.Fields{
		"rig":       rig.ID,
		"user":      head.UserID,
		"forfeited": credits.SessionFee,
	}).Warn("queue: expired position-1 entry without refund")

	return shiftWaitingDown(tx, rig.ID, 1, now)
}

// purgeHardOffline deletes every waiting entry on a rig that has been
// silent past the grace band, so nobody waits on a dead resource.
func purgeHardOffline(tx *gorm.DB, rig *models.Rig, now time.Time) error {
	if !liveness.HardOffline(rig, now) {
		return nil
	}

	result := tx.Where("rig_id = ? AND status = ?", rig.ID, models.StatusWaiting).
		Delete(&models.QueueEntry{})
	if result.Error != nil {
		return internal(result.Error, "queue: sweep purge waiting entries on rig %s", rig.ID)
	}
	if result.RowsAffected > 0 {
		// Forfeited fees, same caveat as head expiry.
		logrus.WithFields(logrus.Fields{
			"rig":       rig.ID,
			"entries":   result.RowsAffected,
			"forfeited": result.RowsAffected * credits.SessionFee,
		}).Warn("queue: purged waiting entries for hard-offline rig")
	}
	return nil
}

// revertOrphanActive returns an active entry to the head of the line when
// the rig dropped offline before the driver ever started moving. The turn
// is preserved rather than charged for the rig's failure.
func revertOrphanActive(tx *gorm.DB, rig *models.Rig, now time.Time) error {
	if liveness.Online(rig, now) {
		return nil
	}
	if rig.InCar || session.FromRig(rig).State == session.StateRunning {
		return nil
	}

	var entry models.QueueEntry
	if err := tx.Where("rig_id = ? AND status = ?", rig.ID, models.StatusActive).
		First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return internal(err, "queue: sweep load active on rig %s", rig.ID)
	}

	// Reopen the head slot for the reverted driver.
	if err := tx.Model(&models.QueueEntry{}).
		Where("rig_id = ? AND status = ?", rig.ID, models.StatusWaiting).
		Update("position", gorm.Expr("position + 1")).Error; err != nil {
		return internal(err, "queue: sweep shift waiting on rig %s", rig.ID)
	}
	if err := tx.Model(&models.QueueEntry{}).Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"status":                 models.StatusWaiting,
			"position":               1,
			"started_at":             nil,
			"became_position_one_at": now,
			"notified_at":            nil,
		}).Error; err != nil {
		return internal(err, "queue: sweep revert entry %d", entry.ID)
	}
	if err := tx.Model(&models.Rig{}).Where("id = ?", rig.ID).
		Updates(session.Idle().Columns()).Error; err != nil {
		return internal(err, "queue: sweep clear clock on rig %s", rig.ID)
	}
	rig.SessionState = string(session.StateIdle)
	rig.SessionStartedAt = nil

	logrus.WithFields(logrus.Fields{"rig": rig.ID, "user": entry.UserID}).
		Info("queue: reverted active entry to waiting, rig offline before start")
	return nil
}

// applyMovementGate starts a pending session clock the moment a poll
// observes the car moving. Level-triggered: nothing fires until the next
// read after the telemetry crosses the threshold.
func applyMovementGate(tx *gorm.DB, rig *models.Rig, now time.Time) error {
	clock := session.FromRig(rig)
	if clock.State != session.StatePending {
		return nil
	}
	if !liveness.Online(rig, now) || rig.Speed <= session.StartSpeedThreshold {
		return nil
	}

	started := clock.Start(now)
	if err := tx.Model(&models.Rig{}).Where("id = ?", rig.ID).
		Updates(started.Columns()).Error; err != nil {
		return internal(err, "queue: start session clock on rig %s", rig.ID)
	}
	rig.SessionState = string(started.State)
	rig.SessionStartedAt = &started.StartedAt
	return nil
}
