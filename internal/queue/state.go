package queue

import (
	"errors"
	"time"

	"github.com/tverberg/pitlane/internal/liveness"
	"github.com/tverberg/pitlane/internal/models"
	"github.com/tverberg/pitlane/internal/session"
	"gorm.io/gorm"
)

// Snapshot is the queue state returned to polling clients, taken after a
// reconciliation sweep.
type Snapshot struct {
	Rig      models.Rig
	Liveness string
	Waiting  []models.QueueEntry
	Active   *models.QueueEntry
	Clock    session.Clock
	// GraceDeadline is when the current head's activation window lapses;
	// nil when there is no head or a turn is active.
	GraceDeadline *time.Time
}

// State sweeps the rig and returns the resulting snapshot.
func State(db *gorm.DB, rigID string) (*Snapshot, error) {
	if err := Reconcile(db, rigID); err != nil {
		return nil, err
	}

	now := time.Now()
	var snap Snapshot
	if err := db.Where("id = ?", rigID).First(&snap.Rig).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("rig %s not found", rigID)
		}
		return nil, internal(err, "queue: load rig %s", rigID)
	}
	snap.Liveness = liveness.Status(&snap.Rig, now)
	snap.Clock = session.FromRig(&snap.Rig)

	if err := db.Where("rig_id = ? AND status = ?", rigID, models.StatusWaiting).
		Order("position ASC").Find(&snap.Waiting).Error; err != nil {
		return nil, internal(err, "queue: list waiting entries on rig %s", rigID)
	}

	var active models.QueueEntry
	err := db.Where("rig_id = ? AND status = ?", rigID, models.StatusActive).First(&active).Error
	switch {
	case err == nil:
		snap.Active = &active
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, internal(err, "queue: load active entry on rig %s", rigID)
	}

	if snap.Active == nil && len(snap.Waiting) > 0 && snap.Waiting[0].BecamePositionOneAt != nil {
		deadline := snap.Waiting[0].BecamePositionOneAt.Add(PositionOneGrace)
		snap.GraceDeadline = &deadline
	}
	return &snap, nil
}

// SessionState sweeps the rig and returns its session clock.
func SessionState(db *gorm.DB, rigID string) (session.Clock, error) {
	if err := Reconcile(db, rigID); err != nil {
		return session.Idle(), err
	}
	var rig models.Rig
	if err := db.Where("id = ?", rigID).First(&rig).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.Idle(), notFound("rig %s not found", rigID)
		}
		return session.Idle(), internal(err, "queue: load rig %s", rigID)
	}
	return session.FromRig(&rig), nil
}

// SetSession arms a pending session clock, or clears it to idle. Running
// can only be entered through the movement gate, never set directly.
func SetSession(db *gorm.DB, rigID string, duration time.Duration, clear bool) (session.Clock, error) {
	clock := session.Pending(duration)
	if clear {
		clock = session.Idle()
	}

	var rig models.Rig
	if err := db.Where("id = ?", rigID).First(&rig).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.Idle(), notFound("rig %s not found", rigID)
		}
		return session.Idle(), internal(err, "queue: load rig %s", rigID)
	}
	if err := db.Model(&models.Rig{}).Where("id = ?", rigID).
		Updates(clock.Columns()).Error; err != nil {
		return session.Idle(), internal(err, "queue: set session clock on rig %s", rigID)
	}
	return clock, nil
}
