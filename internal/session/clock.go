// Package session implements the movement-gated timed session clock.
//
// The clock is a tagged state machine persisted on the rig row: idle,
// pending (armed, waiting for the car to move), or running (started at a
// fixed timestamp). There is no background timer; remaining time is
// recomputed from absolute timestamps on every read, and the pending →
// running transition fires the next time any poll observes movement.
package session

import (
	"time"

	"github.com/tverberg/pitlane/internal/models"
)

// State is the clock's tag.
type State string

// Clock states.
const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateRunning State = "running"
)

const (
	// MinDuration and MaxDuration bound a session length.
	MinDuration = 30 * time.Second
	MaxDuration = 600 * time.Second
	// DefaultDuration is used when the caller supplies none.
	DefaultDuration = 300 * time.Second
	// StartSpeedThreshold is the telemetry speed above which a pending
	// session is considered started.
	StartSpeedThreshold = 5.0
)

// Clock is the session state for one rig. StartedAt is zero unless running.
type Clock struct {
	State     State
	Duration  time.Duration
	StartedAt time.Time
}

// Idle returns a cleared clock.
func Idle() Clock {
	return Clock{State: StateIdle}
}

// Pending returns an armed clock with the duration clamped to bounds.
func Pending(d time.Duration) Clock {
	return Clock{State: StatePending, Duration: ClampDuration(d)}
}

// ClampDuration bounds a requested duration to [MinDuration, MaxDuration],
// substituting the default for zero.
func ClampDuration(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultDuration
	}
	if d < MinDuration {
		return MinDuration
	}
	if d > MaxDuration {
		return MaxDuration
	}
	return d
}

// FromRig reads the persisted clock off a rig row. Unknown or corrupt
// state collapses to idle.
func FromRig(r *models.Rig) Clock {
	switch State(r.SessionState) {
	case StatePending:
		return Clock{State: StatePending, Duration: time.Duration(r.SessionDuration) * time.Second}
	case StateRunning:
		if r.SessionStartedAt == nil {
			return Idle()
		}
		return Clock{
			State:     StateRunning,
			Duration:  time.Duration(r.SessionDuration) * time.Second,
			StartedAt: *r.SessionStartedAt,
		}
	default:
		return Idle()
	}
}

// Start moves a pending clock to running as of now. Any other state is
// returned unchanged.
func (c Clock) Start(now time.Time) Clock {
	if c.State != StatePending {
		return c
	}
	return Clock{State: StateRunning, Duration: c.Duration, StartedAt: now}
}

// Remaining returns the time left on a running clock. ok is false when the
// clock is not running or the session has expired.
func (c Clock) Remaining(now time.Time) (time.Duration, bool) {
	if c.State != StateRunning {
		return 0, false
	}
	left := c.Duration - now.Sub(c.StartedAt)
	if left <= 0 {
		return 0, false
	}
	return left, true
}

// Expired reports whether a running clock has used up its duration.
func (c Clock) Expired(now time.Time) bool {
	return c.State == StateRunning && now.Sub(c.StartedAt) >= c.Duration
}

// Columns returns the rig row updates that persist this clock.
func (c Clock) Columns() map[string]interface{} {
	cols := map[string]interface{}{
		"session_state":      string(c.State),
		"session_duration":   int(c.Duration / time.Second),
		"session_started_at": nil,
	}
	if c.State == StateRunning {
		started := c.StartedAt
		cols["session_started_at"] = &started
	}
	return cols
}
