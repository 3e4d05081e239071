// Package liveness derives rig availability from heartbeat age. All
// predicates are pure functions of the rig row and the caller's clock.
package liveness

import (
	"time"

	"github.com/tverberg/pitlane/internal/models"
)

const (
	// OnlineWindow is the maximum heartbeat age for a rig to count as online.
	OnlineWindow = 60 * time.Second
	// HardOfflineAfter is the heartbeat age beyond which a rig is considered
	// gone, not merely stale.
	HardOfflineAfter = 180 * time.Second
)

// Online reports whether the rig's agent has heartbeat within the window.
func Online(r *models.Rig, now time.Time) bool {
	return now.Sub(r.LastHeartbeat) < OnlineWindow
}

// Stale reports whether the rig is in the grace band between online and
// hard-offline.
func Stale(r *models.Rig, now time.Time) bool {
	age := now.Sub(r.LastHeartbeat)
	return age >= OnlineWindow && age <= HardOfflineAfter
}

// HardOffline reports whether the rig has been silent past the grace band.
func HardOffline(r *models.Rig, now time.Time) bool {
	return now.Sub(r.LastHeartbeat) > HardOfflineAfter
}

// CanExecute reports whether the rig can actually run a session: the agent
// is online and the simulator SDK is connected.
func CanExecute(r *models.Rig, now time.Time) bool {
	return Online(r, now) && r.SimulatorConnected
}

// Status returns a display label for the rig's liveness band.
func Status(r *models.Rig, now time.Time) string {
	switch {
	case Online(r, now):
		return "online"
	case HardOffline(r, now):
		return "offline"
	default:
		return "stale"
	}
}
