package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tverberg/pitlane/internal/credits"
	"github.com/tverberg/pitlane/internal/liveness"
	"github.com/tverberg/pitlane/internal/models"
	"github.com/tverberg/pitlane/internal/queue"
	"github.com/tverberg/pitlane/internal/relay"
	"github.com/tverberg/pitlane/internal/session"
	"gorm.io/gorm"
)

// rigJSON is the wire shape of a rig summary.
type rigJSON struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Claimed            bool    `json:"claimed"`
	Liveness           string  `json:"liveness"`
	InCar              bool    `json:"in_car"`
	SimulatorConnected bool    `json:"simulator_connected"`
	Speed              float64 `json:"speed"`
	SessionState       string  `json:"session_state"`
}

// entryJSON is the wire shape of a queue entry.
type entryJSON struct {
	ID                  uint       `json:"id"`
	RigID               string     `json:"rig_id"`
	UserID              string     `json:"user_id"`
	Position            int        `json:"position"`
	Status              string     `json:"status"`
	JoinedAt            time.Time  `json:"joined_at"`
	BecamePositionOneAt *time.Time `json:"became_position_one_at,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

func toRigJSON(r models.Rig, now time.Time) rigJSON {
	return rigJSON{
		ID:                 r.ID,
		Name:               r.Name,
		Claimed:            r.Claimed,
		Liveness:           liveness.Status(&r, now),
		InCar:              r.InCar,
		SimulatorConnected: r.SimulatorConnected,
		Speed:              r.Speed,
		SessionState:       r.SessionState,
	}
}

func toEntryJSON(e models.QueueEntry) entryJSON {
	return entryJSON{
		ID:                  e.ID,
		RigID:               e.RigID,
		UserID:              e.UserID,
		Position:            e.Position,
		Status:              e.Status,
		JoinedAt:            e.JoinedAt,
		BecamePositionOneAt: e.BecamePositionOneAt,
		StartedAt:           e.StartedAt,
		CompletedAt:         e.CompletedAt,
	}
}

// sessionJSON renders a clock with remaining time recomputed at read time.
func sessionJSON(clock session.Clock, now time.Time) gin.H {
	body := gin.H{
		"state":             string(clock.State),
		"remaining_seconds": nil,
	}
	if clock.State == session.StatePending {
		body["duration_seconds"] = int(clock.Duration / time.Second)
	}
	if left, ok := clock.Remaining(now); ok {
		body["remaining_seconds"] = int(left / time.Second)
	}
	return body
}

func handleHealthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleListRigs(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rigs []models.Rig
		if err := db.Order("id ASC").Find(&rigs).Error; err != nil {
			respondErr(c, err)
			return
		}
		now := time.Now()
		out := make([]rigJSON, len(rigs))
		for i, r := range rigs {
			out[i] = toRigJSON(r, now)
		}
		c.JSON(http.StatusOK, gin.H{"rigs": out})
	}
}

func handleQueueState(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := queue.State(db, c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}

		now := time.Now()
		waiting := make([]entryJSON, len(snap.Waiting))
		for i, e := range snap.Waiting {
			waiting[i] = toEntryJSON(e)
		}

		body := gin.H{
			"rig":     toRigJSON(snap.Rig, now),
			"waiting": waiting,
			"active":  nil,
			"session": sessionJSON(snap.Clock, now),
		}
		if snap.Active != nil {
			body["active"] = toEntryJSON(*snap.Active)
		}
		if snap.GraceDeadline != nil {
			body["grace_deadline"] = snap.GraceDeadline
		}
		c.JSON(http.StatusOK, body)
	}
}

type joinRequest struct {
	UserID string `json:"user_id"`
}

func handleJoin(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req joinRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
			badRequest(c, "user_id is required")
			return
		}

		entry, err := queue.Join(db, c.Param("id"), req.UserID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "joined the queue",
			"entry":   toEntryJSON(*entry),
		})
	}
}

func handleLeave(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := queue.Leave(db, c.Param("id"), c.Param("user"))
		if err != nil {
			respondErr(c, err)
			return
		}
		msg := "left the queue, session fee refunded"
		if res.WasActive {
			msg = "turn ended, no refund"
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"message":  msg,
			"refunded": res.Refunded,
		})
	}
}

type activateRequest struct {
	UserID          string `json:"user_id"`
	DurationSeconds int    `json:"duration_seconds"`
}

func handleActivate(db *gorm.DB, defaultSession time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req activateRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
			badRequest(c, "user_id is required")
			return
		}

		duration := defaultSession
		if req.DurationSeconds > 0 {
			duration = time.Duration(req.DurationSeconds) * time.Second
		}

		entry, err := queue.Activate(db, c.Param("id"), req.UserID, duration)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "turn activated, session starts when the car moves",
			"entry":   toEntryJSON(*entry),
		})
	}
}

func handleComplete(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := queue.Complete(db, c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "turn completed"})
	}
}

func handleGetSession(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		clock, err := queue.SessionState(db, c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, sessionJSON(clock, time.Now()))
	}
}

type setSessionRequest struct {
	State           string `json:"state"`
	DurationSeconds int    `json:"duration_seconds"`
}

func handleSetSession(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req setSessionRequest
		// An empty body clears the clock, matching state=idle.
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "invalid session body")
			return
		}

		clear := req.DurationSeconds <= 0 || req.State == string(session.StateIdle)
		clock, err := queue.SetSession(db, c.Param("id"),
			time.Duration(req.DurationSeconds)*time.Second, clear)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "session clock updated",
			"session": sessionJSON(clock, time.Now()),
		})
	}
}

type telemetryRequest struct {
	Speed              float64 `json:"speed"`
	InCar              bool    `json:"in_car"`
	SimulatorConnected bool    `json:"simulator_connected"`
}

func handleTelemetry(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req telemetryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid telemetry body")
			return
		}

		result := db.Model(&models.Rig{}).Where("id = ?", c.Param("id")).
			Updates(map[string]interface{}{
				"last_heartbeat":      time.Now(),
				"speed":               req.Speed,
				"in_car":              req.InCar,
				"simulator_connected": req.SimulatorConnected,
			})
		if result.Error != nil {
			respondErr(c, result.Error)
			return
		}
		if result.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "rig not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "telemetry recorded"})
	}
}

func handlePendingCommands(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		cmds, err := relay.Pending(db, c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"commands": cmds})
	}
}

type ackRequest struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func handleAckCommand(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ackRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
			badRequest(c, "status is required")
			return
		}
		if err := relay.Ack(db, c.Param("id"), req.Status, req.Detail); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "command acknowledged"})
	}
}

func handleBalance(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		balance, err := credits.Balance(db, c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "balance": balance})
	}
}

type grantRequest struct {
	Amount int `json:"amount"`
}

func handleGrant(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req grantRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Amount <= 0 {
			badRequest(c, "amount must be a positive integer")
			return
		}
		balance, err := credits.Credit(db, c.Param("id"), req.Amount)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "credits granted",
			"balance": balance,
		})
	}
}
