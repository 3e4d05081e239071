package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, defaultSession time.Duration) {
	router.GET("/healthz", handleHealthz(db))

	v1 := router.Group("/api/v1")

	// Client surface.
	v1.GET("/rigs", handleListRigs(db))
	v1.GET("/rigs/:id/queue", handleQueueState(db))
	v1.POST("/rigs/:id/queue", handleJoin(db))
	v1.DELETE("/rigs/:id/queue/:user", handleLeave(db))
	v1.POST("/rigs/:id/queue/activate", handleActivate(db, defaultSession))
	v1.POST("/rigs/:id/queue/complete", handleComplete(db))
	v1.GET("/rigs/:id/session", handleGetSession(db))
	v1.POST("/rigs/:id/session", handleSetSession(db))

	// Rig agent surface.
	v1.POST("/rigs/:id/telemetry", handleTelemetry(db))
	v1.GET("/rigs/:id/commands", handlePendingCommands(db))
	v1.POST("/commands/:id/ack", handleAckCommand(db))

	// Credits.
	v1.GET("/users/:id/credits", handleBalance(db))
	v1.POST("/users/:id/credits", handleGrant(db))
}
