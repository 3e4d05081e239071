// Package patrol runs the background reconciliation daemon. Clients
// already sweep on every read; patrol keeps rigs converging and turn
// notifications flowing even when nobody is polling. Every sweep step is
// idempotent, so patrol and client-triggered sweeps coexist safely.
package patrol

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/tverberg/pitlane/internal/models"
	"github.com/tverberg/pitlane/internal/notify"
	"github.com/tverberg/pitlane/internal/queue"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Opts holds parameters for the patrol daemon.
type Opts struct {
	DB       *gorm.DB
	Schedule string          // 5-field cron expression
	Notifier notify.Notifier // optional
}

// Run blocks, sweeping on the configured schedule until ctx is cancelled.
func Run(ctx context.Context, opts Opts) error {
	if opts.DB == nil {
		return fmt.Errorf("patrol: db is required")
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return fmt.Errorf("patrol: parse schedule %q: %w", opts.Schedule, err)
	}

	for {
		next := sched.Next(time.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}

		if err := SweepAll(opts.DB, opts.Notifier); err != nil {
			logrus.WithError(err).Error("patrol: sweep pass failed")
		}
	}
}

// SweepAll reconciles every rig and fires pending turn notifications.
// Per-rig failures are logged and skipped so one broken row cannot stall
// the pass.
func SweepAll(db *gorm.DB, n notify.Notifier) error {
	if db == nil {
		return fmt.Errorf("patrol: db is required")
	}

	var rigs []models.Rig
	if err := db.Find(&rigs).Error; err != nil {
		return fmt.Errorf("patrol: list rigs: %w", err)
	}

	for _, rig := range rigs {
		if err := queue.Reconcile(db, rig.ID); err != nil {
			logrus.WithError(err).WithField("rig", rig.ID).Warn("patrol: reconcile failed")
		}
	}

	if n != nil {
		sent, err := notify.NotifyHeads(db, n)
		if err != nil {
			return fmt.Errorf("patrol: notify heads: %w", err)
		}
		if sent > 0 {
			logrus.WithField("sent", sent).Info("patrol: turn-ready notifications sent")
		}
	}
	return nil
}
