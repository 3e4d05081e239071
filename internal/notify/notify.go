// Package notify posts best-effort turn-ready notifications when a user
// reaches the head of a rig's waiting line.
package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	slackapi "github.com/slack-go/slack"
	"github.com/tverberg/pitlane/internal/models"
	"gorm.io/gorm"
)

// Notifier delivers a turn-ready message. Implementations must be safe
// to call repeatedly; the caller handles once-only bookkeeping.
type Notifier interface {
	TurnReady(rigName, userID string) error
}

// SlackNotifier posts turn-ready messages to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
}

// NewSlackNotifier returns a notifier for the given webhook URL.
func NewSlackNotifier(webhookURL string) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, errors.New("notify: webhook URL is required")
	}
	return &SlackNotifier{WebhookURL: webhookURL}, nil
}

// TurnReady posts the notification.
func (n *SlackNotifier) TurnReady(rigName, userID string) error {
	msg := &slackapi.WebhookMessage{
		Text: fmt.Sprintf("%s: it's your turn on %s. You have 60 seconds to take the wheel.", userID, rigName),
	}
	if err := slackapi.PostWebhook(n.WebhookURL, msg); err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	return nil
}

// NotifyHeads notifies every un-notified waiting head across all rigs and
// stamps notified_at on success. Returns the number of notifications sent.
// Delivery failures are logged and skipped, never fatal.
func NotifyHeads(db *gorm.DB, n Notifier) (int, error) {
	if n == nil {
		return 0, nil
	}

	var heads []models.QueueEntry
	if err := db.Where("status = ? AND position = 1 AND notified_at IS NULL", models.StatusWaiting).
		Find(&heads).Error; err != nil {
		return 0, fmt.Errorf("notify: list un-notified heads: %w", err)
	}

	sent := 0
	for _, head := range heads {
		var rig models.Rig
		if err := db.Where("id = ?", head.RigID).First(&rig).Error; err != nil {
			logrus.WithError(err).WithField("rig", head.RigID).
				Warn("notify: rig lookup failed, skipping head")
			continue
		}

		if err := n.TurnReady(rig.Name, head.UserID); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"rig":  head.RigID,
				"user": head.UserID,
			}).Warn("notify: turn-ready delivery failed")
			continue
		}

		now := time.Now()
		if err := db.Model(&models.QueueEntry{}).Where("id = ?", head.ID).
			Update("notified_at", now).Error; err != nil {
			return sent, fmt.Errorf("notify: stamp entry %d: %w", head.ID, err)
		}
		sent++
	}
	return sent, nil
}
