package patrol

import (
	"context"
	"testing"
	"time"

	"github.com/tverberg/pitlane/internal/models"
	"github.com/tverberg/pitlane/internal/queue"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Rig{},
		&models.QueueEntry{},
		&models.CreditAccount{},
		&models.RigCommand{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type countingNotifier struct{ calls int }

func (c *countingNotifier) TurnReady(rigName, userID string) error {
	c.calls++
	return nil
}

func TestSweepAll_ReconcilesEveryRig(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"rig-01", "rig-02"} {
		rig := models.Rig{
			ID: id, Name: "Bay " + id, Claimed: true,
			LastHeartbeat: time.Now(), SimulatorConnected: true,
			SessionState: "idle",
		}
		if err := db.Create(&rig).Error; err != nil {
			t.Fatalf("seed rig: %v", err)
		}
	}
	db.Create(&models.CreditAccount{UserID: "alice", Balance: 500})
	if _, err := queue.Join(db, "rig-01", "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	// Alice's head stamp lapses; a sweep pass should expire her entry.
	old := time.Now().Add(-2 * queue.PositionOneGrace)
	db.Model(&models.QueueEntry{}).Where("user_id = ?", "alice").
		Update("became_position_one_at", old)

	if err := SweepAll(db, nil); err != nil {
		t.Fatalf("SweepAll: %v", err)
	}

	var count int64
	db.Model(&models.QueueEntry{}).Where("status = ?", models.StatusWaiting).Count(&count)
	if count != 0 {
		t.Errorf("waiting = %d, want 0 after patrol sweep", count)
	}
}

func TestSweepAll_FiresNotifications(t *testing.T) {
	db := testDB(t)
	rig := models.Rig{
		ID: "rig-01", Name: "Bay 1", Claimed: true,
		LastHeartbeat: time.Now(), SimulatorConnected: true,
		SessionState: "idle",
	}
	db.Create(&rig)
	db.Create(&models.CreditAccount{UserID: "alice", Balance: 500})
	if _, err := queue.Join(db, "rig-01", "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	n := &countingNotifier{}
	if err := SweepAll(db, n); err != nil {
		t.Fatalf("SweepAll: %v", err)
	}
	if n.calls != 1 {
		t.Errorf("notifier calls = %d, want 1", n.calls)
	}

	// Already-notified heads are not re-sent.
	if err := SweepAll(db, n); err != nil {
		t.Fatalf("second SweepAll: %v", err)
	}
	if n.calls != 1 {
		t.Errorf("notifier calls = %d after second pass, want 1", n.calls)
	}
}

func TestRun_BadSchedule(t *testing.T) {
	db := testDB(t)
	err := Run(context.Background(), Opts{DB: db, Schedule: "not a cron"})
	if err == nil {
		t.Fatal("bad schedule accepted")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Opts{DB: db, Schedule: "* * * * *"})
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on cancel, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
