package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tverberg/pitlane/internal/models"
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
	if err := db.AutoMigrate(&models.RigCommand{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestDispatch(t *testing.T) {
	db := testDB(t)

	cmd, err := Dispatch(db, "rig-01", "reset", map[string]interface{}{"hard": true})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if cmd.ID == "" {
		t.Error("no command ID assigned")
	}
	if cmd.Status != models.CommandPending {
		t.Errorf("status = %q, want pending", cmd.Status)
	}
	if cmd.Params != `{"hard":true}` {
		t.Errorf("params = %q", cmd.Params)
	}
}

func TestDispatch_NilParams(t *testing.T) {
	db := testDB(t)

	cmd, err := Dispatch(db, "rig-01", "reset", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if cmd.Params != "{}" {
		t.Errorf("params = %q, want {}", cmd.Params)
	}
}

func TestDispatch_Validation(t *testing.T) {
	db := testDB(t)
	if _, err := Dispatch(db, "", "reset", nil); err == nil {
		t.Error("empty rig accepted")
	}
	if _, err := Dispatch(db, "rig-01", "", nil); err == nil {
		t.Error("empty action accepted")
	}
}

func TestPending_OldestFirst(t *testing.T) {
	db := testDB(t)

	first, _ := Dispatch(db, "rig-01", "reset", nil)
	db.Model(&models.RigCommand{}).Where("id = ?", first.ID).
		Update("created_at", time.Now().Add(-time.Minute))
	second, _ := Dispatch(db, "rig-01", "reboot", nil)
	Dispatch(db, "rig-02", "reset", nil)

	cmds, err := Pending(db, "rig-01")
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("pending = %d, want 2", len(cmds))
	}
	if cmds[0].ID != first.ID || cmds[1].ID != second.ID {
		t.Error("pending commands not oldest first")
	}
}

func TestAck(t *testing.T) {
	db := testDB(t)
	cmd, _ := Dispatch(db, "rig-01", "reset", nil)

	if err := Ack(db, cmd.ID, models.CommandCompleted, "done"); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	var got models.RigCommand
	db.Where("id = ?", cmd.ID).First(&got)
	if got.Status != models.CommandCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.AckedAt == nil {
		t.Error("AckedAt not set")
	}

	// A second ack hits no pending row.
	if err := Ack(db, cmd.ID, models.CommandFailed, ""); err == nil {
		t.Error("double ack accepted")
	}
}

func TestAck_InvalidStatus(t *testing.T) {
	db := testDB(t)
	cmd, _ := Dispatch(db, "rig-01", "reset", nil)

	if err := Ack(db, cmd.ID, "pending", ""); err == nil {
		t.Error("ack back to pending accepted")
	}
	if err := Ack(db, cmd.ID, "bogus", ""); err == nil {
		t.Error("bogus status accepted")
	}
}

func TestExpirePending(t *testing.T) {
	db := testDB(t)
	Dispatch(db, "rig-01", "reset", nil)
	Dispatch(db, "rig-01", "reboot", nil)
	other, _ := Dispatch(db, "rig-02", "reset", nil)

	n, err := ExpirePending(db, "rig-01", "superseded by reset")
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if n != 2 {
		t.Errorf("expired = %d, want 2", n)
	}

	var failed int64
	db.Model(&models.RigCommand{}).
		Where("rig_id = ? AND status = ?", "rig-01", models.CommandFailed).Count(&failed)
	if failed != 2 {
		t.Errorf("failed count = %d, want 2", failed)
	}

	var untouched models.RigCommand
	db.Where("id = ?", other.ID).First(&untouched)
	if untouched.Status != models.CommandPending {
		t.Error("other rig's command expired")
	}
}

func TestAwait_ReturnsAckedCommand(t *testing.T) {
	db := testDB(t)
	cmd, _ := Dispatch(db, "rig-01", "reset", nil)
	Ack(db, cmd.ID, models.CommandCompleted, "")

	got, err := Await(context.Background(), db, cmd.ID, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if got.Status != models.CommandCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestAwait_Timeout(t *testing.T) {
	db := testDB(t)
	cmd, _ := Dispatch(db, "rig-01", "reset", nil)

	_, err := Await(context.Background(), db, cmd.ID, 2, time.Millisecond)
	if !errors.Is(err, ErrAwaitTimeout) {
		t.Errorf("err = %v, want ErrAwaitTimeout", err)
	}

	// The command stays pending for the agent.
	var got models.RigCommand
	db.Where("id = ?", cmd.ID).First(&got)
	if got.Status != models.CommandPending {
		t.Errorf("status = %q, want pending after caller timeout", got.Status)
	}
}

func TestAwait_ContextCancel(t *testing.T) {
	db := testDB(t)
	cmd, _ := Dispatch(db, "rig-01", "reset", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Await(ctx, db, cmd.ID, 5, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
