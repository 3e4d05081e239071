package queue

import (
	"testing"
	"time"

	"github.com/tverberg/pitlane/internal/models"
	"github.com/tverberg/pitlane/internal/session"
)

func TestState_SnapshotShape(t *testing.T) {
	db := testDB(t)
	seedRig(t, db, "rig-01")
	seedUser(t, db, "alice", 500)
	seedUser(t, db, "bob", 500)
	Join(db, "rig-01", "alice")
	Join(db, "rig-01", "bob")

	snap, err := State(db, "rig-01")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if snap.Rig.ID != "rig-01" {
		t.Errorf("rig id = %q", snap.Rig.ID)
	}
	if snap.Liveness != "online" {
		t.Errorf("liveness = %q, want online", snap.Liveness)
	}
	if len(snap.Waiting) != 2 {
		t.Fatalf("waiting = %d, want 2", len(snap.Waiting))
	}
	if snap.Waiting[0].UserID != "alice" || snap.Waiting[1].UserID != "bob" {
		t.Errorf("waiting order = %s, %s", snap.Waiting[0].UserID, snap.Waiting[1].UserID)
	}
	if snap.Active != nil {
		t.Error("active set on rig with no turn")
	}
	if snap.Clock.State != session.StateIdle {
		t.Errorf("clock = %v, want idle", snap.Clock.State)
	}
	if snap.GraceDeadline == nil {
		t.Fatal("GraceDeadline nil with a waiting head")
	}
	want := snap.Waiting[0].BecamePositionOneAt.Add(PositionOneGrace)
	if !snap.GraceDeadline.Equal(want) {
		t.Errorf("GraceDeadline = %v, want %v", snap.GraceDeadline, want)
	}
}

func TestState_NoDeadlineWhileActive(t *testing.T) {
	db := testDB(t)
	seedRig(t, db, "rig-01")
	seedUser(t, db, "alice", 500)
	seedUser(t, db, "bob", 500)
	Join(db, "rig-01", "alice")
	Join(db, "rig-01", "bob")
	Activate(db, "rig-01", "alice", 0)

	snap, err := State(db, "rig-01")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if snap.Active == nil || snap.Active.UserID != "alice" {
		t.Fatal("active entry missing from snapshot")
	}
	if snap.GraceDeadline != nil {
		t.Error("GraceDeadline set while a turn is active")
	}
	if snap.Clock.State != session.StatePending {
		t.Errorf("clock = %v, want pending", snap.Clock.State)
	}
}

func TestState_SweepsBeforeRead(t *testing.T) {
	db := testDB(t)
	seedRig(t, db, "rig-01")
	seedUser(t, db, "alice", 500)
	Join(db, "rig-01", "alice")

	old := time.Now().Add(-PositionOneGrace - time.Second)
	db.Model(&models.QueueEntry{}).Where("user_id = ?", "alice").
		Update("became_position_one_at", old)

	snap, err := State(db, "rig-01")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(snap.Waiting) != 0 {
		t.Error("snapshot still shows the expired head")
	}
}

func TestState_UnknownRig(t *testing.T) {
	db := testDB(t)
	_, err := State(db, "rig-99")
	wantFault(t, err, CodeNotFound)
}

func TestSessionState_ReflectsClock(t *testing.T) {
	db := testDB(t)
	seedRig(t, db, "rig-01")
	seedUser(t, db, "alice", 500)
	Join(db, "rig-01", "alice")
	Activate(db, "rig-01", "alice", 90*time.Second)

	clock, err := SessionState(db, "rig-01")
	if err != nil {
		t.Fatalf("SessionState: %v", err)
	}
	if clock.State != session.StatePending {
		t.Errorf("state = %v, want pending", clock.State)
	}
	if clock.Duration != 90*time.Second {
		t.Errorf("duration = %v, want 90s", clock.Duration)
	}
}

func TestSetSession_ArmAndClear(t *testing.T) {
	db := testDB(t)
	seedRig(t, db, "rig-01")

	clock, err := SetSession(db, "rig-01", 120*time.Second, false)
	if err != nil {
		t.Fatalf("SetSession arm: %v", err)
	}
	if clock.State != session.StatePending || clock.Duration != 120*time.Second {
		t.Errorf("armed clock = %+v", clock)
	}

	var rig models.Rig
	db.Where("id = ?", "rig-01").First(&rig)
	if rig.SessionState != string(session.StatePending) {
		t.Errorf("persisted state = %q", rig.SessionState)
	}

	clock, err = SetSession(db, "rig-01", 0, true)
	if err != nil {
		t.Fatalf("SetSession clear: %v", err)
	}
	if clock.State != session.StateIdle {
		t.Errorf("cleared clock = %+v", clock)
	}

	db.Where("id = ?", "rig-01").First(&rig)
	if rig.SessionState != string(session.StateIdle) {
		t.Errorf("persisted state = %q", rig.SessionState)
	}
}

func TestSetSession_ClearIdleRigIsNoop(t *testing.T) {
	db := testDB(t)
	seedRig(t, db, "rig-01")

	if _, err := SetSession(db, "rig-01", 0, true); err != nil {
		t.Fatalf("clearing an already idle clock: %v", err)
	}
}

func TestSetSession_UnknownRig(t *testing.T) {
	db := testDB(t)
	_, err := SetSession(db, "rig-99", 0, false)
	wantFault(t, err, CodeNotFound)
}
