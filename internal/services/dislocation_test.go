package services

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/wecodeblooded/safety-engine/internal/config"
	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/notify"
)

// 0.01 degrees of latitude is roughly 1.11 km.
const (
	farLat  = 28.612 // ~1.3 km north of baseLat
	baseLat = 28.6
	baseLon = 77.2
	nearLat = 28.605 // ~0.55 km north of baseLat
)

func newDislocation(t *testing.T) (*DislocationService, *notify.Hub, *gorm.DB, *fakeLocator) {
	db := setupTestDB(t)
	hub := notify.NewHub()
	locator := &fakeLocator{snapshot: testSnapshot()}
	lifecycle := NewLifecycleService(db, config.DefaultEngineConfig(), &fakeScorer{}, locator, hub, nil)
	svc := NewDislocationService(db, config.DefaultEngineConfig(), hub, nil, locator, lifecycle)
	return svc, hub, db, locator
}

func setupGroup(t *testing.T, db *gorm.DB, lats ...float64) []string {
	ids := make([]string, len(lats))
	for i, lat := range lats {
		ids[i] = string(rune('A' + i))
		ids[i] = "T-" + ids[i]
		createParticipant(t, db, ids[i], lat, baseLon)
	}
	createGroupWithMembers(t, db, "trek-a", ids)
	return ids
}

func TestSweepDetectsDislocation(t *testing.T) {
	svc, hub, db, _ := newDislocation(t)
	ids := setupGroup(t, db, baseLat, baseLat, farLat)

	operator := &captureConn{}
	hub.RegisterOperator(operator)
	member := &captureConn{}
	hub.RegisterParticipant(ids[2], member)

	svc.Sweep(context.Background())

	round, ok := svc.OpenRound("trek-a")
	if !ok {
		t.Fatal("expected an open round")
	}
	if round.AlertCount != 1 || len(round.MembersToRespond) != 3 {
		t.Errorf("expected fresh round with all members pending, got %+v", round)
	}

	if len(operator.received(notify.EventAdminDislocation)) != 1 {
		t.Error("expected one dislocation notice to operators")
	}
	if len(member.received(notify.EventGroupCheckPrompt)) != 1 {
		t.Error("expected group check prompt on the member's channel")
	}

	// The far member is flagged; the clustered ones are not.
	far, _ := database.GetParticipant(db, ids[2])
	if far.Status != database.StatusAnomalyDislocation {
		t.Errorf("expected anomaly_dislocation for the far member, got %s", far.Status)
	}
	near, _ := database.GetParticipant(db, ids[0])
	if near.Status != database.StatusActive {
		t.Errorf("expected clustered member untouched, got %s", near.Status)
	}
}

func TestSweepBelowThresholdNoRound(t *testing.T) {
	svc, _, db, _ := newDislocation(t)
	setupGroup(t, db, baseLat, nearLat)

	svc.Sweep(context.Background())

	if _, ok := svc.OpenRound("trek-a"); ok {
		t.Error("expected no round below the distance threshold")
	}
}

func TestSweepEscalatesOnceAfterThreeRounds(t *testing.T) {
	svc, hub, db, _ := newDislocation(t)
	setupGroup(t, db, baseLat, farLat)

	operator := &captureConn{}
	hub.RegisterOperator(operator)

	// Rounds 1-3 prompt; the 4th sweep crosses the bound and escalates.
	for i := 0; i < 4; i++ {
		svc.Sweep(context.Background())
	}

	if _, ok := svc.OpenRound("trek-a"); ok {
		t.Error("expected round destroyed after escalation")
	}

	escalations := 0
	for _, e := range operator.received(notify.EventAdminDislocation) {
		data := e.Data.(map[string]interface{})
		if _, isNew := data["dislocated_members"]; !isNew {
			escalations++
		}
	}
	if escalations != 1 {
		t.Errorf("expected exactly one escalation notice, got %d", escalations)
	}
}

func TestRespondNoDispatchesAndSnoozes(t *testing.T) {
	svc, hub, db, locator := newDislocation(t)
	ids := setupGroup(t, db, baseLat, farLat)

	operator := &captureConn{}
	hub.RegisterOperator(operator)

	svc.Sweep(context.Background())
	svc.Respond(context.Background(), "trek-a", ids[1], "no")

	if _, ok := svc.OpenRound("trek-a"); ok {
		t.Error("expected round destroyed after a 'no'")
	}
	if !svc.Snoozed("trek-a") {
		t.Error("expected group snoozed after a 'no'")
	}
	if locator.calls == 0 {
		t.Error("expected nearest-service lookup for the dislocated member")
	}
	if len(operator.received(notify.EventEmergencyDispatched)) != 1 {
		t.Error("expected dispatch notice for the dislocated member")
	}

	// Snoozed groups are skipped: no new round on the next sweep.
	svc.Sweep(context.Background())
	if _, ok := svc.OpenRound("trek-a"); ok {
		t.Error("expected snoozed group skipped by the sweep")
	}
}

func TestRespondYesUntilAllConfirmed(t *testing.T) {
	svc, hub, db, _ := newDislocation(t)
	ids := setupGroup(t, db, baseLat, farLat)

	operator := &captureConn{}
	hub.RegisterOperator(operator)

	svc.Sweep(context.Background())

	svc.Respond(context.Background(), "trek-a", ids[0], "yes")
	round, ok := svc.OpenRound("trek-a")
	if !ok {
		t.Fatal("expected round still open after a partial confirmation")
	}
	if _, pending := round.MembersToRespond[ids[0]]; pending {
		t.Error("expected confirmed member removed from the pending set")
	}

	svc.Respond(context.Background(), "trek-a", ids[1], "yes")
	if _, ok := svc.OpenRound("trek-a"); ok {
		t.Error("expected round destroyed after full confirmation")
	}
	if !svc.Snoozed("trek-a") {
		t.Error("expected short snooze after full confirmation")
	}
}

func TestRespondWithoutRoundIsNoOp(t *testing.T) {
	svc, _, db, _ := newDislocation(t)
	ids := setupGroup(t, db, baseLat, farLat)

	// Late or duplicate answers must be safe.
	svc.Respond(context.Background(), "trek-a", ids[0], "no")

	if svc.Snoozed("trek-a") {
		t.Error("expected no snooze from a response without a round")
	}
}

func TestSweepClearsRoundOnReconvergence(t *testing.T) {
	svc, hub, db, _ := newDislocation(t)
	ids := setupGroup(t, db, baseLat, farLat)

	operator := &captureConn{}
	hub.RegisterOperator(operator)

	svc.Sweep(context.Background())
	if _, ok := svc.OpenRound("trek-a"); !ok {
		t.Fatal("expected a round")
	}

	// Members regroup before anyone answers.
	if err := database.UpdateParticipantLocation(db, ids[1], baseLat, baseLon, database.StatusActive); err != nil {
		t.Fatalf("failed to move member: %v", err)
	}
	before := len(operator.received(notify.EventAdminDislocation))

	svc.Sweep(context.Background())
	if _, ok := svc.OpenRound("trek-a"); ok {
		t.Error("expected round cleared when the group re-converged")
	}
	if after := len(operator.received(notify.EventAdminDislocation)); after != before {
		t.Error("expected no escalation on re-convergence")
	}
}
