package handlers

import (
	"net/http"
	"testing"

	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/risk"
	"github.com/wecodeblooded/safety-engine/internal/testhelpers"
)

func TestLocationUpdateRejectsInvalidBody(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/location/update", map[string]interface{}{
		"lat": 28.6,
		"lon": 77.2,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	body := decodeBody(t, rec)
	if body["code"] != "validation_error" {
		t.Errorf("code = %v, want validation_error", body["code"])
	}

	var count int64
	env.db.Model(&database.LocationPoint{}).Count(&count)
	if count != 0 {
		t.Errorf("location points recorded on invalid request: %d", count)
	}
}

func TestLocationUpdateUnknownParticipant(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/location/update", map[string]interface{}{
		"participant_id": "ghost",
		"lat":            28.6,
		"lon":            77.2,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestLocationUpdateReturnsScores(t *testing.T) {
	env := newTestEnv(t, &risk.Detection{FinalRiskScore: 0.1})
	createParticipant(t, env.db, "walker-1", 28.6, 77.2)

	rec := env.do(t, http.MethodPost, "/api/v1/location/update", map[string]interface{}{
		"participant_id": "walker-1",
		"lat":            28.601,
		"lon":            77.201,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["status"] != string(database.StatusActive) {
		t.Errorf("status = %v, want %s", body["status"], database.StatusActive)
	}
	if body["flagged"] != false {
		t.Errorf("flagged = %v, want false", body["flagged"])
	}
	if score, ok := body["safety_score"].(float64); !ok || score < 80 {
		t.Errorf("safety_score = %v, want >= 80", body["safety_score"])
	}
}

func TestLocationUpdateAcceptsZeroCoordinates(t *testing.T) {
	env := newTestEnv(t, &risk.Detection{FinalRiskScore: 0.1})
	createParticipant(t, env.db, "sailor-1", 0.01, 0.01)

	rec := env.do(t, http.MethodPost, "/api/v1/location/update", map[string]interface{}{
		"participant_id": "sailor-1",
		"lat":            0.0,
		"lon":            0.0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var point database.LocationPoint
	if err := env.db.Where("participant_id = ?", "sailor-1").First(&point).Error; err != nil {
		t.Fatalf("expected location point recorded: %v", err)
	}
	if point.Latitude != 0 || point.Longitude != 0 {
		t.Errorf("recorded point = (%f, %f), want (0, 0)", point.Latitude, point.Longitude)
	}
}

func TestLocationUpdateMissingCoordinates(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "walker-2", 28.6, 77.2)

	rec := env.do(t, http.MethodPost, "/api/v1/location/update", map[string]interface{}{
		"participant_id": "walker-2",
		"lat":            28.6,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusUnprocessableEntity, rec.Body.String())
	}
}

func TestPanicThenDispatchDetails(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "hiker-1", 28.6, 77.2)

	rec := env.do(t, http.MethodPost, "/api/v1/alert/panic", map[string]interface{}{
		"participant_id": "hiker-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("panic status = %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["status"] != string(database.StatusDistress) {
		t.Errorf("status = %v, want %s", body["status"], database.StatusDistress)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/alerts/hiker-1/dispatch", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch status = %d: %s", rec.Code, rec.Body.String())
	}

	details := decodeBody(t, rec)
	hospital, ok := details["closestHospital"].(map[string]interface{})
	if !ok {
		t.Fatalf("closestHospital missing from dispatch details: %v", details)
	}
	if hospital["name"] != "City Hospital" {
		t.Errorf("hospital name = %v, want City Hospital", hospital["name"])
	}
	if details["alertType"] != "panic" {
		t.Errorf("alertType = %v, want panic", details["alertType"])
	}
}

func TestPanicUnknownParticipant(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/alert/panic", map[string]interface{}{
		"participant_id": "ghost",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCancelPanicReArmsDispatch(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "hiker-2", 28.6, 77.2)

	env.do(t, http.MethodPost, "/api/v1/alert/panic", map[string]interface{}{"participant_id": "hiker-2"})

	rec := env.do(t, http.MethodPost, "/api/v1/alert/cancel", map[string]interface{}{"participant_id": "hiker-2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["status"] != string(database.StatusActive) {
		t.Errorf("status = %v, want %s", body["status"], database.StatusActive)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/alerts/hiker-2/dispatch", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("dispatch after cancel = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestResetParticipant(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "hiker-3", 28.6, 77.2)
	env.do(t, http.MethodPost, "/api/v1/alert/panic", map[string]interface{}{"participant_id": "hiker-3"})

	rec := env.do(t, http.MethodPost, "/api/v1/participants/hiker-3/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d: %s", rec.Code, rec.Body.String())
	}

	var p database.Participant
	env.db.Where("participant_id = ?", "hiker-3").First(&p)
	if p.Status != database.StatusActive {
		t.Errorf("participant status = %s, want %s", p.Status, database.StatusActive)
	}
}

func TestResetGroupAlerts(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "trek-1", 28.6, 77.2)
	createParticipant(t, env.db, "trek-2", 28.6, 77.2)
	g := database.Group{GroupName: "trekkers"}
	if err := env.db.Create(&g).Error; err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	for _, id := range []string{"trek-1", "trek-2"} {
		if err := env.db.Create(&database.GroupMember{GroupID: g.ID, ParticipantID: id}).Error; err != nil {
			t.Fatalf("failed to add member: %v", err)
		}
	}
	env.do(t, http.MethodPost, "/api/v1/alert/panic", map[string]interface{}{"participant_id": "trek-1"})
	env.do(t, http.MethodPost, "/api/v1/alert/panic", map[string]interface{}{"participant_id": "trek-2"})

	rec := env.do(t, http.MethodPost, "/api/v1/groups/trekkers/reset-alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("group reset status = %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	reset, ok := body["reset"].([]interface{})
	if !ok || len(reset) != 2 {
		t.Errorf("reset = %v, want 2 participants", body["reset"])
	}

	var count int64
	env.db.Model(&database.ForwardRecord{}).Count(&count)
	if count != 0 {
		t.Errorf("forward records after group reset = %d, want 0", count)
	}
}

func TestForwardToEmergencyWithoutLocation(t *testing.T) {
	env := newTestEnv(t, nil)
	p := &database.Participant{ParticipantID: "lost-1", Status: database.StatusActive}
	if err := env.db.Create(p).Error; err != nil {
		t.Fatalf("failed to create participant: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/alerts/forward-to-emergency", map[string]interface{}{
		"participant_id": "lost-1",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusConflict, rec.Body.String())
	}
}

func TestUpdateAuthorityValidatesType(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "hiker-4", 28.6, 77.2)

	rec := env.do(t, http.MethodPost, "/api/v1/alerts/hiker-4/update-authority", map[string]interface{}{
		"authority_type": "coast-guard",
		"name":           "Harbor Patrol",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestUpdateAuthorityMergesOverDispatch(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "hiker-5", 28.6, 77.2)
	env.do(t, http.MethodPost, "/api/v1/alert/panic", map[string]interface{}{"participant_id": "hiker-5"})

	lat, lon := 28.63, 77.22
	rec := env.do(t, http.MethodPost, "/api/v1/alerts/hiker-5/update-authority", map[string]interface{}{
		"authority_type": "hospital",
		"name":           "Trauma Center",
		"lat":            lat,
		"lon":            lon,
		"distance_km":    2.4,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("override status = %d: %s", rec.Code, rec.Body.String())
	}

	details := decodeBody(t, rec)
	hospital, ok := details["closestHospital"].(map[string]interface{})
	if !ok {
		t.Fatalf("closestHospital missing: %v", details)
	}
	if hospital["name"] != "Trauma Center" {
		t.Errorf("hospital name = %v, want Trauma Center", hospital["name"])
	}
	if hospital["overridden"] != true {
		t.Errorf("overridden = %v, want true", hospital["overridden"])
	}

	police, ok := details["closestPoliceStation"].(map[string]interface{})
	if !ok {
		t.Fatalf("closestPoliceStation missing: %v", details)
	}
	if police["name"] != "Sector 5 Police" {
		t.Errorf("police name = %v, want Sector 5 Police", police["name"])
	}
}

func TestNearbyServiceLists(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "trek-1", 28.6, 77.2)

	rec := env.do(t, http.MethodGet, "/api/v1/alerts/trek-1/nearby-services", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	body := decodeBody(t, rec)
	hospitals, ok := body["hospital"].([]interface{})
	if !ok || len(hospitals) != 1 {
		t.Fatalf("expected one hospital candidate, got %v", body["hospital"])
	}
	first := hospitals[0].(map[string]interface{})
	if first["name"] != "City Hospital" {
		t.Errorf("hospital name = %v, want City Hospital", first["name"])
	}
	if police, ok := body["police"].([]interface{}); !ok || len(police) != 1 {
		t.Errorf("expected one police candidate, got %v", body["police"])
	}
	if fire, ok := body["fire_station"].([]interface{}); !ok || len(fire) != 0 {
		t.Errorf("expected empty fire station list, got %v", body["fire_station"])
	}
}

func TestNearbyServiceListsWithoutLocation(t *testing.T) {
	env := newTestEnv(t, nil)
	p := &database.Participant{ParticipantID: "lost-2", Status: database.StatusActive}
	if err := env.db.Create(p).Error; err != nil {
		t.Fatalf("failed to create participant: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/alerts/lost-2/nearby-services", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusConflict, rec.Body.String())
	}
}

func TestDispatchDetailsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "calm-1", 28.6, 77.2)

	rec := env.do(t, http.MethodGet, "/api/v1/alerts/calm-1/dispatch", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestDispatchDetailsFromStoredForward(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "calm-2", 28.6, 77.2)

	record := testhelpers.NewForwardRecordBuilder().
		WithParticipantID("calm-2").
		WithAlertType("panic").
		WithServices(database.JSONB{
			"closestHospital": map[string]interface{}{"name": "City Hospital"},
		}).
		Build()
	if err := env.db.Create(&record).Error; err != nil {
		t.Fatalf("failed to seed forward record: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/alerts/calm-2/dispatch", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	hospital, ok := body["closestHospital"].(map[string]interface{})
	if !ok || hospital["name"] != "City Hospital" {
		t.Errorf("closestHospital = %v, want seeded hospital", body["closestHospital"])
	}
	if body["alertType"] != "panic" {
		t.Errorf("alertType = %v, want panic", body["alertType"])
	}
}

func TestParticipantHistoryPaginated(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "hiker-6", 28.6, 77.2)
	env.do(t, http.MethodPost, "/api/v1/alert/panic", map[string]interface{}{"participant_id": "hiker-6"})
	env.do(t, http.MethodPost, "/api/v1/participants/hiker-6/reset", nil)

	rec := env.do(t, http.MethodGet, "/api/v1/participants/hiker-6/history?page=1&per_page=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	data, ok := body["data"].([]interface{})
	if !ok || len(data) != 2 {
		t.Fatalf("data = %v, want 2 items", body["data"])
	}

	pagination, ok := body["pagination"].(map[string]interface{})
	if !ok {
		t.Fatalf("pagination missing: %v", body)
	}
	// panic + forwarded + reset
	if pagination["total"] != float64(3) {
		t.Errorf("total = %v, want 3", pagination["total"])
	}
	if pagination["total_pages"] != float64(2) {
		t.Errorf("total_pages = %v, want 2", pagination["total_pages"])
	}
}

func TestParticipantAlertsEpisodeLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	createParticipant(t, env.db, "hiker-7", 28.6, 77.2)
	env.do(t, http.MethodPost, "/api/v1/alert/panic", map[string]interface{}{"participant_id": "hiker-7"})

	rec := env.do(t, http.MethodGet, "/api/v1/participants/hiker-7/alerts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("alerts status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	current, ok := body["current"].(map[string]interface{})
	if !ok {
		t.Fatalf("current episode missing: %v", body)
	}
	if current["type"] != "panic" {
		t.Errorf("episode type = %v, want panic", current["type"])
	}

	env.do(t, http.MethodPost, "/api/v1/alert/cancel", map[string]interface{}{"participant_id": "hiker-7"})

	rec = env.do(t, http.MethodGet, "/api/v1/participants/hiker-7/alerts", nil)
	body = decodeBody(t, rec)
	if _, exists := body["current"]; exists {
		t.Error("current episode should be gone after cancel")
	}
	resolved, ok := body["resolved"].([]interface{})
	if !ok || len(resolved) != 1 {
		t.Errorf("resolved = %v, want 1 entry", body["resolved"])
	}
}

func TestParticipantAlertsUnknownParticipant(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/participants/ghost/alerts", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestEnqueueNotificationDefaults(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/notifications/enqueue", map[string]interface{}{
		"phone":   "+911234567890",
		"message": "Check in please",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["channel"] != string(database.ChannelSMS) {
		t.Errorf("channel = %v, want %s", body["channel"], database.ChannelSMS)
	}
	if body["status"] != string(database.MessagePending) {
		t.Errorf("status = %v, want %s", body["status"], database.MessagePending)
	}
	if body["reference_id"] == "" {
		t.Error("reference_id should be assigned")
	}
}

func TestEnqueueNotificationValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/notifications/enqueue", map[string]interface{}{
		"message": "no phone",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	var count int64
	env.db.Model(&database.QueuedMessage{}).Count(&count)
	if count != 0 {
		t.Errorf("messages enqueued on invalid request: %d", count)
	}
}

func TestRunWorkerDeliversPending(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, phone := range []string{"+911000000010", "+911000000011"} {
		msg := &database.QueuedMessage{PhoneNumber: phone, Message: "hello"}
		if err := database.EnqueueMessage(env.db, msg); err != nil {
			t.Fatalf("failed to enqueue: %v", err)
		}
	}

	rec := env.do(t, http.MethodPost, "/api/v1/notifications/run-worker", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run-worker status = %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["processed"] != float64(2) || body["sent"] != float64(2) {
		t.Errorf("results = %v, want processed=2 sent=2", body)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/notifications?status=sent", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body.String())
	}
	list := decodeBody(t, rec)
	data, ok := list["data"].([]interface{})
	if !ok || len(data) != 2 {
		t.Errorf("sent messages = %v, want 2", list["data"])
	}
}

func TestListNotificationsRejectsBadFilter(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/notifications?status=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/health", nil).
		Execute(env.mux).
		AssertStatus(http.StatusOK).
		AssertBodyContains(`"status":"ok"`)
}
