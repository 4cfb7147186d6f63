package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wecodeblooded/safety-engine/internal/config"
	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/emergency"
	"github.com/wecodeblooded/safety-engine/internal/jobs"
	"github.com/wecodeblooded/safety-engine/internal/notify"
	"github.com/wecodeblooded/safety-engine/internal/risk"
	"github.com/wecodeblooded/safety-engine/internal/services"
	"github.com/wecodeblooded/safety-engine/internal/testhelpers"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	err = db.AutoMigrate(
		&database.Participant{},
		&database.LocationPoint{},
		&database.Group{},
		&database.GroupMember{},
		&database.ForwardRecord{},
		&database.AuthorityOverride{},
		&database.AlertHistoryEvent{},
		&database.QueuedMessage{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

type fakeScorer struct {
	detection *risk.Detection
}

func (f *fakeScorer) Score(ctx context.Context, participantID string, lat, lon float64, groupID string) *risk.Detection {
	return f.detection
}

type fakeLocator struct {
	snapshot *emergency.Snapshot
	calls    int
}

func (f *fakeLocator) FindNearbyServices(ctx context.Context, lat, lon float64) *emergency.Snapshot {
	f.calls++
	return f.snapshot
}

func (f *fakeLocator) FindNearbyServiceLists(ctx context.Context, lat, lon float64) emergency.Lists {
	lists := emergency.Lists{
		Hospitals:      []emergency.Service{},
		PoliceStations: []emergency.Service{},
		FireStations:   []emergency.Service{},
	}
	if f.snapshot == nil {
		return lists
	}
	if f.snapshot.ClosestHospital != nil {
		lists.Hospitals = append(lists.Hospitals, *f.snapshot.ClosestHospital)
	}
	if f.snapshot.ClosestPoliceStation != nil {
		lists.PoliceStations = append(lists.PoliceStations, *f.snapshot.ClosestPoliceStation)
	}
	if f.snapshot.ClosestFireStation != nil {
		lists.FireStations = append(lists.FireStations, *f.snapshot.ClosestFireStation)
	}
	return lists
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) Send(ctx context.Context, channel database.MessageChannel, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

func testSnapshot() *emergency.Snapshot {
	return &emergency.Snapshot{
		ClosestHospital:      &emergency.Service{Name: "City Hospital", Latitude: 28.62, Longitude: 77.21, DistanceKm: 1.1},
		ClosestPoliceStation: &emergency.Service{Name: "Sector 5 Police", Latitude: 28.61, Longitude: 77.19, DistanceKm: 0.7},
	}
}

type testEnv struct {
	mux         *http.ServeMux
	db          *gorm.DB
	hub         *notify.Hub
	lifecycle   *services.LifecycleService
	dislocation *services.DislocationService
	sender      *fakeSender
	locator     *fakeLocator
}

func newTestEnv(t *testing.T, detection *risk.Detection) *testEnv {
	db := setupTestDB(t)
	cfg := config.DefaultEngineConfig()
	hub := notify.NewHub()
	locator := &fakeLocator{snapshot: testSnapshot()}
	lifecycle := services.NewLifecycleService(db, cfg, &fakeScorer{detection: detection}, locator, hub, nil)
	dislocation := services.NewDislocationService(db, cfg, hub, nil, locator, lifecycle)
	sender := &fakeSender{}
	worker := jobs.NewDeliveryWorker(db, sender, cfg.DeliveryBatchSize, cfg.MaxDeliveryAttempts)

	mux := http.NewServeMux()
	NewAPIHandler(db, lifecycle, worker).SetupRoutes(mux)
	NewSessionWSHandler(db, hub, lifecycle, dislocation).SetupRoutes(mux)
	NewHTTPHandler().SetupRoutes(mux)

	return &testEnv{
		mux:         mux,
		db:          db,
		hub:         hub,
		lifecycle:   lifecycle,
		dislocation: dislocation,
		sender:      sender,
		locator:     locator,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
	}
	return out
}

func createParticipant(t *testing.T, db *gorm.DB, id string, lat, lon float64) *database.Participant {
	p := testhelpers.NewParticipantBuilder().
		WithParticipantID(id).
		WithName("Test "+id).
		WithLocation(lat, lon).
		Build()
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("failed to create participant: %v", err)
	}
	return &p
}
