package services

import (
	"context"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/emergency"
	"github.com/wecodeblooded/safety-engine/internal/notify"
	"github.com/wecodeblooded/safety-engine/internal/risk"
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

type captureConn struct {
	mu     sync.Mutex
	events []notify.Envelope
}

func (c *captureConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, v.(notify.Envelope))
	return nil
}

func (c *captureConn) Close() error { return nil }

func (c *captureConn) received(event string) []notify.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Envelope
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func testSnapshot() *emergency.Snapshot {
	return &emergency.Snapshot{
		ClosestHospital:      &emergency.Service{Name: "City Hospital", Latitude: 28.62, Longitude: 77.21, DistanceKm: 1.1},
		ClosestPoliceStation: &emergency.Service{Name: "Sector 5 Police", Latitude: 28.61, Longitude: 77.19, DistanceKm: 0.7},
	}
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

func createGroupWithMembers(t *testing.T, db *gorm.DB, groupName string, ids []string) {
	g := database.Group{GroupName: groupName}
	if err := db.Create(&g).Error; err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	for _, id := range ids {
		if err := db.Create(&database.GroupMember{GroupID: g.ID, ParticipantID: id}).Error; err != nil {
			t.Fatalf("failed to add member: %v", err)
		}
	}
}
