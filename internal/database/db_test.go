package database

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	err = db.AutoMigrate(
		&Participant{},
		&LocationPoint{},
		&Group{},
		&GroupMember{},
		&ForwardRecord{},
		&AuthorityOverride{},
		&AlertHistoryEvent{},
		&QueuedMessage{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

func createTestParticipant(t *testing.T, db *gorm.DB, participantID string, status ParticipantStatus) *Participant {
	p := &Participant{
		ParticipantID: participantID,
		Name:          "Test " + participantID,
		Status:        status,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("failed to create test participant: %v", err)
	}
	return p
}
