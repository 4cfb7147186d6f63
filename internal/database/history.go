package database

import (
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecordEvent appends one audit entry to the alert history. History writes
// are best-effort: a failure is logged and swallowed so it can never block
// the status transition that triggered it.
func RecordEvent(db *gorm.DB, participantID, eventType string, details JSONB) {
	event := AlertHistoryEvent{
		UUID:          uuid.New().String(),
		ParticipantID: participantID,
		EventType:     eventType,
		Details:       details,
	}
	if err := db.Create(&event).Error; err != nil {
		log.Printf("Warning: failed to record %s history event for %s: %v", eventType, participantID, err)
	}
}

// ListEvents returns a page of history events for a participant, newest first.
func ListEvents(db *gorm.DB, participantID string, page, perPage int) ([]AlertHistoryEvent, int64, error) {
	var total int64
	q := db.Model(&AlertHistoryEvent{}).Where("participant_id = ?", participantID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []AlertHistoryEvent
	err := q.Order("created_at desc").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&events).Error
	return events, total, err
}
