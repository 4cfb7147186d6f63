// Package testhelpers provides additional data builders for testing
package testhelpers

import (
	"time"

	"github.com/google/uuid"

	"github.com/wecodeblooded/safety-engine/internal/database"
)

// ========================================
// Participant Builder
// ========================================

// ParticipantBuilder builds Participant instances for testing
type ParticipantBuilder struct {
	participant database.Participant
}

// NewParticipantBuilder creates a new participant builder with defaults
func NewParticipantBuilder() *ParticipantBuilder {
	return &ParticipantBuilder{
		participant: database.Participant{
			ParticipantID:     "test-participant",
			Name:              "Test Participant",
			Phone:             "+911000000001",
			EmergencyContact1: "+911000000002",
			Status:            database.StatusActive,
			CreatedAt:         time.Now(),
			UpdatedAt:         time.Now(),
		},
	}
}

// WithID sets the internal row ID
func (b *ParticipantBuilder) WithID(id uint) *ParticipantBuilder {
	b.participant.ID = id
	return b
}

// WithParticipantID sets the external participant identifier
func (b *ParticipantBuilder) WithParticipantID(id string) *ParticipantBuilder {
	b.participant.ParticipantID = id
	return b
}

// WithName sets the display name
func (b *ParticipantBuilder) WithName(name string) *ParticipantBuilder {
	b.participant.Name = name
	return b
}

// WithStatus sets the safety status
func (b *ParticipantBuilder) WithStatus(status database.ParticipantStatus) *ParticipantBuilder {
	b.participant.Status = status
	return b
}

// WithLocation sets the last known coordinates
func (b *ParticipantBuilder) WithLocation(lat, lon float64) *ParticipantBuilder {
	b.participant.Latitude = &lat
	b.participant.Longitude = &lon
	now := time.Now()
	b.participant.LastSeen = &now
	return b
}

// WithGroup sets the group name
func (b *ParticipantBuilder) WithGroup(groupName string) *ParticipantBuilder {
	b.participant.GroupName = groupName
	return b
}

// WithEmergencyContacts sets the emergency contact numbers
func (b *ParticipantBuilder) WithEmergencyContacts(first, second string) *ParticipantBuilder {
	b.participant.EmergencyContact1 = first
	b.participant.EmergencyContact2 = second
	return b
}

// Build returns the constructed participant
func (b *ParticipantBuilder) Build() database.Participant {
	return b.participant
}

// ========================================
// Group Builder
// ========================================

// GroupBuilder builds Group instances for testing
type GroupBuilder struct {
	group database.Group
}

// NewGroupBuilder creates a new group builder with defaults
func NewGroupBuilder() *GroupBuilder {
	return &GroupBuilder{
		group: database.Group{
			GroupName: "test-group",
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		},
	}
}

// WithName sets the group name
func (b *GroupBuilder) WithName(name string) *GroupBuilder {
	b.group.GroupName = name
	return b
}

// Build returns the constructed group
func (b *GroupBuilder) Build() database.Group {
	return b.group
}

// ========================================
// Queued Message Builder
// ========================================

// QueuedMessageBuilder builds QueuedMessage instances for testing
type QueuedMessageBuilder struct {
	message database.QueuedMessage
}

// NewQueuedMessageBuilder creates a new queued message builder with defaults
func NewQueuedMessageBuilder() *QueuedMessageBuilder {
	return &QueuedMessageBuilder{
		message: database.QueuedMessage{
			ReferenceID: uuid.NewString(),
			PhoneNumber: "+911000000002",
			Message:     "Test notification",
			Channel:     database.ChannelSMS,
			Status:      database.MessagePending,
			CreatedAt:   time.Now(),
		},
	}
}

// WithReferenceID sets the idempotency reference
func (b *QueuedMessageBuilder) WithReferenceID(ref string) *QueuedMessageBuilder {
	b.message.ReferenceID = ref
	return b
}

// WithParticipantID sets the related participant
func (b *QueuedMessageBuilder) WithParticipantID(id string) *QueuedMessageBuilder {
	b.message.ParticipantID = id
	return b
}

// WithPhoneNumber sets the destination number
func (b *QueuedMessageBuilder) WithPhoneNumber(phone string) *QueuedMessageBuilder {
	b.message.PhoneNumber = phone
	return b
}

// WithMessage sets the message body
func (b *QueuedMessageBuilder) WithMessage(text string) *QueuedMessageBuilder {
	b.message.Message = text
	return b
}

// WithChannel sets the delivery channel
func (b *QueuedMessageBuilder) WithChannel(channel database.MessageChannel) *QueuedMessageBuilder {
	b.message.Channel = channel
	return b
}

// WithStatus sets the delivery status
func (b *QueuedMessageBuilder) WithStatus(status database.MessageStatus) *QueuedMessageBuilder {
	b.message.Status = status
	return b
}

// WithAttempts sets the attempt counter
func (b *QueuedMessageBuilder) WithAttempts(n int) *QueuedMessageBuilder {
	b.message.Attempts = n
	return b
}

// WithLastError sets the last delivery error
func (b *QueuedMessageBuilder) WithLastError(errMsg string) *QueuedMessageBuilder {
	b.message.LastError = errMsg
	return b
}

// Build returns the constructed message
func (b *QueuedMessageBuilder) Build() database.QueuedMessage {
	return b.message
}

// ========================================
// Forward Record Builder
// ========================================

// ForwardRecordBuilder builds ForwardRecord instances for testing
type ForwardRecordBuilder struct {
	record database.ForwardRecord
}

// NewForwardRecordBuilder creates a new forward record builder with defaults
func NewForwardRecordBuilder() *ForwardRecordBuilder {
	return &ForwardRecordBuilder{
		record: database.ForwardRecord{
			ParticipantID: "test-participant",
			AlertType:     "panic",
			Services:      database.JSONB{},
			ForwardedAt:   time.Now(),
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		},
	}
}

// WithParticipantID sets the participant
func (b *ForwardRecordBuilder) WithParticipantID(id string) *ForwardRecordBuilder {
	b.record.ParticipantID = id
	return b
}

// WithAlertType sets the alert type
func (b *ForwardRecordBuilder) WithAlertType(alertType string) *ForwardRecordBuilder {
	b.record.AlertType = alertType
	return b
}

// WithServices sets the dispatched services snapshot
func (b *ForwardRecordBuilder) WithServices(services database.JSONB) *ForwardRecordBuilder {
	b.record.Services = services
	return b
}

// WithForwardedAt sets the forward timestamp
func (b *ForwardRecordBuilder) WithForwardedAt(at time.Time) *ForwardRecordBuilder {
	b.record.ForwardedAt = at
	return b
}

// Build returns the constructed record
func (b *ForwardRecordBuilder) Build() database.ForwardRecord {
	return b.record
}

// ========================================
// History Event Builder
// ========================================

// HistoryEventBuilder builds AlertHistoryEvent instances for testing
type HistoryEventBuilder struct {
	event database.AlertHistoryEvent
}

// NewHistoryEventBuilder creates a new history event builder with defaults
func NewHistoryEventBuilder() *HistoryEventBuilder {
	return &HistoryEventBuilder{
		event: database.AlertHistoryEvent{
			UUID:          uuid.NewString(),
			ParticipantID: "test-participant",
			EventType:     database.EventPanic,
			Details:       database.JSONB{},
			CreatedAt:     time.Now(),
		},
	}
}

// WithParticipantID sets the participant
func (b *HistoryEventBuilder) WithParticipantID(id string) *HistoryEventBuilder {
	b.event.ParticipantID = id
	return b
}

// WithEventType sets the event type
func (b *HistoryEventBuilder) WithEventType(eventType string) *HistoryEventBuilder {
	b.event.EventType = eventType
	return b
}

// WithDetails sets the event details
func (b *HistoryEventBuilder) WithDetails(details database.JSONB) *HistoryEventBuilder {
	b.event.Details = details
	return b
}

// WithCreatedAt sets the event timestamp
func (b *HistoryEventBuilder) WithCreatedAt(at time.Time) *HistoryEventBuilder {
	b.event.CreatedAt = at
	return b
}

// Build returns the constructed event
func (b *HistoryEventBuilder) Build() database.AlertHistoryEvent {
	return b.event
}
