package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// ParticipantStatus is the safety status of a tracked participant.
// Participants are never deleted; they only transition between statuses.
type ParticipantStatus string

const (
	StatusActive             ParticipantStatus = "active"
	StatusDistress           ParticipantStatus = "distress"
	StatusAnomalyML          ParticipantStatus = "anomaly_ml"
	StatusAnomalyRiskArea    ParticipantStatus = "anomaly_risk_area"
	StatusAnomalyDislocation ParticipantStatus = "anomaly_dislocation"
	StatusAnomalyInactive    ParticipantStatus = "anomaly_inactive"
	StatusAnomaly            ParticipantStatus = "anomaly"
	StatusOffline            ParticipantStatus = "offline"
)

// IsAlerting returns true for statuses that represent an open safety concern.
func (s ParticipantStatus) IsAlerting() bool {
	switch s {
	case StatusDistress, StatusAnomalyML, StatusAnomalyRiskArea,
		StatusAnomalyDislocation, StatusAnomalyInactive, StatusAnomaly:
		return true
	}
	return false
}

// AuthorityType identifies one dispatched-service slot of a forward snapshot.
type AuthorityType string

const (
	AuthorityHospital AuthorityType = "hospital"
	AuthorityPolice   AuthorityType = "police"
	AuthorityFire     AuthorityType = "fire"
)

// ValidAuthorityTypes lists the accepted override slots.
func ValidAuthorityTypes() []AuthorityType {
	return []AuthorityType{AuthorityHospital, AuthorityPolice, AuthorityFire}
}

// Participant is a tracked mobile participant (tourist or women-safety user)
type Participant struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	ParticipantID     string            `gorm:"type:varchar(100);uniqueIndex;not null" json:"participant_id"`
	Name              string            `gorm:"type:varchar(100)" json:"name"`
	Phone             string            `gorm:"type:varchar(30)" json:"phone"`
	EmergencyContact1 string            `gorm:"type:varchar(30)" json:"emergency_contact_1"`
	EmergencyContact2 string            `gorm:"type:varchar(30)" json:"emergency_contact_2"`
	GroupName         string            `gorm:"type:varchar(120);index" json:"group_name"`
	Status            ParticipantStatus `gorm:"type:varchar(30);not null;default:active;index" json:"status"`
	Latitude          *float64          `json:"latitude"`
	Longitude         *float64          `json:"longitude"`
	LastSeen          *time.Time        `json:"last_seen"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (Participant) TableName() string {
	return "participants"
}

// HasLocation returns true when the participant has reported coordinates.
func (p *Participant) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// LocationPoint is one append-only location history sample
type LocationPoint struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ParticipantID string    `gorm:"type:varchar(100);not null;index" json:"participant_id"`
	Latitude      float64   `gorm:"not null" json:"latitude"`
	Longitude     float64   `gorm:"not null" json:"longitude"`
	Accuracy      *float64  `json:"accuracy"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (LocationPoint) TableName() string {
	return "location_history"
}

// Group is a named travel group whose members the dislocation sweep watches
type Group struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GroupName string    `gorm:"type:varchar(120);uniqueIndex;not null" json:"group_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Group) TableName() string {
	return "groups"
}

// GroupMember links a participant to a group
type GroupMember struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	GroupID       uint      `gorm:"not null;index" json:"group_id"`
	ParticipantID string    `gorm:"type:varchar(100);not null;index" json:"participant_id"`
	CreatedAt     time.Time `json:"created_at"`

	Group Group `gorm:"foreignKey:GroupID" json:"-"`
}

func (GroupMember) TableName() string {
	return "group_members"
}

// ForwardRecord marks an alert episode as forwarded to emergency services.
// Unique on (participant_id, alert_type): forwarding the same open episode
// again refreshes the row instead of duplicating it. A manual reset deletes
// the record so a future episode can be forwarded afresh.
type ForwardRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ParticipantID string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_forward_participant_type" json:"participant_id"`
	AlertType     string    `gorm:"type:varchar(40);not null;uniqueIndex:idx_forward_participant_type" json:"alert_type"`
	Services      JSONB     `gorm:"type:jsonb" json:"services"`
	ForwardedAt   time.Time `gorm:"not null" json:"forwarded_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ForwardRecord) TableName() string {
	return "alert_forwards"
}

// AuthorityOverride is a human correction to one dispatched-service slot.
// Unique on (participant_id, authority_type); read paths merge it over the
// forward snapshot.
type AuthorityOverride struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	ParticipantID string        `gorm:"type:varchar(100);not null;uniqueIndex:idx_override_participant_type" json:"participant_id"`
	AuthorityType AuthorityType `gorm:"type:varchar(20);not null;uniqueIndex:idx_override_participant_type" json:"authority_type"`
	Name          string        `gorm:"type:varchar(255)" json:"name"`
	Latitude      *float64      `json:"lat"`
	Longitude     *float64      `json:"lon"`
	DistanceKm    *float64      `json:"distance_km"`
	UpdatedAt     time.Time     `json:"updated_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (AuthorityOverride) TableName() string {
	return "alert_authority_overrides"
}

// AlertHistoryEvent is one append-only audit trail entry
type AlertHistoryEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UUID          string    `gorm:"type:varchar(64);uniqueIndex" json:"uuid"`
	ParticipantID string    `gorm:"type:varchar(100);not null;index" json:"participant_id"`
	EventType     string    `gorm:"type:varchar(40);not null" json:"event_type"`
	Details       JSONB     `gorm:"type:jsonb" json:"details"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (AlertHistoryEvent) TableName() string {
	return "alert_history"
}

// History event types recorded by the engine.
const (
	EventPanic     = "panic"
	EventForwarded = "forwarded"
	EventReset     = "reset"
	EventOverride  = "override"
)

// MessageStatus is the delivery state of a queued message.
// It advances pending → sent | failed; failed is terminal.
type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageInFlight MessageStatus = "in_flight"
	MessageSent     MessageStatus = "sent"
	MessageFailed   MessageStatus = "failed"
)

// MessageChannel selects the off-line delivery transport.
type MessageChannel string

const (
	ChannelSMS      MessageChannel = "sms"
	ChannelWhatsApp MessageChannel = "whatsapp"
)

// QueuedMessage is one durable notification awaiting off-line delivery
type QueuedMessage struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	ReferenceID   string         `gorm:"type:varchar(64);uniqueIndex" json:"reference_id"`
	ParticipantID string         `gorm:"type:varchar(100);index" json:"participant_id"`
	PhoneNumber   string         `gorm:"type:varchar(30);not null" json:"phone_number"`
	Message       string         `gorm:"type:text;not null" json:"message"`
	Channel       MessageChannel `gorm:"type:varchar(20);not null;default:sms" json:"channel"`
	Status        MessageStatus  `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	Attempts      int            `gorm:"not null;default:0" json:"attempts"`
	LastError     string         `gorm:"type:text" json:"last_error"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	SentAt        *time.Time     `json:"sent_at"`
}

func (QueuedMessage) TableName() string {
	return "notification_queue"
}
