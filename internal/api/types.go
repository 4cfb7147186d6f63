package api

import (
	"time"

	"github.com/wecodeblooded/safety-engine/internal/database"
)

// ========== Location Types ==========

// LocationUpdateRequest is the request body for POST /api/v1/location/update.
// Coordinates are pointers so a fix at 0°N or 0°E is not mistaken for a
// missing field.
type LocationUpdateRequest struct {
	ParticipantID string   `json:"participant_id" validate:"required,min=1,max=64"`
	Latitude      *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Longitude     *float64 `json:"lon" validate:"required,min=-180,max=180"`
	Accuracy      *float64 `json:"accuracy" validate:"omitempty,min=0"`
}

// ========== Alert Types ==========

// PanicRequest is the request body for POST /api/v1/alert/panic.
type PanicRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,min=1,max=64"`
	Source        string `json:"source" validate:"omitempty,max=64"`
}

// CancelPanicRequest is the request body for POST /api/v1/alert/cancel.
type CancelPanicRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,min=1,max=64"`
}

// ForwardRequest is the request body for POST /api/v1/alerts/forward-to-emergency.
type ForwardRequest struct {
	ParticipantID string `json:"participant_id" validate:"required,min=1,max=64"`
}

// OverrideAuthorityRequest is the request body for POST /api/v1/alerts/{id}/update-authority.
type OverrideAuthorityRequest struct {
	AuthorityType string   `json:"authority_type" validate:"required,oneof=hospital police fire"`
	Name          string   `json:"name" validate:"required,min=1,max=128"`
	Latitude      *float64 `json:"lat" validate:"omitempty,min=-90,max=90"`
	Longitude     *float64 `json:"lon" validate:"omitempty,min=-180,max=180"`
	DistanceKm    *float64 `json:"distance_km" validate:"omitempty,min=0"`
}

// ========== Notification Types ==========

// EnqueueMessageRequest is the request body for POST /api/v1/notifications/enqueue.
type EnqueueMessageRequest struct {
	Phone   string `json:"phone" validate:"required,min=5,max=20"`
	Message string `json:"message" validate:"required,min=1,max=1600"`
	Channel string `json:"channel" validate:"omitempty,oneof=sms whatsapp"`
}

// ========== Pagination Types ==========

// PaginationMeta contains pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// PaginatedResponse wraps a list response with pagination metadata.
type PaginatedResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// ========== Mapper Output Types ==========

// HistoryEventItem is an alert history event rendered for list views.
type HistoryEventItem struct {
	UUID          string         `json:"uuid"`
	ParticipantID string         `json:"participant_id"`
	EventType     string         `json:"event_type"`
	Details       database.JSONB `json:"details,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// QueuedMessageItem is a notification queue entry rendered for list views.
type QueuedMessageItem struct {
	ID          uint                    `json:"id"`
	ReferenceID string                  `json:"reference_id"`
	PhoneNumber string                  `json:"phone_number"`
	Message     string                  `json:"message"`
	Channel     database.MessageChannel `json:"channel"`
	Status      database.MessageStatus  `json:"status"`
	Attempts    int                     `json:"attempts"`
	LastError   string                  `json:"last_error,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	SentAt      *time.Time              `json:"sent_at,omitempty"`
}
