package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/wecodeblooded/safety-engine/internal/api"
	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/jobs"
	"github.com/wecodeblooded/safety-engine/internal/services"
	"gorm.io/gorm"
)

// APIHandler handles the engine's REST endpoints.
type APIHandler struct {
	db        *gorm.DB
	lifecycle *services.LifecycleService
	worker    *jobs.DeliveryWorker
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(db *gorm.DB, lifecycle *services.LifecycleService, worker *jobs.DeliveryWorker) *APIHandler {
	return &APIHandler{
		db:        db,
		lifecycle: lifecycle,
		worker:    worker,
	}
}

// SetupRoutes sets up all API routes.
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/location/update", h.handleLocationUpdate)

	mux.HandleFunc("POST /api/v1/alert/panic", h.handlePanic)
	mux.HandleFunc("POST /api/v1/alert/cancel", h.handleCancelPanic)
	mux.HandleFunc("POST /api/v1/alerts/forward-to-emergency", h.handleForwardToEmergency)
	mux.HandleFunc("POST /api/v1/alerts/{id}/update-authority", h.handleUpdateAuthority)
	mux.HandleFunc("GET /api/v1/alerts/{id}/dispatch", h.handleDispatchDetails)
	mux.HandleFunc("GET /api/v1/alerts/{id}/nearby-services", h.handleNearbyServices)

	mux.HandleFunc("POST /api/v1/participants/{id}/reset", h.handleResetParticipant)
	mux.HandleFunc("POST /api/v1/groups/{name}/reset-alerts", h.handleResetGroup)
	mux.HandleFunc("GET /api/v1/participants/{id}/history", h.handleParticipantHistory)
	mux.HandleFunc("GET /api/v1/participants/{id}/alerts", h.handleParticipantAlerts)

	mux.HandleFunc("POST /api/v1/notifications/enqueue", h.handleEnqueueNotification)
	mux.HandleFunc("POST /api/v1/notifications/run-worker", h.handleRunWorker)
	mux.HandleFunc("GET /api/v1/notifications", h.handleListNotifications)
}

// handleLocationUpdate handles POST /api/v1/location/update
func (h *APIHandler) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	var req api.LocationUpdateRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	result, err := h.lifecycle.SubmitLocation(r.Context(), req.ParticipantID, *req.Latitude, *req.Longitude, req.Accuracy)
	if err != nil {
		if errors.Is(err, services.ErrParticipantNotFound) {
			api.RespondError(w, http.StatusNotFound, "Participant not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to process location: %v", err))
		return
	}

	api.RespondJSON(w, http.StatusOK, result)
}

// handlePanic handles POST /api/v1/alert/panic
func (h *APIHandler) handlePanic(w http.ResponseWriter, r *http.Request) {
	var req api.PanicRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	snapshot, err := h.lifecycle.TriggerPanic(r.Context(), req.ParticipantID, req.Source)
	if err != nil {
		if errors.Is(err, services.ErrParticipantNotFound) {
			api.RespondError(w, http.StatusNotFound, "Participant not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to trigger panic: %v", err))
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"participant_id": req.ParticipantID,
		"status":         string(database.StatusDistress),
		"services":       snapshot.ToJSONB(),
	})
}

// handleCancelPanic handles POST /api/v1/alert/cancel
func (h *APIHandler) handleCancelPanic(w http.ResponseWriter, r *http.Request) {
	var req api.CancelPanicRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	if err := h.lifecycle.CancelPanic(req.ParticipantID); err != nil {
		if errors.Is(err, services.ErrParticipantNotFound) {
			api.RespondError(w, http.StatusNotFound, "Participant not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to cancel alert: %v", err))
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]string{
		"participant_id": req.ParticipantID,
		"status":         string(database.StatusActive),
	})
}

// handleResetParticipant handles POST /api/v1/participants/{id}/reset
func (h *APIHandler) handleResetParticipant(w http.ResponseWriter, r *http.Request) {
	participantID := r.PathValue("id")

	if err := h.lifecycle.ResetAlert(participantID); err != nil {
		if errors.Is(err, services.ErrParticipantNotFound) {
			api.RespondError(w, http.StatusNotFound, "Participant not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to reset participant: %v", err))
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]string{
		"participant_id": participantID,
		"status":         string(database.StatusActive),
	})
}

// handleResetGroup handles POST /api/v1/groups/{name}/reset-alerts
func (h *APIHandler) handleResetGroup(w http.ResponseWriter, r *http.Request) {
	groupName := r.PathValue("name")

	resetIDs, err := h.lifecycle.ResetGroupAlerts(groupName)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to reset group alerts: %v", err))
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"group_name": groupName,
		"reset":      resetIDs,
	})
}

// handleForwardToEmergency handles POST /api/v1/alerts/forward-to-emergency
func (h *APIHandler) handleForwardToEmergency(w http.ResponseWriter, r *http.Request) {
	var req api.ForwardRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	snapshot, err := h.lifecycle.ForwardToEmergency(r.Context(), req.ParticipantID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrParticipantNotFound):
			api.RespondError(w, http.StatusNotFound, "Participant not found")
		case errors.Is(err, services.ErrNoLocation):
			api.RespondError(w, http.StatusConflict, "Participant has no known location")
		default:
			api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to forward alert: %v", err))
		}
		return
	}

	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"participant_id": req.ParticipantID,
		"services":       snapshot.ToJSONB(),
	})
}

// handleUpdateAuthority handles POST /api/v1/alerts/{id}/update-authority
func (h *APIHandler) handleUpdateAuthority(w http.ResponseWriter, r *http.Request) {
	participantID := r.PathValue("id")

	var req api.OverrideAuthorityRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	details, err := h.lifecycle.OverrideAuthority(participantID, database.AuthorityType(req.AuthorityType), req.Name, req.Latitude, req.Longitude, req.DistanceKm)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrParticipantNotFound):
			api.RespondError(w, http.StatusNotFound, "Participant not found")
		case errors.Is(err, services.ErrInvalidAuthorityType):
			api.RespondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid authority type: %s", req.AuthorityType))
		default:
			api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to override authority: %v", err))
		}
		return
	}

	api.RespondJSON(w, http.StatusOK, details)
}

// handleDispatchDetails handles GET /api/v1/alerts/{id}/dispatch
func (h *APIHandler) handleDispatchDetails(w http.ResponseWriter, r *http.Request) {
	participantID := r.PathValue("id")

	details, err := database.DispatchDetails(h.db, participantID)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get dispatch details: %v", err))
		return
	}
	if details == nil {
		api.RespondError(w, http.StatusNotFound, "No dispatch on record for participant")
		return
	}

	api.RespondJSON(w, http.StatusOK, details)
}

// handleNearbyServices handles GET /api/v1/alerts/{id}/nearby-services.
// Returns every dispatch candidate per type, nearest first, for operators
// picking an override target.
func (h *APIHandler) handleNearbyServices(w http.ResponseWriter, r *http.Request) {
	participantID := r.PathValue("id")

	lists, err := h.lifecycle.NearbyServiceLists(r.Context(), participantID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrParticipantNotFound):
			api.RespondError(w, http.StatusNotFound, "Participant not found")
		case errors.Is(err, services.ErrNoLocation):
			api.RespondError(w, http.StatusConflict, "Participant has no known location")
		default:
			api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to look up services: %v", err))
		}
		return
	}

	api.RespondJSON(w, http.StatusOK, lists)
}

// handleParticipantHistory handles GET /api/v1/participants/{id}/history
func (h *APIHandler) handleParticipantHistory(w http.ResponseWriter, r *http.Request) {
	participantID := r.PathValue("id")

	p := api.ParsePagination(r)
	events, total, err := database.ListEvents(h.db, participantID, p.Page, p.PerPage)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get history: %v", err))
		return
	}

	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{
		Data: api.EventsToItems(events),
		Pagination: api.PaginationMeta{
			Page:       p.Page,
			PerPage:    p.PerPage,
			Total:      total,
			TotalPages: p.TotalPages(total),
		},
	})
}

// handleParticipantAlerts handles GET /api/v1/participants/{id}/alerts.
// Returns the open episode, if any, plus the resolved ring.
func (h *APIHandler) handleParticipantAlerts(w http.ResponseWriter, r *http.Request) {
	participantID := r.PathValue("id")

	participant, err := database.GetParticipant(h.db, participantID)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get participant: %v", err))
		return
	}
	if participant == nil {
		api.RespondError(w, http.StatusNotFound, "Participant not found")
		return
	}

	resolved := h.lifecycle.ResolvedEpisodes(participantID)
	if resolved == nil {
		resolved = []services.ResolvedEpisode{}
	}

	response := map[string]interface{}{
		"participant_id": participantID,
		"status":         participant.Status,
		"resolved":       resolved,
	}
	if episode, ok := h.lifecycle.CurrentEpisode(participantID); ok {
		response["current"] = episode
	}

	api.RespondJSON(w, http.StatusOK, response)
}

// handleEnqueueNotification handles POST /api/v1/notifications/enqueue
func (h *APIHandler) handleEnqueueNotification(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueMessageRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if fieldErrors := api.Validate(req); fieldErrors != nil {
		api.RespondValidationError(w, fieldErrors)
		return
	}

	msg := &database.QueuedMessage{
		PhoneNumber: strings.TrimSpace(req.Phone),
		Message:     req.Message,
		Channel:     database.MessageChannel(req.Channel),
	}
	if err := database.EnqueueMessage(h.db, msg); err != nil {
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to enqueue message: %v", err))
		return
	}

	api.RespondJSON(w, http.StatusCreated, api.MessageToItem(*msg))
}

// handleRunWorker handles POST /api/v1/notifications/run-worker
func (h *APIHandler) handleRunWorker(w http.ResponseWriter, r *http.Request) {
	results, err := h.worker.Run(r.Context())
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Delivery run failed: %v", err))
		return
	}

	log.Printf("Manual delivery run: processed=%d sent=%d failed=%d", results.Processed, results.Sent, results.Failed)
	api.RespondJSON(w, http.StatusOK, results)
}

// handleListNotifications handles GET /api/v1/notifications
func (h *APIHandler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	status := database.MessageStatus(r.URL.Query().Get("status"))
	switch status {
	case "", database.MessagePending, database.MessageInFlight, database.MessageSent, database.MessageFailed:
	default:
		api.RespondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid status filter: %s", status))
		return
	}

	p := api.ParsePagination(r)
	messages, total, err := database.ListMessages(h.db, status, p.Page, p.PerPage)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list notifications: %v", err))
		return
	}

	api.RespondJSON(w, http.StatusOK, api.PaginatedResponse{
		Data: api.MessagesToItems(messages),
		Pagination: api.PaginationMeta{
			Page:       p.Page,
			PerPage:    p.PerPage,
			Total:      total,
			TotalPages: p.TotalPages(total),
		},
	})
}
