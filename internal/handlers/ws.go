package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/notify"
	"github.com/wecodeblooded/safety-engine/internal/services"
	"github.com/wecodeblooded/safety-engine/internal/utils"
	"gorm.io/gorm"
)

// Session roles a websocket client can identify as.
const (
	RoleOperator    = "operator"
	RoleParticipant = "participant"
	RoleFamily      = "family"
)

// Inbound message types.
const (
	MessageTypeIdentify            = "identify"
	MessageTypeDislocationResponse = "dislocationResponse"
)

// SessionMessage is an inbound websocket message from a client.
type SessionMessage struct {
	Type          string `json:"type"`
	Role          string `json:"role,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	GroupName     string `json:"groupName,omitempty"`
	Response      string `json:"response,omitempty"`
}

// SessionWSHandler handles websocket connections from operator consoles,
// participant apps, and family viewers.
type SessionWSHandler struct {
	upgrader    websocket.Upgrader
	db          *gorm.DB
	hub         *notify.Hub
	lifecycle   *services.LifecycleService
	dislocation *services.DislocationService
}

// NewSessionWSHandler creates a new websocket session handler.
func NewSessionWSHandler(db *gorm.DB, hub *notify.Hub, lifecycle *services.LifecycleService, dislocation *services.DislocationService) *SessionWSHandler {
	return &SessionWSHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		db:          db,
		hub:         hub,
		lifecycle:   lifecycle,
		dislocation: dislocation,
	}
}

// SetupRoutes configures websocket routes.
func (h *SessionWSHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the connection and runs the session read loop.
// Clients must identify before any other message is honored.
func (h *SessionWSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return
	}

	var role, participantID string
	defer func() {
		h.unregister(role, participantID, conn)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		var msg SessionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Failed to parse session message: %v", err)
			continue
		}

		switch msg.Type {
		case MessageTypeIdentify:
			if role != "" {
				log.Printf("Session already identified as %s, ignoring identify", role)
				continue
			}
			if !h.identify(msg, conn) {
				continue
			}
			role = msg.Role
			participantID = msg.ParticipantID

		case MessageTypeDislocationResponse:
			if role == "" {
				log.Printf("Dislocation response before identify, ignoring")
				continue
			}
			if msg.GroupName == "" || msg.ParticipantID == "" {
				continue
			}
			h.dislocation.Respond(context.Background(), msg.GroupName, msg.ParticipantID, msg.Response)

		default:
			log.Printf("Unknown session message type: %s", utils.EscapeForLogging(msg.Type, 64))
		}
	}
}

// identify registers the connection in the hub for the requested role.
// Family viewers also get their initial snapshot before registration so
// the init events cannot interleave with hub pushes.
func (h *SessionWSHandler) identify(msg SessionMessage, conn *websocket.Conn) bool {
	switch msg.Role {
	case RoleOperator:
		h.hub.RegisterOperator(conn)
		log.Printf("Operator console connected")
		return true

	case RoleParticipant:
		if msg.ParticipantID == "" {
			log.Printf("Participant identify without participantId, ignoring")
			return false
		}
		h.hub.RegisterParticipant(msg.ParticipantID, conn)
		log.Printf("Participant %s connected", msg.ParticipantID)
		return true

	case RoleFamily:
		if msg.ParticipantID == "" {
			log.Printf("Family identify without participantId, ignoring")
			return false
		}
		h.sendFamilyInit(msg.ParticipantID, conn)
		h.hub.RegisterFamily(msg.ParticipantID, conn)
		log.Printf("Family viewer connected for %s", msg.ParticipantID)
		return true

	default:
		log.Printf("Unknown session role: %s", msg.Role)
		return false
	}
}

// sendFamilyInit pushes the watched participant's current location and any
// open episode to a newly identified family viewer.
func (h *SessionWSHandler) sendFamilyInit(participantID string, conn *websocket.Conn) {
	participant, err := database.GetParticipant(h.db, participantID)
	if err != nil || participant == nil {
		return
	}

	if participant.HasLocation() {
		init := notify.Envelope{
			Event: notify.EventFamilyLocationInit,
			Data: map[string]interface{}{
				"participantId": participantID,
				"lat":           *participant.Latitude,
				"lon":           *participant.Longitude,
				"status":        participant.Status,
			},
		}
		if err := conn.WriteJSON(init); err != nil {
			log.Printf("Failed to send family location init: %v", err)
			return
		}
	}

	if episode, ok := h.lifecycle.CurrentEpisode(participantID); ok {
		update := notify.Envelope{
			Event: notify.EventFamilyAlertUpdate,
			Data: map[string]interface{}{
				"participantId": participantID,
				"type":          episode.Type,
				"subtype":       episode.Subtype,
				"startedAt":     episode.StartedAt,
			},
		}
		if err := conn.WriteJSON(update); err != nil {
			log.Printf("Failed to send family alert init: %v", err)
		}
	}
}

func (h *SessionWSHandler) unregister(role, participantID string, conn *websocket.Conn) {
	switch role {
	case RoleOperator:
		h.hub.UnregisterOperator(conn)
	case RoleParticipant:
		h.hub.UnregisterParticipant(participantID, conn)
	case RoleFamily:
		h.hub.UnregisterFamily(conn)
	}
}
