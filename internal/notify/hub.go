package notify

import (
	"log"
	"sync"
)

// Conn is the write side of a live session. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type session struct {
	conn Conn
	mu   sync.Mutex
}

func (s *session) send(event string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		log.Printf("Live push failed (%s): %v", event, err)
	}
}

// Hub tracks connected live sessions: operators globally, participants and
// family viewers keyed by participant id. Delivery to an absent session is a
// no-op, never an error.
type Hub struct {
	mu           sync.RWMutex
	operators    map[Conn]*session
	participants map[string]*session
	family       map[string]map[Conn]*session
}

// NewHub creates an empty session registry.
func NewHub() *Hub {
	return &Hub{
		operators:    make(map[Conn]*session),
		participants: make(map[string]*session),
		family:       make(map[string]map[Conn]*session),
	}
}

// RegisterOperator adds an operator dashboard session.
func (h *Hub) RegisterOperator(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.operators[c] = &session{conn: c}
}

// UnregisterOperator removes an operator session. Safe on unknown conns.
func (h *Hub) UnregisterOperator(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.operators, c)
}

// RegisterParticipant binds a participant's own live channel. A reconnect
// replaces any previous channel for the same id.
func (h *Hub) RegisterParticipant(participantID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.participants[participantID]; ok && old.conn != c {
		old.conn.Close()
	}
	h.participants[participantID] = &session{conn: c}
}

// UnregisterParticipant removes the participant's channel, but only if it is
// still the given conn: a fast reconnect must not unbind the new session.
func (h *Hub) UnregisterParticipant(participantID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.participants[participantID]; ok && cur.conn == c {
		delete(h.participants, participantID)
	}
}

// RegisterFamily subscribes a family viewer to one participant's updates.
func (h *Hub) RegisterFamily(participantID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	viewers, ok := h.family[participantID]
	if !ok {
		viewers = make(map[Conn]*session)
		h.family[participantID] = viewers
	}
	viewers[c] = &session{conn: c}
}

// UnregisterFamily drops a family viewer from every participant it follows.
func (h *Hub) UnregisterFamily(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for participantID, viewers := range h.family {
		delete(viewers, c)
		if len(viewers) == 0 {
			delete(h.family, participantID)
		}
	}
}

// BroadcastOperators pushes an event to every connected operator.
func (h *Hub) BroadcastOperators(event string, data interface{}) {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.operators))
	for _, s := range h.operators {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.send(event, data)
	}
}

// SendToParticipant pushes a directed event to one participant's channel.
// Returns false when the participant has no live connection.
func (h *Hub) SendToParticipant(participantID, event string, data interface{}) bool {
	h.mu.RLock()
	s, ok := h.participants[participantID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	s.send(event, data)
	return true
}

// SendToFamily pushes an event to every family viewer of one participant.
func (h *Hub) SendToFamily(participantID, event string, data interface{}) {
	h.mu.RLock()
	viewers := make([]*session, 0, len(h.family[participantID]))
	for _, s := range h.family[participantID] {
		viewers = append(viewers, s)
	}
	h.mu.RUnlock()

	for _, s := range viewers {
		s.send(event, data)
	}
}

// OperatorCount reports connected operator sessions.
func (h *Hub) OperatorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.operators)
}

// ParticipantConnected reports whether a participant has a live channel.
func (h *Hub) ParticipantConnected(participantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.participants[participantID]
	return ok
}
