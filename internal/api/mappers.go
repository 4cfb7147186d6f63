package api

import "github.com/wecodeblooded/safety-engine/internal/database"

// EventToItem converts an alert history event to its list representation.
func EventToItem(e database.AlertHistoryEvent) HistoryEventItem {
	return HistoryEventItem{
		UUID:          e.UUID,
		ParticipantID: e.ParticipantID,
		EventType:     e.EventType,
		Details:       e.Details,
		CreatedAt:     e.CreatedAt,
	}
}

// EventsToItems converts a slice of alert history events to list items.
func EventsToItems(events []database.AlertHistoryEvent) []HistoryEventItem {
	items := make([]HistoryEventItem, len(events))
	for i, e := range events {
		items[i] = EventToItem(e)
	}
	return items
}

// MessageToItem converts a queued message to its list representation.
func MessageToItem(m database.QueuedMessage) QueuedMessageItem {
	return QueuedMessageItem{
		ID:          m.ID,
		ReferenceID: m.ReferenceID,
		PhoneNumber: m.PhoneNumber,
		Message:     m.Message,
		Channel:     m.Channel,
		Status:      m.Status,
		Attempts:    m.Attempts,
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		SentAt:      m.SentAt,
	}
}

// MessagesToItems converts a slice of queued messages to list items.
func MessagesToItems(messages []database.QueuedMessage) []QueuedMessageItem {
	items := make([]QueuedMessageItem, len(messages))
	for i, m := range messages {
		items[i] = MessageToItem(m)
	}
	return items
}
