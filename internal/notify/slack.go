package notify

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"
)

// SlackMirror copies operator-grade escalations into a Slack channel so an
// on-call team sees them without a dashboard open. Posting is best-effort.
type SlackMirror struct {
	client  *slack.Client
	channel string
}

// NewSlackMirror returns nil when no token is configured; call sites treat a
// nil mirror as disabled.
func NewSlackMirror(token, channel string) *SlackMirror {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackMirror{
		client:  slack.New(token),
		channel: channel,
	}
}

// PostAlert sends one escalation line. Errors are logged and swallowed: Slack
// being down must never affect alert handling.
func (m *SlackMirror) PostAlert(participantID, message string) {
	if m == nil {
		return
	}
	text := message
	if participantID != "" {
		text = fmt.Sprintf("[%s] %s", participantID, message)
	}
	_, _, err := m.client.PostMessage(
		m.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		log.Printf("Failed to mirror alert to Slack: %v", err)
	}
}
