package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/utils"
)

// maxBodyLength is the Twilio limit for a single message body.
const maxBodyLength = 1600

// ErrGatewayNotConfigured marks a delivery attempt made without gateway
// credentials. The retry worker records it as a soft, observable failure.
var ErrGatewayNotConfigured = errors.New("gateway_not_configured")

// Gateway sends SMS and WhatsApp messages through a Twilio-compatible
// messaging API.
type Gateway struct {
	baseURL      string
	accountSID   string
	authToken    string
	smsFrom      string
	whatsappFrom string
	httpClient   *http.Client
}

// GatewayOptions carries the credentials and sender addresses.
type GatewayOptions struct {
	BaseURL      string
	AccountSID   string
	AuthToken    string
	SMSFrom      string
	WhatsAppFrom string
}

// NewGateway builds a gateway client. The zero-credential case is allowed;
// Send then fails every attempt with ErrGatewayNotConfigured.
func NewGateway(opts GatewayOptions, timeout time.Duration) *Gateway {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &Gateway{
		baseURL:      baseURL,
		accountSID:   opts.AccountSID,
		authToken:    opts.AuthToken,
		smsFrom:      opts.SMSFrom,
		whatsappFrom: opts.WhatsAppFrom,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Configured reports whether real deliveries are possible.
func (g *Gateway) Configured() bool {
	return g.accountSID != "" && g.authToken != "" && (g.smsFrom != "" || g.whatsappFrom != "")
}

func whatsappAddress(num string) string {
	return "whatsapp:" + num
}

// Send delivers one message over the requested channel.
func (g *Gateway) Send(ctx context.Context, channel database.MessageChannel, to, body string) error {
	if !g.Configured() {
		return ErrGatewayNotConfigured
	}

	to = utils.NormalizePhone(to)
	if err := utils.ValidatePhone(to); err != nil {
		return fmt.Errorf("cannot address recipient: %w", err)
	}
	body = utils.TruncateMessage(body, maxBodyLength)

	from := g.smsFrom
	if channel == database.ChannelWhatsApp {
		if g.whatsappFrom == "" {
			return ErrGatewayNotConfigured
		}
		from = whatsappAddress(g.whatsappFrom)
		to = whatsappAddress(to)
	} else if from == "" {
		return ErrGatewayNotConfigured
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", g.baseURL, g.accountSID)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(g.accountSID, g.authToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return nil
}
