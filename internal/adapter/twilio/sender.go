// Package twilio implements messenger.Sender for WhatsApp over the Twilio
// Messages API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/port/messenger"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/resilience"
)

const (
	providerName     = "twilio"
	defaultBaseURL   = "https://api.twilio.com"
	whatsappPrefix   = "whatsapp:"
	maxMessageLength = 1600
)

// Sender posts WhatsApp messages through Twilio.
type Sender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
}

// NewSender creates a Twilio sender. from is the WhatsApp number messages are
// sent from.
func NewSender(accountSID, authToken, from, baseURL string, timeout time.Duration) *Sender {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Sender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       WhatsAppAddress(from),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *Sender) Name() string { return providerName }

func (s *Sender) Capabilities() messenger.Capabilities {
	return messenger.Capabilities{MaxMessageLength: maxMessageLength, Media: true}
}

type messageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send delivers body to the WhatsApp address to. Client errors other than
// rate limiting are marked permanent so they do not trip a circuit breaker.
func (s *Sender) Send(ctx context.Context, to, body string) (string, error) {
	if s.accountSID == "" || s.authToken == "" || s.from == whatsappPrefix {
		return "", messenger.ErrNotConfigured
	}

	form := url.Values{}
	form.Set("To", WhatsAppAddress(to))
	form.Set("From", s.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(s.accountSID, s.authToken)

	resp, err := s.httpClient.Do(req) //nolint:gosec // base URL from trusted config
	if err != nil {
		return "", fmt.Errorf("twilio send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out messageResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("twilio API %d (code %d): %s", resp.StatusCode, out.Code, out.Message)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", resilience.Permanent(err)
		}
		return "", err
	}
	return out.SID, nil
}

// WhatsAppAddress adds the whatsapp: channel prefix when missing.
func WhatsAppAddress(addr string) string {
	if strings.HasPrefix(addr, whatsappPrefix) {
		return addr
	}
	return whatsappPrefix + addr
}
