package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mountsync/mountsync/pkg/config"
)

const twilioAPIBase = "https://api.twilio.com"

// SMSLegacyTransport sends messages through the Twilio SMS API. It is kept
// for deployments that predate the Telegram channel.
type SMSLegacyTransport struct {
	accountSID         string
	authToken          string
	toNumber           string
	messagingServiceID string
	// baseURL is overridable for tests.
	baseURL string
	client  *http.Client
}

func NewSMSLegacyTransport(cfg config.SMSConfig) *SMSLegacyTransport {
	return &SMSLegacyTransport{
		accountSID:         cfg.AccountSID,
		authToken:          cfg.AuthToken,
		toNumber:           cfg.ToNumber,
		messagingServiceID: cfg.MessagingServiceID,
		baseURL:            twilioAPIBase,
		client:             &http.Client{},
	}
}

func (t *SMSLegacyTransport) Name() string { return "sms-legacy" }

// twilioError is the error envelope Twilio returns on non-2xx responses.
type twilioError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (t *SMSLegacyTransport) Send(ctx context.Context, body string) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.accountSID)
	form := url.Values{
		"To":                  {t.toNumber},
		"MessagingServiceSid": {t.messagingServiceID},
		"Body":                {body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("could not build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.accountSID, t.authToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var parsed twilioError
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Message != "" {
		return fmt.Errorf("sms rejected (status %d, code %d): %s", resp.StatusCode, parsed.Code, parsed.Message)
	}
	return fmt.Errorf("sms rejected with status %d", resp.StatusCode)
}
