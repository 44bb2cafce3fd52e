package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramTransport sends messages through the Telegram Bot API.
type TelegramTransport struct {
	botToken string
	chatID   string
	// baseURL is overridable for tests.
	baseURL string
	client  *http.Client
}

func NewTelegramTransport(botToken, chatID string) *TelegramTransport {
	return &TelegramTransport{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPIBase,
		client:   &http.Client{},
	}
}

func (t *TelegramTransport) Name() string { return "telegram" }

// telegramResponse is the subset of the Bot API envelope we care about.
type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts one sendMessage call. The Bot API reports logical failures with
// "ok": false in the body, so a 200 status alone is not success.
func (t *TelegramTransport) Send(ctx context.Context, body string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	form := url.Values{
		"chat_id": {t.chatID},
		"text":    {body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("could not build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("could not read telegram response: %w", err)
	}

	var parsed telegramResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("unexpected telegram response (status %d): %w", resp.StatusCode, err)
	}
	if !parsed.OK {
		return fmt.Errorf("telegram rejected message (status %d): %s", resp.StatusCode, parsed.Description)
	}
	return nil
}
