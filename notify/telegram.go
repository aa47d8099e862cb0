package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TelegramAPI is the Bot API root.
const TelegramAPI = "https://api.telegram.org"

// telegramLimit is the Bot API cap on message text.
const telegramLimit = 4096

type Telegram struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		baseURL:  TelegramAPI,
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Enabled() bool { return t.botToken != "" && t.chatID != "" }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, m Message) error {
	if !t.Enabled() {
		return nil
	}

	text := m.Body
	if m.Title != "" {
		text = "<b>" + m.Title + "</b>\n\n" + m.Body
	}
	if len(text) > telegramLimit {
		text = text[:telegramLimit-3] + "..."
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// the URL carries the bot token; keep it out of logs
		return fmt.Errorf("send telegram message: %s", redact(err.Error(), t.botToken))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var tr telegramResponse
	_ = json.Unmarshal(body, &tr)
	if resp.StatusCode != http.StatusOK || !tr.OK {
		desc := tr.Description
		if desc == "" {
			desc = string(body)
		}
		return fmt.Errorf("telegram api %d: %s", resp.StatusCode, desc)
	}
	return nil
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return string(bytes.ReplaceAll([]byte(s), []byte(secret), []byte("***")))
}
