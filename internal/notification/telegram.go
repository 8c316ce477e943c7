package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// DefaultTelegramURL is the Bot API root.
const DefaultTelegramURL = "https://api.telegram.org"

// TelegramSender sends alerts via the Telegram Bot API using legacy Markdown.
type TelegramSender struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	now      func() time.Time
}

// NewTelegramSender creates a Telegram sender.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
// baseURL: API root, empty for DefaultTelegramURL
func NewTelegramSender(botToken, chatID, baseURL string) *TelegramSender {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &TelegramSender{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

func (t *TelegramSender) Name() string { return "telegram" }

// Enabled reports whether both the token and the chat are configured.
func (t *TelegramSender) Enabled() bool { return t.botToken != "" && t.chatID != "" }

func (t *TelegramSender) SendSignal(ctx context.Context, sig model.Signal) bool {
	return t.deliver(ctx, "signal", FormatTelegram(sig), false)
}

func (t *TelegramSender) SendError(ctx context.Context, msg, detail string) bool {
	return t.deliver(ctx, "error", FormatError(escapeMarkdown(msg), escapeMarkdown(detail), t.now()), true)
}

func (t *TelegramSender) SendStartup(ctx context.Context, assets []string) bool {
	text := fmt.Sprintf("🚀 *BTC Lag Scalper Started*\n\nMonitoring: %s\nSystem is now running.", strings.Join(assets, ", "))
	return t.deliver(ctx, "startup", text, true)
}

func (t *TelegramSender) SendShutdown(ctx context.Context, reason string) bool {
	text := fmt.Sprintf("🔴 *BTC Lag Scalper Stopped*\n\nReason: %s", escapeMarkdown(reason))
	return t.deliver(ctx, "shutdown", text, true)
}

func (t *TelegramSender) SendSummary(ctx context.Context, s Summary) bool {
	return t.deliver(ctx, "summary", FormatSummary(s, t.now()), true)
}

// TestConnection calls getMe and logs the bot's username.
func (t *TelegramSender) TestConnection(ctx context.Context) bool {
	if !t.Enabled() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint("getMe"), nil)
	if err != nil {
		slog.Error("telegram: create request", "error", err)
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		slog.Error("telegram: connection test failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("telegram: connection test failed", "status", resp.StatusCode)
		return false
	}
	var me struct {
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&me)
	slog.Info("telegram connected", "bot", "@"+me.Result.Username)
	return true
}

func (t *TelegramSender) deliver(ctx context.Context, kind, text string, silent bool) bool {
	if !t.Enabled() {
		return false
	}
	if err := t.send(ctx, text, silent); err != nil {
		slog.Error("telegram delivery failed", "kind", kind, "error", err)
		return false
	}
	slog.Debug("telegram sent", "kind", kind)
	return true
}

func (t *TelegramSender) send(ctx context.Context, text string, silent bool) error {
	body, err := json.Marshal(map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
		"disable_notification":     silent,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (t *TelegramSender) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.botToken, method)
}

// escapeMarkdown escapes the legacy Markdown entity characters in free text.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '`', '['}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
