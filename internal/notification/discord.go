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

// Embed colours.
const (
	colorStrong   = 0x00FF00
	colorModerate = 0x32CD32
	colorError    = 0xFF0000
	colorStartup  = 0x00FF00
	colorShutdown = 0xFF6600
)

// DiscordSender posts embeds to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a Discord sender. An empty URL disables it.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

func (d *DiscordSender) Name() string { return "discord" }

func (d *DiscordSender) Enabled() bool { return d.webhookURL != "" }

func (d *DiscordSender) SendSignal(ctx context.Context, sig model.Signal) bool {
	return d.deliver(ctx, "signal", webhookPayload{Embeds: []Embed{DiscordEmbed(sig)}})
}

func (d *DiscordSender) SendError(ctx context.Context, msg, detail string) bool {
	e := Embed{Title: "🚨 BTC Lag Scalper Error", Description: msg, Color: colorError}
	if detail != "" {
		e.Fields = append(e.Fields, EmbedField{Name: "Context", Value: detail})
	}
	return d.deliver(ctx, "error", webhookPayload{Embeds: []Embed{e}})
}

func (d *DiscordSender) SendStartup(ctx context.Context, assets []string) bool {
	e := Embed{
		Title:       "🚀 BTC Lag Scalper Started",
		Description: "Monitoring: " + strings.Join(assets, ", "),
		Color:       colorStartup,
		Footer:      &EmbedFooter{Text: "System is now running"},
	}
	return d.deliver(ctx, "startup", webhookPayload{Embeds: []Embed{e}})
}

func (d *DiscordSender) SendShutdown(ctx context.Context, reason string) bool {
	e := Embed{Title: "🔴 BTC Lag Scalper Stopped", Description: "Reason: " + reason, Color: colorShutdown}
	return d.deliver(ctx, "shutdown", webhookPayload{Embeds: []Embed{e}})
}

func (d *DiscordSender) SendSummary(ctx context.Context, s Summary) bool {
	return d.deliver(ctx, "summary", webhookPayload{Content: strings.ReplaceAll(FormatSummary(s, d.now()), "*", "**")})
}

// TestConnection posts a plain test message.
func (d *DiscordSender) TestConnection(ctx context.Context) bool {
	ok := d.deliver(ctx, "test", webhookPayload{Content: "🔌 Connection test - BTC Lag Scalper"})
	if ok {
		slog.Info("discord webhook connected")
	}
	return ok
}

type webhookPayload struct {
	Username string  `json:"username"`
	Content  string  `json:"content,omitempty"`
	Embeds   []Embed `json:"embeds,omitempty"`
}

func (d *DiscordSender) deliver(ctx context.Context, kind string, payload webhookPayload) bool {
	if !d.Enabled() {
		return false
	}
	if err := d.post(ctx, payload); err != nil {
		slog.Error("discord delivery failed", "kind", kind, "error", err)
		return false
	}
	slog.Debug("discord sent", "kind", kind)
	return true
}

func (d *DiscordSender) post(ctx context.Context, payload webhookPayload) error {
	payload.Username = "BTC Lag Scalper"
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord: unexpected status %d", resp.StatusCode)
	}
	return nil
}
