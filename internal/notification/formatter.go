package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

const stampLayout = "2006-01-02 15:04:05"

// FormatPrice renders a price with precision scaled to its magnitude:
// $98,500.00, $1.2345, $0.012345.
func FormatPrice(p float64) string {
	switch {
	case p >= 1000:
		return "$" + groupThousands(decimal.NewFromFloat(p).StringFixed(2))
	case p >= 1:
		return fmt.Sprintf("$%.4f", p)
	default:
		return fmt.Sprintf("$%.6f", p)
	}
}

// FormatPercent renders a signed percentage: +1.25%, -3.80%.
func FormatPercent(v float64) string {
	return fmt.Sprintf("%+.2f%%", v)
}

func groupThousands(fixed string) string {
	intPart, frac, _ := strings.Cut(fixed, ".")
	for i := len(intPart) - 3; i > 0; i -= 3 {
		intPart = intPart[:i] + "," + intPart[i:]
	}
	if frac == "" {
		return intPart
	}
	return intPart + "." + frac
}

func strengthEmoji(sig model.Signal) string {
	if sig.Strong {
		return "🔥"
	}
	return "🟢"
}

func levelLines(sig model.Signal, bold string) []string {
	lv := sig.Levels
	return []string{
		fmt.Sprintf("%sEntry Zone:%s %s - %s", bold, bold, FormatPrice(lv.EntryLow), FormatPrice(lv.EntryHigh)),
		fmt.Sprintf("%sCurrent Price:%s %s", bold, bold, FormatPrice(sig.Price)),
		"",
		fmt.Sprintf("%sStop Loss:%s %s (-0.5%%)", bold, bold, FormatPrice(lv.StopLoss)),
		fmt.Sprintf("%sTarget 1:%s %s (+1.0%%)", bold, bold, FormatPrice(lv.Target1)),
		fmt.Sprintf("%sTarget 2:%s %s (+1.5%%)", bold, bold, FormatPrice(lv.Target2)),
	}
}

// FormatTelegram renders a signal as a legacy-Markdown Telegram message.
func FormatTelegram(sig model.Signal) string {
	lines := []string{
		fmt.Sprintf("%s *LONG SIGNAL: %s*", strengthEmoji(sig), sig.Asset),
		"",
	}
	lines = append(lines, levelLines(sig, "*")...)
	lines = append(lines,
		"",
		"📊 *Signal Strength:* "+sig.StrengthLabel(),
		"",
		"*Metrics:*",
		"• BTC 1H Change: "+FormatPercent(sig.BTC.Change1h),
		fmt.Sprintf("• %s 1H Change: %s", sig.Asset, FormatPercent(sig.Underperformance.AssetChange1h)),
		"• Underperformance: "+FormatPercent(sig.Underperformance.Spread),
	)
	if rsi, ok := sig.Ratio.RSI.Get(); ok {
		lines = append(lines, fmt.Sprintf("• %s/BTC RSI(14): %.1f", sig.Asset, rsi))
	}
	if rate, ok := sig.Funding.Rate.Get(); ok {
		lines = append(lines, fmt.Sprintf("• Funding Rate: %.4f%%", rate))
	}
	if len(sig.Warnings) > 0 {
		lines = append(lines, "", "⚠️ *Warnings:*")
		for _, w := range sig.Warnings {
			lines = append(lines, "• "+w)
		}
	}
	lines = append(lines,
		"",
		"📈 *BTC Status:* "+sig.BTC.Message,
		"",
		fmt.Sprintf("⏰ %s UTC", sig.Timestamp.UTC().Format(stampLayout)),
	)
	return strings.Join(lines, "\n")
}

// Embed is a Discord message embed.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// DiscordEmbed renders a signal as a Discord embed.
func DiscordEmbed(sig model.Signal) Embed {
	color := colorModerate
	if sig.Strong {
		color = colorStrong
	}

	metrics := []string{
		"BTC 1H: " + FormatPercent(sig.BTC.Change1h),
		fmt.Sprintf("%s 1H: %s", sig.Asset, FormatPercent(sig.Underperformance.AssetChange1h)),
		"Underperformance: " + FormatPercent(sig.Underperformance.Spread),
	}
	if rsi, ok := sig.Ratio.RSI.Get(); ok {
		metrics = append(metrics, fmt.Sprintf("%s/BTC RSI: %.1f", sig.Asset, rsi))
	}
	if rate, ok := sig.Funding.Rate.Get(); ok {
		metrics = append(metrics, fmt.Sprintf("Funding: %.4f%%", rate))
	}

	e := Embed{
		Title:       fmt.Sprintf("%s LONG SIGNAL: %s", strengthEmoji(sig), sig.Asset),
		Description: strings.Join(levelLines(sig, "**"), "\n"),
		Color:       color,
		Fields: []EmbedField{
			{Name: "📊 Signal Strength", Value: sig.StrengthLabel(), Inline: true},
			{Name: "📈 Metrics", Value: strings.Join(metrics, "\n")},
		},
		Footer:    &EmbedFooter{Text: "BTC: " + sig.BTC.Message},
		Timestamp: sig.Timestamp.UTC().Format(time.RFC3339),
	}
	if len(sig.Warnings) > 0 {
		e.Fields = append(e.Fields, EmbedField{Name: "⚠️ Warnings", Value: strings.Join(sig.Warnings, "\n")})
	}
	return e
}

// FormatError renders an operational error alert. detail is optional.
func FormatError(msg, detail string, at time.Time) string {
	lines := []string{
		"🚨 *BTC Lag Scalper Error*",
		"",
		"*Error:* " + msg,
	}
	if detail != "" {
		lines = append(lines, "*Context:* "+detail)
	}
	lines = append(lines, "", fmt.Sprintf("⏰ %s UTC", at.UTC().Format(stampLayout)))
	return strings.Join(lines, "\n")
}

// FormatSummary renders the daily activity report.
func FormatSummary(s Summary, at time.Time) string {
	return strings.Join([]string{
		"📊 *BTC Lag Scalper Daily Summary*",
		"",
		fmt.Sprintf("• Alerts Sent: %d", s.AlertsSent),
		fmt.Sprintf("• Uptime: %.1f hours", s.Uptime.Hours()),
		fmt.Sprintf("• Errors: %d", s.Errors),
		"",
		fmt.Sprintf("⏰ %s UTC", at.UTC().Format(stampLayout)),
	}, "\n")
}
