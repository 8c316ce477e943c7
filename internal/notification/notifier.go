// Package notification delivers alerts to the two external channels
// (Telegram, Discord). Each sender is independently optional; a failure in
// one never blocks the other.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// Summary is the periodic activity report.
type Summary struct {
	AlertsSent int
	Uptime     time.Duration
	Errors     int
}

// Sender is the interface for all alert channels. Send methods report
// delivery success; failures are logged by the sender.
type Sender interface {
	Name() string
	Enabled() bool

	SendSignal(ctx context.Context, sig model.Signal) bool
	SendError(ctx context.Context, msg, detail string) bool
	SendStartup(ctx context.Context, assets []string) bool
	SendShutdown(ctx context.Context, reason string) bool
	SendSummary(ctx context.Context, s Summary) bool
	TestConnection(ctx context.Context) bool
}

// Broadcast runs send against every enabled sender concurrently, each bounded
// by timeout, and returns the names of senders that succeeded.
func Broadcast(ctx context.Context, senders []Sender, timeout time.Duration, send func(context.Context, Sender) bool) []string {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
		ok []string
	)
	for _, s := range senders {
		if s == nil || !s.Enabled() {
			continue
		}
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if send(sctx, s) {
				mu.Lock()
				ok = append(ok, s.Name())
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return ok
}
