// Package notify turns a sync outcome into a push message and dispatches it
// to a configured transport. Transport failures are logged and reported to
// the caller as false, never as an error: a sync that already succeeded must
// not be failed by a broken notification channel.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mountsync/mountsync/pkg/config"
	"github.com/mountsync/mountsync/pkg/plog"
	"github.com/mountsync/mountsync/pkg/report"
)

// transportTimeout bounds one send attempt so a wedged notification API can
// never hang the daemon.
const transportTimeout = 30 * time.Second

// Transport delivers a message body to one destination.
type Transport interface {
	Name() string
	Send(ctx context.Context, body string) error
}

// NewTransport builds the transport selected by the configuration.
func NewTransport(cfg config.NotifyConfig) (Transport, error) {
	switch cfg.Method {
	case config.NotifyNone:
		return NoneTransport{}, nil
	case config.NotifyTelegram:
		return NewTelegramTransport(cfg.Telegram.BotToken, cfg.Telegram.ChatID), nil
	case config.NotifySMSLegacy:
		return NewSMSLegacyTransport(cfg.SMS), nil
	default:
		return nil, fmt.Errorf("unknown notification method: %q", cfg.Method)
	}
}

// NoneTransport is the default transport for environments with notifications
// disabled. Sending always succeeds without doing anything.
type NoneTransport struct{}

func (NoneTransport) Name() string { return "none" }

func (NoneTransport) Send(_ context.Context, _ string) error { return nil }

// Notifier applies the notification policy and dispatches messages.
type Notifier struct {
	transport Transport
	// onFailure controls whether failed syncs are pushed too.
	onFailure bool
}

func New(transport Transport, notifyOnFailure bool) *Notifier {
	return &Notifier{transport: transport, onFailure: notifyOnFailure}
}

// ShouldNotify decides whether an outcome warrants a message. An initial sync
// is always announced, a resync only when it changed something, and failures
// only when failure notification is configured.
func (n *Notifier) ShouldNotify(initial, changed, success bool) bool {
	if !success {
		return n.onFailure
	}
	if initial {
		return true
	}
	return changed
}

// BuildMessage renders the message body: the trigger context first, then one
// line per non-zero category.
func BuildMessage(summary *report.CategorySummary, contextMsg string) string {
	var b strings.Builder
	b.WriteString(contextMsg)
	if summary != nil {
		for _, line := range summary.Lines() {
			b.WriteString("\n")
			b.WriteString(line)
		}
	}
	return b.String()
}

// Notify builds and sends the message, returning whether delivery succeeded.
// A transport failure is logged and returned as false; it is never an error.
func (n *Notifier) Notify(ctx context.Context, summary *report.CategorySummary, contextMsg string) bool {
	body := BuildMessage(summary, contextMsg)

	sendCtx, cancel := context.WithTimeout(ctx, transportTimeout)
	defer cancel()

	if err := n.transport.Send(sendCtx, body); err != nil {
		plog.Warn("Notification delivery failed", "transport", n.transport.Name(), "error", err)
		return false
	}
	plog.Info("Notification sent", "transport", n.transport.Name())
	return true
}
