// Package notify delivers operator alerts to one or more channels
// (Telegram, Discord). Delivery is fire-and-forget: a slow or failing
// channel never blocks the caller.
package notify

import (
	"context"
	"log/slog"
	"time"

	"weatheredge/internal/domain"
)

// sendTimeout bounds a single delivery attempt across all channels.
const sendTimeout = 10 * time.Second

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

var severityRank = map[domain.Severity]int{
	domain.SeverityInfo:     0,
	domain.SeverityWarning:  1,
	domain.SeverityCritical: 2,
}

// Notifier fans alerts out to its senders, dropping alerts below the
// configured minimum severity. It implements domain.Alerter.
type Notifier struct {
	senders     []Sender
	minSeverity domain.Severity
	logger      *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Alerts
// below minSeverity are dropped; an unknown minSeverity lets everything
// through.
func NewNotifier(senders []Sender, minSeverity domain.Severity, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders:     senders,
		minSeverity: minSeverity,
		logger:      logger.With("component", "notifier"),
	}
}

// Send dispatches the alert to every channel in the background. Failures
// are logged, never returned.
func (n *Notifier) Send(ctx context.Context, severity domain.Severity, title, message string) {
	if severityRank[severity] < severityRank[n.minSeverity] {
		return
	}
	if len(n.senders) == 0 {
		return
	}

	// Detach from the caller so a cancelled trading context cannot
	// swallow a critical alert.
	go n.dispatch(context.WithoutCancel(ctx), severity, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, severity domain.Severity, title, message string) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	decorated := "[" + string(severity) + "] " + title
	for _, s := range n.senders {
		if err := s.Send(ctx, decorated, message); err != nil {
			n.logger.Error("alert delivery failed",
				"sender", s.Name(),
				"severity", string(severity),
				"title", title,
				"error", err)
			continue
		}
		n.logger.Debug("alert delivered", "sender", s.Name(), "title", title)
	}
}

var _ domain.Alerter = (*Notifier)(nil)
