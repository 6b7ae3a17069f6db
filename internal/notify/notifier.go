// Package notify delivers human-readable status and alert messages. Delivery
// is best effort: a failing channel is logged and never reported back to the
// caller, so the decision loop does not depend on notifications.
package notify

import (
	"context"
	"log/slog"
	"strings"
)

// Event names accepted by Notifier.Notify.
const (
	EventStartup          = "startup"
	EventDecision         = "decision"
	EventApplied          = "applied"
	EventCycleError       = "cycle_error"
	EventPriceUnavailable = "price_unavailable"
	EventWallet           = "wallet"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards events in the allowed set; NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. If
// events is empty, all event types are allowed. With no senders at all the
// notifier falls back to a LogSender so messages still reach the operator.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	logger = logger.With(slog.String("component", "notifier"))
	if len(senders) == 0 {
		senders = []Sender{NewLogSender(logger)}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger,
	}
}

// Notify sends a notification to all senders if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return
	}
	n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) {
	n.dispatch(ctx, title, message)
}

// Senders returns the names of the configured channels.
func (n *Notifier) Senders() []string {
	names := make([]string, len(n.senders))
	for i, s := range n.senders {
		names[i] = s.Name()
	}
	return names
}

// dispatch tries every sender; one failing sender does not stop delivery to
// the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "notification not delivered",
				slog.String("sender", s.Name()),
				slog.String("title", title),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}
