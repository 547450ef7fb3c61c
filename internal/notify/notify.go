// Package notify delivers escalation notifications. The Dispatcher
// interface decouples the escalation engine from the transport so tests
// and degraded-mode fallbacks can substitute their own delivery.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/slaguard/slaguard/internal/utils"
)

// Notification is one escalation notice to deliver.
type Notification struct {
	ItemUUID   string
	ItemTitle  string
	ItemType   string
	TargetType string
	Level      int
	Role       string

	// Slack member IDs of the resolved recipients, when known.
	RecipientSlackIDs []string
	RecipientNames    []string

	// Channels from the policy's notification_channels list.
	Channels []string

	// Target is the policy's target for the missed deadline, formatted
	// for humans ("8h", "1h 30m").
	Target string

	BreachedAt time.Time
	Deadline   time.Time
}

// Subject builds a short one-line summary of the notification.
func (n Notification) Subject() string {
	return fmt.Sprintf("[SLA breach L%d] %s target missed for %s %q",
		n.Level, n.TargetType, n.ItemType, utils.TruncateText(n.ItemTitle, 80))
}

// Dispatcher delivers notifications over some transport.
type Dispatcher interface {
	// Name identifies the transport for logging and error messages.
	Name() string
	// Send delivers the notification, returning an error on failure.
	Send(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the process log. It is the
// fallback transport when the primary dispatcher's circuit is open, and
// the default when no Slack token is configured.
type LogNotifier struct{}

// Name implements Dispatcher.
func (LogNotifier) Name() string { return "log" }

// Send implements Dispatcher by logging the notification.
func (LogNotifier) Send(_ context.Context, n Notification) error {
	log.Printf("NOTIFY %s (item=%s level=%d role=%s recipients=%d)",
		utils.EscapeForLogging(n.Subject(), 200), n.ItemUUID, n.Level, n.Role, len(n.RecipientNames))
	return nil
}
