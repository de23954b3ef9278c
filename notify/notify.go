// Package notify delivers desktop notifications and the screen recording
// permission prompt.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"go2tv.app/screenrec/internal/logging"
)

var ErrNoOpener = errors.New("no settings opener available on this system")

// Urgency follows the freedesktop notification levels.
type Urgency byte

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

// Action is a button offered on a notification.
type Action struct {
	Key   string
	Label string
}

// Notification is one desktop message. ID is a caller key used for
// logging only.
type Notification struct {
	ID      string
	Title   string
	Body    string
	Urgency Urgency
	Actions []Action
}

// Notifier shows notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ActionNotifier also reports which action the user picked. The channel
// yields the action key, or "" when the notification was dismissed, and is
// then closed.
type ActionNotifier interface {
	Notifier
	NotifyWithActions(ctx context.Context, n Notification) (<-chan string, error)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	logging.OrDefault(l.Logger).InfoContext(ctx, "notification",
		slog.String("id", n.ID),
		slog.String("title", n.Title),
		slog.String("body", n.Body),
	)
	return nil
}
