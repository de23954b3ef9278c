// Package apis wraps the session bus calls used by the desktop
// notification collaborator.
package apis

import (
	"context"

	"github.com/godbus/dbus/v5"
)

const (
	NotificationsName = "org.freedesktop.Notifications"
	NotificationsPath = "/org/freedesktop/Notifications"

	NotifyMethod            = NotificationsName + ".Notify"
	GetServerInfoMethod     = NotificationsName + ".GetServerInformation"
	ActionInvokedSignal     = "ActionInvoked"
	NotificationClosedEvent = "NotificationClosed"
)

// SessionBus returns the shared session bus connection.
func SessionBus() (*dbus.Conn, error) {
	return dbus.SessionBus()
}

// Call invokes method on the notification daemon and stores the reply
// values into dest.
func Call(ctx context.Context, conn *dbus.Conn, method string, dest []any, args ...any) error {
	obj := conn.Object(NotificationsName, NotificationsPath)
	call := obj.CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return call.Err
	}
	if len(dest) == 0 {
		return nil
	}
	return call.Store(dest...)
}

// ListenOnSignals subscribes to the given members of the notification
// interface. The returned cancel removes the subscription.
func ListenOnSignals(conn *dbus.Conn, members ...string) (<-chan *dbus.Signal, func(), error) {
	var added []string
	remove := func() {
		for _, m := range added {
			_ = conn.RemoveMatchSignal(
				dbus.WithMatchObjectPath(NotificationsPath),
				dbus.WithMatchInterface(NotificationsName),
				dbus.WithMatchMember(m),
			)
		}
	}
	for _, m := range members {
		if err := conn.AddMatchSignal(
			dbus.WithMatchObjectPath(NotificationsPath),
			dbus.WithMatchInterface(NotificationsName),
			dbus.WithMatchMember(m),
		); err != nil {
			remove()
			return nil, nil, err
		}
		added = append(added, m)
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	return signals, func() {
		conn.RemoveSignal(signals)
		remove()
	}, nil
}
