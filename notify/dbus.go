package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"go2tv.app/screenrec/internal/apis"
	"go2tv.app/screenrec/internal/convert"
	"go2tv.app/screenrec/internal/logging"
)

const defaultActionTimeout = 2 * time.Minute

// DBusNotifier talks to org.freedesktop.Notifications on the session bus.
type DBusNotifier struct {
	AppName string
	// DesktopEntry is sent as the desktop-entry hint when set.
	DesktopEntry string
	// ActionTimeout bounds how long NotifyWithActions waits for the user.
	ActionTimeout time.Duration
	Logger        *slog.Logger

	conn *dbus.Conn
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier(appName string, logger *slog.Logger) (*DBusNotifier, error) {
	conn, err := apis.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &DBusNotifier{
		AppName: appName,
		Logger:  logging.WithComponent(logging.OrDefault(logger), "notify"),
		conn:    conn,
	}, nil
}

func (d *DBusNotifier) hints(n Notification) map[string]dbus.Variant {
	hints := map[string]dbus.Variant{
		"urgency": convert.FromByte(byte(n.Urgency)),
	}
	if d.DesktopEntry != "" {
		hints["desktop-entry"] = convert.FromString(d.DesktopEntry)
	}
	if len(n.Actions) > 0 {
		hints["resident"] = convert.FromBool(false)
	}
	return hints
}

func actionList(actions []Action) []string {
	out := make([]string, 0, 2*len(actions))
	for _, a := range actions {
		out = append(out, a.Key, a.Label)
	}
	return out
}

func (d *DBusNotifier) send(ctx context.Context, n Notification) (uint32, error) {
	var id uint32
	err := apis.Call(ctx, d.conn, apis.NotifyMethod, []any{&id},
		d.AppName,
		uint32(0),
		"",
		n.Title,
		n.Body,
		actionList(n.Actions),
		d.hints(n),
		int32(-1),
	)
	if err != nil {
		return 0, fmt.Errorf("notify %q: %w", n.ID, err)
	}
	logging.OrDefault(d.Logger).DebugContext(ctx, "notification sent",
		slog.String("id", n.ID),
		slog.Uint64("server_id", uint64(id)),
	)
	return id, nil
}

func (d *DBusNotifier) Notify(ctx context.Context, n Notification) error {
	_, err := d.send(ctx, n)
	return err
}

// NotifyWithActions subscribes before sending so a fast click is not missed.
func (d *DBusNotifier) NotifyWithActions(ctx context.Context, n Notification) (<-chan string, error) {
	signals, cancel, err := apis.ListenOnSignals(d.conn, apis.ActionInvokedSignal, apis.NotificationClosedEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribe notification signals: %w", err)
	}
	id, err := d.send(ctx, n)
	if err != nil {
		cancel()
		return nil, err
	}

	timeout := d.ActionTimeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	out := make(chan string, 1)
	go func() {
		defer close(out)
		defer cancel()
		out <- waitAction(signals, id, time.After(timeout))
	}()
	return out, nil
}

// waitAction returns the action key invoked on notification id, or "" once
// it is closed or the deadline passes.
func waitAction(signals <-chan *dbus.Signal, id uint32, deadline <-chan time.Time) string {
	for {
		select {
		case <-deadline:
			return ""
		case sig, ok := <-signals:
			if !ok {
				return ""
			}
			if len(sig.Body) < 2 {
				continue
			}
			sigID, ok := sig.Body[0].(uint32)
			if !ok || sigID != id {
				continue
			}
			switch sig.Name {
			case apis.NotificationsName + "." + apis.ActionInvokedSignal:
				key, _ := sig.Body[1].(string)
				return key
			case apis.NotificationsName + "." + apis.NotificationClosedEvent:
				return ""
			}
		}
	}
}
