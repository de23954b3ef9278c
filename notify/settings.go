package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/internal/processutil"
)

const (
	actionOpenSettings = "open-settings"
	actionDismiss      = "dismiss"

	permissionTitle = "Permission Required"
)

// OpenFunc opens the OS screen recording settings.
type OpenFunc func(ctx context.Context) error

// SettingsPrompter tells the user that screen recording access is missing
// and opens the OS privacy settings.
type SettingsPrompter struct {
	AppName  string
	Notifier Notifier
	// Open defaults to OpenSettings.
	Open   OpenFunc
	Logger *slog.Logger
}

func (p *SettingsPrompter) open(ctx context.Context) error {
	if p.Open != nil {
		return p.Open(ctx)
	}
	return OpenSettings(ctx)
}

// PromptPermission notifies the user. When the notifier supports actions
// the settings open only if the user asks for it, otherwise they open
// right away.
func (p *SettingsPrompter) PromptPermission(ctx context.Context) error {
	logger := logging.OrDefault(p.Logger)
	n := Notification{
		ID:      "permission-required",
		Title:   permissionTitle,
		Body:    fmt.Sprintf("%s needs screen recording permission to list and capture windows.", p.AppName),
		Urgency: UrgencyCritical,
		Actions: []Action{
			{Key: actionOpenSettings, Label: "Open Settings"},
			{Key: actionDismiss, Label: "Not Now"},
		},
	}

	if an, ok := p.Notifier.(ActionNotifier); ok {
		choice, err := an.NotifyWithActions(ctx, n)
		if err == nil {
			go func() {
				if <-choice != actionOpenSettings {
					return
				}
				if err := p.open(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("failed to open settings", slog.String("error", err.Error()))
				}
			}()
			return nil
		}
		logger.Debug("actionable notification failed", slog.String("error", err.Error()))
	}

	n.Actions = nil
	var notifyErr error
	if p.Notifier != nil {
		notifyErr = p.Notifier.Notify(ctx, n)
	}
	if err := p.open(ctx); err != nil {
		if notifyErr != nil {
			return fmt.Errorf("notify: %w; open settings: %w", notifyErr, err)
		}
		return fmt.Errorf("open settings: %w", err)
	}
	return notifyErr
}

// OpenSettings launches the platform's screen recording settings page.
func OpenSettings(ctx context.Context) error {
	name, args := settingsCommand()
	if name == "" {
		return ErrNoOpener
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoOpener, name, err)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	processutil.HideConsoleWindow(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
