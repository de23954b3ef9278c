package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/capture/synthetic"
	"go2tv.app/screenrec/catalog"
	"go2tv.app/screenrec/container"
	"go2tv.app/screenrec/host"
	"go2tv.app/screenrec/internal/config"
	"go2tv.app/screenrec/internal/version"
	"go2tv.app/screenrec/notify"
	"go2tv.app/screenrec/pixbuf"
	"go2tv.app/screenrec/thumbnail"
)

// app bundles the collaborators a command runs against.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend capture.Backend
	catalog *catalog.Catalog
	host    *host.Host
	closers []func()
}

func newApp(cfg *config.Config) (*app, error) {
	logger := slog.Default()
	a := &app{cfg: cfg, logger: logger}

	switch cfg.Capture.Backend {
	case "native":
		b, err := capture.NewNativeBackend()
		if err != nil {
			return nil, err
		}
		a.backend = b
	default:
		b := synthetic.New(nil)
		a.backend = b
		a.closers = append(a.closers, func() { _ = b.StopAll(context.Background()) })
	}

	catOpts := catalog.OptionsFromConfig(cfg.Catalog)
	catOpts.Prompter = a.prompter()
	catOpts.Logger = logger
	a.catalog = catalog.New(a.backend, catOpts)

	coord := thumbnail.New(a.backend, &thumbnail.Options{
		FirstFrameTimeout: cfg.Capture.FirstFrameTimeout,
		QueueDepth:        cfg.Capture.ThumbnailQueueDepth,
		MaxEdge:           cfg.Capture.MaxEdge,
		Logger:            logger,
	})

	encOpts, err := encoderOptions(cfg.Encoder)
	if err != nil {
		return nil, err
	}
	encOpts.Logger = logger

	a.host = host.New(host.Options{
		Catalog:     a.catalog,
		Coordinator: coord,
		Encoder:     encOpts,
		Icons:       host.DefaultIconLocator(a.appName),
		Logger:      logger,
	})
	return a, nil
}

func (a *app) prompter() catalog.Prompter {
	var n notify.Notifier = notify.LogNotifier{Logger: a.logger}
	if runtime.GOOS == "linux" {
		if d, err := notify.NewDBusNotifier(version.ApplicationName, a.logger); err == nil {
			n = d
		} else {
			a.logger.Debug("desktop notifications unavailable", slog.String("error", err.Error()))
		}
	}
	return &notify.SettingsPrompter{AppName: version.ApplicationName, Notifier: n, Logger: a.logger}
}

// appName resolves a bundle id through the latest catalog snapshot.
func (a *app) appName(bundleID string) string {
	for _, owner := range a.catalog.Current().Applications() {
		if owner.BundleID == bundleID {
			return owner.Name
		}
	}
	return ""
}

func (a *app) Close() {
	if err := a.host.Close(); err != nil {
		a.logger.Warn("failed to finish open sessions", slog.String("error", err.Error()))
	}
	for _, fn := range a.closers {
		fn()
	}
}

func encoderOptions(cfg config.EncoderConfig) (container.Options, error) {
	pixFmt, err := pixbuf.ParseFormat(strings.ToLower(cfg.PixelFormat))
	if err != nil {
		return container.Options{}, fmt.Errorf("encoder.pixel_format: %w", err)
	}
	return container.Options{
		Format:           container.Format(cfg.Format),
		PixelFormat:      pixFmt,
		FrameRate:        cfg.FrameRate,
		QueueDepth:       cfg.QueueDepth,
		FinishTimeout:    cfg.FinishTimeout,
		PollInterval:     cfg.PollInterval,
		FragmentDuration: cfg.FragmentDuration,
		FFmpegPath:       cfg.FFmpegPath,
		HardwareEncoder:  cfg.Hardware,
	}, nil
}
