// Package config provides configuration management for screenrec using Viper.
// Values come from an optional yaml file, SCREENREC_ environment variables and
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultThumbnailQueueDepth = 3
	defaultFirstFrameTimeout   = 5 * time.Second
	defaultMinDimension        = 40
	defaultQueueDepth          = 16
	defaultFinishTimeout       = 30 * time.Second
	defaultPollInterval        = 500 * time.Millisecond
	defaultFragmentDuration    = time.Second
	defaultFrameRate           = 30
	defaultPreviewAddr         = "127.0.0.1:8090"
)

// DefaultExcludedApps lists bundle identifiers of system chrome and overlay
// utilities whose windows are never offered as capture targets.
var DefaultExcludedApps = []string{
	"",
	"com.apple.dock",
	"com.apple.screencaptureui",
	"com.apple.controlcenter",
	"com.apple.notificationcenterui",
	"com.apple.systemuiserver",
	"com.apple.WindowManager",
	"dev.mnpn.Azayaka",
	"com.gaosun.eul",
	"com.pointum.hazeover",
	"net.matthewpalmer.Vanilla",
	"com.dwarvesv.minimalbar",
	"com.bjango.istatmenus.status",
}

// DefaultFileManagers lists owners whose untitled windows are desktop layers.
var DefaultFileManagers = []string{
	"com.apple.finder",
	"org.gnome.Nautilus",
	"org.kde.dolphin",
}

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Capture CaptureConfig `mapstructure:"capture"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Encoder EncoderConfig `mapstructure:"encoder"`
	Preview PreviewConfig `mapstructure:"preview"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// CaptureConfig selects the capture backend and thumbnail stream settings.
type CaptureConfig struct {
	Backend             string        `mapstructure:"backend"` // synthetic, native
	ThumbnailQueueDepth int           `mapstructure:"thumbnail_queue_depth"`
	FirstFrameTimeout   time.Duration `mapstructure:"first_frame_timeout"`
	MaxEdge             int           `mapstructure:"max_edge"`
}

// CatalogConfig holds window filtering rules.
type CatalogConfig struct {
	ExcludedApps []string `mapstructure:"excluded_apps"`
	FileManagers []string `mapstructure:"file_managers"`
	MinDimension int      `mapstructure:"min_dimension"`
}

// EncoderConfig holds container writer settings.
type EncoderConfig struct {
	FFmpegPath       string        `mapstructure:"ffmpeg_path"`
	Format           string        `mapstructure:"format"`       // mp4, ts
	PixelFormat      string        `mapstructure:"pixel_format"` // nv12, bgra
	QueueDepth       int           `mapstructure:"queue_depth"`
	FinishTimeout    time.Duration `mapstructure:"finish_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	FragmentDuration time.Duration `mapstructure:"fragment_duration"`
	Hardware         bool          `mapstructure:"hardware"`
	FrameRate        int           `mapstructure:"frame_rate"`
}

// PreviewConfig holds the HTTP preview server settings.
type PreviewConfig struct {
	Addr          string `mapstructure:"addr"`
	RecordingsDir string `mapstructure:"recordings_dir"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Example: SCREENREC_ENCODER_FORMAT=ts.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("screenrec")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/screenrec")
	}

	v.SetEnvPrefix("SCREENREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("capture.backend", "synthetic")
	v.SetDefault("capture.thumbnail_queue_depth", defaultThumbnailQueueDepth)
	v.SetDefault("capture.first_frame_timeout", defaultFirstFrameTimeout)
	v.SetDefault("capture.max_edge", 0)

	v.SetDefault("catalog.excluded_apps", DefaultExcludedApps)
	v.SetDefault("catalog.file_managers", DefaultFileManagers)
	v.SetDefault("catalog.min_dimension", defaultMinDimension)

	v.SetDefault("encoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("encoder.format", "mp4")
	v.SetDefault("encoder.pixel_format", "nv12")
	v.SetDefault("encoder.queue_depth", defaultQueueDepth)
	v.SetDefault("encoder.finish_timeout", defaultFinishTimeout)
	v.SetDefault("encoder.poll_interval", defaultPollInterval)
	v.SetDefault("encoder.fragment_duration", defaultFragmentDuration)
	v.SetDefault("encoder.hardware", false)
	v.SetDefault("encoder.frame_rate", defaultFrameRate)

	v.SetDefault("preview.addr", defaultPreviewAddr)
	v.SetDefault("preview.recordings_dir", ".")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	validBackends := map[string]bool{"synthetic": true, "native": true}
	if !validBackends[c.Capture.Backend] {
		return fmt.Errorf("capture.backend must be one of: synthetic, native")
	}
	if c.Capture.ThumbnailQueueDepth < 1 {
		return fmt.Errorf("capture.thumbnail_queue_depth must be at least 1")
	}
	if c.Capture.MaxEdge < 0 {
		return fmt.Errorf("capture.max_edge must not be negative")
	}

	if c.Catalog.MinDimension < 0 {
		return fmt.Errorf("catalog.min_dimension must not be negative")
	}

	validContainers := map[string]bool{"mp4": true, "ts": true}
	if !validContainers[c.Encoder.Format] {
		return fmt.Errorf("encoder.format must be one of: mp4, ts")
	}
	validPixFmts := map[string]bool{"nv12": true, "bgra": true}
	if !validPixFmts[strings.ToLower(c.Encoder.PixelFormat)] {
		return fmt.Errorf("encoder.pixel_format must be one of: nv12, bgra")
	}
	if c.Encoder.QueueDepth < 1 {
		return fmt.Errorf("encoder.queue_depth must be at least 1")
	}
	if c.Encoder.FinishTimeout <= 0 {
		return fmt.Errorf("encoder.finish_timeout must be positive")
	}
	if c.Encoder.FrameRate < 1 || c.Encoder.FrameRate > 240 {
		return fmt.Errorf("encoder.frame_rate must be between 1 and 240")
	}

	return nil
}
