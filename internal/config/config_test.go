package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Capture: CaptureConfig{Backend: "synthetic", ThumbnailQueueDepth: 3},
		Catalog: CatalogConfig{MinDimension: 40},
		Encoder: EncoderConfig{
			Format:        "mp4",
			PixelFormat:   "nv12",
			QueueDepth:    16,
			FinishTimeout: time.Second,
			FrameRate:     30,
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "synthetic", cfg.Capture.Backend)
	assert.Equal(t, 3, cfg.Capture.ThumbnailQueueDepth)
	assert.Equal(t, 5*time.Second, cfg.Capture.FirstFrameTimeout)
	assert.Equal(t, 40, cfg.Catalog.MinDimension)
	assert.Equal(t, DefaultExcludedApps, cfg.Catalog.ExcludedApps)
	assert.Contains(t, cfg.Catalog.FileManagers, "com.apple.finder")
	assert.Equal(t, "mp4", cfg.Encoder.Format)
	assert.Equal(t, "nv12", cfg.Encoder.PixelFormat)
	assert.Equal(t, 16, cfg.Encoder.QueueDepth)
	assert.Equal(t, 30*time.Second, cfg.Encoder.FinishTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Encoder.PollInterval)
	assert.Equal(t, "127.0.0.1:8090", cfg.Preview.Addr)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "screenrec.yaml")
	content := `
logging:
  level: debug
encoder:
  format: ts
  queue_depth: 4
catalog:
  excluded_apps:
    - com.example.overlay
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "ts", cfg.Encoder.Format)
	assert.Equal(t, 4, cfg.Encoder.QueueDepth)
	assert.Equal(t, []string{"com.example.overlay"}, cfg.Catalog.ExcludedApps)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SCREENREC_ENCODER_FORMAT", "ts")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ts", cfg.Encoder.Format)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("encoder:\n  format: avi\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad backend", func(c *Config) { c.Capture.Backend = "x11" }, true},
		{"zero thumbnail depth", func(c *Config) { c.Capture.ThumbnailQueueDepth = 0 }, true},
		{"bad container", func(c *Config) { c.Encoder.Format = "mkv" }, true},
		{"bad pixel format", func(c *Config) { c.Encoder.PixelFormat = "rgb24" }, true},
		{"upper case pixel format", func(c *Config) { c.Encoder.PixelFormat = "BGRA" }, false},
		{"zero queue depth", func(c *Config) { c.Encoder.QueueDepth = 0 }, true},
		{"zero finish timeout", func(c *Config) { c.Encoder.FinishTimeout = 0 }, true},
		{"frame rate too high", func(c *Config) { c.Encoder.FrameRate = 1000 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
