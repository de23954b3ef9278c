package cmd

import (
	"bytes"
	"encoding/json"
	"image"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/container"
	"go2tv.app/screenrec/host"
	"go2tv.app/screenrec/internal/config"
	"go2tv.app/screenrec/pixbuf"
)

var sampleInfos = []host.WindowInfo{
	{Title: "main.go", AppName: "Editor", BundleID: "org.example.editor", IsOnScreen: true, ID: 101, Thumbnail: []byte{1, 2, 3}},
	{Title: "zsh", AppName: "Terminal", BundleID: "org.example.terminal", IsOnScreen: true, ID: 102},
}

func TestWriteWindows(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeWindows(&buf, "json", sampleInfos))
	var decoded []host.WindowInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, sampleInfos, decoded)

	buf.Reset()
	require.NoError(t, writeWindows(&buf, "yaml", sampleInfos))
	var fromYAML []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &fromYAML))
	require.Len(t, fromYAML, 2)
	assert.Equal(t, "main.go", fromYAML[0]["title"])
	assert.NotContains(t, fromYAML[0], "thumbnail")

	buf.Reset()
	require.NoError(t, writeWindows(&buf, "table", sampleInfos))
	assert.Contains(t, buf.String(), "org.example.terminal")
	assert.Contains(t, buf.String(), "3 bytes")

	assert.Error(t, writeWindows(&buf, "xml", sampleInfos))
}

func TestRecordTarget(t *testing.T) {
	displays := []capture.Display{
		{ID: 1, Frame: image.Rect(0, 0, 1920, 1080)},
		{ID: 2, Frame: image.Rect(1920, 0, 3840, 1080)},
	}
	win := capture.Window{ID: 101, Frame: image.Rect(0, 0, 640, 480)}
	lookup := func(id capture.TargetID) (capture.Target, bool) {
		if id == win.ID {
			return win, true
		}
		return nil, false
	}
	t.Cleanup(func() { recordDisplay, recordWindow = 0, 0 })

	target, err := recordTarget(displays, lookup)
	require.NoError(t, err)
	assert.Equal(t, displays[0], target)

	recordDisplay = 2
	target, err = recordTarget(displays, lookup)
	require.NoError(t, err)
	assert.Equal(t, displays[1], target)

	recordWindow = 101
	target, err = recordTarget(displays, lookup)
	require.NoError(t, err)
	assert.Equal(t, win, target)

	recordWindow = 5
	_, err = recordTarget(displays, lookup)
	assert.Error(t, err)

	recordDisplay, recordWindow = 0, 0
	_, err = recordTarget(nil, lookup)
	assert.Error(t, err)
}

func TestEncoderOptions(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("encoder.format", "ts")
	v.Set("encoder.pixel_format", "BGRA")
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	opts, err := encoderOptions(cfg.Encoder)
	require.NoError(t, err)
	assert.Equal(t, container.FormatTS, opts.Format)
	assert.Equal(t, pixbuf.FormatBGRA, opts.PixelFormat)
	assert.Equal(t, 16, opts.QueueDepth)

	cfg.Encoder.PixelFormat = "rgb"
	_, err = encoderOptions(cfg.Encoder)
	assert.Error(t, err)
}

func TestEven(t *testing.T) {
	assert.Equal(t, 1280, even(1281))
	assert.Equal(t, 720, even(720))
	assert.Equal(t, 2, even(1))
	assert.Equal(t, 2, even(0))
	assert.Equal(t, 300, pick(0, 300))
	assert.Equal(t, 64, pick(64, 300))
}
