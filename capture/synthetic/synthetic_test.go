package synthetic

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/pixbuf"
)

func testBackend(mutate func(*Options)) *Backend {
	opts := DefaultFixture()
	opts.Logger = logging.Discard()
	opts.FrameInterval = 5 * time.Millisecond
	if mutate != nil {
		mutate(&opts)
	}
	return New(&opts)
}

func TestContent_ReturnsFixtureCopy(t *testing.T) {
	b := testBackend(nil)
	content, err := b.Content(context.Background())
	require.NoError(t, err)
	require.Len(t, content.Displays, 2)
	require.Len(t, content.Windows, 6)
	assert.Len(t, content.Applications, 5)

	content.Windows[0].Title = "changed"
	again, err := b.Content(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main.go", again.Windows[0].Title)
}

func TestContent_PermissionDenied(t *testing.T) {
	b := testBackend(func(o *Options) { o.DenyPermission = true })
	_, err := b.Content(context.Background())
	assert.ErrorIs(t, err, capture.ErrPermissionDenied)

	_, err = b.OpenStream(context.Background(), capture.Display{ID: 1}, capture.ThumbnailConfig(image.Rect(0, 0, 100, 100)))
	assert.ErrorIs(t, err, capture.ErrPermissionDenied)
}

func TestContent_Error(t *testing.T) {
	boom := errors.New("window server unavailable")
	b := testBackend(func(o *Options) { o.ContentErr = boom })
	_, err := b.Content(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestOpenStream_DeliversFrames(t *testing.T) {
	b := testBackend(nil)
	w := DefaultFixture().Windows[0]

	s, err := b.OpenStream(context.Background(), w, capture.ThumbnailConfig(w.Frame))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Opened())
	assert.Equal(t, 1, b.Active())

	sample, err := capture.FirstSample(context.Background(), s, time.Second)
	require.NoError(t, err)
	require.NoError(t, sample.Err)
	assert.Equal(t, pixbuf.FormatBGRA, sample.Frame.Format)
	assert.Equal(t, w.Frame.Dx()/2, sample.Frame.Width)
	assert.NoError(t, sample.Frame.Validate())

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 0, b.Active())

	for range s.Samples() {
	}
}

func TestOpenStream_NV12(t *testing.T) {
	b := testBackend(nil)
	cfg := capture.FullResolutionConfig(image.Rect(0, 0, 64, 48))
	cfg.PixelFormat = pixbuf.FormatNV12

	s, err := b.OpenStream(context.Background(), capture.Display{ID: 1}, cfg)
	require.NoError(t, err)
	defer s.Stop(context.Background())

	sample, err := capture.FirstSample(context.Background(), s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, pixbuf.FormatNV12, sample.Frame.Format)
	assert.Len(t, sample.Frame.Planes, 2)
}

func TestOpenStream_Failures(t *testing.T) {
	boom := errors.New("stream start failed")
	b := testBackend(func(o *Options) {
		o.StartErr = map[capture.TargetID]error{102: boom}
	})
	cfg := capture.ThumbnailConfig(image.Rect(0, 0, 400, 300))

	_, err := b.OpenStream(context.Background(), capture.Window{ID: 102}, cfg)
	assert.ErrorIs(t, err, boom)

	_, err = b.OpenStream(context.Background(), capture.Window{ID: 999}, cfg)
	assert.ErrorIs(t, err, capture.ErrTargetUnavailable)

	_, err = b.OpenStream(context.Background(), capture.Display{ID: 9}, cfg)
	assert.ErrorIs(t, err, capture.ErrTargetUnavailable)

	_, err = b.OpenStream(context.Background(), capture.Application{BundleID: "missing"}, cfg)
	assert.ErrorIs(t, err, capture.ErrTargetUnavailable)

	_, err = b.OpenStream(context.Background(), capture.Display{ID: 1}, capture.StreamConfig{})
	assert.ErrorIs(t, err, capture.ErrInvalidConfig)

	assert.Zero(t, b.Opened())
}

func TestOpenStream_SampleError(t *testing.T) {
	boom := errors.New("frame lost")
	b := testBackend(func(o *Options) {
		o.SampleErr = map[capture.TargetID]error{101: boom}
	})
	s, err := b.OpenStream(context.Background(), capture.Window{ID: 101}, capture.ThumbnailConfig(image.Rect(0, 0, 400, 300)))
	require.NoError(t, err)
	defer s.Stop(context.Background())

	sample, err := capture.FirstSample(context.Background(), s, time.Second)
	require.NoError(t, err)
	assert.ErrorIs(t, sample.Err, boom)
	assert.Nil(t, sample.Frame)
}

func TestOpenStream_SilentThenStopAll(t *testing.T) {
	b := testBackend(func(o *Options) {
		o.Silent = map[capture.TargetID]bool{101: true}
	})
	s, err := b.OpenStream(context.Background(), capture.Window{ID: 101}, capture.ThumbnailConfig(image.Rect(0, 0, 400, 300)))
	require.NoError(t, err)

	_, err = capture.FirstSample(context.Background(), s, 30*time.Millisecond)
	assert.ErrorIs(t, err, capture.ErrFirstFrameTimeout)

	require.NoError(t, b.StopAll(context.Background()))
	assert.Zero(t, b.Active())
	_, err = capture.FirstSample(context.Background(), s, time.Second)
	assert.ErrorIs(t, err, capture.ErrStreamStopped)
}

func TestPattern(t *testing.T) {
	f := Pattern(0, 16, 4, 1, 99)
	require.NoError(t, f.Validate())
	assert.Equal(t, int64(99), f.PTS)

	// Row 1 carries the white band.
	row := f.Planes[0].Data[f.Planes[0].Stride:]
	assert.Equal(t, []byte{255, 255, 255, 255}, row[:4])

	// Row 0 starts with the first bar.
	assert.Equal(t, []byte{235, 235, 235, 255}, f.Planes[0].Data[:4])
}
