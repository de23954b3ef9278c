// Package capture defines the boundary to the operating system's capture
// APIs: the kinds of targets that can be recorded, how their content is
// enumerated and how a frame stream is opened for one of them.
package capture

import (
	"context"
	"errors"
	"image"
	"time"

	"go2tv.app/screenrec/pixbuf"
)

var (
	ErrNotImplemented    = errors.New("screen capture backend is not implemented on this platform")
	ErrTargetUnavailable = errors.New("capture target is no longer available")
	ErrStreamStopped     = errors.New("capture stream was stopped")
	ErrInvalidConfig     = errors.New("invalid capture stream configuration")
)

// TargetID is the opaque numeric identity the OS assigns to a display or window.
type TargetID uint32

// Kind names the variant of a Target.
type Kind int

const (
	KindDisplay Kind = iota + 1
	KindWindow
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindDisplay:
		return "display"
	case KindWindow:
		return "window"
	case KindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Target is one of Display, Window or Application. The set is closed.
type Target interface {
	Kind() Kind
	// Bounds is the target's frame in global desktop points. Applications
	// have no geometry of their own and report an empty rectangle.
	Bounds() image.Rectangle
	isTarget()
}

// Application identifies a running process that owns windows.
type Application struct {
	BundleID string
	Name     string
	PID      int32
}

// Display is a physical or virtual monitor.
type Display struct {
	ID    TargetID
	Frame image.Rectangle
}

// Window is a top-level window. Owner is nil for windows the OS could not
// attribute to a process.
type Window struct {
	ID       TargetID
	Title    string
	Owner    *Application
	OnScreen bool
	Frame    image.Rectangle
	Layer    int
}

func (Display) Kind() Kind     { return KindDisplay }
func (Window) Kind() Kind      { return KindWindow }
func (Application) Kind() Kind { return KindApplication }

func (d Display) Bounds() image.Rectangle   { return d.Frame }
func (w Window) Bounds() image.Rectangle    { return w.Frame }
func (Application) Bounds() image.Rectangle { return image.Rectangle{} }

func (Display) isTarget()     {}
func (Window) isTarget()      {}
func (Application) isTarget() {}

// OwnerBundleID returns the owning application's bundle id or "".
func (w Window) OwnerBundleID() string {
	if w.Owner == nil {
		return ""
	}
	return w.Owner.BundleID
}

// OwnerName returns the owning application's display name or "".
func (w Window) OwnerName() string {
	if w.Owner == nil {
		return ""
	}
	return w.Owner.Name
}

// Content is the result of one enumeration pass.
type Content struct {
	Displays     []Display
	Windows      []Window
	Applications []Application
}

// Source enumerates capturable content.
type Source interface {
	Content(ctx context.Context) (Content, error)
}

// StreamConfig configures one capture stream.
type StreamConfig struct {
	Width  int
	Height int
	// MinFrameInterval caps the delivery rate. Zero means the display rate.
	MinFrameInterval time.Duration
	PixelFormat      pixbuf.Format
	ShowsCursor      bool
	ScalesToFit      bool
	// QueueDepth bounds the samples buffered for a slow consumer. Older
	// samples are discarded once it is reached.
	QueueDepth    int
	CapturesAudio bool
}

const (
	thumbnailQueueDepth    = 3
	thumbnailFrameInterval = time.Second
	smallTargetEdge        = 200
)

// ThumbnailConfig is the stream configuration for a one-frame preview of a
// target: half resolution (full when both edges are under 200 points), one
// frame per second, no cursor, queue depth 3.
func ThumbnailConfig(bounds image.Rectangle) StreamConfig {
	w, h := bounds.Dx(), bounds.Dy()
	if w >= smallTargetEdge || h >= smallTargetEdge {
		w, h = max(w/2, 1), max(h/2, 1)
	}
	return StreamConfig{
		Width:            w,
		Height:           h,
		MinFrameInterval: thumbnailFrameInterval,
		PixelFormat:      pixbuf.FormatBGRA,
		ShowsCursor:      false,
		ScalesToFit:      true,
		QueueDepth:       thumbnailQueueDepth,
	}
}

// FullResolutionConfig captures a target at its native size.
func FullResolutionConfig(bounds image.Rectangle) StreamConfig {
	return StreamConfig{
		Width:            bounds.Dx(),
		Height:           bounds.Dy(),
		MinFrameInterval: thumbnailFrameInterval,
		PixelFormat:      pixbuf.FormatBGRA,
		ScalesToFit:      true,
		QueueDepth:       1,
	}
}

// Validate reports whether the configuration can be opened.
func (c StreamConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("stream dimensions must be positive"))
	}
	if c.QueueDepth < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("queue depth must be >= 0"))
	}
	switch c.PixelFormat {
	case pixbuf.FormatBGRA, pixbuf.FormatNV12:
	default:
		return errors.Join(ErrInvalidConfig, errors.New("unsupported pixel format "+c.PixelFormat.String()))
	}
	return nil
}

// Sample is one delivery from a stream: a frame or a stream error.
type Sample struct {
	Frame *pixbuf.Frame
	Err   error
}

// Stream delivers samples for one target until stopped.
type Stream interface {
	// Samples is closed once the stream has ended.
	Samples() <-chan Sample
	// Stop ends the stream. Further calls return the first call's result.
	Stop(ctx context.Context) error
}

// StreamOpener starts capture streams.
type StreamOpener interface {
	OpenStream(ctx context.Context, target Target, cfg StreamConfig) (Stream, error)
}

// Backend is a complete OS capture implementation.
type Backend interface {
	Source
	StreamOpener
}
