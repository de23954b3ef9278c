// Package host exposes the recorder to an embedding process as a small set
// of entry points that return explicit status codes.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/catalog"
	"go2tv.app/screenrec/container"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/pixbuf"
	"go2tv.app/screenrec/thumbnail"
)

// Handle identifies an encoding session. Zero is never issued.
type Handle uint64

// WindowInfo describes one selectable window.
type WindowInfo struct {
	Title      string `json:"title" yaml:"title"`
	AppName    string `json:"app_name" yaml:"app_name"`
	BundleID   string `json:"bundle_id" yaml:"bundle_id"`
	IsOnScreen bool   `json:"is_on_screen" yaml:"is_on_screen"`
	ID         uint32 `json:"id" yaml:"id"`
	// Thumbnail is PNG data, empty when not captured.
	Thumbnail []byte `json:"thumbnail,omitempty" yaml:"-"`
}

// Options wires a Host to its collaborators.
type Options struct {
	Catalog     *catalog.Catalog
	Coordinator *thumbnail.Coordinator
	// Encoder is the template for every session opened by EncoderInit.
	Encoder container.Options
	Icons   IconLocator
	Logger  *slog.Logger
}

type entry struct {
	session     *container.Session
	lastDropLog atomic.Int64
}

// Host owns the catalog, the thumbnail coordinator and every live session.
type Host struct {
	catalog *catalog.Catalog
	coord   *thumbnail.Coordinator
	encoder container.Options
	icons   IconLocator
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[Handle]*entry
	next     Handle
}

func New(opts Options) *Host {
	logger := logging.WithComponent(logging.OrDefault(opts.Logger), "host")
	enc := opts.Encoder
	if enc.Logger == nil {
		enc.Logger = logger
	}
	icons := opts.Icons
	if icons == nil {
		icons = XDGIconLocator{}
	}
	return &Host{
		catalog:  opts.Catalog,
		coord:    opts.Coordinator,
		encoder:  enc,
		icons:    icons,
		logger:   logger,
		sessions: make(map[Handle]*entry),
	}
}

// EncoderInit opens a new output file. Failures are returned rather than
// aborting the process.
func (h *Host) EncoderInit(width, height int, outputPath string) (Handle, Status, error) {
	opts := h.encoder
	s, err := container.Open(width, height, outputPath, &opts)
	if err != nil {
		h.logger.Error("encoder init failed",
			slog.String("path", outputPath),
			slog.String("error", err.Error()))
		return 0, StatusOf(err), err
	}

	h.mu.Lock()
	h.next++
	handle := h.next
	h.sessions[handle] = &entry{session: s}
	h.mu.Unlock()

	h.logger.Info("encoder session opened",
		slog.Uint64("handle", uint64(handle)),
		slog.String("session", s.ID().String()),
		slog.String("path", outputPath),
		slog.Int("width", width),
		slog.Int("height", height))
	return handle, StatusOK, nil
}

func (h *Host) lookup(handle Handle) (*entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.sessions[handle]
	return e, ok
}

// IngestYUVFrame appends one NV12 frame.
func (h *Host) IngestYUVFrame(handle Handle, width, height int, ptsNanos int64, lumaStride int, luma []byte, chromaStride int, chroma []byte) Status {
	frame, err := pixbuf.BuildFromPlanar(width, height, ptsNanos, lumaStride, luma, chromaStride, chroma)
	return h.ingest(handle, frame, err)
}

// IngestBGRAFrame appends one packed BGRA frame.
func (h *Host) IngestBGRAFrame(handle Handle, width, height int, ptsNanos int64, rowStride int, bgra []byte) Status {
	frame, err := pixbuf.BuildFromPacked(width, height, ptsNanos, rowStride, bgra)
	return h.ingest(handle, frame, err)
}

func (h *Host) ingest(handle Handle, frame *pixbuf.Frame, buildErr error) Status {
	e, ok := h.lookup(handle)
	if !ok {
		h.logger.Warn("ingest on unknown handle", slog.Uint64("handle", uint64(handle)))
		return StatusUnknownHandle
	}
	if buildErr != nil {
		h.logger.Warn("rejected frame", slog.Uint64("handle", uint64(handle)), slog.String("error", buildErr.Error()))
		return StatusOf(buildErr)
	}

	res, err := e.session.Append(frame)
	if err != nil {
		status := StatusOf(err)
		h.logger.Warn("frame ingest failed",
			slog.Uint64("handle", uint64(handle)),
			slog.String("status", status.String()),
			slog.String("error", err.Error()))
		return status
	}
	if res == container.Dropped {
		if logging.ShouldLogEvery(&e.lastDropLog, 5*time.Second) {
			h.logger.Debug("frames dropped under backpressure",
				slog.Uint64("handle", uint64(handle)),
				slog.Uint64("dropped", e.session.Stats().Dropped))
		}
		return StatusDropped
	}
	return StatusOK
}

// EncoderFinish finalizes the session and releases the handle, also when
// finalization fails.
func (h *Host) EncoderFinish(handle Handle) (Status, error) {
	h.mu.Lock()
	e, ok := h.sessions[handle]
	delete(h.sessions, handle)
	h.mu.Unlock()
	if !ok {
		return StatusUnknownHandle, fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}

	err := e.session.Finish()
	stats := e.session.Stats()
	if err != nil {
		h.logger.Error("encoder finish failed",
			slog.Uint64("handle", uint64(handle)),
			slog.String("error", err.Error()))
		return StatusOf(err), err
	}
	h.logger.Info("encoder session finished",
		slog.Uint64("handle", uint64(handle)),
		slog.String("path", e.session.Path()),
		slog.Uint64("written", stats.Written),
		slog.Uint64("dropped", stats.Dropped),
		slog.Uint64("discarded", stats.Discarded))
	return StatusOK, nil
}

// Session returns the live session behind handle.
func (h *Host) Session(handle Handle) (*container.Session, bool) {
	e, ok := h.lookup(handle)
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Close finishes every session still open.
func (h *Host) Close() error {
	h.mu.Lock()
	handles := make([]Handle, 0, len(h.sessions))
	for handle := range h.sessions {
		handles = append(handles, handle)
	}
	h.mu.Unlock()

	var errs []error
	for _, handle := range handles {
		if _, err := h.EncoderFinish(handle); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WindowsInfo refreshes the catalog and lists the on-screen windows not
// owned by this process. filter drops untitled windows. wantCapture grabs a
// thumbnail of each and blocks until the batch completes.
func (h *Host) WindowsInfo(ctx context.Context, filter, wantCapture bool) ([]WindowInfo, Status, error) {
	if h.catalog == nil {
		return nil, StatusInternal, errors.New("host has no catalog")
	}
	snap, err := h.catalog.Refresh(ctx)
	if err != nil {
		return nil, StatusOf(err), err
	}

	windows := snap.ListWindows(true, true)
	if filter {
		kept := windows[:0]
		for _, w := range windows {
			if w.Title != "" {
				kept = append(kept, w)
			}
		}
		windows = kept
	}

	var thumbs thumbnail.Result
	if wantCapture && h.coord != nil {
		thumbs, err = h.coord.CaptureBatch(ctx, snap, windows, true)
		if err != nil {
			return nil, StatusOf(err), err
		}
	}

	infos := make([]WindowInfo, 0, len(windows))
	for _, w := range windows {
		info := WindowInfo{
			Title:      w.Title,
			AppName:    w.OwnerName(),
			BundleID:   w.OwnerBundleID(),
			IsOnScreen: w.OnScreen,
			ID:         uint32(w.ID),
		}
		if rec, ok := thumbs.Record(w.ID); ok {
			info.Thumbnail = rec.PNG
		}
		infos = append(infos, info)
	}
	return infos, StatusOK, nil
}

// CaptureWindow returns a TIFF of one window from the current snapshot.
func (h *Host) CaptureWindow(ctx context.Context, id uint32) ([]byte, Status, error) {
	if h.coord == nil || h.catalog == nil {
		return nil, StatusInternal, errors.New("host has no thumbnail coordinator")
	}
	data, err := h.coord.CaptureSingle(ctx, h.catalog.Current(), capture.TargetID(id))
	if err != nil {
		return nil, StatusOf(err), err
	}
	return data, StatusOK, nil
}

// AppIcon returns the icon path for bundleID, or "".
func (h *Host) AppIcon(bundleID string) string {
	p, ok := h.icons.Locate(bundleID)
	if !ok {
		return ""
	}
	return p
}
