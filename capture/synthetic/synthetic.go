// Package synthetic is an in-process capture backend that serves a fixed set
// of displays and windows and streams generated test cards. It stands in for
// the OS capture API in tests, demos and on platforms without bindings.
package synthetic

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/pixbuf"
)

const defaultFrameInterval = time.Second / 30

// Options configures a Backend.
type Options struct {
	Displays []capture.Display
	Windows  []capture.Window
	// Applications defaults to the distinct window owners.
	Applications []capture.Application

	// FrameInterval is the fastest delivery rate. A stream's
	// MinFrameInterval slows it further.
	FrameInterval time.Duration

	// DenyPermission makes Content and OpenStream fail with
	// capture.ErrPermissionDenied.
	DenyPermission bool
	// ContentErr is returned by Content when set.
	ContentErr error
	// StartErr fails OpenStream for the given targets.
	StartErr map[capture.TargetID]error
	// SampleErr makes the stream for a target deliver this error instead of frames.
	SampleErr map[capture.TargetID]error
	// Silent streams never deliver a sample.
	Silent map[capture.TargetID]bool
	// StartDelay delays the first sample of every stream.
	StartDelay time.Duration
	// Delays adds a per-target delay before the first sample.
	Delays map[capture.TargetID]time.Duration

	Logger *slog.Logger
}

// Backend implements capture.Source and capture.StreamOpener.
type Backend struct {
	opts   Options
	logger *slog.Logger
	start  time.Time

	opened atomic.Int64
	active atomic.Int64

	mu      sync.Mutex
	streams []*stream
}

// New returns a backend serving opts. A nil opts serves DefaultFixture.
func New(opts *Options) *Backend {
	var o Options
	if opts == nil {
		o = DefaultFixture()
	} else {
		o = *opts
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = defaultFrameInterval
	}
	if o.Applications == nil {
		o.Applications = owners(o.Windows)
	}
	return &Backend{
		opts:   o,
		logger: logging.WithComponent(logging.OrDefault(o.Logger), "capture.synthetic"),
		start:  time.Now(),
	}
}

// DefaultFixture is a two-display desktop with a mix of ordinary and
// system windows.
func DefaultFixture() Options {
	editor := &capture.Application{BundleID: "org.example.editor", Name: "Editor", PID: 4101}
	term := &capture.Application{BundleID: "org.example.terminal", Name: "Terminal", PID: 4102}
	finder := &capture.Application{BundleID: "com.apple.finder", Name: "Finder", PID: 310}
	dock := &capture.Application{BundleID: "com.apple.dock", Name: "Dock", PID: 305}
	menu := &capture.Application{BundleID: "org.example.clock", Name: "Clock", PID: 4200}

	return Options{
		Displays: []capture.Display{
			{ID: 1, Frame: image.Rect(0, 0, 1920, 1080)},
			{ID: 2, Frame: image.Rect(1920, 0, 3840, 1080)},
		},
		Windows: []capture.Window{
			{ID: 101, Title: "main.go", Owner: editor, OnScreen: true, Frame: image.Rect(80, 60, 1280, 900)},
			{ID: 102, Title: "zsh", Owner: term, OnScreen: true, Frame: image.Rect(1600, 200, 2400, 700)},
			{ID: 103, Title: "", Owner: finder, OnScreen: true, Frame: image.Rect(0, 0, 1920, 1080)},
			{ID: 104, Title: "Dock", Owner: dock, OnScreen: true, Frame: image.Rect(0, 1000, 1920, 1080), Layer: 20},
			{ID: 105, Title: "Item-0", Owner: menu, OnScreen: true, Frame: image.Rect(1700, 0, 1730, 24), Layer: 25},
			{ID: 106, Title: "notes.txt", Owner: editor, OnScreen: false, Frame: image.Rect(2000, 100, 2800, 800)},
		},
	}
}

func owners(windows []capture.Window) []capture.Application {
	var apps []capture.Application
	seen := make(map[string]bool)
	for _, w := range windows {
		if w.Owner == nil || seen[w.Owner.BundleID] {
			continue
		}
		seen[w.Owner.BundleID] = true
		apps = append(apps, *w.Owner)
	}
	return apps
}

// Content returns a copy of the fixture.
func (b *Backend) Content(ctx context.Context) (capture.Content, error) {
	if err := ctx.Err(); err != nil {
		return capture.Content{}, err
	}
	if b.opts.DenyPermission {
		return capture.Content{}, capture.NewPermissionError("synthetic backend: screen recording not authorized")
	}
	if b.opts.ContentErr != nil {
		return capture.Content{}, b.opts.ContentErr
	}
	return capture.Content{
		Displays:     slices.Clone(b.opts.Displays),
		Windows:      slices.Clone(b.opts.Windows),
		Applications: slices.Clone(b.opts.Applications),
	}, nil
}

// Opened counts OpenStream calls that returned a stream.
func (b *Backend) Opened() int { return int(b.opened.Load()) }

// Active counts streams that have not been stopped.
func (b *Backend) Active() int { return int(b.active.Load()) }

func (b *Backend) targetID(target capture.Target) (capture.TargetID, error) {
	switch t := target.(type) {
	case capture.Display:
		if !slices.ContainsFunc(b.opts.Displays, func(d capture.Display) bool { return d.ID == t.ID }) {
			return 0, fmt.Errorf("%w: display %d", capture.ErrTargetUnavailable, t.ID)
		}
		return t.ID, nil
	case capture.Window:
		if !slices.ContainsFunc(b.opts.Windows, func(w capture.Window) bool { return w.ID == t.ID }) {
			return 0, fmt.Errorf("%w: window %d", capture.ErrTargetUnavailable, t.ID)
		}
		return t.ID, nil
	case capture.Application:
		if !slices.ContainsFunc(b.opts.Applications, func(a capture.Application) bool { return a.BundleID == t.BundleID }) {
			return 0, fmt.Errorf("%w: application %q", capture.ErrTargetUnavailable, t.BundleID)
		}
		return capture.TargetID(t.PID), nil
	default:
		panic(fmt.Sprintf("synthetic: unknown target kind %T", target))
	}
}

// OpenStream starts a test card stream for target.
func (b *Backend) OpenStream(ctx context.Context, target capture.Target, cfg capture.StreamConfig) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.opts.DenyPermission {
		return nil, capture.NewPermissionError("synthetic backend: screen recording not authorized")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id, err := b.targetID(target)
	if err != nil {
		return nil, err
	}
	if err := b.opts.StartErr[id]; err != nil {
		return nil, fmt.Errorf("start %s %d: %w", target.Kind(), id, err)
	}

	interval := max(b.opts.FrameInterval, cfg.MinFrameInterval)
	name := fmt.Sprintf("%s-%d", target.Kind(), id)
	runCtx, cancel := context.WithCancel(context.Background())
	s := &stream{
		backend:  b,
		id:       id,
		cfg:      cfg,
		interval: interval,
		queue:    capture.NewSampleQueue(name, cfg.QueueDepth, b.logger),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	b.opened.Add(1)
	b.active.Add(1)
	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.mu.Unlock()

	b.logger.Debug("stream started",
		slog.String("stream", name),
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height),
		slog.Duration("interval", interval),
	)

	go s.run(runCtx)
	return s, nil
}

type stream struct {
	backend  *Backend
	id       capture.TargetID
	cfg      capture.StreamConfig
	interval time.Duration
	queue    *capture.SampleQueue

	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (s *stream) Samples() <-chan capture.Sample {
	return s.queue.Samples()
}

func (s *stream) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			s.stopErr = ctx.Err()
		}
		s.queue.Close()
		s.backend.active.Add(-1)
	})
	return s.stopErr
}

func (s *stream) run(ctx context.Context) {
	defer close(s.done)

	opts := &s.backend.opts
	if delay := opts.StartDelay + opts.Delays[s.id]; delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	if opts.Silent[s.id] {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for index := int64(0); ; index++ {
		s.queue.Enqueue(s.sample(index))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *stream) sample(index int64) capture.Sample {
	if err := s.backend.opts.SampleErr[s.id]; err != nil {
		return capture.Sample{Err: err}
	}
	pts := time.Since(s.backend.start).Nanoseconds()
	frame := Pattern(uint32(s.id), s.cfg.Width, s.cfg.Height, index, pts)
	if s.cfg.PixelFormat == pixbuf.FormatNV12 {
		nv12, err := pixbuf.ToNV12(frame)
		if err != nil {
			return capture.Sample{Err: err}
		}
		frame = nv12
	}
	return capture.Sample{Frame: frame}
}

// StopAll stops every stream still running.
func (b *Backend) StopAll(ctx context.Context) error {
	b.mu.Lock()
	streams := slices.Clone(b.streams)
	b.mu.Unlock()

	var first error
	for _, s := range streams {
		if err := s.Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
