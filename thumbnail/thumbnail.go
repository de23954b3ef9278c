// Package thumbnail grabs one preview frame from each of a set of windows
// and groups the results by the displays the windows appear on.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/catalog"
	"go2tv.app/screenrec/internal/logging"
)

var (
	ErrTargetNotFound        = errors.New("capture target not found")
	ErrFrameExtractionFailed = errors.New("failed to extract frame")
	ErrEncodingFailed        = errors.New("failed to encode image")
)

const (
	defaultFirstFrameTimeout = 5 * time.Second
	stopTimeout              = 2 * time.Second
)

// State is the progress of a Batch.
type State int32

const (
	StateIdle State = iota
	StateEnumerating
	StateStreaming
	StateAggregating
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateStreaming:
		return "streaming"
	case StateAggregating:
		return "aggregating"
	case StateComplete:
		return "complete"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Record pairs a window with its preview. Image and PNG are empty for
// placeholders.
type Record struct {
	Window capture.Window
	Image  image.Image
	PNG    []byte
}

// Placeholder reports whether no frame was captured for the record.
func (r Record) Placeholder() bool { return r.Image == nil }

// Result is the outcome of a batch.
type Result struct {
	BatchID ulid.ULID
	// Windows is the input list.
	Windows []capture.Window
	// ByDisplay lists the records for every display a window intersects,
	// in input order.
	ByDisplay map[capture.TargetID][]Record
	// Captured counts windows that produced a frame.
	Captured int
	// Failed counts windows whose stream failed to start, errored or timed out.
	Failed int
}

// Record returns the record for windowID under any display.
func (r Result) Record(windowID capture.TargetID) (Record, bool) {
	for _, records := range r.ByDisplay {
		for _, rec := range records {
			if rec.Window.ID == windowID {
				return rec, true
			}
		}
	}
	return Record{}, false
}

// Options configures a Coordinator.
type Options struct {
	// FirstFrameTimeout bounds the wait for each stream's first sample.
	FirstFrameTimeout time.Duration
	// QueueDepth overrides the thumbnail stream queue depth of 3.
	QueueDepth int
	// MaxEdge downscales previews so neither edge exceeds it. Zero keeps
	// the stream resolution.
	MaxEdge int
	// OnComplete runs once per batch with its result, before Wait returns.
	OnComplete func(Result)
	Logger     *slog.Logger
}

// Coordinator runs thumbnail batches against a capture.StreamOpener.
type Coordinator struct {
	opener capture.StreamOpener
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	current *Batch

	lateSamples atomic.Uint64
}

func New(opener capture.StreamOpener, options *Options) *Coordinator {
	var opts Options
	if options != nil {
		opts = *options
	}
	if opts.FirstFrameTimeout <= 0 {
		opts.FirstFrameTimeout = defaultFirstFrameTimeout
	}
	return &Coordinator{
		opener: opener,
		opts:   opts,
		logger: logging.WithComponent(logging.OrDefault(opts.Logger), "thumbnail"),
	}
}

// Current returns the most recently started batch, or nil.
func (c *Coordinator) Current() *Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// CaptureBatch runs a batch and waits for it.
func (c *Coordinator) CaptureBatch(ctx context.Context, snap *catalog.Snapshot, windows []capture.Window, wantCapture bool) (Result, error) {
	return c.Start(ctx, snap, windows, wantCapture).Wait(ctx)
}

// Start begins a batch for windows and returns without waiting. A batch
// still running from an earlier Start is cancelled. Display membership is
// resolved against snap.
func (c *Coordinator) Start(ctx context.Context, snap *catalog.Snapshot, windows []capture.Window, wantCapture bool) *Batch {
	bctx, cancel := context.WithCancel(ctx)
	b := &Batch{
		id:        ulid.Make(),
		coord:     c,
		snap:      snap,
		windows:   slices.Clone(windows),
		order:     make(map[capture.TargetID]int, len(windows)),
		byDisplay: make(map[capture.TargetID][]Record),
		ctx:       bctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	b.logger = c.logger.With(slog.String("batch", b.id.String()))

	c.mu.Lock()
	prev := c.current
	c.current = b
	c.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	b.state.Store(int32(StateEnumerating))
	for i, w := range b.windows {
		if _, seen := b.order[w.ID]; !seen {
			b.order[w.ID] = i
		}
	}

	if !wantCapture {
		b.state.Store(int32(StateAggregating))
		for _, w := range b.windows {
			b.insert(Record{Window: w})
		}
		b.complete()
		return b
	}

	b.state.Store(int32(StateStreaming))
	b.logger.Debug("thumbnail batch started", slog.Int("windows", len(b.windows)))

	var wg sync.WaitGroup
	for _, w := range b.windows {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.capture(w)
		}()
	}
	go func() {
		wg.Wait()
		b.state.Store(int32(StateAggregating))
		b.complete()
	}()
	return b
}

// Batch is one thumbnail pass.
type Batch struct {
	id      ulid.ULID
	coord   *Coordinator
	snap    *catalog.Snapshot
	windows []capture.Window
	order   map[capture.TargetID]int
	logger  *slog.Logger
	state   atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	byDisplay map[capture.TargetID][]Record
	captured  int
	failed    int

	completeOnce sync.Once
	done         chan struct{}
	result       Result
}

func (b *Batch) ID() ulid.ULID { return b.id }

func (b *Batch) State() State { return State(b.state.Load()) }

// Done is closed once the batch is complete.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Cancel stops every stream still waiting for a frame. The batch then
// completes with the records gathered so far.
func (b *Batch) Cancel() { b.cancel() }

// Wait blocks until the batch completes or ctx is done.
func (b *Batch) Wait(ctx context.Context) (Result, error) {
	select {
	case <-b.done:
		return b.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (b *Batch) capture(w capture.Window) {
	opts := &b.coord.opts
	cfg := capture.ThumbnailConfig(w.Frame)
	if opts.QueueDepth > 0 {
		cfg.QueueDepth = opts.QueueDepth
	}

	log := b.logger.With(slog.Uint64("window", uint64(w.ID)))
	stream, err := b.coord.opener.OpenStream(b.ctx, w, cfg)
	if err != nil {
		log.Warn("thumbnail stream failed to start", slog.String("error", err.Error()))
		b.noteFailure()
		return
	}

	// The stream is stopped as soon as its first sample is consumed.
	streamCtx, stop := context.WithCancel(b.ctx)
	sample, err := capture.FirstSample(streamCtx, stream, opts.FirstFrameTimeout)
	stop()
	b.coord.stopStream(stream, log)

	if err == nil {
		err = sample.Err
	}
	if err != nil {
		log.Debug("no thumbnail frame", slog.String("error", err.Error()))
		b.noteFailure()
		return
	}

	rec := Record{Window: w}
	img, err := extract(sample.Frame)
	if err == nil {
		img = fit(img, opts.MaxEdge)
		rec.PNG, err = encodePNG(img)
	}
	if err != nil {
		log.Warn("thumbnail render failed", slog.String("error", err.Error()))
	} else {
		rec.Image = img
	}

	b.mu.Lock()
	b.captured++
	b.mu.Unlock()
	b.insert(rec)
}

func (b *Batch) noteFailure() {
	b.mu.Lock()
	b.failed++
	b.mu.Unlock()
}

// insert files rec under every display its window intersects, at most once
// per display, keeping each list in input order.
func (b *Batch) insert(rec Record) {
	var displays []capture.Display
	if b.snap != nil {
		displays = b.snap.DisplaysIntersecting(rec.Window.Frame)
	}
	if len(displays) == 0 {
		b.logger.Debug("window intersects no display", slog.Uint64("window", uint64(rec.Window.ID)))
		return
	}

	pos := b.order[rec.Window.ID]
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range displays {
		list := b.byDisplay[d.ID]
		if slices.ContainsFunc(list, func(r Record) bool { return r.Window.ID == rec.Window.ID }) {
			continue
		}
		i, _ := slices.BinarySearchFunc(list, pos, func(r Record, p int) int {
			return b.order[r.Window.ID] - p
		})
		b.byDisplay[d.ID] = slices.Insert(list, i, rec)
	}
}

func (b *Batch) complete() {
	b.completeOnce.Do(func() {
		b.mu.Lock()
		byDisplay := make(map[capture.TargetID][]Record, len(b.byDisplay))
		for id, records := range b.byDisplay {
			byDisplay[id] = slices.Clone(records)
		}
		b.result = Result{
			BatchID:   b.id,
			Windows:   b.windows,
			ByDisplay: byDisplay,
			Captured:  b.captured,
			Failed:    b.failed,
		}
		b.mu.Unlock()

		b.state.Store(int32(StateComplete))
		b.cancel()

		b.logger.Debug("thumbnail batch complete",
			slog.Int("windows", len(b.windows)),
			slog.Int("captured", b.result.Captured),
			slog.Int("failed", b.result.Failed),
			slog.Int("displays", len(byDisplay)),
		)
		if fn := b.coord.opts.OnComplete; fn != nil {
			fn(b.result)
		}
		close(b.done)
	})
}

func (c *Coordinator) stopStream(stream capture.Stream, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := stream.Stop(ctx); err != nil {
		log.Warn("failed to stop capture stream", slog.String("error", err.Error()))
	}
}
