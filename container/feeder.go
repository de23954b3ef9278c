package container

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/screenrec/internal/logging"
)

var errFeederFull = errors.New("encoder input queue full")

// frameFeeder moves raw frames to the encoder's stdin on its own goroutine so
// Append never blocks on a pipe write. The readiness gate bounds in-flight
// frames to the queue size, so a full queue is an accounting bug, not
// backpressure.
type frameFeeder struct {
	dst    io.WriteCloser
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan []byte
	abort  chan struct{}

	abortOnce sync.Once
	wg        sync.WaitGroup
	writeErr  atomic.Pointer[error]

	lastSlowLog atomic.Int64
}

func newFrameFeeder(dst io.WriteCloser, queueSize int, logger *slog.Logger) *frameFeeder {
	if queueSize <= 0 {
		queueSize = 1
	}
	f := &frameFeeder{
		dst:    dst,
		logger: logging.OrDefault(logger),
		queue:  make(chan []byte, queueSize),
		abort:  make(chan struct{}),
	}
	f.wg.Add(1)
	go f.loop()
	return f
}

// Enqueue hands one frame to the writer goroutine without blocking.
func (f *frameFeeder) Enqueue(frame []byte) error {
	if p := f.writeErr.Load(); p != nil {
		return *p
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return io.ErrClosedPipe
	}

	select {
	case f.queue <- frame:
		return nil
	default:
		return errFeederFull
	}
}

// Close stops accepting frames, flushes what is queued, and closes dst.
func (f *frameFeeder) Close() error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()

	f.wg.Wait()
	if p := f.writeErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Abort drops anything still queued and closes dst immediately.
func (f *frameFeeder) Abort() {
	f.abortOnce.Do(func() {
		close(f.abort)
		_ = f.dst.Close()
	})
}

func (f *frameFeeder) loop() {
	defer f.wg.Done()
	defer func() { _ = f.dst.Close() }()

	for {
		select {
		case <-f.abort:
			return
		case b, ok := <-f.queue:
			if !ok {
				return
			}
			start := time.Now()
			if _, err := f.dst.Write(b); err != nil {
				f.writeErr.Store(&err)
				f.logger.Debug("encoder input write failed", slog.String("error", err.Error()))
				return
			}
			d := time.Since(start)
			if d > 50*time.Millisecond && logging.ShouldLogEvery(&f.lastSlowLog, time.Second) {
				f.logger.Debug("slow encoder input write",
					slog.Duration("duration", d),
					slog.Int("bytes", len(b)),
					slog.Int("queue", len(f.queue)))
			}
		}
	}
}
