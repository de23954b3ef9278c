// Package container writes captured frames into an H.264 video file.
//
// A Session owns one output file with one video track. Frames are appended
// with nanosecond timestamps and converted to a 90 kHz track time base. The
// track input exposes readiness: when the encoder already holds QueueDepth
// frames, Append drops the frame instead of queueing it.
package container

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/pixbuf"
)

const (
	defaultQueueDepth       = 16
	defaultFinishTimeout    = 30 * time.Second
	defaultPollInterval     = 500 * time.Millisecond
	defaultFragmentDuration = time.Second
	defaultFrameRate        = 30
	defaultFFmpegPath       = "ffmpeg"
	killGracePeriod         = 1500 * time.Millisecond
)

var (
	ErrCannotCreateOutput = errors.New("cannot create output")
	ErrWriteFailed        = errors.New("write failed")
	ErrAlreadyFinished    = errors.New("session already finished")
	ErrNotWriting         = errors.New("session is not writing")
	ErrFinishTimeout      = errors.New("finish timed out")
)

// Format selects the container written to disk.
type Format string

const (
	FormatMP4 Format = "mp4"
	FormatTS  Format = "ts"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateCreated State = iota
	StateWriting
	StateFinishing
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateWriting:
		return "writing"
	case StateFinishing:
		return "finishing"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result reports what Append did with a frame.
type Result int

const (
	// Written means the frame was handed to the encoder.
	Written Result = iota + 1
	// Dropped means the track input was not ready; the frame was discarded.
	Dropped
)

func (r Result) String() string {
	switch r {
	case Written:
		return "written"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Options configures a Session. The zero value writes fragmented MP4 from
// NV12 input through ffmpeg on PATH.
type Options struct {
	Format           Format
	PixelFormat      pixbuf.Format
	FrameRate        int
	QueueDepth       int
	FinishTimeout    time.Duration
	PollInterval     time.Duration
	FragmentDuration time.Duration
	FFmpegPath       string
	HardwareEncoder  bool
	Encoder          EncoderFactory
	Logger           *slog.Logger
}

// Stats counts frames through a Session.
type Stats struct {
	Submitted uint64
	// Written counts pictures in the output. Pictures the encoder emitted
	// before the first keyframe are counted in Discarded instead.
	Written   uint64
	Dropped   uint64
	Discarded uint64
}

// Session is one in-progress encoded output file.
type Session struct {
	id     uuid.UUID
	path   string
	width  int
	height int
	opts   Options
	logger *slog.Logger

	file *os.File
	out  *bufio.Writer
	enc  Encoder
	mux  trackMuxer

	// pending holds the track timestamps of frames submitted to the encoder and
	// not yet muxed. Its capacity is the readiness limit.
	pending chan int64

	mu          sync.Mutex
	state       State
	err         error
	finishCalls int

	done chan struct{}

	submitted   atomic.Uint64
	written     atomic.Uint64
	dropped     atomic.Uint64
	discarded   atomic.Uint64
	lastDropLog atomic.Int64
}

func normalizeOptions(options *Options) (Options, error) {
	var opts Options
	if options != nil {
		opts = *options
	}
	if opts.Format == "" {
		opts.Format = FormatMP4
	}
	opts.Format = Format(strings.ToLower(string(opts.Format)))
	if opts.Format != FormatMP4 && opts.Format != FormatTS {
		return opts, fmt.Errorf("unsupported container format %q", opts.Format)
	}
	if opts.PixelFormat == 0 {
		opts.PixelFormat = pixbuf.FormatNV12
	}
	if opts.PixelFormat != pixbuf.FormatNV12 && opts.PixelFormat != pixbuf.FormatBGRA {
		return opts, fmt.Errorf("unsupported pixel format %s", opts.PixelFormat)
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = defaultFrameRate
	}
	if opts.FrameRate > 240 {
		opts.FrameRate = 240
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}
	if opts.QueueDepth > 1024 {
		opts.QueueDepth = 1024
	}
	if opts.FinishTimeout <= 0 {
		opts.FinishTimeout = defaultFinishTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.FragmentDuration <= 0 {
		opts.FragmentDuration = defaultFragmentDuration
	}
	if strings.TrimSpace(opts.FFmpegPath) == "" {
		opts.FFmpegPath = defaultFFmpegPath
	}
	if opts.Encoder == nil {
		opts.Encoder = FFmpegEncoder
	}
	opts.Logger = logging.OrDefault(opts.Logger)
	return opts, nil
}

// Open creates outputPath, declares one H.264 track of width x height and
// starts the session at timestamp zero. Every failure wraps
// ErrCannotCreateOutput.
func Open(width, height int, outputPath string, options *Options) (*Session, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrCannotCreateOutput, width, height)
	}
	opts, err := normalizeOptions(options)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotCreateOutput, err)
	}
	if strings.TrimSpace(outputPath) == "" {
		return nil, fmt.Errorf("%w: empty output path", ErrCannotCreateOutput)
	}
	if info, err := os.Stat(filepath.Dir(outputPath)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotCreateOutput, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrCannotCreateOutput, filepath.Dir(outputPath))
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCannotCreateOutput, err)
	}

	id := uuid.New()
	logger := logging.WithComponent(opts.Logger, "container").With(slog.String("session", id.String()))
	s := &Session{
		id:      id,
		path:    outputPath,
		width:   width,
		height:  height,
		opts:    opts,
		logger:  logger,
		file:    file,
		out:     bufio.NewWriterSize(file, 256*1024),
		pending: make(chan int64, opts.QueueDepth),
		state:   StateCreated,
		done:    make(chan struct{}),
	}

	switch opts.Format {
	case FormatTS:
		s.mux, err = newTSMuxer(s.out, logger)
	default:
		s.mux = newFMP4Muxer(s.out, opts.FragmentDuration, logger)
	}
	if err != nil {
		_ = file.Close()
		_ = os.Remove(outputPath)
		return nil, fmt.Errorf("%w: %w", ErrCannotCreateOutput, err)
	}

	s.enc, err = opts.Encoder(EncoderConfig{
		Width:       width,
		Height:      height,
		PixelFormat: opts.PixelFormat,
		FrameRate:   opts.FrameRate,
		QueueDepth:  opts.QueueDepth,
		FFmpegPath:  opts.FFmpegPath,
		Hardware:    opts.HardwareEncoder,
		Logger:      logger,
	})
	if err != nil {
		_ = file.Close()
		_ = os.Remove(outputPath)
		return nil, fmt.Errorf("%w: start encoder: %w", ErrCannotCreateOutput, err)
	}

	s.state = StateWriting
	go s.run()

	logger.Info("session started",
		slog.String("path", outputPath),
		slog.Int("width", width),
		slog.Int("height", height),
		slog.String("format", string(opts.Format)),
		slog.String("pixel_format", opts.PixelFormat.String()))
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Path is the output file path.
func (s *Session) Path() string { return s.path }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure recorded on a Failed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns frame counters.
func (s *Session) Stats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Written:   s.written.Load(),
		Dropped:   s.dropped.Load(),
		Discarded: s.discarded.Load(),
	}
}

// Ready reports whether the track input would accept a frame right now.
func (s *Session) Ready() bool {
	return len(s.pending) < cap(s.pending)
}

// Append submits one frame. The frame is only read during the call. A frame
// whose geometry differs from the session's is rejected with
// pixbuf.ErrInvalidFrameData and the session stays usable.
func (s *Session) Append(frame *pixbuf.Frame) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateWriting:
	case StateFinishing, StateFinished:
		return 0, ErrAlreadyFinished
	case StateFailed:
		return 0, s.err
	default:
		return 0, ErrNotWriting
	}

	if err := frame.Validate(); err != nil {
		return 0, err
	}
	if frame.Width != s.width || frame.Height != s.height {
		return 0, fmt.Errorf("%w: frame %dx%d does not match track %dx%d",
			pixbuf.ErrInvalidFrameData, frame.Width, frame.Height, s.width, s.height)
	}

	ticks := NanosToTicks(frame.PTS)
	select {
	case s.pending <- ticks:
	default:
		total := s.dropped.Add(1)
		if logging.ShouldLogEvery(&s.lastDropLog, time.Second) {
			s.logger.Debug("track input not ready, frame dropped",
				slog.Uint64("total_dropped", total),
				slog.Int("in_flight", len(s.pending)))
		}
		return Dropped, nil
	}

	src := frame
	if frame.Format != s.opts.PixelFormat {
		converted, err := adaptFrame(frame, s.opts.PixelFormat)
		if err != nil {
			s.failLocked(err)
			return 0, s.err
		}
		src = converted
	}

	if err := s.enc.Encode(src.Packed()); err != nil {
		s.failLocked(err)
		return 0, s.err
	}
	s.submitted.Add(1)
	return Written, nil
}

// adaptFrame converts a frame to the format the encoder was opened with.
func adaptFrame(frame *pixbuf.Frame, target pixbuf.Format) (*pixbuf.Frame, error) {
	switch target {
	case pixbuf.FormatNV12:
		return pixbuf.ToNV12(frame)
	default:
		return nil, fmt.Errorf("no conversion from %s to %s", frame.Format, target)
	}
}

// failLocked moves the session to Failed and aborts the encoder. s.mu must be
// held.
func (s *Session) failLocked(cause error) {
	if s.state == StateFailed || s.state == StateFinished {
		return
	}
	s.state = StateFailed
	s.err = fmt.Errorf("%w: %w", ErrWriteFailed, cause)
	s.logger.Error("session failed", slog.String("error", cause.Error()))
	s.enc.Kill()
}

func (s *Session) fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked(cause)
}

// Finish marks the input complete, waits for every submitted frame to be
// written, and finalizes the file. It waits at most FinishTimeout. A second
// call returns ErrAlreadyFinished.
func (s *Session) Finish() error {
	s.mu.Lock()
	s.finishCalls++
	if s.finishCalls > 1 {
		s.mu.Unlock()
		return ErrAlreadyFinished
	}
	if s.state == StateFailed {
		err := s.err
		s.mu.Unlock()
		s.waitDone(killGracePeriod)
		return err
	}
	s.state = StateFinishing
	s.mu.Unlock()

	if err := s.enc.CloseInput(); err != nil {
		s.fail(fmt.Errorf("close encoder input: %w", err))
	}

	timeout := time.NewTimer(s.opts.FinishTimeout)
	defer timeout.Stop()
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-s.done:
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.state == StateFailed {
				return s.err
			}
			s.logger.Info("session finished",
				slog.Uint64("written", s.written.Load()),
				slog.Uint64("dropped", s.dropped.Load()))
			return nil
		case <-poll.C:
			s.logger.Debug("finish pending",
				slog.Int("in_flight", len(s.pending)),
				slog.Uint64("written", s.written.Load()))
		case <-timeout.C:
			s.mu.Lock()
			s.failLocked(ErrFinishTimeout)
			err := s.err
			s.mu.Unlock()
			s.waitDone(killGracePeriod)
			return err
		}
	}
}

func (s *Session) waitDone(d time.Duration) {
	select {
	case <-s.done:
	case <-time.After(d):
		s.logger.Warn("session resources still busy after kill")
	}
}

// run pairs every access unit with its pending timestamp and feeds the muxer,
// then finalizes the container once the encoder output ends.
func (s *Session) run() {
	defer close(s.done)

	muxFailed := false
	for au := range s.enc.Units() {
		var pts int64
		select {
		case pts = <-s.pending:
		default:
			s.logger.Warn("encoder produced more pictures than frames submitted")
			continue
		}
		if muxFailed {
			continue
		}
		used, err := s.mux.WriteVideo(pts, au, isKeyframe(au))
		if err != nil {
			muxFailed = true
			s.fail(fmt.Errorf("mux: %w", err))
			continue
		}
		if used {
			s.written.Add(1)
		} else {
			s.discarded.Add(1)
		}
	}

	waitErr := s.enc.Wait()

	s.mu.Lock()
	failed := s.state == StateFailed
	s.mu.Unlock()

	var out error
	if !failed {
		if waitErr != nil {
			out = errors.Join(out, waitErr)
		}
		if out == nil {
			out = errors.Join(out, s.mux.Finalize())
		}
	}
	out = errors.Join(out, s.out.Flush())
	out = errors.Join(out, s.file.Sync())
	out = errors.Join(out, s.file.Close())

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateFailed:
	case out != nil:
		s.failLocked(out)
	case s.state == StateFinishing:
		s.state = StateFinished
	default:
		// Encoder output ended without Finish.
		s.failLocked(errors.New("encoder exited unexpectedly"))
	}
}
