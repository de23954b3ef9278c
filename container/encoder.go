package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/internal/processutil"
	"go2tv.app/screenrec/pixbuf"
)

const stdoutChunkSize = 64 * 1024

// Encoder turns packed raw frames into H.264 access units, one per frame, in
// submission order.
type Encoder interface {
	// Encode submits one packed frame without blocking.
	Encode(raw []byte) error
	// Units delivers access units as NAL unit lists. It is closed once the
	// encoder has produced its last unit.
	Units() <-chan [][]byte
	// CloseInput signals end of input; remaining frames are still flushed.
	CloseInput() error
	// Wait blocks until the encoder has exited. Call after Units is drained.
	Wait() error
	// Kill aborts the encoder immediately.
	Kill()
}

// EncoderConfig describes the raw input an Encoder receives.
type EncoderConfig struct {
	Width       int
	Height      int
	PixelFormat pixbuf.Format
	FrameRate   int
	QueueDepth  int
	FFmpegPath  string
	Hardware    bool
	Logger      *slog.Logger
}

// EncoderFactory starts an Encoder.
type EncoderFactory func(cfg EncoderConfig) (Encoder, error)

// FFmpegEncoder is the default EncoderFactory. It runs ffmpeg with a rawvideo
// pipe on stdin and an Annex-B elementary stream on stdout.
func FFmpegEncoder(cfg EncoderConfig) (Encoder, error) {
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		return nil, errors.New("ffmpeg path is required")
	}

	cfg.Logger = logging.OrDefault(cfg.Logger)
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = defaultFrameRate
	}

	args := ffmpegArgs(cfg, encoderPlan(cfg))
	cfg.Logger.Debug("ffmpeg command", slog.String("cmd", cfg.FFmpegPath+" "+strings.Join(args, " ")))

	cmd := exec.Command(cfg.FFmpegPath, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	processutil.HideConsoleWindow(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	e := &ffmpegEncoder{
		cmd:    cmd,
		feeder: newFrameFeeder(stdin, cfg.QueueDepth, cfg.Logger),
		units:  make(chan [][]byte, cfg.QueueDepth),
		stderr: stderr,
		logger: cfg.Logger,
	}
	go e.readLoop(stdout)
	return e, nil
}

func encoderPlan(cfg EncoderConfig) videoEncoderPlan {
	var baseFilter string
	if cfg.Width%2 != 0 || cfg.Height%2 != 0 {
		baseFilter = "scale=trunc(iw/2)*2:trunc(ih/2)*2"
	}
	gop := 2 * cfg.FrameRate
	if cfg.Hardware {
		return selectVideoEncoder(cfg.FFmpegPath, baseFilter, gop, cfg.Logger)
	}
	return softwareEncoderPlan(baseFilter, gop)
}

func ffmpegArgs(cfg EncoderConfig, plan videoEncoderPlan) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, plan.globalArgs...)
	args = append(args,
		"-fflags", "nobuffer",
		"-probesize", "32",
		"-analyzeduration", "0",
		"-f", "rawvideo",
		"-pix_fmt", cfg.PixelFormat.FFmpegPixFmt(),
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", strconv.Itoa(cfg.FrameRate),
	)
	if cfg.PixelFormat == pixbuf.FormatNV12 {
		// NV12 frames carry full range samples.
		args = append(args, "-color_range", "pc")
	}
	args = append(args,
		"-i", "pipe:0",
		"-an",
		"-fps_mode", "passthrough",
	)
	if strings.TrimSpace(plan.videoFilter) != "" {
		args = append(args, "-vf", plan.videoFilter)
	}
	args = append(args, plan.codecArgs...)
	args = append(args,
		"-bsf:v", "h264_metadata=aud=insert",
		"-f", "h264",
		"pipe:1",
	)
	return args
}

type ffmpegEncoder struct {
	cmd    *exec.Cmd
	feeder *frameFeeder
	units  chan [][]byte
	stderr *lockedBuffer
	logger *slog.Logger

	killOnce sync.Once
	waitOnce sync.Once
	waitErr  error
}

func (e *ffmpegEncoder) Encode(raw []byte) error {
	return e.feeder.Enqueue(raw)
}

func (e *ffmpegEncoder) Units() <-chan [][]byte {
	return e.units
}

func (e *ffmpegEncoder) CloseInput() error {
	return e.feeder.Close()
}

func (e *ffmpegEncoder) Wait() error {
	e.waitOnce.Do(func() {
		if err := e.cmd.Wait(); err != nil {
			e.waitErr = fmt.Errorf("ffmpeg exited: %w: %s", err, e.stderr.Tail(300))
		}
	})
	return e.waitErr
}

func (e *ffmpegEncoder) Kill() {
	e.killOnce.Do(func() {
		e.feeder.Abort()
		if e.cmd.Process != nil {
			if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				e.logger.Debug("ffmpeg kill failed", slog.String("error", err.Error()))
			}
		}
	})
}

func (e *ffmpegEncoder) readLoop(stdout io.Reader) {
	defer close(e.units)

	var splitter auSplitter
	buf := make([]byte, stdoutChunkSize)
	emit := func(raw []byte) {
		au, err := parseAccessUnit(raw)
		if err != nil {
			e.logger.Warn("unparseable access unit", slog.String("error", err.Error()), slog.Int("bytes", len(raw)))
			return
		}
		if len(au) > 0 {
			e.units <- au
		}
	}

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, raw := range splitter.Feed(buf[:n]) {
				emit(raw)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				e.logger.Debug("ffmpeg stdout read failed", slog.String("error", err.Error()))
			}
			break
		}
	}
	if raw := splitter.Flush(); len(raw) > 0 {
		emit(raw)
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return "no ffmpeg stderr output"
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
