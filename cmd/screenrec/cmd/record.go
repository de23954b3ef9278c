package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/host"
	"go2tv.app/screenrec/pixbuf"
)

var (
	recordOut      string
	recordDisplay  uint32
	recordWindow   uint32
	recordWidth    int
	recordHeight   int
	recordDuration time.Duration
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a display or window to a video file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if recordDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, recordDuration)
			defer cancel()
		}

		snap, err := a.catalog.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		target, err := recordTarget(snap.Displays(), snap.Lookup)
		if err != nil {
			return err
		}

		encOpts, err := encoderOptions(cfg.Encoder)
		if err != nil {
			return err
		}
		bounds := target.Bounds()
		streamCfg := capture.StreamConfig{
			Width:            even(pick(recordWidth, bounds.Dx())),
			Height:           even(pick(recordHeight, bounds.Dy())),
			MinFrameInterval: time.Second / time.Duration(max(cfg.Encoder.FrameRate, 1)),
			PixelFormat:      encOpts.PixelFormat,
			ShowsCursor:      true,
			QueueDepth:       8,
		}
		return record(ctx, a, target, streamCfg)
	},
}

func init() {
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "recording.mp4", "output file")
	recordCmd.Flags().Uint32Var(&recordDisplay, "display", 0, "display id (default: first display)")
	recordCmd.Flags().Uint32Var(&recordWindow, "window", 0, "window id, overrides --display")
	recordCmd.Flags().IntVar(&recordWidth, "width", 0, "output width (default: target width)")
	recordCmd.Flags().IntVar(&recordHeight, "height", 0, "output height (default: target height)")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 10*time.Second, "recording length, 0 records until interrupted")
	recordCmd.Flags().String("format", "mp4", "container format (mp4, ts)")
	recordCmd.Flags().String("pix-fmt", "nv12", "encoder input pixel format (nv12, bgra)")
	mustBindPFlag("encoder.format", recordCmd.Flags().Lookup("format"))
	mustBindPFlag("encoder.pixel_format", recordCmd.Flags().Lookup("pix-fmt"))
	rootCmd.AddCommand(recordCmd)
}

func pick(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// even rounds v down to an even dimension of at least 2.
func even(v int) int { return max(v&^1, 2) }

func recordTarget(displays []capture.Display, lookup func(capture.TargetID) (capture.Target, bool)) (capture.Target, error) {
	switch {
	case recordWindow != 0:
		t, ok := lookup(capture.TargetID(recordWindow))
		if !ok {
			return nil, fmt.Errorf("window %d not found", recordWindow)
		}
		return t, nil
	case recordDisplay != 0:
		for _, d := range displays {
			if d.ID == capture.TargetID(recordDisplay) {
				return d, nil
			}
		}
		return nil, fmt.Errorf("display %d not found", recordDisplay)
	case len(displays) > 0:
		return displays[0], nil
	default:
		return nil, errors.New("no displays available")
	}
}

func record(ctx context.Context, a *app, target capture.Target, cfg capture.StreamConfig) error {
	handle, status, err := a.host.EncoderInit(cfg.Width, cfg.Height, recordOut)
	if err != nil {
		return fmt.Errorf("open %s (%s): %w", recordOut, status, err)
	}

	stream, err := a.backend.OpenStream(ctx, target, cfg)
	if err != nil {
		_, _ = a.host.EncoderFinish(handle)
		return err
	}

	a.logger.Info("recording",
		slog.String("target", target.Kind().String()),
		slog.String("out", recordOut),
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height))

	var (
		base             int64 = -1
		written, dropped int
	)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case sample, ok := <-stream.Samples():
			if !ok {
				break loop
			}
			if sample.Err != nil {
				a.logger.Warn("capture sample failed", slog.String("error", sample.Err.Error()))
				continue
			}
			f := sample.Frame
			if base < 0 {
				base = f.PTS
			}
			switch st := ingest(a.host, handle, f, f.PTS-base); st {
			case host.StatusOK:
				written++
			case host.StatusDropped:
				dropped++
			default:
				a.logger.Error("frame rejected", slog.String("status", st.String()))
				if st == host.StatusSessionFailed {
					break loop
				}
			}
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := stream.Stop(stopCtx); err != nil {
		a.logger.Warn("failed to stop capture stream", slog.String("error", err.Error()))
	}

	if status, err := a.host.EncoderFinish(handle); err != nil {
		return fmt.Errorf("finish %s (%s): %w", recordOut, status, err)
	}
	a.logger.Info("recording saved",
		slog.String("out", recordOut),
		slog.Int("frames", written),
		slog.Int("dropped", dropped))
	return nil
}

func ingest(h *host.Host, handle host.Handle, f *pixbuf.Frame, pts int64) host.Status {
	switch f.Format {
	case pixbuf.FormatNV12:
		return h.IngestYUVFrame(handle, f.Width, f.Height, pts,
			f.Planes[0].Stride, f.Planes[0].Data, f.Planes[1].Stride, f.Planes[1].Data)
	default:
		return h.IngestBGRAFrame(handle, f.Width, f.Height, pts, f.Planes[0].Stride, f.Planes[0].Data)
	}
}
