package cmd

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	gohost "github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/spf13/cobra"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/container"
	"go2tv.app/screenrec/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report capture, encoder and system readiness",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		return runDoctor(ctx, cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(ctx context.Context, w io.Writer, cfg *config.Config) error {
	fmt.Fprintf(w, "platform:        %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if info, err := gohost.InfoWithContext(ctx); err == nil {
		fmt.Fprintf(w, "os:              %s %s\n", info.Platform, info.PlatformVersion)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		fmt.Fprintf(w, "cpu cores:       %d\n", n)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fmt.Fprintf(w, "memory:          %d MiB available of %d MiB\n", vm.Available>>20, vm.Total>>20)
	}

	provider := capture.NativeProvider()
	if provider == "" {
		provider = "none"
	}
	fmt.Fprintf(w, "capture backend: %s (native provider: %s)\n", cfg.Capture.Backend, provider)

	path, err := exec.LookPath(cfg.Encoder.FFmpegPath)
	if err != nil {
		fmt.Fprintf(w, "ffmpeg:          not found (%s)\n", cfg.Encoder.FFmpegPath)
		return fmt.Errorf("ffmpeg not available: %w", err)
	}
	fmt.Fprintf(w, "ffmpeg:          %s\n", path)

	encoders, err := container.H264Encoders(path)
	if err != nil {
		return err
	}
	if len(encoders) == 0 {
		fmt.Fprintln(w, "h264 encoders:   none")
		return fmt.Errorf("ffmpeg at %s has no usable H.264 encoder", path)
	}
	fmt.Fprintf(w, "h264 encoders:   %s\n", strings.Join(encoders, ", "))
	return nil
}
