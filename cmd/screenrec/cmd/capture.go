package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
)

var captureOut string

var captureCmd = &cobra.Command{
	Use:   "capture <window-id>",
	Short: "Capture one window at full resolution as TIFF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid window id %q: %w", args[0], err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.catalog.Refresh(cmd.Context()); err != nil {
			return err
		}
		data, status, err := a.host.CaptureWindow(cmd.Context(), uint32(id))
		if err != nil {
			return fmt.Errorf("capture window %d (%s): %w", id, status, err)
		}
		if err := writeFile(captureOut, data); err != nil {
			return err
		}
		a.logger.Info("window captured", slog.Uint64("window", id), slog.String("out", captureOut), slog.Int("bytes", len(data)))
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "window.tiff", "output file, - for stdout")
	rootCmd.AddCommand(captureCmd)
}
