package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go2tv.app/screenrec/preview"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the window list, window captures and recordings over HTTP",
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

		srv := preview.New(a.host, &preview.Options{
			RecordingsDir: cfg.Preview.RecordingsDir,
			Logger:        a.logger,
		})
		return srv.ListenAndServe(ctx, cfg.Preview.Addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8090", "listen address")
	serveCmd.Flags().String("recordings", ".", "directory served under /recordings/")
	mustBindPFlag("preview.addr", serveCmd.Flags().Lookup("addr"))
	mustBindPFlag("preview.recordings_dir", serveCmd.Flags().Lookup("recordings"))
	rootCmd.AddCommand(serveCmd)
}
