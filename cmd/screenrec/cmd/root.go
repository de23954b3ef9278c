// Package cmd implements the CLI commands for screenrec.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"go2tv.app/screenrec/internal/config"
	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "screenrec",
	Short:   "List, preview and record screen capture targets",
	Version: version.Short(),
	Long: `screenrec enumerates the displays and windows available for capture,
grabs window thumbnails, and records a capture stream to an H.264 MP4 or
MPEG-TS file.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Flags are applied over config only when Changed, so that env and file
	// values keep precedence over flag defaults.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./screenrec.yaml or $HOME/.config/screenrec/screenrec.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("backend", "synthetic", "capture backend (synthetic, native)")
	mustBindPFlag("capture.backend", rootCmd.PersistentFlags().Lookup("backend"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("screenrec")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/screenrec")
		}
	}

	viper.SetEnvPrefix("SCREENREC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func initLogging() error {
	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		viper.Set("logging.level", strings.ToLower(level))
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		viper.Set("logging.format", strings.ToLower(format))
	}
	if viper.GetString("logging.level") == "warning" {
		viper.Set("logging.level", "warn")
	}

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging, os.Stderr).With(slog.String("app", version.ApplicationName))
	slog.SetDefault(logger)
	return nil
}

// loadConfig decodes the merged configuration for a command.
func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
