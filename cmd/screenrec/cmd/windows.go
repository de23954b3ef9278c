package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go2tv.app/screenrec/host"
)

var (
	windowsFilter  bool
	windowsCapture bool
	windowsOutput  string
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List on-screen windows available for capture",
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

		infos, status, err := a.host.WindowsInfo(cmd.Context(), windowsFilter, windowsCapture)
		if err != nil {
			return fmt.Errorf("list windows (%s): %w", status, err)
		}
		return writeWindows(cmd.OutOrStdout(), windowsOutput, infos)
	},
}

func init() {
	windowsCmd.Flags().BoolVar(&windowsFilter, "filter", false, "drop untitled windows")
	windowsCmd.Flags().BoolVar(&windowsCapture, "capture", false, "grab a PNG thumbnail of each window")
	windowsCmd.Flags().StringVarP(&windowsOutput, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.AddCommand(windowsCmd)
}

func writeWindows(w io.Writer, format string, infos []host.WindowInfo) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(infos); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tAPP\tBUNDLE\tTITLE\tTHUMBNAIL")
		for _, info := range infos {
			thumb := "-"
			if len(info.Thumbnail) > 0 {
				thumb = fmt.Sprintf("%d bytes", len(info.Thumbnail))
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", info.ID, info.AppName, info.BundleID, info.Title, thumb)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeFile(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
