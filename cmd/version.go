package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sidepeek/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for sidepeek: the version, git commit,
build time, Go version and target platform.

Examples:
  sidepeek version              # Show version
  sidepeek version --short      # Show version only
  sidepeek version --format json`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func runVersionCommand(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	switch versionFormat {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(version.GetBuildInfo())
	case "text":
		if versionShort {
			fmt.Fprintln(out, version.GetShortVersion())
			return nil
		}
		fmt.Fprintln(out, "sidepeek")
		fmt.Fprintln(out, version.GetDetailedVersion())
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}
