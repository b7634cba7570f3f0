package cmd

import (
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sidepeek/internal/config"
	"github.com/conneroisu/sidepeek/internal/notify"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sidepeek",
	Short: "Build documents with configured tasks and preview the output",
	Long: `sidepeek maps source documents to build tasks through configured rules,
runs them and shows the resulting HTML or PDF in a live browser viewer that
reloads whenever the output changes.

Quick Start:
  sidepeek rules paper.md       Show the rules matching a document
  sidepeek view paper.md        Build and open the output
  sidepeek build paper.md       Build once and exit with the task's status
  sidepeek serve                Run the preview daemon
  sidepeek lsp                  Run the editor adapter over stdio

Rules and tasks are read from .sidepeek.yml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return config.Configure(viper.GetViper(), cfgFile)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !isExit(err) {
		notify.NewWriter(os.Stderr).Error(rootCmd.Context(), err.Error())
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .sidepeek.yml, can also use SIDEPEEK_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}
