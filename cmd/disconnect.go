package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sidepeek/internal/preview"
	"github.com/conneroisu/sidepeek/internal/store"
)

var disconnectCmd = &cobra.Command{
	Use:   "disconnect FILE",
	Short: "Forget the rule remembered for a document",
	Long: `Forget the rule choice remembered for FILE in the choice store, so the
next build or view matches its rules again.

The store is locked while the daemon runs; disconnect through the daemon's
POST /api/disconnect instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runDisconnect,
}

func init() {
	rootCmd.AddCommand(disconnectCmd)
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("no choice store is configured (store.path)")
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	path := preview.Abs(args[0])
	label, ok, err := db.Get(path)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "No rule remembered for %s\n", path)
		return nil
	}
	if err := db.Delete(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Forgot %q for %s\n", label, path)
	return nil
}
