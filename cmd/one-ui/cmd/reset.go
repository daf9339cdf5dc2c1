package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/one-ui/control-plane/internal/config"
)

var (
	resetIncludeHistory bool
	resetForce          bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the control plane to a clean state",
	Long: `Reset one-ui by removing persistent state files: the SQLite entity
store, the config-apply snapshot directory, and the update lock file.

On next start, one-ui boots with an empty domain model.

Optional flags:
  --include-history   Also remove the file-based update-history mirror
  --force              Skip confirmation prompt

Examples:
  # Reset state only (interactive confirmation)
  one-ui reset

  # Reset everything without prompting
  one-ui reset --include-history --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeHistory, "include-history", false, "Also remove the file-based update-history directory")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigForReset()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	type target struct {
		path string
		desc string
	}
	var targets []target

	if cfg.Store.Path != "" {
		targets = append(targets, target{cfg.Store.Path, "entity store"})
		targets = append(targets, target{cfg.Store.Path + "-wal", "entity store WAL"})
		targets = append(targets, target{cfg.Store.Path + "-shm", "entity store shm"})
	}
	if cfg.Snapshot.Dir != "" {
		targets = append(targets, target{cfg.Snapshot.Dir, "config snapshot directory"})
	}
	if cfg.Update.LockPath != "" {
		targets = append(targets, target{cfg.Update.LockPath, "update lock"})
	}
	if resetIncludeHistory && cfg.AuditFile.Dir != "" {
		targets = append(targets, target{cfg.AuditFile.Dir, "update-history directory"})
	}

	var existing []target
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset — no state files found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	var errorCount int
	for _, t := range existing {
		if err := os.RemoveAll(t.path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", t.path, err)
			errorCount++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", t.path)
		}
	}

	if errorCount > 0 {
		return fmt.Errorf("%d file(s) could not be removed", errorCount)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. one-ui will start fresh on next launch.")
	return nil
}

// loadConfigForReset loads config with defaults applied but without
// requiring a reachable data plane (reset should work even misconfigured).
func loadConfigForReset() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return &config.Config{}, err
	}
	return cfg, nil
}
