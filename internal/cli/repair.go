package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"jamfwatch/internal/config"
	"jamfwatch/internal/logging"
	"jamfwatch/internal/snapshot"
)

// newRepairCmd creates the `repair` command.
// Usage: jamfwatch repair [--yes]
func newRepairCmd(configPath, logLevel *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Rebuild the snapshot repository's history",
		Long: `Discards the snapshot repository's git history and re-initializes it
from the current tree, committing each module directory separately.
The tracked files themselves are untouched.

Use this when the history has grown too large or has been corrupted.
The old history is unrecoverable afterwards, so the command asks for
confirmation unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logging.ParseLevel(*logLevel), os.Stderr)
			settings, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			if !yes && !confirm(cmd, settings.Git.Repo) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}

			store, err := snapshot.Open(settings.Git.Repo, settings.Git.Name, settings.Git.Email, settings.Git.Remote)
			if err != nil {
				return fmt.Errorf("opening snapshot repository: %w", err)
			}
			if err := store.RepairHistory(); err != nil {
				return fmt.Errorf("repairing history: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ History rebuilt.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func confirm(cmd *cobra.Command, repo string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "This permanently discards the git history of %s. Continue? [y/N] ", repo)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
