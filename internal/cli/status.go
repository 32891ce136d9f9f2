package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"jamfwatch/internal/config"
	"jamfwatch/internal/logging"
	"jamfwatch/internal/snapshot"
)

// newStatusCmd creates the `status` command.
// Usage: jamfwatch status [--strict]
func newStatusCmd(configPath, logLevel *string) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show uncommitted drift in the snapshot tree",
		Long: `Reports files in the snapshot tree that differ from the last commit.
A clean tree means every observed change has been committed; leftovers
usually mean the previous cycle failed mid-commit and will be retried
on the next run.

With --strict, the command exits with a non-zero code if the tree is
dirty. Useful in CI/CD pipelines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(logging.ParseLevel(*logLevel), os.Stderr)
			settings, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, err := snapshot.Open(settings.Git.Repo, settings.Git.Name, settings.Git.Email, settings.Git.Remote)
			if err != nil {
				return fmt.Errorf("opening snapshot repository: %w", err)
			}
			return runStatusWith(store, strict, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Exit with error code if the tree has uncommitted changes")

	return cmd
}

// statusReader is the slice of the store the status command needs.
type statusReader interface {
	Status() (*snapshot.Outcome, error)
}

// runStatusWith is the testable core of the status command.
func runStatusWith(store statusReader, strict bool, out io.Writer) error {
	outcome, err := store.Status()
	if err != nil {
		return err
	}

	if outcome.Empty() {
		fmt.Fprintln(out, "✅ Snapshot tree is clean.")
		return nil
	}

	fmt.Fprintf(out, "🔍 %d uncommitted change(s):\n\n", outcome.Total())
	for _, p := range outcome.Created {
		fmt.Fprintf(out, "  new:      %s\n", p)
	}
	for _, p := range outcome.Modified {
		fmt.Fprintf(out, "  modified: %s\n", p)
	}
	for _, p := range outcome.Deleted {
		fmt.Fprintf(out, "  deleted:  %s\n", p)
	}

	if strict {
		return fmt.Errorf("snapshot tree has %d uncommitted change(s)", outcome.Total())
	}
	return nil
}
