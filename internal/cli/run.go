package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"jamfwatch/internal/commit"
	"jamfwatch/internal/config"
	"jamfwatch/internal/jamf"
	"jamfwatch/internal/logging"
	"jamfwatch/internal/notify"
	"jamfwatch/internal/run"
	"jamfwatch/internal/snapshot"
	"jamfwatch/internal/source"
	"jamfwatch/internal/state"
)

// newRunCmd creates the `run` command.
// Usage: jamfwatch run [--module NAME] [--force] [--no-push] [--no-email]
func newRunCmd(configPath, logLevel *string) *cobra.Command {
	var module string
	var force bool
	var noPush bool
	var noEmail bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one monitoring cycle",
		Long: `Collects every enabled module from the Jamf Pro server, reconciles the
results against the snapshot tree, commits the changes and delivers the
change report.

With --force the current state is committed as a baseline instead of a
per-item delta; use it to initialize tracking or to resynchronize after
manual edits to the tree.

The command exits non-zero when the cycle could not commit or when any
source failed to collect, so it can drive a cron alert.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), *configPath, *logLevel, cycleFlags{
				module:  module,
				force:   force,
				noPush:  noPush,
				noEmail: noEmail,
			}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&module, "module", "m", "", "Collect only the named module")
	cmd.Flags().BoolVar(&force, "force", false, "Commit the full current state as a baseline")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "Skip pushing to the configured remote")
	cmd.Flags().BoolVar(&noEmail, "no-email", false, "Skip email delivery of the report")

	return cmd
}

type cycleFlags struct {
	module  string
	force   bool
	noPush  bool
	noEmail bool
}

func runCycle(ctx context.Context, configPath, logLevel string, flags cycleFlags, out io.Writer) error {
	// The full log of the cycle is captured so it can ride along as an
	// attachment on the report email.
	var logBuf bytes.Buffer
	logging.Init(logging.ParseLevel(logLevel), io.MultiWriter(os.Stderr, &logBuf))

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := snapshot.Open(settings.Git.Repo, settings.Git.Name, settings.Git.Email, settings.Git.Remote)
	if err != nil {
		return fmt.Errorf("opening snapshot repository: %w", err)
	}

	clients, err := jamf.NewClients(ctx, settings.Jamf.URL, settings.Jamf.Username, settings.Jamf.Password)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", settings.Jamf.URL, err)
	}
	defer clients.Universal.Invalidate(context.WithoutCancel(ctx))

	// Bearer tokens expire in 30 minutes; a long collection cycle needs
	// periodic refreshes.
	kaCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()
	go keepTokenAlive(kaCtx, clients.Universal)

	push := settings.Git.Push && !flags.noPush
	orch := commit.New(store, &commit.OSFileWriter{}, push)
	statePath := filepath.Join(filepath.Dir(configPath), state.DefaultStateFile)
	runner := run.New(source.Builtin(), store, orch,
		time.Duration(settings.Run.TimeoutSeconds)*time.Second, statePath)

	outcome, cycleErr := runner.Cycle(ctx, clients, run.Options{
		Module: flags.module,
		Force:  flags.force,
	})
	if outcome == nil {
		return cycleErr
	}

	fmt.Fprintln(out, outcome.Report.Render())

	mailer := notify.NewMailer(settings.Email)
	if !flags.noEmail {
		if err := deliverReport(mailer, outcome, logBuf.Bytes()); err != nil {
			logging.Error("Notify", err, "report delivery failed")
		}
	}

	if cycleErr != nil {
		return cycleErr
	}
	if n := len(outcome.Failures); n > 0 {
		return fmt.Errorf("%d source(s) failed to collect", n)
	}
	return nil
}

func keepTokenAlive(ctx context.Context, u *jamf.Universal) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.KeepAlive(ctx); err != nil {
				logging.Warn("Jamf", "token keep-alive failed: %v", err)
			}
		}
	}
}

// reportSender is the slice of the mailer the delivery decision needs.
type reportSender interface {
	Enabled() bool
	Send(body string, logName string, logData []byte) error
}

// deliverReport emails the rendered report with the cycle log attached.
// Quiet cycles with nothing to say send nothing.
func deliverReport(mailer reportSender, outcome *run.Outcome, logData []byte) error {
	if !mailer.Enabled() {
		return nil
	}
	if !outcome.Report.HasContent() {
		logging.Debug("Notify", "no changes and no failures, skipping email")
		return nil
	}
	logName := fmt.Sprintf("jamfwatch-%s.log", outcome.RunID)
	return mailer.Send(outcome.Report.Render(), logName, logData)
}
