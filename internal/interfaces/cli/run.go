package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"consolerelay.dev/cli/internal/core/domain"
	"consolerelay.dev/cli/internal/core/ports"
	"consolerelay.dev/cli/internal/infrastructure/config"
)

func (a *App) newRunCommand() *cobra.Command {
	var (
		noRelay     bool
		projectKind string
		workDir     string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Run a build and relay its console",
		Long: `Run a build command, passing its console through to this terminal and
relaying every line to the configured repository endpoint.

The exit code of consolerelay is the exit code of the build. Relay
problems are printed as warnings only.

Examples:
  # Relay a make build
  consolerelay run -- make all

  # Override the batch size for one build
  consolerelay run --batch-size 50 -- ./gradlew build

  # Run without relaying
  consolerelay run --no-relay -- go test ./...`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dash := cmd.ArgsLenAtDash(); dash > 0 {
				return fmt.Errorf("unexpected arguments before --: %s", strings.Join(args[:dash], " "))
			}

			step, err := a.container.ConsoleLogSender()
			if err != nil {
				return err
			}
			kind := ports.ProjectKind(projectKind)
			if !step.Descriptor().IsApplicable(kind) {
				noRelay = true
			}

			report, err := step.Run(cmd.Context(), ports.Build{
				Command:     args[0],
				Args:        args[1:],
				ProjectKind: kind,
				WorkingDir:  workDir,
				NoRelay:     noRelay,
				Stdin:       a.stdin,
				Stdout:      a.stdout,
				Stderr:      a.stderr,
			})
			if err != nil {
				return err
			}

			a.printReport(report)
			a.exitCode = report.ExitCode
			if a.exitCode < 0 {
				a.exitCode = 1
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&noRelay, "no-relay", false, "run the build without relaying its console")
	flags.StringVar(&projectKind, "project-kind", string(ports.ProjectFreestyle), "kind of job the build belongs to")
	flags.StringVar(&workDir, "dir", "", "working directory for the build")
	config.RegisterFlags(flags)

	return cmd
}

// printReport summarises the relay on stderr so stdout stays the build's own
func (a *App) printReport(report domain.Report) {
	if !report.Relayed {
		return
	}
	summary := fmt.Sprintf("console relayed: %d of %d chunks delivered in %d batches",
		report.ChunksDelivered, report.ChunksCaptured, len(report.Deliveries))
	if len(report.Warnings) == 0 {
		printSuccess(a.stderr, summary)
		return
	}
	printWarning(a.stderr, summary)
	for _, w := range report.Warnings {
		printWarning(a.stderr, a.redact(w))
	}
}
