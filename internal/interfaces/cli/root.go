// Package cli is the consolerelay command line. It hosts the console log
// sender build step and the commands that configure and test it.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"consolerelay.dev/cli/internal/infrastructure/logging"
	"consolerelay.dev/cli/internal/interfaces/di"
)

var (
	Version   = "dev"     // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

const shutdownTimeout = 5 * time.Second

// exitError carries a process exit code for a failure that was already
// reported to the user
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// App holds the streams and lazily built container shared by all commands
type App struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// logWriter receives structured logs. It defaults to stderr.
	logWriter io.Writer

	container *di.Container
	exitCode  int
}

// NewApp creates an App bound to the given streams
func NewApp(stdin io.Reader, stdout, stderr io.Writer) *App {
	return &App{stdin: stdin, stdout: stdout, stderr: stderr, logWriter: stderr}
}

// Execute runs the command line against the process streams and returns
// the exit code
func Execute(ctx context.Context) int {
	return NewApp(os.Stdin, os.Stdout, os.Stderr).Run(ctx, os.Args[1:])
}

// Run executes args and returns the exit code. For the run command this is
// the wrapped build's exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	root := a.NewRootCommand()
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)

	if a.container != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if serr := a.container.Shutdown(shutdownCtx); serr != nil {
			a.container.Logger.Warn("shutdown failed", "error", serr)
		}
	}

	var exit *exitError
	switch {
	case err == nil:
		return a.exitCode
	case errors.As(err, &exit):
		return exit.code
	default:
		printError(a.stderr, "Error: "+a.redact(err.Error()))
		return 1
	}
}

// NewRootCommand builds the consolerelay command tree
func (a *App) NewRootCommand() *cobra.Command {
	var (
		configPath string
		logFormat  string
		debugMode  bool
		quiet      bool
	)

	rootCmd := &cobra.Command{
		Use:   "consolerelay",
		Short: "Relay build console output to a remote repository",
		Long: `consolerelay wraps a build command, passes its console through to the
terminal and relays every line to a repository endpoint over REST.

Relaying is best effort: an unreachable or misconfigured endpoint is
reported as a warning and never changes the build result.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := logging.ParseFormat(logFormat)
			if err != nil {
				return err
			}
			container, err := di.NewContainer(di.Options{
				ConfigPath: configPath,
				LogFormat:  format,
				Debug:      debugMode,
				Quiet:      quiet,
				LogWriter:  a.logWriter,
				Version:    Version,
				Flags:      cmd.Flags(),
			})
			if err != nil {
				return err
			}
			a.container = container
			return nil
		},
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
		BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file path (default is $XDG_CONFIG_HOME/consolerelay/config.yaml)")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flags.BoolVar(&debugMode, "debug", false, "enable debug logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")

	rootCmd.AddCommand(a.newRunCommand())
	rootCmd.AddCommand(a.newConfigureCommand())
	rootCmd.AddCommand(a.newTestConnectionCommand())
	rootCmd.AddCommand(a.newValidateCommand())
	rootCmd.AddCommand(a.newReceiveCommand())
	rootCmd.AddCommand(a.newVersionCommand())

	return rootCmd
}

func (a *App) redact(text string) string {
	if a.container == nil {
		return text
	}
	return a.container.Secrets.Redact(text)
}

// interactive reports whether stdin is a terminal a prompt can use
func (a *App) interactive() bool {
	f, ok := a.stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// goVersion returns the Go version used to build the binary
func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}
