package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"consolerelay.dev/cli/internal/infrastructure/receiver"
)

// EnvReceiverCredential supplies the receiver credential without exposing it
// on the command line
const EnvReceiverCredential = "CONSOLERELAY_RECEIVER_CREDENTIAL"

func (a *App) newReceiveCommand() *cobra.Command {
	var (
		addr       string
		username   string
		credential string
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Run a local endpoint that prints relayed console output",
		Long: `Run a local repository endpoint for trying out a relay configuration.

Every accepted batch is checked against the batch schema and its chunks
are printed as they arrive. Authentication is required when a credential
is given with --credential or ` + EnvReceiverCredential + `.

Example:
  consolerelay receive --credential tok123 &
  consolerelay run --enabled --endpoint-url http://127.0.0.1:8089/log -- make`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if credential == "" {
				credential = os.Getenv(EnvReceiverCredential)
			}
			if credential != "" {
				a.container.Secrets.Add(credential)
			}

			srv, err := receiver.NewServer(addr, receiver.Options{
				Username:   username,
				Credential: credential,
				Output:     a.stdout,
				Logger:     a.container.Logger,
			})
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				return fmt.Errorf("starting receiver: %w", err)
			}
			printSuccess(a.stderr, "Receiving console batches at "+srv.URL())

			<-cmd.Context().Done()

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("stopping receiver: %w", err)
			}
			printSuccess(a.stderr, fmt.Sprintf("Receiver stopped after %d batches", len(srv.Batches())))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", receiver.DefaultAddr, "listen address")
	cmd.Flags().StringVar(&username, "username", "", "require basic auth with this username")
	cmd.Flags().StringVar(&credential, "credential", "", "require this password or bearer token")
	return cmd
}

func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printField(a.stdout, "Version", Version)
			printField(a.stdout, "Build time", BuildTime)
			printField(a.stdout, "Go version", goVersion())
			return nil
		},
	}
}
