package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"consolerelay.dev/cli/internal/infrastructure/api"
)

func (a *App) newConfigureCommand() *cobra.Command {
	var (
		fields  formFlags
		noInput bool
		test    bool
	)

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Configure the repository endpoint and credentials",
		Long: `Configure where console output is relayed to.

Settings given as flags are applied as is. When run in a terminal, the
remaining settings are prompted for. Nothing is saved unless every field
is valid, and the credential is stored encrypted.

Examples:
  consolerelay configure
  consolerelay configure --enabled --endpoint-url https://nexus.example.com/log --credential "$TOKEN"
  consolerelay configure --metadata team=build,env=ci --no-input`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			settings := a.container.ConfigService
			form := fields.form(cmd.Flags())

			if !noInput && a.interactive() {
				current, err := settings.Load(ctx)
				if err != nil {
					return err
				}
				if err := (prompter{validate: settings.ValidateField}).fill(&form, current); err != nil {
					return fmt.Errorf("prompt: %w", err)
				}
			}
			if form.IsEmpty() {
				return errors.New("nothing to configure; pass settings as flags or run in a terminal")
			}

			if test {
				step, err := a.container.ConsoleLogSender()
				if err != nil {
					return err
				}
				if err := step.Test(ctx, form); err != nil {
					printError(a.stdout, a.redact(api.Outcome(err)))
					return &exitError{code: 1}
				}
				printSuccess(a.stdout, api.SuccessMessage)
			}

			result, err := settings.Configure(ctx, form)
			if err != nil {
				return err
			}
			for _, w := range result.Warnings {
				printWarning(a.stdout, w)
			}
			printSuccess(a.stdout, "Configuration saved to "+settings.Path())
			return nil
		},
	}

	fields.register(cmd.Flags())
	cmd.Flags().BoolVar(&noInput, "no-input", false, "never prompt, even in a terminal")
	cmd.Flags().BoolVar(&test, "test", false, "test the connection before saving")

	return cmd
}

func (a *App) newTestConnectionCommand() *cobra.Command {
	var fields formFlags

	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that the endpoint is reachable and accepts the credential",
		Long: `Probe the repository endpoint with the stored configuration, overridden
by any settings given as flags. No log data is sent and nothing is saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := a.container.ConsoleLogSender()
			if err != nil {
				return err
			}
			if err := step.Test(cmd.Context(), fields.form(cmd.Flags())); err != nil {
				printError(a.stdout, a.redact(api.Outcome(err)))
				return &exitError{code: 1}
			}
			printSuccess(a.stdout, api.SuccessMessage)
			return nil
		},
	}

	fields.register(cmd.Flags())
	return cmd
}
