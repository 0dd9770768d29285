package cli

import (
	"context"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func (a *App) newValidateCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Long: `Resolve the configuration the next build would use from defaults, the
config file, CONSOLERELAY_* environment variables and flags, then check it.

With --watch the configuration is checked again every time the config
file changes, until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !watch {
				if !a.validateOnce(ctx) {
					return &exitError{code: 1}
				}
				return nil
			}

			changed := make(chan struct{}, 1)
			err := a.container.WatchConfig(ctx, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			if err != nil {
				return err
			}
			a.validateOnce(ctx)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
					a.validateOnce(ctx)
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "validate again whenever the config file changes")
	return cmd
}

// validateOnce prints the configuration and reports whether it is valid
func (a *App) validateOnce(ctx context.Context) bool {
	w := a.stdout
	printTitle(w, "Console relay configuration")

	cfg, err := a.container.EffectiveConfig(ctx)
	if err != nil {
		printError(w, a.redact(err.Error()))
		return false
	}

	printField(w, "Config file", a.container.Store.Path())
	printField(w, "Enabled", cfg.Enabled)
	printField(w, "Endpoint URL", valueOrUnset(cfg.EndpointURL))
	printField(w, "Username", valueOrUnset(cfg.Username))
	printField(w, "Credential", valueOrUnset(cfg.Credential.String()))
	printField(w, "Auth scheme", cfg.EffectiveAuthScheme())
	printField(w, "Batch size", cfg.BatchSize)
	printField(w, "Flush interval", cfg.FlushInterval)
	printField(w, "Retry attempts", cfg.Retry.MaxAttempts)
	printField(w, "Drain timeout", cfg.DrainTimeout)
	printField(w, "Compress", cfg.Compress)
	if len(cfg.Metadata) > 0 {
		printField(w, "Metadata", formatMetadata(cfg.Metadata))
	}

	for _, warning := range cfg.Warnings() {
		printWarning(w, warning)
	}
	if err := cfg.Validate(); err != nil {
		printError(w, a.redact(err.Error()))
		return false
	}
	if cfg.Enabled {
		printSuccess(w, "Configuration valid")
	} else {
		printSuccess(w, "Configuration valid; relaying is disabled")
	}
	return true
}

func valueOrUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

func formatMetadata(m map[string]string) string {
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}
