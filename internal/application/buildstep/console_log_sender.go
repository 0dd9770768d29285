// Package buildstep holds the build steps a host can register. The console
// log sender wraps a build and relays its console output to a repository.
package buildstep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"consolerelay.dev/cli/internal/application/services"
	"consolerelay.dev/cli/internal/core/domain"
	"consolerelay.dev/cli/internal/core/ports"
	"consolerelay.dev/cli/internal/core/session"
)

const (
	// ConsoleLogSenderID identifies the step in the registry
	ConsoleLogSenderID = "console-log-sender"

	// ConsoleLogSenderName is the name shown to users
	ConsoleLogSenderName = "Send console over REST"
)

// ConsoleLogSender wraps a build and relays its console output
type ConsoleLogSender struct {
	configs  ports.ConfigProvider
	settings *services.ConfigurationService
	relay    *services.RelaySession
	launcher ports.ProcessLauncher
	logger   *slog.Logger
}

// NewConsoleLogSender creates the build step
func NewConsoleLogSender(
	configs ports.ConfigProvider,
	settings *services.ConfigurationService,
	relay *services.RelaySession,
	launcher ports.ProcessLauncher,
	logger *slog.Logger,
) *ConsoleLogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleLogSender{
		configs:  configs,
		settings: settings,
		relay:    relay,
		launcher: launcher,
		logger:   logger,
	}
}

// Descriptor describes the step. It applies to every project kind.
func (s *ConsoleLogSender) Descriptor() ports.Descriptor {
	return ports.Descriptor{
		ID:          ConsoleLogSenderID,
		DisplayName: ConsoleLogSenderName,
		Applicable:  func(ports.ProjectKind) bool { return true },
	}
}

// Configure validates and persists the form
func (s *ConsoleLogSender) Configure(ctx context.Context, form domain.ConfigForm) error {
	result, err := s.settings.Configure(ctx, form)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		s.logger.Warn("configuration warning", "warning", w)
	}
	return nil
}

// Test checks the connection using the stored configuration with form applied
func (s *ConsoleLogSender) Test(ctx context.Context, form domain.ConfigForm) error {
	return s.settings.Test(ctx, form)
}

// Run executes the build and relays its console. The returned error is only
// set when the build could not be started; relay problems are reported as
// warnings and the report carries the build's own exit code.
func (s *ConsoleLogSender) Run(ctx context.Context, build ports.Build) (domain.Report, error) {
	buildID := session.GenerateBuildID()
	logger := s.logger.With("build_id", buildID.Value())
	report := domain.Report{BuildID: buildID.Value()}

	cfg, relayOn := s.relayConfig(ctx, build, &report, logger)

	start := time.Now()
	process, err := s.launcher.Launch(ctx, build, cfg.QueueCapacity)
	if err != nil {
		return report, fmt.Errorf("failed to start build: %w", err)
	}

	if relayOn {
		relayed, err := s.relay.Relay(ctx, buildID, cfg, process)
		if err != nil {
			logger.Warn("console relay stopped", "error", err)
			report.AddWarning(fmt.Sprintf("console relay stopped: %v", err))
			discard(process)
		} else {
			relayed.Warnings = append(report.Warnings, relayed.Warnings...)
			report = relayed
		}
	} else {
		report.ChunksCaptured = discard(process)
		if err := process.Err(); err != nil {
			report.AddWarning(fmt.Sprintf("console capture ended early: %v", err))
		}
	}

	process.Wait()
	report.ExitCode = process.ExitCode()
	report.Duration = time.Since(start)

	for _, w := range report.Warnings {
		logger.Warn("relay warning", "warning", w)
	}
	logger.Info("build finished",
		"exit_code", report.ExitCode,
		"duration", report.Duration,
		"relayed", report.Relayed,
		"chunks_delivered", report.ChunksDelivered,
	)
	return report, nil
}

// relayConfig decides whether this build is relayed. A missing or invalid
// configuration turns the relay off with a warning; it never stops the build.
func (s *ConsoleLogSender) relayConfig(ctx context.Context, build ports.Build, report *domain.Report, logger *slog.Logger) (domain.Configuration, bool) {
	cfg, err := s.configs.Current(ctx)
	if err != nil {
		report.AddWarning(fmt.Sprintf("relay disabled: %v", err))
		return domain.DefaultConfiguration(), false
	}
	cfg = cfg.WithDefaults()
	s.settings.Protect(cfg)

	switch {
	case build.NoRelay:
		logger.Debug("relay disabled for this build")
		return cfg, false
	case !cfg.Enabled:
		logger.Debug("relay disabled in configuration")
		return cfg, false
	}

	if err := cfg.Validate(); err != nil {
		report.AddWarning(fmt.Sprintf("relay disabled: %v", err))
		return cfg, false
	}
	logger.Debug("relaying console", "config", cfg)
	return cfg, true
}

// discard drains a capture nobody relays so the build never blocks on it
func discard(capture ports.LogCapture) int {
	n := 0
	for c := range capture.Chunks() {
		if !c.EOF {
			n++
		}
	}
	return n
}
