package di

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"consolerelay.dev/cli/internal/application/buildstep"
	"consolerelay.dev/cli/internal/application/services"
	"consolerelay.dev/cli/internal/core/domain"
	"consolerelay.dev/cli/internal/core/ports"
	"consolerelay.dev/cli/internal/infrastructure/api"
	"consolerelay.dev/cli/internal/infrastructure/capture"
	"consolerelay.dev/cli/internal/infrastructure/config"
	"consolerelay.dev/cli/internal/infrastructure/logging"
	"consolerelay.dev/cli/internal/infrastructure/registry"
)

const killGrace = 5 * time.Second

// Options selects how the container is built. Zero values pick the defaults.
type Options struct {
	ConfigPath string
	LogFormat  logging.Format
	Debug      bool
	Quiet      bool
	LogWriter  io.Writer
	Version    string

	// Flags carries the per-invocation configuration overrides
	Flags *pflag.FlagSet
}

// Container holds all application dependencies
type Container struct {
	Logger  *slog.Logger
	Secrets *logging.SecretSet

	// Configuration
	Store    *config.FileStore
	Loader   *config.Loader
	Provider *config.Provider

	// Infrastructure
	Gateway  *api.RelayGateway
	Tester   *api.ConnectionTester
	Launcher capture.Launcher

	// Application
	ConfigService *services.ConfigurationService
	RelaySession  *services.RelaySession
	Steps         *registry.StepRegistry

	watcher *config.Watcher
}

// NewContainer creates and configures the dependency injection container
func NewContainer(opts Options) (*Container, error) {
	c := &Container{Secrets: logging.NewSecretSet()}
	c.Logger = logging.New(logging.Options{
		Format: opts.LogFormat,
		Debug:  opts.Debug,
		Quiet:  opts.Quiet,
		Writer: opts.LogWriter,
	}, c.Secrets)

	if err := c.initializeComponents(opts); err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return c, nil
}

func (c *Container) initializeComponents(opts Options) error {
	store, err := config.NewFileStore(opts.ConfigPath, c.Logger)
	if err != nil {
		return err
	}
	c.Store = store
	c.Loader = config.NewLoader(store, opts.Flags)
	c.Provider = config.NewProvider(c.Loader)

	c.Gateway = api.NewRelayGateway(api.GatewayOptions{Logger: c.Logger, Version: opts.Version})
	c.Tester = api.NewConnectionTester(nil, opts.Version, c.Logger)
	c.Launcher = capture.Launcher{Logger: c.Logger, KillGrace: killGrace}

	c.ConfigService = services.NewConfigurationService(store, c.Tester, c.Secrets, c.Logger)
	c.RelaySession = services.NewRelaySession(c.Gateway, c.Logger)

	c.Steps = registry.NewStepRegistry()
	sender := buildstep.NewConsoleLogSender(c.Provider, c.ConfigService, c.RelaySession, c.Launcher, c.Logger)
	if err := c.Steps.Register(sender); err != nil {
		return err
	}

	c.Logger.Debug("container initialized", "config_path", store.Path())
	return nil
}

// ConsoleLogSender returns the registered console relay step
func (c *Container) ConsoleLogSender() (ports.BuildStep, error) {
	return c.Steps.Lookup(buildstep.ConsoleLogSenderID)
}

// EffectiveConfig resolves the configuration the next build would use. The
// credential is registered for redaction before it is returned.
func (c *Container) EffectiveConfig(ctx context.Context) (domain.Configuration, error) {
	cfg, err := c.Provider.Current(ctx)
	if err != nil {
		return domain.Configuration{}, err
	}
	cfg = cfg.WithDefaults()
	c.ConfigService.Protect(cfg)
	return cfg, nil
}

// WatchConfig reloads the configuration whenever the file changes, until
// ctx is done or the container shuts down. onChange may be nil.
func (c *Container) WatchConfig(ctx context.Context, onChange func()) error {
	var notify []func()
	if onChange != nil {
		notify = append(notify, onChange)
	}
	w, err := c.Provider.Watch(ctx, c.Logger, notify...)
	if err != nil {
		return err
	}
	c.watcher = w
	return nil
}

// Shutdown releases background resources
func (c *Container) Shutdown(ctx context.Context) error {
	if c.watcher == nil {
		return nil
	}
	if err := c.watcher.Stop(); err != nil {
		c.Logger.Warn("stopping config watcher", "error", err)
		return err
	}
	return nil
}
