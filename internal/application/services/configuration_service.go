package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"consolerelay.dev/cli/internal/core/domain"
	"consolerelay.dev/cli/internal/core/ports"
)

// SecretRegistry receives credential values that must be kept out of logs
type SecretRegistry interface {
	Add(value string)
}

// ConfigureResult is the outcome of a successful Configure
type ConfigureResult struct {
	Config   domain.Configuration
	Warnings []string
}

// ConfigurationService handles configuration management
type ConfigurationService struct {
	store   ports.ConfigStore
	tester  ports.ConnectionTester
	secrets SecretRegistry
	logger  *slog.Logger
}

// NewConfigurationService creates a new configuration service. secrets may be nil.
func NewConfigurationService(store ports.ConfigStore, tester ports.ConnectionTester, secrets SecretRegistry, logger *slog.Logger) *ConfigurationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigurationService{
		store:   store,
		tester:  tester,
		secrets: secrets,
		logger:  logger,
	}
}

// Load returns the stored configuration
func (s *ConfigurationService) Load(ctx context.Context) (domain.Configuration, error) {
	cfg, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Error("failed to load configuration", "path", s.store.Path(), "error", err)
		return domain.Configuration{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	s.Protect(cfg)
	return cfg, nil
}

// Configure validates the form and persists it in one transaction. Field
// errors abort with domain.ErrConfigInvalid and leave the stored
// configuration untouched. Warnings for the saved configuration are
// returned with the result.
func (s *ConfigurationService) Configure(ctx context.Context, form domain.ConfigForm) (ConfigureResult, error) {
	if form.Credential != nil {
		s.addSecret(*form.Credential)
	}

	if err := checkForm(form); err != nil {
		s.logger.Warn("configuration rejected", "error", err)
		return ConfigureResult{}, err
	}

	cfg, err := s.store.Update(ctx, form.Apply)
	if err != nil {
		s.logger.Warn("configuration not saved", "path", s.store.Path(), "error", err)
		return ConfigureResult{}, err
	}
	s.logger.Info("configuration saved", "path", s.store.Path(), "config", cfg)
	return ConfigureResult{Config: cfg, Warnings: cfg.Warnings()}, nil
}

// Test checks the stored configuration with the form applied on top,
// without saving anything.
func (s *ConfigurationService) Test(ctx context.Context, form domain.ConfigForm) error {
	if form.Credential != nil {
		s.addSecret(*form.Credential)
	}
	if err := checkForm(form); err != nil {
		return err
	}

	cfg, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := form.Apply(&cfg); err != nil {
		return err
	}
	s.Protect(cfg)

	err = s.tester.Test(ctx, cfg)
	s.logger.Debug("connection test finished", "endpoint", cfg.EndpointURL, "error", err)
	return err
}

// TestConfiguration checks an already resolved configuration
func (s *ConfigurationService) TestConfiguration(ctx context.Context, cfg domain.Configuration) error {
	s.Protect(cfg)
	return s.tester.Test(ctx, cfg)
}

// ValidateField validates a single field value
func (s *ConfigurationService) ValidateField(field, value string) domain.ValidationResult {
	return domain.ValidateField(field, value)
}

// Path returns the configuration file path
func (s *ConfigurationService) Path() string {
	return s.store.Path()
}

// Protect registers the configuration's credential with the log redactor
func (s *ConfigurationService) Protect(cfg domain.Configuration) {
	s.addSecret(cfg.Credential.Reveal())
}

func (s *ConfigurationService) addSecret(value string) {
	if s.secrets != nil && value != "" {
		s.secrets.Add(value)
	}
}

// checkForm joins the blocking field errors of form
func checkForm(form domain.ConfigForm) error {
	var problems []string
	for _, r := range form.Check() {
		if r.IsError() {
			problems = append(problems, r.Message)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}
