package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"consolerelay.dev/cli/internal/core/domain"
)

const (
	// EnvConfigPath overrides the config file location
	EnvConfigPath = "CONSOLERELAY_CONFIG"

	configFileName   = "config.yaml"
	identityFileName = "identity.txt"
	appDirName       = "consolerelay"
)

// document is the on-disk layout of the configuration file. Durations are
// stored as Go duration strings and the credential is always sealed.
type document struct {
	Enabled     bool   `yaml:"enabled"`
	EndpointURL string `yaml:"endpoint-url,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Credential  string `yaml:"credential,omitempty"`
	AuthScheme  string `yaml:"auth-scheme,omitempty"`

	BatchSize     int    `yaml:"batch-size,omitempty"`
	MaxBatchBytes int    `yaml:"max-batch-bytes,omitempty"`
	FlushInterval string `yaml:"flush-interval,omitempty"`
	QueueCapacity int    `yaml:"queue-capacity,omitempty"`

	RetryMaxAttempts int     `yaml:"retry-max-attempts,omitempty"`
	RetryBaseDelay   string  `yaml:"retry-base-delay,omitempty"`
	RetryMaxDelay    string  `yaml:"retry-max-delay,omitempty"`
	RetryMultiplier  float64 `yaml:"retry-multiplier,omitempty"`

	RequestTimeout string `yaml:"request-timeout,omitempty"`
	TestTimeout    string `yaml:"test-timeout,omitempty"`
	DrainTimeout   string `yaml:"drain-timeout,omitempty"`
	Compress       bool   `yaml:"compress,omitempty"`

	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// FileStore persists the configuration as a YAML file. Writes go through an
// atomic rename so a crash mid-save never leaves a truncated file, and
// Update runs its mutation under the store lock.
type FileStore struct {
	path   string
	sealer *Sealer
	logger *slog.Logger

	mu sync.Mutex
}

// NewFileStore creates a store at path. An empty path selects DefaultConfigPath.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileStore{
		path:   path,
		sealer: NewSealer(filepath.Join(filepath.Dir(path), identityFileName)),
		logger: logger,
	}, nil
}

// DefaultConfigPath returns the config file location, honoring CONSOLERELAY_CONFIG
func DefaultConfigPath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config directory: %w", err)
	}
	return filepath.Join(dir, appDirName, configFileName), nil
}

// Path returns the config file path
func (s *FileStore) Path() string {
	return s.path
}

// Sealer returns the credential sealer used by the store
func (s *FileStore) Sealer() *Sealer {
	return s.sealer
}

// Load reads the stored configuration. A missing file yields the defaults.
func (s *FileStore) Load(ctx context.Context) (domain.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Save validates and writes cfg
func (s *FileStore) Save(ctx context.Context, cfg domain.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, cfg)
}

// Update loads the configuration, applies fn and saves the result as one
// transaction. Nothing is written when fn or validation fails.
func (s *FileStore) Update(ctx context.Context, fn func(*domain.Configuration) error) (domain.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load(ctx)
	if err != nil {
		return domain.Configuration{}, err
	}
	next := cfg.Clone()
	if err := fn(&next); err != nil {
		return cfg, err
	}
	if err := s.save(ctx, next); err != nil {
		return cfg, err
	}
	return next, nil
}

// Backup copies the current config file next to it with a timestamp suffix
// and returns the backup path.
func (s *FileStore) Backup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("reading config for backup: %w", err)
	}
	backupPath := fmt.Sprintf("%s.backup.%s", s.path, time.Now().Format("20060102-150405"))
	if err := renameio.WriteFile(backupPath, data, 0o600); err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	return backupPath, nil
}

// Restore replaces the config file with a backup after validating it
func (s *FileStore) Restore(ctx context.Context, backupPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.read(backupPath)
	if err != nil {
		return fmt.Errorf("reading backup: %w", err)
	}
	return s.save(ctx, cfg)
}

func (s *FileStore) load(ctx context.Context) (domain.Configuration, error) {
	if err := ctx.Err(); err != nil {
		return domain.Configuration{}, err
	}
	cfg, err := s.read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("no stored configuration, using defaults", "path", s.path)
		return domain.DefaultConfiguration(), nil
	}
	return cfg, err
}

func (s *FileStore) read(path string) (domain.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Configuration{}, err
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.Configuration{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s.fromDocument(doc)
}

func (s *FileStore) save(ctx context.Context, cfg domain.Configuration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	doc, err := s.toDocument(cfg)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing configuration: %w", err)
	}
	s.logger.Debug("configuration saved", "path", s.path, "config", cfg)
	return nil
}

func (s *FileStore) toDocument(cfg domain.Configuration) (document, error) {
	credential, err := s.sealer.Seal(cfg.Credential.Reveal())
	if err != nil {
		return document{}, fmt.Errorf("sealing credential: %w", err)
	}
	return document{
		Enabled:          cfg.Enabled,
		EndpointURL:      cfg.EndpointURL,
		Username:         cfg.Username,
		Credential:       credential,
		AuthScheme:       string(cfg.AuthScheme),
		BatchSize:        cfg.BatchSize,
		MaxBatchBytes:    cfg.MaxBatchBytes,
		FlushInterval:    formatDuration(cfg.FlushInterval),
		QueueCapacity:    cfg.QueueCapacity,
		RetryMaxAttempts: cfg.Retry.MaxAttempts,
		RetryBaseDelay:   formatDuration(cfg.Retry.BaseDelay),
		RetryMaxDelay:    formatDuration(cfg.Retry.MaxDelay),
		RetryMultiplier:  cfg.Retry.Multiplier,
		RequestTimeout:   formatDuration(cfg.RequestTimeout),
		TestTimeout:      formatDuration(cfg.TestTimeout),
		DrainTimeout:     formatDuration(cfg.DrainTimeout),
		Compress:         cfg.Compress,
		Metadata:         cfg.Metadata,
	}, nil
}

func (s *FileStore) fromDocument(doc document) (domain.Configuration, error) {
	credential, err := s.sealer.Open(doc.Credential)
	if err != nil {
		return domain.Configuration{}, err
	}
	scheme, err := domain.ParseAuthScheme(doc.AuthScheme)
	if err != nil {
		return domain.Configuration{}, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}

	cfg := domain.Configuration{
		Enabled:       doc.Enabled,
		EndpointURL:   doc.EndpointURL,
		Username:      doc.Username,
		Credential:    domain.NewSecret(credential),
		AuthScheme:    scheme,
		BatchSize:     doc.BatchSize,
		MaxBatchBytes: doc.MaxBatchBytes,
		QueueCapacity: doc.QueueCapacity,
		Retry: domain.RetryPolicy{
			MaxAttempts: doc.RetryMaxAttempts,
			Multiplier:  doc.RetryMultiplier,
		},
		Compress: doc.Compress,
		Metadata: doc.Metadata,
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"flush-interval", doc.FlushInterval, &cfg.FlushInterval},
		{"retry-base-delay", doc.RetryBaseDelay, &cfg.Retry.BaseDelay},
		{"retry-max-delay", doc.RetryMaxDelay, &cfg.Retry.MaxDelay},
		{"request-timeout", doc.RequestTimeout, &cfg.RequestTimeout},
		{"test-timeout", doc.TestTimeout, &cfg.TestTimeout},
		{"drain-timeout", doc.DrainTimeout, &cfg.DrainTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return domain.Configuration{}, fmt.Errorf("%w: %s: %w", domain.ErrConfigInvalid, d.name, err)
		}
		*d.dst = parsed
	}

	return cfg.WithDefaults(), nil
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
