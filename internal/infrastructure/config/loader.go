package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"consolerelay.dev/cli/internal/core/domain"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// CONSOLERELAY_ENDPOINT_URL or CONSOLERELAY_BATCH_SIZE.
const EnvPrefix = "CONSOLERELAY"

// Configuration keys shared by the file, environment and flag layers
const (
	KeyEnabled          = "enabled"
	KeyEndpointURL      = "endpoint-url"
	KeyUsername         = "username"
	KeyCredential       = "credential"
	KeyAuthScheme       = "auth-scheme"
	KeyBatchSize        = "batch-size"
	KeyMaxBatchBytes    = "max-batch-bytes"
	KeyFlushInterval    = "flush-interval"
	KeyQueueCapacity    = "queue-capacity"
	KeyRetryMaxAttempts = "retry-max-attempts"
	KeyRetryBaseDelay   = "retry-base-delay"
	KeyRetryMaxDelay    = "retry-max-delay"
	KeyRetryMultiplier  = "retry-multiplier"
	KeyRequestTimeout   = "request-timeout"
	KeyTestTimeout      = "test-timeout"
	KeyDrainTimeout     = "drain-timeout"
	KeyCompress         = "compress"
	KeyMetadata         = "metadata"
)

// flagKeys are the keys exposed as command line flags by RegisterFlags
var flagKeys = []string{
	KeyEnabled,
	KeyEndpointURL,
	KeyUsername,
	KeyAuthScheme,
	KeyBatchSize,
	KeyFlushInterval,
	KeyRetryMaxAttempts,
	KeyCompress,
}

// RegisterFlags adds the overridable configuration flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	d := domain.DefaultConfiguration()
	fs.Bool(KeyEnabled, d.Enabled, "relay console output for this build")
	fs.String(KeyEndpointURL, "", "repository endpoint receiving console batches")
	fs.String(KeyUsername, "", "username for basic authentication")
	fs.String(KeyAuthScheme, "", "authorization scheme: auto, basic or bearer")
	fs.Int(KeyBatchSize, d.BatchSize, "maximum chunks per batch")
	fs.Duration(KeyFlushInterval, d.FlushInterval, "maximum time a chunk waits before it is sent")
	fs.Int(KeyRetryMaxAttempts, d.Retry.MaxAttempts, "total sends per batch before giving up")
	fs.Bool(KeyCompress, d.Compress, "gzip request bodies")
}

// Loader resolves the effective configuration. Precedence from lowest to
// highest is defaults, the stored file, CONSOLERELAY_* environment variables,
// then explicitly set flags.
type Loader struct {
	store *FileStore
	flags *pflag.FlagSet
}

// NewLoader creates a loader reading from store. flags may be nil.
func NewLoader(store *FileStore, flags *pflag.FlagSet) *Loader {
	return &Loader{store: store, flags: flags}
}

// Store returns the underlying file store
func (l *Loader) Store() *FileStore {
	return l.store
}

// Load resolves the configuration. The result is not validated; callers
// decide whether an invalid configuration is fatal.
func (l *Loader) Load(ctx context.Context) (domain.Configuration, error) {
	stored, err := l.store.Load(ctx)
	if err != nil {
		return domain.Configuration{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	d := domain.DefaultConfiguration()
	v.SetDefault(KeyEnabled, d.Enabled)
	v.SetDefault(KeyBatchSize, d.BatchSize)
	v.SetDefault(KeyMaxBatchBytes, d.MaxBatchBytes)
	v.SetDefault(KeyFlushInterval, d.FlushInterval)
	v.SetDefault(KeyQueueCapacity, d.QueueCapacity)
	v.SetDefault(KeyRetryMaxAttempts, d.Retry.MaxAttempts)
	v.SetDefault(KeyRetryBaseDelay, d.Retry.BaseDelay)
	v.SetDefault(KeyRetryMaxDelay, d.Retry.MaxDelay)
	v.SetDefault(KeyRetryMultiplier, d.Retry.Multiplier)
	v.SetDefault(KeyRequestTimeout, d.RequestTimeout)
	v.SetDefault(KeyTestTimeout, d.TestTimeout)
	v.SetDefault(KeyDrainTimeout, d.DrainTimeout)
	v.SetDefault(KeyCompress, d.Compress)

	if err := v.MergeConfigMap(storedLayer(stored)); err != nil {
		return domain.Configuration{}, fmt.Errorf("merging stored configuration: %w", err)
	}

	if l.flags != nil {
		for _, key := range flagKeys {
			if flag := l.flags.Lookup(key); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return domain.Configuration{}, fmt.Errorf("binding flag %s: %w", key, err)
				}
			}
		}
	}

	scheme, err := domain.ParseAuthScheme(v.GetString(KeyAuthScheme))
	if err != nil {
		return domain.Configuration{}, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}

	cfg := domain.Configuration{
		Enabled:       v.GetBool(KeyEnabled),
		EndpointURL:   strings.TrimSpace(v.GetString(KeyEndpointURL)),
		Username:      v.GetString(KeyUsername),
		Credential:    domain.NewSecret(v.GetString(KeyCredential)),
		AuthScheme:    scheme,
		BatchSize:     v.GetInt(KeyBatchSize),
		MaxBatchBytes: v.GetInt(KeyMaxBatchBytes),
		FlushInterval: v.GetDuration(KeyFlushInterval),
		QueueCapacity: v.GetInt(KeyQueueCapacity),
		Retry: domain.RetryPolicy{
			MaxAttempts: v.GetInt(KeyRetryMaxAttempts),
			BaseDelay:   v.GetDuration(KeyRetryBaseDelay),
			MaxDelay:    v.GetDuration(KeyRetryMaxDelay),
			Multiplier:  v.GetFloat64(KeyRetryMultiplier),
		},
		RequestTimeout: v.GetDuration(KeyRequestTimeout),
		TestTimeout:    v.GetDuration(KeyTestTimeout),
		DrainTimeout:   v.GetDuration(KeyDrainTimeout),
		Compress:       v.GetBool(KeyCompress),
		Metadata:       stored.Clone().Metadata,
	}

	// Viper lowercases nested map keys, so metadata stays out of it and the
	// environment override is a JSON object.
	if raw := v.GetString(KeyMetadata); raw != "" {
		var metadata map[string]string
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return domain.Configuration{}, fmt.Errorf("%w: %s_METADATA must be a JSON object: %w",
				domain.ErrConfigInvalid, EnvPrefix, err)
		}
		cfg.Metadata = metadata
	}

	return cfg.WithDefaults(), nil
}

// storedLayer flattens the stored configuration into viper's config layer
func storedLayer(cfg domain.Configuration) map[string]any {
	layer := map[string]any{
		KeyEnabled:          cfg.Enabled,
		KeyBatchSize:        cfg.BatchSize,
		KeyMaxBatchBytes:    cfg.MaxBatchBytes,
		KeyFlushInterval:    cfg.FlushInterval,
		KeyQueueCapacity:    cfg.QueueCapacity,
		KeyRetryMaxAttempts: cfg.Retry.MaxAttempts,
		KeyRetryBaseDelay:   cfg.Retry.BaseDelay,
		KeyRetryMaxDelay:    cfg.Retry.MaxDelay,
		KeyRetryMultiplier:  cfg.Retry.Multiplier,
		KeyRequestTimeout:   cfg.RequestTimeout,
		KeyTestTimeout:      cfg.TestTimeout,
		KeyDrainTimeout:     cfg.DrainTimeout,
		KeyCompress:         cfg.Compress,
	}
	if cfg.EndpointURL != "" {
		layer[KeyEndpointURL] = cfg.EndpointURL
	}
	if cfg.Username != "" {
		layer[KeyUsername] = cfg.Username
	}
	if !cfg.Credential.IsEmpty() {
		layer[KeyCredential] = cfg.Credential.Reveal()
	}
	if cfg.AuthScheme != domain.AuthSchemeAuto {
		layer[KeyAuthScheme] = string(cfg.AuthScheme)
	}
	return layer
}
