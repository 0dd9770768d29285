package domain

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// AuthScheme selects how the credential is turned into an Authorization header
type AuthScheme string

const (
	// AuthSchemeAuto uses basic auth when a username is set, bearer otherwise
	AuthSchemeAuto   AuthScheme = ""
	AuthSchemeBasic  AuthScheme = "basic"
	AuthSchemeBearer AuthScheme = "bearer"
)

// ParseAuthScheme parses a configured auth scheme name
func ParseAuthScheme(value string) (AuthScheme, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return AuthSchemeAuto, nil
	case "basic":
		return AuthSchemeBasic, nil
	case "bearer", "token":
		return AuthSchemeBearer, nil
	default:
		return "", fmt.Errorf("unknown auth scheme: %s", value)
	}
}

// RetryPolicy defines retry behavior for log delivery
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay returns how long to wait before the given retry. Retry 1 is the
// second send overall and waits BaseDelay; each later retry multiplies it.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 || p.BaseDelay <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(retry-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Configuration is the relay configuration for one build. A build works on a
// value copy taken at start, so later reconfiguration never affects it.
type Configuration struct {
	Enabled     bool       `json:"enabled"`
	EndpointURL string     `json:"endpoint_url"`
	Username    string     `json:"username,omitempty"`
	Credential  Secret     `json:"credential"`
	AuthScheme  AuthScheme `json:"auth_scheme,omitempty"`

	BatchSize     int           `json:"batch_size"`
	MaxBatchBytes int           `json:"max_batch_bytes"`
	FlushInterval time.Duration `json:"flush_interval"`
	QueueCapacity int           `json:"queue_capacity"`

	Retry          RetryPolicy   `json:"retry"`
	RequestTimeout time.Duration `json:"request_timeout"`
	TestTimeout    time.Duration `json:"test_timeout"`
	DrainTimeout   time.Duration `json:"drain_timeout"`
	Compress       bool          `json:"compress"`

	// Metadata is attached to every batch sent for the build
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DefaultConfiguration returns a disabled configuration with default tunables
func DefaultConfiguration() Configuration {
	return Configuration{
		Enabled:        false,
		BatchSize:      100,
		MaxBatchBytes:  512 * 1024,
		FlushInterval:  2 * time.Second,
		QueueCapacity:  1000,
		Retry:          DefaultRetryPolicy(),
		RequestTimeout: 30 * time.Second,
		TestTimeout:    5 * time.Second,
		DrainTimeout:   5 * time.Second,
		Compress:       false,
	}
}

// WithDefaults fills zero tunables from DefaultConfiguration
func (c Configuration) WithDefaults() Configuration {
	d := DefaultConfiguration()
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxBatchBytes == 0 {
		c.MaxBatchBytes = d.MaxBatchBytes
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = d.Retry.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = d.Retry.Multiplier
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.TestTimeout == 0 {
		c.TestTimeout = d.TestTimeout
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}

// Clone returns a deep copy so the metadata map is not shared between builds
func (c Configuration) Clone() Configuration {
	if c.Metadata != nil {
		metadata := make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			metadata[k] = v
		}
		c.Metadata = metadata
	}
	return c
}

// EffectiveAuthScheme resolves AuthSchemeAuto against the username
func (c Configuration) EffectiveAuthScheme() AuthScheme {
	if c.AuthScheme != AuthSchemeAuto {
		return c.AuthScheme
	}
	if c.Username != "" {
		return AuthSchemeBasic
	}
	return AuthSchemeBearer
}

// LogValue keeps the credential out of structured logs
func (c Configuration) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("enabled", c.Enabled),
		slog.String("endpoint_url", c.EndpointURL),
		slog.String("username", c.Username),
		slog.Bool("credential_set", !c.Credential.IsEmpty()),
		slog.Int("batch_size", c.BatchSize),
		slog.Duration("flush_interval", c.FlushInterval),
		slog.Int("retry_max_attempts", c.Retry.MaxAttempts),
		slog.Bool("compress", c.Compress),
	)
}
