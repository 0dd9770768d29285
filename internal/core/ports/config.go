package ports

import (
	"context"

	"consolerelay.dev/cli/internal/core/domain"
)

// ConfigStore handles configuration persistence
type ConfigStore interface {
	// Load returns the stored configuration, or defaults when none exists
	Load(ctx context.Context) (domain.Configuration, error)

	// Save validates and persists the configuration
	Save(ctx context.Context, cfg domain.Configuration) error

	// Update loads, mutates, validates and persists in one step. If fn or
	// validation fails nothing is written.
	Update(ctx context.Context, fn func(*domain.Configuration) error) (domain.Configuration, error)

	// Path returns the configuration file path
	Path() string
}

// ConfigProvider hands out the effective configuration (store merged with
// environment and flags) as a value snapshot.
type ConfigProvider interface {
	Current(ctx context.Context) (domain.Configuration, error)
}
