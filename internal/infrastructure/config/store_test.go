package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consolerelay.dev/cli/internal/core/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "relay", "config.yaml"), nil)
	require.NoError(t, err)
	return store
}

func enabledConfig() domain.Configuration {
	cfg := domain.DefaultConfiguration()
	cfg.Enabled = true
	cfg.EndpointURL = "https://nexus.example.com/log"
	cfg.Credential = domain.NewSecret("tok123")
	return cfg
}

func TestFileStore_LoadMissingFileReturnsDefaults(t *testing.T) {
	store := newTestStore(t)

	cfg, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConfiguration(), cfg)
}

func TestFileStore_RoundTripSealsCredential(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := enabledConfig()
	cfg.Username = "deployer"
	cfg.AuthScheme = domain.AuthSchemeBasic
	cfg.FlushInterval = 750 * time.Millisecond
	cfg.Retry.MaxAttempts = 5
	cfg.Compress = true
	cfg.Metadata = map[string]string{"Branch": "main", "job": "nightly"}

	require.NoError(t, store.Save(ctx, cfg))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "tok123")
	assert.Contains(t, string(data), "credential: age:")
	assert.Contains(t, string(data), "flush-interval: 750ms")

	if runtime.GOOS != "windows" {
		info, err := os.Stat(store.Path())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		identity, err := os.Stat(store.Sealer().IdentityPath())
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), identity.Mode().Perm())
	}

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, "tok123", loaded.Credential.Reveal())
}

func TestFileStore_AcceptsPlaintextCredential(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o700))
	doc := "enabled: true\nendpoint-url: https://nexus.example.com/log\ncredential: tok123\nbatch-size: 10\n"
	require.NoError(t, os.WriteFile(store.Path(), []byte(doc), 0o600))

	cfg, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok123", cfg.Credential.Reveal())
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, domain.DefaultConfiguration().FlushInterval, cfg.FlushInterval)
}

func TestFileStore_RejectsMalformedDocument(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "bad duration", doc: "flush-interval: soon\n"},
		{name: "bad auth scheme", doc: "auth-scheme: kerberos\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o700))
			require.NoError(t, os.WriteFile(store.Path(), []byte(tt.doc), 0o600))

			_, err := store.Load(context.Background())
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)
		})
	}
}

func TestFileStore_SaveValidatesBeforeWriting(t *testing.T) {
	store := newTestStore(t)

	cfg := enabledConfig()
	cfg.EndpointURL = ""

	err := store.Save(context.Background(), cfg)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	_, statErr := os.Stat(store.Path())
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestFileStore_UpdateIsTransactional(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, enabledConfig()))

	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	t.Run("mutation error", func(t *testing.T) {
		_, err := store.Update(ctx, func(cfg *domain.Configuration) error {
			cfg.EndpointURL = "https://changed.example.com"
			return errors.New("abort")
		})
		assert.EqualError(t, err, "abort")
	})

	t.Run("invalid result", func(t *testing.T) {
		_, err := store.Update(ctx, func(cfg *domain.Configuration) error {
			cfg.EndpointURL = "ftp://nexus.example.com"
			return nil
		})
		assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	})

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	updated, err := store.Update(ctx, func(cfg *domain.Configuration) error {
		cfg.Username = "deployer"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "deployer", updated.Username)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, loaded)
}

func TestFileStore_BackupAndRestore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	original := enabledConfig()
	require.NoError(t, store.Save(ctx, original))

	backup, err := store.Backup()
	require.NoError(t, err)

	changed := enabledConfig()
	changed.EndpointURL = "https://other.example.com/log"
	require.NoError(t, store.Save(ctx, changed))

	require.NoError(t, store.Restore(ctx, backup))
	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/tmp/relay.yaml")
	path, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/relay.yaml", path)
}

func TestSealer(t *testing.T) {
	dir := t.TempDir()
	sealer := NewSealer(filepath.Join(dir, "identity.txt"))

	sealed, err := sealer.Seal("tok123")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "tok123")

	// A fresh sealer reads the identity written by the first one.
	opened, err := NewSealer(sealer.IdentityPath()).Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "tok123", opened)

	empty, err := sealer.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = NewSealer(filepath.Join(dir, "missing.txt")).Open(sealed)
	assert.Error(t, err)
}

func TestLoader_Precedence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stored := enabledConfig()
	stored.BatchSize = 20
	stored.Username = "from-file"
	stored.Metadata = map[string]string{"Branch": "main"}
	require.NoError(t, store.Save(ctx, stored))

	t.Run("file over defaults", func(t *testing.T) {
		cfg, err := NewLoader(store, nil).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, stored, cfg)
	})

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("CONSOLERELAY_BATCH_SIZE", "30")
		t.Setenv("CONSOLERELAY_FLUSH_INTERVAL", "250ms")
		t.Setenv("CONSOLERELAY_CREDENTIAL", "env-token")
		t.Setenv("CONSOLERELAY_METADATA", `{"Build":"42"}`)

		cfg, err := NewLoader(store, nil).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 30, cfg.BatchSize)
		assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
		assert.Equal(t, "env-token", cfg.Credential.Reveal())
		assert.Equal(t, map[string]string{"Build": "42"}, cfg.Metadata)
		assert.Equal(t, "from-file", cfg.Username)
	})

	t.Run("flags over env", func(t *testing.T) {
		t.Setenv("CONSOLERELAY_BATCH_SIZE", "30")
		t.Setenv("CONSOLERELAY_USERNAME", "from-env")

		fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
		RegisterFlags(fs)
		require.NoError(t, fs.Parse([]string{"--batch-size=40", "--compress"}))

		cfg, err := NewLoader(store, fs).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 40, cfg.BatchSize)
		assert.True(t, cfg.Compress)
		assert.Equal(t, "from-env", cfg.Username)
		assert.Equal(t, domain.DefaultConfiguration().Retry.MaxAttempts, cfg.Retry.MaxAttempts)
	})

	t.Run("bad metadata env", func(t *testing.T) {
		t.Setenv("CONSOLERELAY_METADATA", "branch=main")
		_, err := NewLoader(store, nil).Load(ctx)
		assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	})
}

func TestProvider_WatchInvalidatesOnSave(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := NewProvider(NewLoader(store, nil))
	first, err := provider.Current(ctx)
	require.NoError(t, err)
	assert.False(t, first.Enabled)

	watcher, err := provider.Watch(ctx, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, store.Save(ctx, enabledConfig()))

	assert.Eventually(t, func() bool {
		cfg, err := provider.Current(ctx)
		return err == nil && cfg.Enabled
	}, 5*time.Second, 20*time.Millisecond)
}

func TestProvider_ReturnsCopies(t *testing.T) {
	store := newTestStore(t)
	cfg := enabledConfig()
	cfg.Metadata = map[string]string{"branch": "main"}
	require.NoError(t, store.Save(context.Background(), cfg))

	provider := NewProvider(NewLoader(store, nil))
	first, err := provider.Current(context.Background())
	require.NoError(t, err)
	first.Metadata["branch"] = "mutated"

	second, err := provider.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", second.Metadata["branch"])
}
