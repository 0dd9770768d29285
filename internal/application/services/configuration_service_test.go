package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consolerelay.dev/cli/internal/core/domain"
	"consolerelay.dev/cli/internal/infrastructure/config"
	"consolerelay.dev/cli/internal/infrastructure/logging"
)

type recordingTester struct {
	mu      sync.Mutex
	configs []domain.Configuration
	err     error
}

func (r *recordingTester) Test(ctx context.Context, cfg domain.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
	return r.err
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func newConfigService(t *testing.T) (*ConfigurationService, *config.FileStore, *recordingTester, *logging.SecretSet) {
	t.Helper()
	store, err := config.NewFileStore(filepath.Join(t.TempDir(), "config.yaml"), nil)
	require.NoError(t, err)
	tester := &recordingTester{}
	secrets := logging.NewSecretSet()
	return NewConfigurationService(store, tester, secrets, logging.Discard()), store, tester, secrets
}

func TestConfigurationService_Configure(t *testing.T) {
	svc, store, _, secrets := newConfigService(t)
	ctx := context.Background()

	result, err := svc.Configure(ctx, domain.ConfigForm{
		Enabled:     boolPtr(true),
		EndpointURL: strPtr(" https://nexus.example.com/log "),
		Credential:  strPtr("tok123"),
		Metadata:    map[string]string{"env": "production"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://nexus.example.com/log", result.Config.EndpointURL)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "too short")
	assert.Equal(t, 1, secrets.Len())

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.Config, stored)
}

func TestConfigurationService_ConfigureRejectsInvalidForm(t *testing.T) {
	svc, store, _, _ := newConfigService(t)
	ctx := context.Background()

	_, err := svc.Configure(ctx, domain.ConfigForm{
		Enabled:     boolPtr(true),
		EndpointURL: strPtr("https://nexus.example.com/log"),
		Credential:  strPtr("tok123"),
	})
	require.NoError(t, err)
	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	tests := []struct {
		name string
		form domain.ConfigForm
	}{
		{name: "bad url", form: domain.ConfigForm{EndpointURL: strPtr("nexus")}},
		{name: "empty credential", form: domain.ConfigForm{Credential: strPtr("")}},
		{name: "empty metadata key", form: domain.ConfigForm{Metadata: map[string]string{"": "value"}}},
		{name: "enabled without endpoint", form: domain.ConfigForm{EndpointURL: strPtr("")}},
		{name: "unknown auth scheme", form: domain.ConfigForm{AuthScheme: strPtr("kerberos")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Configure(ctx, tt.form)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)

			after, err := os.ReadFile(store.Path())
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestConfigurationService_TestAppliesFormWithoutSaving(t *testing.T) {
	svc, store, tester, secrets := newConfigService(t)
	ctx := context.Background()

	err := svc.Test(ctx, domain.ConfigForm{
		EndpointURL: strPtr("https://nexus.example.com/log"),
		Credential:  strPtr("tok123"),
	})
	require.NoError(t, err)

	require.Len(t, tester.configs, 1)
	assert.Equal(t, "https://nexus.example.com/log", tester.configs[0].EndpointURL)
	assert.Equal(t, 1, secrets.Len())

	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestConfigurationService_EmptyEndpointFailsBeforeNetwork(t *testing.T) {
	svc, _, tester, _ := newConfigService(t)

	err := svc.Test(context.Background(), domain.ConfigForm{
		Enabled:     boolPtr(true),
		EndpointURL: strPtr(""),
		Credential:  strPtr("tok123"),
	})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
	assert.Empty(t, tester.configs)
}

func TestConfigurationService_ValidateField(t *testing.T) {
	svc, _, _, _ := newConfigService(t)

	assert.True(t, svc.ValidateField(domain.FieldEndpointURL, "").IsError())
	assert.Equal(t, domain.ValidationOK, svc.ValidateField(domain.FieldUsername, "").Kind)
	assert.Equal(t, domain.ValidationWarning, svc.ValidateField(domain.FieldMetadataKey, "env").Kind)
}
