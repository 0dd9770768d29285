package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestConfigForm_ApplyOnlySetFields(t *testing.T) {
	cfg := validConfig()
	cfg.Username = "deployer"

	form := ConfigForm{
		EndpointURL: strPtr("  https://other.example.com/log  "),
		Credential:  strPtr("tok456"),
	}
	require.NoError(t, form.Apply(&cfg))

	assert.Equal(t, "https://other.example.com/log", cfg.EndpointURL)
	assert.Equal(t, "tok456", cfg.Credential.Reveal())
	assert.Equal(t, "deployer", cfg.Username, "unset fields are kept")
	assert.True(t, cfg.Enabled)
}

func TestConfigForm_ApplyRejectsUnknownScheme(t *testing.T) {
	cfg := validConfig()
	err := ConfigForm{AuthScheme: strPtr("digest")}.Apply(&cfg)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestConfigForm_MetadataIsCopied(t *testing.T) {
	cfg := validConfig()
	metadata := map[string]string{"branch": "main"}

	require.NoError(t, ConfigForm{Metadata: metadata}.Apply(&cfg))
	metadata["branch"] = "changed"

	assert.Equal(t, "main", cfg.Metadata["branch"])
}

func TestConfigForm_Check(t *testing.T) {
	form := ConfigForm{
		Enabled:     boolPtr(true),
		EndpointURL: strPtr(""),
		Credential:  strPtr("tok123"),
		Metadata:    map[string]string{"env": "production"},
	}

	results := form.Check()
	require.Len(t, results, 2)
	assert.Equal(t, ValidationError, results[0].Kind)
	assert.Equal(t, "endpointUrl: Please set an endpoint URL", results[0].Message)
	assert.Equal(t, ValidationWarning, results[1].Kind)
	assert.Equal(t, "key: Isn't the key too short?", results[1].Message)

	assert.False(t, form.IsEmpty())
	assert.True(t, ConfigForm{}.IsEmpty())
}
