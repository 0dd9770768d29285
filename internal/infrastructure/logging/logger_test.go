package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type leakyStringer struct{ token string }

func (l leakyStringer) String() string { return "token=" + l.token }

func TestRedactingHandler_ScrubsEverySurface(t *testing.T) {
	secrets := NewSecretSet()
	var buf bytes.Buffer
	logger := New(Options{Format: FormatJSON, Writer: &buf, Debug: true}, secrets)

	secrets.Add("tok123")

	logger.
		With("auth", "Bearer tok123").
		WithGroup("request").
		Info("sending with tok123",
			"header", "Authorization: Bearer tok123",
			"error", errors.New("server echoed tok123"),
			"stringer", leakyStringer{token: "tok123"},
			"body", []byte("tok123"),
			slog.Group("nested", "value", "tok123"),
			"count", 3,
		)

	out := buf.String()
	assert.NotContains(t, out, "tok123")
	assert.Contains(t, out, Mask)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "sending with "+Mask, record["msg"])
	request, ok := record["request"].(map[string]any)
	require.True(t, ok, "group is preserved: %s", out)
	assert.Equal(t, float64(3), request["count"])
}

func TestRedactingHandler_LevelsAndFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: FormatText, Writer: &buf}, nil)
	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	buf.Reset()
	quiet := New(Options{Writer: &buf, Quiet: true}, nil)
	quiet.Info("hidden")
	quiet.Warn("warned")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "warned")
}

func TestSecretSet_RegistersEveryNonEmptyValue(t *testing.T) {
	secrets := NewSecretSet()
	secrets.Add("")
	secrets.Add("ab")
	secrets.Add("abcd")
	secrets.Add("ab")

	assert.Equal(t, 2, secrets.Len())
	assert.Equal(t, Mask+" "+Mask+" x", secrets.Redact("ab abcd x"))
}

func TestRedactingHandler_ScrubsShortCredential(t *testing.T) {
	var buf bytes.Buffer
	secrets := NewSecretSet()
	secrets.Add("k9")
	logger := New(Options{Writer: &buf, Format: FormatJSON}, secrets)

	logger.Info("sending with k9", "credential", "k9")
	assert.NotContains(t, buf.String(), "k9")
	assert.Contains(t, buf.String(), Mask)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "", want: FormatText},
		{input: "TEXT", want: FormatText},
		{input: "json", want: FormatJSON},
		{input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedactingHandler_NeverLeaksRegisteredSecret(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		secret := rapid.StringMatching(`sk_[A-Za-z0-9]{6,24}`).Draw(rt, "secret")
		prefix := rapid.StringMatching(`[ a-z:=]{0,10}`).Draw(rt, "prefix")
		format := rapid.SampledFrom([]Format{FormatText, FormatJSON}).Draw(rt, "format")

		secrets := NewSecretSet()
		secrets.Add(secret)
		var buf bytes.Buffer
		logger := New(Options{Format: format, Writer: &buf}, secrets)

		logger.Warn(prefix+secret,
			"detail", prefix+secret,
			"err", fmt.Errorf("wrapped: %s", secret),
		)

		if bytes.Contains(buf.Bytes(), []byte(secret)) {
			rt.Fatalf("secret leaked: %s", buf.String())
		}
	})
}
