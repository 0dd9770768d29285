package config

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
	"github.com/google/renameio/v2"
)

// sealedPrefix marks an encrypted value in the config file. Values without
// it are treated as plaintext and sealed on the next save.
const sealedPrefix = "age:"

// Sealer encrypts credentials at rest with an age X25519 identity kept next
// to the config file. The identity is created on first use.
type Sealer struct {
	identityPath string

	mu       sync.Mutex
	identity *age.X25519Identity
}

// NewSealer creates a sealer using the identity file at identityPath
func NewSealer(identityPath string) *Sealer {
	return &Sealer{identityPath: identityPath}
}

// IdentityPath returns the identity file path
func (s *Sealer) IdentityPath() string {
	return s.identityPath
}

// Seal encrypts plaintext. Empty input seals to an empty string.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	identity, err := s.loadIdentity(true)
	if err != nil {
		return "", err
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(writer, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Open decrypts a value produced by Seal. Unsealed values are returned as is.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	identity, err := s.loadIdentity(false)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding sealed credential: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return "", fmt.Errorf("decrypting credential: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading decrypted credential: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether value is an encrypted credential
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

func (s *Sealer) loadIdentity(create bool) (*age.X25519Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity != nil {
		return s.identity, nil
	}

	data, err := os.ReadFile(s.identityPath)
	switch {
	case err == nil:
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("parsing identity %s: %w", s.identityPath, err)
		}
		s.identity = identity
		return identity, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading identity: %w", err)
	case !create:
		return nil, fmt.Errorf("credential is sealed but identity %s is missing", s.identityPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.identityPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating identity directory: %w", err)
	}
	if err := renameio.WriteFile(s.identityPath, []byte(identity.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("writing identity: %w", err)
	}
	s.identity = identity
	return identity, nil
}
