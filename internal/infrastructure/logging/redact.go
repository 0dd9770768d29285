package logging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Mask replaces secret values in log output
const Mask = "********"

// SecretSet holds the literal values that must never reach a log sink.
// Handlers derived from one RedactingHandler share the same set, so secrets
// registered after the logger is built are still scrubbed.
type SecretSet struct {
	mu      sync.RWMutex
	secrets []string // longest first
}

// NewSecretSet creates an empty secret set
func NewSecretSet() *SecretSet {
	return &SecretSet{}
}

// Add registers a secret value. Empty values are ignored.
func (s *SecretSet) Add(value string) {
	if value == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.secrets {
		if existing == value {
			return
		}
	}
	s.secrets = append(s.secrets, value)
	sort.SliceStable(s.secrets, func(i, j int) bool {
		return len(s.secrets[i]) > len(s.secrets[j])
	})
}

// Redact masks every registered secret in text. Longer secrets are masked
// before any shorter secret they contain.
func (s *SecretSet) Redact(text string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, secret := range s.secrets {
		if strings.Contains(text, secret) {
			text = strings.ReplaceAll(text, secret, Mask)
		}
	}
	return text
}

// Len returns the number of registered secrets
func (s *SecretSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.secrets)
}

// RedactingHandler wraps another handler and scrubs registered secrets from
// the message and from string, error and Stringer attribute values.
type RedactingHandler struct {
	next    slog.Handler
	secrets *SecretSet
}

// NewRedactingHandler wraps next
func NewRedactingHandler(next slog.Handler, secrets *SecretSet) *RedactingHandler {
	if secrets == nil {
		secrets = NewSecretSet()
	}
	return &RedactingHandler{next: next, secrets: secrets}
}

// Enabled reports whether the wrapped handler handles the level
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle redacts the record and passes it on
func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.secrets.Redact(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs redacts the attributes before the wrapped handler stores them
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redactAttr(attr)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted), secrets: h.secrets}
}

// WithGroup returns a handler that nests attributes under name
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), secrets: h.secrets}
}

func (h *RedactingHandler) redactAttr(attr slog.Attr) slog.Attr {
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.secrets.Redact(value.String()))
	case slog.KindGroup:
		group := value.Group()
		redacted := make([]slog.Attr, len(group))
		for i, a := range group {
			redacted[i] = h.redactAttr(a)
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(redacted...)}
	case slog.KindAny:
		switch v := value.Any().(type) {
		case error:
			return slog.String(attr.Key, h.secrets.Redact(v.Error()))
		case fmt.Stringer:
			return slog.String(attr.Key, h.secrets.Redact(v.String()))
		case []byte:
			return slog.String(attr.Key, h.secrets.Redact(string(v)))
		default:
			return slog.String(attr.Key, h.secrets.Redact(fmt.Sprintf("%+v", v)))
		}
	default:
		return slog.Attr{Key: attr.Key, Value: value}
	}
}
