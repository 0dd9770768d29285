package domain

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// Form field names accepted by ValidateField
const (
	FieldEndpointURL   = "endpointUrl"
	FieldUsername      = "username"
	FieldCredential    = "credential"
	FieldMetadataKey   = "key"
	FieldMetadataValue = "value"
)

// minMetadataLength is the length below which metadata keys and values draw a warning
const minMetadataLength = 4

// ValidationKind is the outcome class of a field validation
type ValidationKind int

const (
	ValidationOK ValidationKind = iota
	ValidationWarning
	ValidationError
)

// String returns the kind name
func (k ValidationKind) String() string {
	switch k {
	case ValidationOK:
		return "ok"
	case ValidationWarning:
		return "warning"
	case ValidationError:
		return "error"
	default:
		return "unknown"
	}
}

// ValidationResult is the outcome of validating a single field
type ValidationResult struct {
	Kind    ValidationKind
	Message string
}

// OK returns a passing result
func OK() ValidationResult { return ValidationResult{Kind: ValidationOK} }

// Warning returns a non-blocking result
func Warning(msg string) ValidationResult { return ValidationResult{Kind: ValidationWarning, Message: msg} }

// Error returns a blocking result
func Error(msg string) ValidationResult { return ValidationResult{Kind: ValidationError, Message: msg} }

// IsError reports whether the result blocks saving
func (r ValidationResult) IsError() bool { return r.Kind == ValidationError }

// ValidateField validates a single configuration form field
func ValidateField(field, value string) ValidationResult {
	switch field {
	case FieldEndpointURL:
		return validateEndpointURL(value)
	case FieldUsername:
		if strings.ContainsAny(value, ":\r\n") {
			return Error("Username cannot contain ':' or line breaks")
		}
		return OK()
	case FieldCredential:
		if value == "" {
			return Error("Please set a credential")
		}
		if strings.ContainsAny(value, "\r\n") {
			return Error("Credential cannot contain line breaks")
		}
		return OK()
	case FieldMetadataKey:
		if value == "" {
			return Error("Please set a key")
		}
		if len(value) < minMetadataLength {
			return Warning("Isn't the key too short?")
		}
		return OK()
	case FieldMetadataValue:
		if value == "" {
			return Error("Please set a value")
		}
		if len(value) < minMetadataLength {
			return Warning("Isn't the value too short?")
		}
		return OK()
	default:
		return Error(fmt.Sprintf("unknown field: %s", field))
	}
}

func validateEndpointURL(endpoint string) ValidationResult {
	if endpoint == "" {
		return Error("Please set an endpoint URL")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return Error(fmt.Sprintf("invalid URL format: %v", err))
	}
	if !u.IsAbs() {
		return Error("endpoint URL must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Error(fmt.Sprintf("unsupported URL scheme: %s (must be http or https)", u.Scheme))
	}
	if u.Host == "" {
		return Error("URL must include host")
	}
	if u.User != nil {
		return Error("URL must not embed credentials")
	}

	if u.Scheme == "http" && !isLoopback(u.Hostname()) {
		return Warning("credentials will be sent over plain HTTP")
	}
	return OK()
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Validate checks the configuration invariants. Endpoint and credential are
// only required when the relay is enabled.
func (c Configuration) Validate() error {
	var problems []string

	if c.Enabled {
		if r := ValidateField(FieldEndpointURL, c.EndpointURL); r.IsError() {
			problems = append(problems, "endpoint_url: "+r.Message)
		}
		if r := ValidateField(FieldCredential, c.Credential.Reveal()); r.IsError() {
			problems = append(problems, "credential: "+r.Message)
		}
	}
	if r := ValidateField(FieldUsername, c.Username); r.IsError() {
		problems = append(problems, "username: "+r.Message)
	}
	if _, err := ParseAuthScheme(string(c.AuthScheme)); err != nil {
		problems = append(problems, "auth_scheme: "+err.Error())
	}
	if c.BatchSize <= 0 {
		problems = append(problems, "batch_size: must be greater than 0")
	}
	if c.MaxBatchBytes < 0 {
		problems = append(problems, "max_batch_bytes: cannot be negative")
	}
	if c.FlushInterval <= 0 {
		problems = append(problems, "flush_interval: must be greater than 0")
	}
	if c.QueueCapacity <= 0 {
		problems = append(problems, "queue_capacity: must be greater than 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		problems = append(problems, "retry.max_attempts: must be greater than 0")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		problems = append(problems, "retry: delays cannot be negative")
	}

	for _, key := range sortedKeys(c.Metadata) {
		if r := ValidateField(FieldMetadataKey, key); r.IsError() {
			problems = append(problems, "metadata: "+r.Message)
		}
		if r := ValidateField(FieldMetadataValue, c.Metadata[key]); r.IsError() {
			problems = append(problems, fmt.Sprintf("metadata[%s]: %s", key, r.Message))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Warnings returns the non-blocking validation messages for the configuration
func (c Configuration) Warnings() []string {
	var warnings []string
	if c.EndpointURL != "" {
		if r := ValidateField(FieldEndpointURL, c.EndpointURL); r.Kind == ValidationWarning {
			warnings = append(warnings, "endpoint_url: "+r.Message)
		}
	}
	for _, key := range sortedKeys(c.Metadata) {
		if r := ValidateField(FieldMetadataKey, key); r.Kind == ValidationWarning {
			warnings = append(warnings, fmt.Sprintf("metadata key %q: %s", key, r.Message))
		}
		if r := ValidateField(FieldMetadataValue, c.Metadata[key]); r.Kind == ValidationWarning {
			warnings = append(warnings, fmt.Sprintf("metadata[%s]: %s", key, r.Message))
		}
	}
	return warnings
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
