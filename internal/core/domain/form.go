package domain

import (
	"fmt"
	"strings"
)

// ConfigForm carries the user-editable relay settings. Nil fields are left
// unchanged when the form is applied.
type ConfigForm struct {
	Enabled     *bool
	EndpointURL *string
	Username    *string
	Credential  *string
	AuthScheme  *string

	// Metadata replaces the configured metadata when non-nil
	Metadata map[string]string
}

// IsEmpty reports whether the form would change nothing
func (f ConfigForm) IsEmpty() bool {
	return f.Enabled == nil && f.EndpointURL == nil && f.Username == nil &&
		f.Credential == nil && f.AuthScheme == nil && f.Metadata == nil
}

// Check validates each field that is set, in form order
func (f ConfigForm) Check() []ValidationResult {
	var results []ValidationResult
	add := func(field string, value *string) {
		if value == nil {
			return
		}
		if r := ValidateField(field, *value); r.Kind != ValidationOK {
			r.Message = fmt.Sprintf("%s: %s", field, r.Message)
			results = append(results, r)
		}
	}
	add(FieldEndpointURL, f.EndpointURL)
	add(FieldUsername, f.Username)
	add(FieldCredential, f.Credential)
	for _, key := range sortedKeys(f.Metadata) {
		value := f.Metadata[key]
		add(FieldMetadataKey, &key)
		add(FieldMetadataValue, &value)
	}
	return results
}

// Apply copies the set fields onto cfg
func (f ConfigForm) Apply(cfg *Configuration) error {
	if f.AuthScheme != nil {
		scheme, err := ParseAuthScheme(*f.AuthScheme)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
		cfg.AuthScheme = scheme
	}
	if f.Enabled != nil {
		cfg.Enabled = *f.Enabled
	}
	if f.EndpointURL != nil {
		cfg.EndpointURL = strings.TrimSpace(*f.EndpointURL)
	}
	if f.Username != nil {
		cfg.Username = *f.Username
	}
	if f.Credential != nil {
		cfg.Credential = NewSecret(*f.Credential)
	}
	if f.Metadata != nil {
		metadata := make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			metadata[k] = v
		}
		cfg.Metadata = metadata
	}
	return nil
}
