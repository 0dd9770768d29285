package cli

import (
	"errors"

	"github.com/manifoldco/promptui"
	"github.com/spf13/pflag"

	"consolerelay.dev/cli/internal/core/domain"
)

// formFlags are the settings configure and test-connection accept
type formFlags struct {
	enabled    bool
	endpoint   string
	username   string
	credential string
	authScheme string
	metadata   map[string]string
}

func (f *formFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&f.enabled, "enabled", false, "relay console output of builds")
	fs.StringVar(&f.endpoint, "endpoint-url", "", "repository endpoint receiving console batches")
	fs.StringVar(&f.username, "username", "", "username for basic authentication")
	fs.StringVar(&f.credential, "credential", "", "password or token for the endpoint")
	fs.StringVar(&f.authScheme, "auth-scheme", "", "authorization scheme: auto, basic or bearer")
	fs.StringToStringVar(&f.metadata, "metadata", nil, "key=value pairs attached to every batch")
}

// form turns the flags the user set into a form. Flags left alone stay nil
// so the stored values are kept.
func (f *formFlags) form(fs *pflag.FlagSet) domain.ConfigForm {
	var form domain.ConfigForm
	if fs.Changed("enabled") {
		form.Enabled = &f.enabled
	}
	if fs.Changed("endpoint-url") {
		form.EndpointURL = &f.endpoint
	}
	if fs.Changed("username") {
		form.Username = &f.username
	}
	if fs.Changed("credential") {
		form.Credential = &f.credential
	}
	if fs.Changed("auth-scheme") {
		form.AuthScheme = &f.authScheme
	}
	if fs.Changed("metadata") {
		form.Metadata = f.metadata
	}
	return form
}

// prompter fills in form fields interactively
type prompter struct {
	validate func(field, value string) domain.ValidationResult
}

// fill prompts for every field the form leaves unset, starting from current
func (p prompter) fill(form *domain.ConfigForm, current domain.Configuration) error {
	if form.EndpointURL == nil {
		v, err := p.text("Endpoint URL", domain.FieldEndpointURL, current.EndpointURL, false)
		if err != nil {
			return err
		}
		form.EndpointURL = &v
	}
	if form.Username == nil {
		v, err := p.text("Username (blank for bearer token)", domain.FieldUsername, current.Username, false)
		if err != nil {
			return err
		}
		form.Username = &v
	}
	if form.Credential == nil {
		label := "Password or token"
		if !current.Credential.IsEmpty() {
			label += " (blank keeps the current one)"
		}
		v, err := p.text(label, domain.FieldCredential, "", true)
		if err != nil {
			return err
		}
		if v != "" || current.Credential.IsEmpty() {
			form.Credential = &v
		}
	}
	if form.Enabled == nil {
		enabled, err := p.confirm("Send console over REST for builds")
		if err != nil {
			return err
		}
		form.Enabled = &enabled
	}
	return nil
}

func (p prompter) text(label, field, def string, secret bool) (string, error) {
	prompt := promptui.Prompt{
		Label:   label,
		Default: def,
		Validate: func(input string) error {
			if secret && input == "" {
				return nil
			}
			if r := p.validate(field, input); r.IsError() {
				return errors.New(r.Message)
			}
			return nil
		},
	}
	if secret {
		prompt.Mask = '*'
	}
	return prompt.Run()
}

func (p prompter) confirm(label string) (bool, error) {
	sel := promptui.Select{Label: label, Items: []string{"yes", "no"}}
	idx, _, err := sel.Run()
	if err != nil {
		return false, err
	}
	return idx == 0, nil
}
