// Package fakedialog provides a test fake for ports.PasswordPrompter.
package fakedialog

import "github.com/acolita/replsh/internal/ports"

// Provider is a controllable fake PasswordPrompter.
type Provider struct {
	// Password is returned by PromptPassword.
	Password string
	// Err is the error returned by PromptPassword.
	Err error
	// Titles records every prompt shown.
	Titles []string
}

// New returns a fake prompter that answers password.
func New(password string) *Provider {
	return &Provider{Password: password}
}

// PromptPassword records the title and returns the configured answer.
func (p *Provider) PromptPassword(title string) (string, error) {
	p.Titles = append(p.Titles, title)
	if p.Err != nil {
		return "", p.Err
	}
	return p.Password, nil
}

var _ ports.PasswordPrompter = (*Provider)(nil)
