// Package realdialog provides a terminal PasswordPrompter using charmbracelet/huh.
//
// The prompt takes over the controlling terminal, so it is only used by the
// interactive chat command, never by the MCP server (whose stdio is the
// protocol stream).
package realdialog

import (
	"errors"
	"fmt"

	"github.com/acolita/replsh/internal/ports"
	"github.com/charmbracelet/huh"
)

// Provider implements ports.PasswordPrompter with a masked huh input.
type Provider struct{}

// New returns a new TUI dialog provider.
func New() *Provider {
	return &Provider{}
}

// PromptPassword shows a single masked input field titled title.
func (p *Provider) PromptPassword(title string) (string, error) {
	var value string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("password cannot be empty")
					}
					return nil
				}).
				Value(&value),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", fmt.Errorf("password prompt cancelled")
		}
		return "", fmt.Errorf("password prompt: %w", err)
	}
	return value, nil
}

var _ ports.PasswordPrompter = (*Provider)(nil)
