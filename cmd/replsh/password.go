package main

import (
	"fmt"

	"github.com/acolita/replsh/internal/security"
	"github.com/spf13/cobra"
)

func newPasswordCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage SSH passwords in the OS keyring",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <server>",
			Short: "Prompt for a server's SSH password and store it in the keyring",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPasswordSet(cmd, g, args[0])
			},
		},
		&cobra.Command{
			Use:   "delete <server>",
			Short: "Remove a server's SSH password from the keyring",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPasswordDelete(cmd, g, args[0])
			},
		},
	)
	return cmd
}

// passwordKey returns the keyring entry and the display target of a
// configured server.
func passwordKey(g *globalFlags, name string) (string, string, error) {
	cfg, err := g.load()
	if err != nil {
		return "", "", err
	}
	srv, err := cfg.ServerByName(name)
	if err != nil {
		return "", "", err
	}
	if srv.User == "" {
		return "", "", fmt.Errorf("server %q has no user", name)
	}
	target := fmt.Sprintf("%s@%s:%d", srv.User, srv.Host, srv.Port)
	return security.ServerPasswordKey(srv.User, srv.Host, srv.Port), target, nil
}

func runPasswordSet(cmd *cobra.Command, g *globalFlags, name string) error {
	key, target, err := passwordKey(g, name)
	if err != nil {
		return err
	}

	password, err := newPrompter().PromptPassword("Password for " + target)
	if err != nil {
		return fmt.Errorf("prompt password: %w", err)
	}
	secret := []byte(password)
	defer security.WipeBytes(secret)

	if err := newSecretStore().Set(key, secret); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Password for %s stored in the keyring.\n", target)
	return nil
}

func runPasswordDelete(cmd *cobra.Command, g *globalFlags, name string) error {
	key, target, err := passwordKey(g, name)
	if err != nil {
		return err
	}
	if err := newSecretStore().Delete(key); err != nil {
		return fmt.Errorf("delete password: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Password for %s removed from the keyring.\n", target)
	return nil
}
