package main

import (
	"fmt"

	"github.com/acolita/replsh/internal/adapters/realdialog"
	"github.com/acolita/replsh/internal/config"
	"github.com/acolita/replsh/internal/logging"
	"github.com/acolita/replsh/internal/ports"
	"github.com/acolita/replsh/internal/security"
	"github.com/spf13/cobra"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
}

// Injectable for testing.
var (
	newSecretStore = func() ports.SecretStore { return security.NewKeyringStore() }
	newPrompter    = func() ports.PasswordPrompter { return realdialog.New() }
)

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "replsh",
		Short: "Converse with an interactive program over SSH or a local PTY",
		Long: `replsh starts a line-oriented interactive program (an LLM runner, a
language REPL) in a terminal, sends it one line at a time and streams back
each answer up to the program's next prompt.

Run it as a terminal chat, or as an MCP server that exposes the same sessions
as tools.`,
		Example: `  replsh chat                     # chat with the default server
  replsh chat gpu                 # chat with a named server
  replsh chat --local --program python3
  replsh mcp --config ~/.config/replsh/config.yaml
  replsh password set gpu         # store the SSH password in the keyring`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.HiddenDefaultCmd = true
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to configuration file (default: "+config.DefaultConfigPath()+")")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newChatCmd(g),
		newMCPCmd(g),
		newPasswordCmd(g),
		newVersionCmd(),
	)
	return root
}

// path returns the config file to read.
func (g *globalFlags) path() string {
	if g.configPath != "" {
		return g.configPath
	}
	return config.DefaultConfigPath()
}

// load reads and validates the config and applies the flag overrides.
func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.path())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	g.override(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (g *globalFlags) override(cfg *config.Config) {
	if g.debug {
		cfg.Logging.Level = "debug"
	}
}

func setupLogging(cfg *config.Config) {
	logging.Setup(logging.Options{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Sanitize:     cfg.Logging.Sanitize,
		RedactOutput: cfg.Logging.RedactOutput,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "replsh version %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}
