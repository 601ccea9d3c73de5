package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/acolita/replsh/internal/adapters/realclock"
	"github.com/acolita/replsh/internal/adapters/realfs"
	"github.com/acolita/replsh/internal/chat"
	"github.com/acolita/replsh/internal/config"
	"github.com/acolita/replsh/internal/recording"
	"github.com/acolita/replsh/internal/security"
	"github.com/acolita/replsh/internal/session"
	"github.com/spf13/cobra"
)

type chatFlags struct {
	local   bool
	program string
	host    string
	port    int
	user    string
	keyPath string
}

func newChatCmd(g *globalFlags) *cobra.Command {
	f := &chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat [server]",
		Short: "Chat with the program in the terminal",
		Long: `Connect to a server from the config (or the default server), start the
configured program and converse with it. Type 'exit' or 'quit' to leave.
Ctrl+C stops the answer being streamed; at the prompt it ends the chat.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, g, f, args)
		},
	}
	cmd.Flags().BoolVar(&f.local, "local", false, "Run the program in a local PTY instead of over SSH")
	cmd.Flags().StringVar(&f.program, "program", "", "Local program to run (default: local.program, then $SHELL)")
	cmd.Flags().StringVar(&f.host, "host", "", "SSH host (ad-hoc target)")
	cmd.Flags().IntVar(&f.port, "port", 0, "SSH port")
	cmd.Flags().StringVar(&f.user, "user", "", "SSH user")
	cmd.Flags().StringVar(&f.keyPath, "key", "", "SSH private key file")
	return cmd
}

func (f *chatFlags) createOptions(args []string) session.CreateOptions {
	opts := session.CreateOptions{
		Host:    f.host,
		Port:    f.port,
		User:    f.user,
		KeyPath: f.keyPath,
	}
	if len(args) > 0 {
		opts.Server = args[0]
	}
	if f.local {
		opts.Mode = config.ModeLocal
	}
	return opts
}

func runChat(cmd *cobra.Command, g *globalFlags, f *chatFlags, args []string) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if f.program != "" {
		cfg.Local.Program = f.program
	}
	// Logs share the terminal with the conversation.
	if !g.debug {
		cfg.Logging.Level = "warn"
	}
	setupLogging(cfg)

	fs := realfs.New()
	clock := realclock.New()

	factory := &session.Factory{FS: fs, Prompter: newPrompter(), Clock: clock}
	if cfg.Security.UseKeyring {
		factory.Secrets = newSecretStore()
	}

	filter, err := security.NewCommandFilter(cfg.Security.CommandBlocklist, cfg.Security.CommandAllowlist)
	if err != nil {
		return fmt.Errorf("command filter: %w", err)
	}
	recordings := recording.NewManager(recording.SettingsFromConfig(cfg), fs, clock)
	defer recordings.CloseAll()

	manager := session.NewManager(cfg,
		session.WithTransportFactory(factory),
		session.WithSessionFilter(filter),
		session.WithRecordings(recordings),
		session.WithManagerClock(clock),
	)
	defer manager.CloseAll()

	out := cmd.OutOrStdout()
	styles := chat.NewStyles(chat.DefaultTheme)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	connectCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	sess, err := manager.Create(connectCtx, f.createOptions(args))
	stop()
	if err != nil {
		return err
	}
	if !sess.Ready() {
		fmt.Fprintln(out, styles.Info.Render("The program did not show its ready prompt; continuing anyway."))
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	defer signal.Stop(signals)

	loop := chat.New(sess,
		chat.WithInput(cmd.InOrStdin()),
		chat.WithOutput(out),
		chat.WithSignals(signals),
		chat.WithStyles(styles),
	)
	return loop.Run(ctx)
}
