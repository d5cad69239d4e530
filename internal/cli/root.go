package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telegent/telegent/internal/config"
)

var (
	cfgFile string

	// Build information - set via ldflags
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "telegent",
	Short: "Telegram remote control for a persistent terminal and Claude Code",
	Long: `Telegent bridges a Telegram chat to a persistent tmux terminal with an
embedded Claude Code session.

Send any text to execute it in the terminal. Type "claude <prompt>" to hand
the terminal to Claude; permission requests surface as chat messages with
Allow/Deny buttons.

Quick Start:
  telegent doctor            # check tmux, claude, and config
  telegent hook --install    # wire the Claude Code permission hook
  telegent                   # start the relay`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRelay,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default ~/.config/telegent/config.toml)")
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.AddCommand(newHookCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig loads and validates the relay configuration, honoring the
// --config flag.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
