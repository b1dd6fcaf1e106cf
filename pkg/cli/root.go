// Package cli implements the gomend command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

const (
	// Version is the current version of gomend.
	Version = "1.0.0"
)

// GlobalOptions holds flags shared by every subcommand.
type GlobalOptions struct {
	// ConfigPath is the YAML config file for serve.
	ConfigPath string
	// ServerURL is the API base URL client subcommands talk to.
	ServerURL string
	// Token overrides the keyring-stored API token.
	Token string
	// Debug enables debug logging.
	Debug bool
}

// GlobalConfig is the shared options instance.
var GlobalConfig = &GlobalOptions{}

// NewRootCommand creates the root cobra command for gomend.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gomend",
		Short: "gomend - self-healing test repair engine",
		Long: `gomend repairs broken UI test locators automatically. When a test step
fails because its locator no longer resolves, gomend diffs the last-good and
failure-time UI snapshots, generates replacement locator candidates, scores
them, and either auto-applies the repair or queues it for human approval.
Every state transition is recorded in an append-only audit ledger and
committed repairs stay revertible inside a rollback window.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&GlobalConfig.ConfigPath, "config", "", "Path to YAML config file")
	cmd.PersistentFlags().StringVar(&GlobalConfig.ServerURL, "server", "http://localhost:8440", "Base URL of the gomend API")
	cmd.PersistentFlags().StringVar(&GlobalConfig.Token, "token", "", "API bearer token (default: system keyring)")
	cmd.PersistentFlags().BoolVar(&GlobalConfig.Debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewSubmitCommand())
	cmd.AddCommand(NewPendingCommand())
	cmd.AddCommand(NewDecideCommand())
	cmd.AddCommand(NewRollbackCommand())
	cmd.AddCommand(NewAuditCommand())
	cmd.AddCommand(NewRecordCommand())
	cmd.AddCommand(NewCredentialCommand())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}
