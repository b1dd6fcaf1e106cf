package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jskelly/gomend/pkg/storage"
)

const maxCredentialSize = 1 << 20

// NewCredentialCommand creates the credential management command.
func NewCredentialCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage service credentials",
		Long: `Manage gomend credentials securely in the system keyring. Credentials are
stored in your system's native credential store (Keychain on macOS,
Credential Manager on Windows, Secret Service on Linux) and never in plain
text files.

Recognized keys:
  api-token         Bearer token the HTTP API requires
  semantic-api-key  Key for the semantic scoring service`,
	}

	cmd.AddCommand(newCredentialSetCommand())
	cmd.AddCommand(newCredentialListCommand())
	cmd.AddCommand(newCredentialDeleteCommand())

	return cmd
}

func newCredentialSetCommand() *cobra.Command {
	var useStdin bool

	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a credential",
		Long: `Store a credential in the system keyring.

Examples:
  # Interactive prompt (recommended for local use)
  gomend credential set api-token

  # From stdin (recommended for automation/CI)
  printf '%s' "$TOKEN" | gomend credential set api-token --stdin

Security:
  - Values are stored in the system keyring, never in plain text
  - --stdin reads until EOF, trims only trailing CR/LF, max 1MB
  - Credential values are never displayed by gomend commands`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			var value string
			if useStdin {
				limited := io.LimitReader(cmd.InOrStdin(), maxCredentialSize+1)
				input, err := io.ReadAll(limited)
				defer func() {
					for i := range input {
						input[i] = 0
					}
				}()
				if err != nil {
					return fmt.Errorf("failed to read from stdin: %w", err)
				}
				if len(input) > maxCredentialSize {
					return fmt.Errorf("credential value exceeds maximum size of %d bytes", maxCredentialSize)
				}
				trimmed := bytes.TrimRight(input, "\r\n")
				if len(trimmed) == 0 || strings.TrimSpace(string(trimmed)) == "" {
					return fmt.Errorf("credential value cannot be empty")
				}
				value = string(trimmed)
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Enter value for '%s': ", key)
				password, err := term.ReadPassword(int(os.Stdin.Fd()))
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
				defer func() {
					for i := range password {
						password[i] = 0
					}
				}()
				if err != nil {
					return fmt.Errorf("failed to read credential value: %w", err)
				}
				if len(password) > maxCredentialSize {
					return fmt.Errorf("credential value exceeds maximum size of %d bytes", maxCredentialSize)
				}
				value = string(password)
				if strings.TrimSpace(value) == "" {
					return fmt.Errorf("credential value cannot be empty")
				}
			}

			if err := storage.NewKeyringCredentialStore().Set(key, value); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Credential '%s' stored.\n", key)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useStdin, "stdin", false, "Read credential value from stdin (for automation/CI)")
	return cmd
}

func newCredentialListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credential keys",
		Long:  "List stored credential keys. Values are never shown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := storage.NewKeyringCredentialStore().List()
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No credentials stored.")
				return nil
			}
			sort.Strings(keys)
			for _, k := range keys {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  - %s (set)\n", k)
			}
			return nil
		},
	}
}

func newCredentialDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.NewKeyringCredentialStore().Delete(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Credential '%s' deleted.\n", args[0])
			return nil
		},
	}
}
