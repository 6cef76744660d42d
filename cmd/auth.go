package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/teemow/mcpmerge/internal/authstatus"
	"github.com/teemow/mcpmerge/internal/google"
	"github.com/teemow/mcpmerge/internal/server"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect and manage Google credentials for MCP servers",
	}
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthRevokeCmd())
	cmd.AddCommand(newAuthSetSecretCmd())
	cmd.AddCommand(newAuthAccountsCmd())
	cmd.AddCommand(newAuthTokenCmd())
	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status <config>",
		Short: "Show the Google authentication status of the servers in a config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format, formatTable, formatJSON, formatYAML); err != nil {
				return err
			}
			set, err := readServerSet(cmd.InOrStdin(), args[0], false)
			if err != nil {
				return err
			}
			return withServerContext(cmd.Context(), func(sc *server.ServerContext) error {
				result, err := sc.AuthStatus(cmd.Context(), set)
				if err != nil {
					return err
				}
				if format != formatTable {
					return writeStructured(cmd.OutOrStdout(), format, map[string]any{
						"servers": result,
						"summary": authstatus.Summarize(result),
					})
				}
				renderAuthStatus(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		email      string
		serverName string
		code       string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize a Google account",
		Long: `Print the Google consent URL for --email, then read the authorization
code and store the resulting token.

Pass --code to skip the prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServerContext(cmd.Context(), func(sc *server.ServerContext) error {
				flow := sc.Flow()
				authURL, err := flow.StartAuthorization(cmd.Context(), email, serverName)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Open this URL in your browser and sign in as %s:\n\n  %s\n\n", email, authURL)

				if code == "" {
					code, err = promptCode()
					if err != nil {
						return err
					}
				}

				s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Exchanging authorization code..."
				s.Start()
				path, err := flow.ExchangeCode(cmd.Context(), code, email, "")
				s.Stop()
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), text.FgRed.Sprint("Authorization failed"))
					return err
				}

				fmt.Fprintf(out, "%s Token for %s stored at %s\n", text.FgGreen.Sprint("✓"), email, path)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Google account email")
	cmd.Flags().StringVar(&serverName, "server", "", "Server name recorded in the authorization state")
	cmd.Flags().StringVar(&code, "code", "", "Authorization code (skips the prompt)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// promptCode reads the authorization code interactively.
func promptCode() (string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "Authorization code: ",
		InterruptPrompt: "^C",
	})
	if err != nil {
		return "", fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()

	line, err := rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return "", errors.New("authorization cancelled")
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newAuthRevokeCmd() *cobra.Command {
	var emails []string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Delete the stored token for one or more accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServerContext(cmd.Context(), func(sc *server.ServerContext) error {
				var errs []error
				for _, email := range emails {
					removed, err := sc.Flow().Revoke(cmd.Context(), email)
					switch {
					case err != nil:
						errs = append(errs, fmt.Errorf("%s: %w", email, err))
					case removed:
						fmt.Fprintf(cmd.OutOrStdout(), "%s revoked\n", email)
					default:
						fmt.Fprintf(cmd.OutOrStdout(), "%s had no stored token\n", email)
					}
				}
				return errors.Join(errs...)
			})
		},
	}

	cmd.Flags().StringSliceVar(&emails, "email", nil, "Google account email (repeatable or comma-separated)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAuthSetSecretCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "set-secret <file>",
		Short: "Install a Google OAuth client secret for an account",
		Long: `Install a client secret JSON file downloaded from the Google Cloud
console. Use "-" to read it from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				payload []byte
				err     error
			)
			if args[0] == stdinPath {
				payload, err = io.ReadAll(cmd.InOrStdin())
			} else {
				payload, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read client secret: %w", err)
			}

			return withServerContext(cmd.Context(), func(sc *server.ServerContext) error {
				path, err := sc.Flow().SaveClientSecret(cmd.Context(), accountID, payload)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Client secret saved to %s\n", path)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account id the secret belongs to")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newAuthAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List accounts with a stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServerContext(cmd.Context(), func(sc *server.ServerContext) error {
				emails, err := sc.Store().ListAccounts()
				if err != nil {
					return err
				}

				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleRounded)
				t.AppendHeader(table.Row{"EMAIL", "STATE", "UPDATED"})
				for _, email := range emails {
					state, err := sc.Flow().State(email)
					stateText := state.String()
					if err != nil {
						stateText = text.FgRed.Sprint(err.Error())
					}
					updated := ""
					if rec, err := sc.Store().LoadToken(email); err == nil && rec != nil {
						updated = rec.ModTime.Local().Format(time.DateTime)
					}
					t.AppendRow(table.Row{email, stateText, updated})
				}
				t.AppendFooter(table.Row{"TOTAL", len(emails), ""})
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func newAuthTokenCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token for an account",
		Long: `Print a valid access token for --email, refreshing it against Google
when the stored one has expired. The refreshed token is not written back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServerContext(cmd.Context(), func(sc *server.ServerContext) error {
				provider := google.NewStoreTokenProvider(sc.Flow())
				if !provider.HasTokenForAccount(email) {
					return fmt.Errorf("no token stored for %s; run 'mcpmerge auth login --email %s'", email, email)
				}
				token, err := provider.GetTokenForAccount(cmd.Context(), email)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Google account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func renderAuthStatus(w io.Writer, result map[string]authstatus.Entry) {
	names := make([]string, 0, len(result))
	for name := range result {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"SERVER", "EMAIL", "STATUS"})
	for _, name := range names {
		entry := result[name]
		t.AppendRow(table.Row{name, entry.Email, colorStatus(authStatusLabel(entry))})
	}
	summary := authstatus.Summarize(result)
	t.AppendFooter(table.Row{"TOTAL", summary.Total, fmt.Sprintf("%d authenticated", summary.Authenticated)})
	t.Render()
}

func authStatusLabel(entry authstatus.Entry) string {
	switch {
	case entry.Error != "":
		return "error"
	case entry.NeedsEmailConfiguration:
		return "needs email"
	case entry.Authenticated:
		return "authenticated"
	default:
		return "not authenticated"
	}
}
