package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"marquee/internal/api"
)

func newAPITokenCommand(ctx *commandContext) *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "api-token",
		Short: "Mint an operator bearer token for the HTTP cycle trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lifetime := ttl
			if lifetime <= 0 {
				lifetime = time.Duration(cfg.API.TokenTTLHours) * time.Hour
			}
			who := strings.TrimSpace(subject)
			if who == "" {
				who = currentOperator()
			}
			token, expires, err := api.IssueToken(cfg.API.TokenSecret, who, lifetime, time.Now())
			if err != nil {
				return fmt.Errorf("%w (set api.token_secret or MARQUEE_API_SECRET)", err)
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, map[string]string{
					"token":     token,
					"subject":   who,
					"expiresAt": expires.UTC().Format(time.RFC3339),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(out, "Subject %s, expires %s\n", who, expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (defaults to the current user)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to api.token_ttl_hours)")
	return cmd
}
