package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/threadline/threadline/internal/auth"
)

var (
	tokenSubject string
	tokenRoles   []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed bearer token",
	Long: `Issue an HS256 bearer token signed with auth.jwt_secret.

Tokens carrying the configured admin role can call the /admin/rate-limits
routes. Any valid token keys gateway checks by its subject instead of the
client address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subject := strings.TrimSpace(tokenSubject)
		if subject == "" {
			return errors.New("--subject is required")
		}

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		if verifier == nil {
			return auth.ErrNoSecret
		}

		token, err := verifier.Issue(subject, tokenRoles, tokenTTL)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Principal id (sub claim)")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "Role to grant (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}
