package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/threadline/threadline/internal/output"
)

var (
	rateLimitStatusEndpoint   string
	rateLimitStatusIdentifier string
)

var rateLimitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the counter for one identifier and endpoint",
	Long: `Show the counter for one identifier and endpoint without consuming a request.

An identifier with no live window reports the full limit as remaining.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier := strings.TrimSpace(rateLimitStatusIdentifier)
		endpoint := strings.TrimSpace(rateLimitStatusEndpoint)
		if identifier == "" || endpoint == "" {
			return errors.New("--identifier and --endpoint are required")
		}

		db, cfg, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		limiter := newLimiter(cfg, db, nil)
		status, err := limiter.Status(cmd.Context(), identifier, endpoint)
		if err != nil {
			return err
		}

		view := output.StatusFrom(identifier, endpoint, status)
		return writeRendered(cmd, "rate-limit.status", func(f output.Formatter) (string, error) {
			return f.FormatStatus(view)
		})
	},
}

func init() {
	rateLimitStatusCmd.Flags().StringVar(&rateLimitStatusIdentifier, "identifier", "", "User id or client IP")
	rateLimitStatusCmd.Flags().StringVar(&rateLimitStatusEndpoint, "endpoint", "", "Endpoint tag (comment, vote, reaction, auth, api, ...)")
	addOutputFlags(rateLimitStatusCmd)
}
