package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/threadline/threadline/internal/core/engine"
	"github.com/threadline/threadline/internal/observability"
	"github.com/threadline/threadline/internal/output"
)

var (
	rateLimitCheckEndpoint   string
	rateLimitCheckIdentifier string
)

var rateLimitCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Consume one request for an identifier and endpoint",
	Long: `Consume one request for an identifier and endpoint and print the decision.

This drives the same limiter the gateway uses, so it counts against the
caller's window. A store failure fails open and is logged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier := strings.TrimSpace(rateLimitCheckIdentifier)
		endpoint := strings.TrimSpace(rateLimitCheckEndpoint)
		if identifier == "" || endpoint == "" {
			return errors.New("--identifier and --endpoint are required")
		}

		db, cfg, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		limiter := newLimiter(cfg, db, observability.CLILogger)
		decision := limiter.Check(cmd.Context(), identifier, endpoint, nil)

		view := decisionView(identifier, endpoint, decision)
		if err := writeRendered(cmd, "rate-limit.check", func(f output.Formatter) (string, error) {
			return f.FormatStatus(view)
		}); err != nil {
			return err
		}
		if !decision.Allowed {
			return errRateLimited
		}
		return nil
	},
}

var errRateLimited = errors.New("rate limit exceeded")

func decisionView(identifier, endpoint string, d engine.Decision) output.StatusView {
	view := output.StatusView{
		Endpoint:   endpoint,
		Identifier: identifier,
		Remaining:  d.Remaining,
		Limit:      d.Limit,
		ResetAt:    d.ResetAt,
	}
	// a failed-open decision never reached the store
	if !d.FailedOpen {
		view.Count = d.Limit - d.Remaining
	}
	return view
}

func init() {
	rateLimitCheckCmd.Flags().StringVar(&rateLimitCheckIdentifier, "identifier", "", "User id or client IP")
	rateLimitCheckCmd.Flags().StringVar(&rateLimitCheckEndpoint, "endpoint", "", "Endpoint tag")
	addOutputFlags(rateLimitCheckCmd)
}
