package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/output"
)

var (
	rateLimitResetAll        bool
	rateLimitResetEndpoint   string
	rateLimitResetIdentifier string
	rateLimitResetPrefix     string
	rateLimitResetYes        bool
	rateLimitResetDryRun     bool
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored rate limit counters",
	Long: `Reset stored rate limit counters.

With both --identifier and --endpoint a single counter is removed. Otherwise
the filters select counters in bulk; --all requires --yes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := resolveOutputFormat(cmd); err != nil {
			return err
		}

		query := core.RateLimitQuery{
			All:        rateLimitResetAll,
			Endpoint:   strings.TrimSpace(rateLimitResetEndpoint),
			Identifier: strings.TrimSpace(rateLimitResetIdentifier),
			Prefix:     strings.TrimSpace(rateLimitResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, cfg, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		result := output.ResetResult{Matched: matched, DryRun: rateLimitResetDryRun}
		switch {
		case rateLimitResetDryRun:
		case !query.All && query.Identifier != "" && query.Endpoint != "" && query.Prefix == "":
			limiter := newLimiter(cfg, db, nil)
			if !limiter.Reset(cmd.Context(), query.Identifier, query.Endpoint) {
				return fmt.Errorf("reset %s/%s failed", query.Endpoint, query.Identifier)
			}
			result.Deleted = int64(matched)
		default:
			deleted, err := db.ResetRateLimits(cmd.Context(), query)
			if err != nil {
				return err
			}
			result.Deleted = deleted
		}

		return writeRendered(cmd, "rate-limit.reset", func(f output.Formatter) (string, error) {
			return f.FormatReset(result)
		})
	},
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset every counter")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetEndpoint, "endpoint", "", "Reset counters for an endpoint (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetIdentifier, "identifier", "", "Reset counters for an identifier (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset identifiers with matching prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
	addOutputFlags(rateLimitResetCmd)
}
