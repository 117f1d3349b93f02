package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/output"
)

var (
	rateLimitListEndpoint   string
	rateLimitListIdentifier string
	rateLimitListPrefix     string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate limit counters",
	Long: `List stored rate limit counters.

Without filters every counter is listed. Counters whose window has already
ended are shown as expired until the next sweep removes them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := resolveOutputFormat(cmd); err != nil {
			return err
		}

		db, _, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := core.RateLimitQuery{
			Endpoint:   strings.TrimSpace(rateLimitListEndpoint),
			Identifier: strings.TrimSpace(rateLimitListIdentifier),
			Prefix:     strings.TrimSpace(rateLimitListPrefix),
		}
		if query.Validate() != nil {
			query.All = true
		}

		records, err := db.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}
		entries := output.EntriesFrom(records, time.Now().UTC())

		return writeRendered(cmd, "rate-limit.list", func(f output.Formatter) (string, error) {
			return f.FormatEntries(entries)
		})
	},
}

func init() {
	rateLimitListCmd.Flags().StringVar(&rateLimitListEndpoint, "endpoint", "", "Only list counters for this endpoint")
	rateLimitListCmd.Flags().StringVar(&rateLimitListIdentifier, "identifier", "", "Only list counters for this identifier")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "Only list identifiers with this prefix")
	addOutputFlags(rateLimitListCmd)
}
