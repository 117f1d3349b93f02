package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/threadline/threadline/internal/observability"
	"github.com/threadline/threadline/internal/output"
)

var rateLimitCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete counters whose window has ended",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := resolveOutputFormat(cmd); err != nil {
			return err
		}

		db, cfg, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		limiter := newLimiter(cfg, db, observability.CLILogger)
		deleted := limiter.Cleanup(cmd.Context())
		observability.CLILogger.Debug("Swept expired rate limits", zap.Int64("deleted", deleted))

		result := output.ResetResult{Matched: int(deleted), Deleted: deleted}
		return writeRendered(cmd, "rate-limit.cleanup", func(f output.Formatter) (string, error) {
			return f.FormatReset(result)
		})
	},
}

func init() {
	addOutputFlags(rateLimitCleanupCmd)
}
