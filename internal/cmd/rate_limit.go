package cmd

import (
	"github.com/spf13/cobra"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and manage stored rate limit counters",
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitStatusCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rateLimitCmd.AddCommand(rateLimitCleanupCmd)
	rateLimitCmd.AddCommand(rateLimitCheckCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
