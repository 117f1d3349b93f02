package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/threadline/internal/config"
	"github.com/threadline/threadline/internal/core/engine"
	"github.com/threadline/threadline/internal/output"
)

func TestNewLimiterAppliesConfiguredPolicies(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			Strict:  true,
			Timeout: time.Second,
			Policies: map[string]config.PolicyConfig{
				"vote":   {Window: 30 * time.Second, MaxRequests: 3},
				"report": {Window: time.Hour, MaxRequests: 2},
				"broken": {Window: 0, MaxRequests: 2},
			},
		},
	}

	limiter := newLimiter(cfg, nil, nil)

	assert.True(t, limiter.Strict)
	assert.Equal(t, time.Second, limiter.Timeout)
	assert.Nil(t, limiter.Logger)
	assert.Equal(t, engine.Policy{Window: 30 * time.Second, MaxRequests: 3}, limiter.Policy("vote"))
	assert.Equal(t, engine.Policy{Window: time.Hour, MaxRequests: 2}, limiter.Policy("report"))
	assert.Equal(t, engine.DefaultPolicies["comment"], limiter.Policy("comment"))
	assert.Equal(t, engine.DefaultPolicies[engine.DefaultPolicyEndpoint], limiter.Policy("broken"))
}

func TestReloadedPoliciesReplacePreviousConfig(t *testing.T) {
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{
			Policies: map[string]config.PolicyConfig{
				"comment": {Window: time.Minute, MaxRequests: 50},
			},
		},
	}
	limiter := newLimiter(cfg, nil, nil)
	require.Equal(t, engine.Policy{Window: time.Minute, MaxRequests: 50}, limiter.Policy("comment"))

	limiter.ApplyPolicies(policiesFromConfig(map[string]config.PolicyConfig{
		"vote": {Window: time.Second, MaxRequests: 3},
	}))
	assert.Equal(t, engine.DefaultPolicies["comment"], limiter.Policy("comment"))
	assert.Equal(t, engine.Policy{Window: time.Second, MaxRequests: 3}, limiter.Policy("vote"))

	limiter.ApplyPolicies(policiesFromConfig(nil))
	assert.Equal(t, engine.DefaultPolicies["vote"], limiter.Policy("vote"))
}

func TestDecisionView(t *testing.T) {
	resetAt := time.Date(2025, 1, 1, 0, 0, 10, 0, time.UTC)

	view := decisionView("203.0.113.1", "vote", engine.Decision{Allowed: true, Remaining: 7, Limit: 10, ResetAt: resetAt})
	assert.Equal(t, 3, view.Count)
	assert.Equal(t, 7, view.Remaining)

	view = decisionView("203.0.113.1", "vote", engine.Decision{Allowed: true, Limit: 10, ResetAt: resetAt, FailedOpen: true})
	assert.Equal(t, 0, view.Count)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "rate-limit.list", sanitizeFilename("Rate Limit.List"))
	assert.Equal(t, "output", sanitizeFilename("  ..  "))
}

func newOutputCommand(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addOutputFlags(cmd)
	return cmd
}

func TestWriteRenderedToOutDir(t *testing.T) {
	dir := t.TempDir()
	cmd := newOutputCommand(t)
	require.NoError(t, cmd.Flags().Set("output-format", "json"))
	require.NoError(t, cmd.Flags().Set("out-dir", dir))

	err := writeRendered(cmd, "rate-limit.reset", func(f output.Formatter) (string, error) {
		return f.FormatReset(output.ResetResult{Matched: 2, Deleted: 2})
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "rate-limit.reset.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"deleted": 2`)
}

func TestWriteRenderedToStdout(t *testing.T) {
	cmd := newOutputCommand(t)
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	err := writeRendered(cmd, "x", func(f output.Formatter) (string, error) {
		return f.FormatReset(output.ResetResult{Matched: 1, DryRun: true})
	})
	require.NoError(t, err)
	assert.Equal(t, "Would delete 1 rate limit entr(ies)\n", buf.String())
}

func TestWriteRenderedRejectsConflictingTargets(t *testing.T) {
	cmd := newOutputCommand(t)
	require.NoError(t, cmd.Flags().Set("out", "a.json"))
	require.NoError(t, cmd.Flags().Set("out-dir", t.TempDir()))

	err := writeRendered(cmd, "x", func(f output.Formatter) (string, error) { return "", nil })
	require.Error(t, err)
}

func TestInitConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(buildInitConfig()), 0644))

	cfg, err := config.LoadFile(context.Background(), path, map[string]any{
		"store": map[string]any{"path": filepath.Join(t.TempDir(), "rl.db")},
	})
	require.NoError(t, err)
	assert.Equal(t, config.DriverLibsql, cfg.Store.Driver)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Policies["vote"].Window)
	assert.Equal(t, 5, cfg.RateLimit.Policies["comment"].MaxRequests)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(fmt.Errorf("%w: %w", errConfig, errors.New("bad port"))))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCodeFor(fmt.Errorf("%w: dial tcp", errStoreUnavailable)))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(errRateLimited))
}
