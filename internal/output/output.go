package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/threadline/threadline/internal/core"
	"github.com/threadline/threadline/internal/core/engine"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Entry is one stored counter as shown to operators.
type Entry struct {
	Endpoint   string    `json:"endpoint" yaml:"endpoint"`
	Identifier string    `json:"identifier" yaml:"identifier"`
	Count      int       `json:"count" yaml:"count"`
	ResetAt    time.Time `json:"reset_at" yaml:"reset_at"`
	Expired    bool      `json:"expired" yaml:"expired"`
}

// StatusView is the status of one counter under its resolved policy.
type StatusView struct {
	Endpoint   string    `json:"endpoint" yaml:"endpoint"`
	Identifier string    `json:"identifier" yaml:"identifier"`
	Count      int       `json:"count" yaml:"count"`
	Remaining  int       `json:"remaining" yaml:"remaining"`
	Limit      int       `json:"limit" yaml:"limit"`
	ResetAt    time.Time `json:"reset_time" yaml:"reset_time"`
}

// ResetResult summarises a reset or cleanup run.
type ResetResult struct {
	Matched int   `json:"matched" yaml:"matched"`
	Deleted int64 `json:"deleted" yaml:"deleted"`
	DryRun  bool  `json:"dry_run" yaml:"dry_run"`
}

// Formatter renders rate limit state.
type Formatter interface {
	FormatEntries(entries []Entry) (string, error)
	FormatStatus(status StatusView) (string, error)
	FormatReset(result ResetResult) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// Extension is the file extension used when writing a format to disk.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// EntriesFrom converts stored records, flagging those whose window ended before now.
func EntriesFrom(records []core.RateLimitEntry, now time.Time) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, Entry{
			Endpoint:   r.Endpoint,
			Identifier: r.Identifier,
			Count:      r.Count,
			ResetAt:    r.ResetAt.UTC(),
			Expired:    r.Expired(now),
		})
	}
	return entries
}

// StatusFrom builds a StatusView from a limiter status.
func StatusFrom(identifier, endpoint string, status *engine.Status) StatusView {
	view := StatusView{Endpoint: endpoint, Identifier: identifier}
	if status != nil {
		view.Count = status.Count
		view.Remaining = status.Remaining
		view.Limit = status.Limit
		view.ResetAt = status.ResetAt.UTC()
	}
	return view
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func resetSummary(result ResetResult) string {
	if result.DryRun {
		return fmt.Sprintf("Would delete %d rate limit entr(ies)", result.Matched)
	}
	return fmt.Sprintf("Deleted %d/%d rate limit entr(ies)", result.Deleted, result.Matched)
}
