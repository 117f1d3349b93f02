package output

import (
	"github.com/jedib0t/go-pretty/v6/table"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func entriesTable(entries []Entry) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Endpoint", "Identifier", "Count", "Reset At", "State"})
	for _, e := range entries {
		state := "active"
		if e.Expired {
			state = "expired"
		}
		t.AppendRow(table.Row{e.Endpoint, e.Identifier, e.Count, formatTime(e.ResetAt), state})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(entries)})
	return t
}

func statusTable(s StatusView) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Endpoint", "Identifier", "Count", "Remaining", "Limit", "Reset At"})
	t.AppendRow(table.Row{s.Endpoint, s.Identifier, s.Count, s.Remaining, s.Limit, formatTime(s.ResetAt)})
	return t
}

// FormatEntries renders stored counters as a table.
func (f *TableFormatter) FormatEntries(entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "(no stored rate limit state)", nil
	}
	t := entriesTable(entries)
	t.SetStyle(table.StyleRounded)
	return t.Render(), nil
}

// FormatStatus renders a single counter as a table.
func (f *TableFormatter) FormatStatus(status StatusView) (string, error) {
	t := statusTable(status)
	t.SetStyle(table.StyleRounded)
	return t.Render(), nil
}

// FormatReset renders a one-line summary.
func (f *TableFormatter) FormatReset(result ResetResult) (string, error) {
	return resetSummary(result), nil
}
