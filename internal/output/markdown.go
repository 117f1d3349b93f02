package output

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatEntries renders stored counters as Markdown.
func (f *MarkdownFormatter) FormatEntries(entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "_No stored rate limit state._", nil
	}
	return "## Rate limits\n\n" + entriesTable(entries).RenderMarkdown(), nil
}

// FormatStatus renders a single counter as Markdown.
func (f *MarkdownFormatter) FormatStatus(status StatusView) (string, error) {
	return "## Rate limit status\n\n" + statusTable(status).RenderMarkdown(), nil
}

// FormatReset renders a one-line summary.
func (f *MarkdownFormatter) FormatReset(result ResetResult) (string, error) {
	return "**" + resetSummary(result) + "**", nil
}
