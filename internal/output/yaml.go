package output

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLFormatter renders results as YAML documents.
type YAMLFormatter struct{}

func marshalYAML(value any) (string, error) {
	data, err := yaml.Marshal(value)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// FormatEntries renders stored counters as a YAML sequence.
func (f *YAMLFormatter) FormatEntries(entries []Entry) (string, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return marshalYAML(entries)
}

// FormatStatus renders a single counter as YAML.
func (f *YAMLFormatter) FormatStatus(status StatusView) (string, error) {
	return marshalYAML(status)
}

// FormatReset renders a reset summary as YAML.
func (f *YAMLFormatter) FormatReset(result ResetResult) (string, error) {
	return marshalYAML(result)
}
