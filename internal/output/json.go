package output

import (
	"encoding/json"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// FormatEntries renders stored counters as a JSON array.
func (f *JSONFormatter) FormatEntries(entries []Entry) (string, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return f.marshal(entries)
}

// FormatStatus renders a single counter as JSON.
func (f *JSONFormatter) FormatStatus(status StatusView) (string, error) {
	return f.marshal(status)
}

// FormatReset renders a reset summary as JSON.
func (f *JSONFormatter) FormatReset(result ResetResult) (string, error) {
	return f.marshal(result)
}
