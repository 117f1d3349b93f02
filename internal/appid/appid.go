// Package appid holds the identity values that name the binary, its config
// directory, and its environment variable prefix.
package appid

import "strings"

// Identity describes how the application presents itself.
type Identity struct {
	BinaryName  string
	ConfigName  string
	EnvPrefix   string
	Description string
}

var identity = Identity{
	BinaryName:  "threadline",
	ConfigName:  "threadline",
	EnvPrefix:   "THREADLINE_",
	Description: "Rate limiting service for the comment widget backend",
}

// Get returns the application identity.
func Get() Identity {
	return identity
}

// EnvVar returns the prefixed environment variable name for key.
func EnvVar(key string) string {
	prefix := identity.EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix + strings.ToUpper(strings.TrimSpace(key))
}
