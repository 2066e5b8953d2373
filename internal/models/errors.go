package models

import "fmt"

// ConfigError reports a violated configuration invariant detected before
// any processing starts: mismatched group folder counts, an even detection
// window, a missing input root, malformed group JSON. It always aborts the
// run that raised it.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...interface{}) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
