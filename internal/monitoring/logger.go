// Package monitoring holds the pipeline's package-level diagnostic logger.
package monitoring

import "log"

// Logf is the diagnostic logger used across the pipeline. It defaults to
// log.Printf; SetLogger can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// logger, which tests use to silence pipeline output.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
