package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or embedding code can redirect or mute
// it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Prefixed returns a logf that prepends a subsystem tag, e.g. "(ingest) ", so
// log lines from concurrent subsystems stay attributable. The returned
// function reads Logf at call time and therefore follows later SetLogger
// calls.
func Prefixed(tag string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf("("+tag+") "+format, v...)
	}
}
