package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be swapped with SetLogger so tests can capture or mute diagnostics.
// Nothing in the core depends on these lines for correctness; they exist for
// observability only.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Discard mutes the package logger. Shorthand for SetLogger(nil), used by
// tests that exercise noisy paths.
func Discard() {
	SetLogger(nil)
}
