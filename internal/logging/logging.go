// Package logging provides the scanner's ambient debug/warning logger: a
// writer-backed, mutex-guarded sink enabled by a build flag or an
// environment variable, plus a separate warning channel for pattern-load
// diagnostics (spec: pattern-load errors are surfaced on a separate warning
// channel from debug output).
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// EnableDebug is a build-time flag, overridable via:
//
//	go build -ldflags "-X github.com/standardbeagle/cryptoscan/internal/logging.EnableDebug=true"
var EnableDebug = "false"

// MCPMode suppresses all debug/warning output to stdio when the host is
// serving the MCP tool surface, where stdout/stderr are reserved for the
// protocol.
var MCPMode = false

var (
	mu     sync.Mutex
	output io.Writer
	warn   io.Writer = os.Stderr
)

// SetMCPMode enables or disables MCP mode.
func SetMCPMode(enabled bool) {
	MCPMode = enabled
}

// SetOutput sets the writer debug output is sent to. Pass nil to disable it.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// SetWarnOutput sets the writer pattern-load and other warnings are sent to.
func SetWarnOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	warn = w
}

func enabled() bool {
	if MCPMode {
		return false
	}
	if EnableDebug == "true" {
		return true
	}
	v := os.Getenv("DEBUG")
	return v == "1" || v == "true"
}

func writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return output
}

// Debugf logs a debug line, gated on enabled() and a configured output.
func Debugf(format string, args ...interface{}) {
	if !enabled() {
		return
	}
	if w := writer(); w != nil {
		fmt.Fprintf(w, "[DEBUG] "+format+"\n", args...)
	}
}

// Component logs a debug line tagged with a component name.
func Component(component, format string, args ...interface{}) {
	if !enabled() {
		return
	}
	if w := writer(); w != nil {
		fmt.Fprintf(w, "[DEBUG:%s] "+format+"\n", append([]interface{}{component}, args...)...)
	}
}

// Warnf always emits to the warning channel, independent of debug mode,
// except under MCP mode where stdio is reserved for the protocol.
func Warnf(format string, args ...interface{}) {
	if MCPMode {
		return
	}
	mu.Lock()
	w := warn
	mu.Unlock()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[WARN] "+format+"\n", args...)
}
