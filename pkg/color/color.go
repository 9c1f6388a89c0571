// Package color provides terminal color output for the gridlink CLI.
// It respects the NO_COLOR environment variable (https://no-color.org/).
package color

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

var state struct {
	mu      sync.RWMutex
	once    sync.Once
	enabled bool
}

// Init initializes color support from the environment and the --no-color flag.
// Only the first call has effect.
func Init(noColorFlag bool) {
	state.once.Do(func() {
		disabled := noColorFlag
		if _, exists := os.LookupEnv("NO_COLOR"); exists {
			disabled = true
		}
		if os.Getenv("TERM") == "dumb" {
			disabled = true
		}
		state.mu.Lock()
		state.enabled = !disabled
		state.mu.Unlock()
	})
}

// Enabled returns true if color output is enabled.
func Enabled() bool {
	Init(false)
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.enabled
}

// Disable turns off color output.
func Disable() {
	Init(false)
	state.mu.Lock()
	state.enabled = false
	state.mu.Unlock()
}

// Enable turns on color output.
func Enable() {
	Init(false)
	state.mu.Lock()
	state.enabled = true
	state.mu.Unlock()
}

// ANSI codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	DimCode = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
)

type colorFunc func(string) string

func makeColorFunc(codes ...string) colorFunc {
	code := strings.Join(codes, "")
	return func(s string) string {
		if !Enabled() {
			return s
		}
		return code + s + Reset
	}
}

var (
	Redf    = makeColorFunc(Red)
	Greenf  = makeColorFunc(Green)
	Yellowf = makeColorFunc(Yellow)
	Bluef   = makeColorFunc(Blue)
	Cyanf   = makeColorFunc(Cyan)
	Boldf   = makeColorFunc(Bold)
	Dimf    = makeColorFunc(DimCode)
)

// Success formats a success message in green.
func Success(s string) string { return Greenf(s) }

// Successf formats a success message with printf-style arguments.
func Successf(format string, args ...any) string {
	return Greenf(fmt.Sprintf(format, args...))
}

// Error formats an error message in red.
func Error(s string) string { return Redf(s) }

// Errorf formats an error message with printf-style arguments.
func Errorf(format string, args ...any) string {
	return Redf(fmt.Sprintf(format, args...))
}

// Warning formats a warning message in yellow.
func Warning(s string) string { return Yellowf(s) }

// Info formats an informational message in cyan.
func Info(s string) string { return Cyanf(s) }

// Header formats a header in bold.
func Header(s string) string { return Boldf(s) }

// Dim formats secondary information.
func Dim(s string) string { return Dimf(s) }

// Outcome colors a negotiation outcome name: encrypted green, plaintext
// yellow, anything else red.
func Outcome(s string) string {
	switch s {
	case "CS_NEG_USE_SSL":
		return Greenf(s)
	case "CS_NEG_USE_TCP":
		return Yellowf(s)
	default:
		return Redf(s)
	}
}

// Severity colors a doctor finding severity.
func Severity(s string) string {
	switch s {
	case "critical", "error":
		return Redf(s)
	case "warning":
		return Yellowf(s)
	default:
		return Dimf(s)
	}
}
