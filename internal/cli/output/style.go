// Package output formats relayctl output: colored status lines, session
// states and JSON.
package output

import (
	"fmt"
	"io"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorCyan   = "\033[0;36m"
)

// Styler formats messages with optional color codes for terminal output.
type Styler struct {
	noColor bool
}

// NewStyler creates a new Styler. If noColor is true, ANSI color codes are omitted.
func NewStyler(noColor bool) *Styler {
	return &Styler{noColor: noColor}
}

// Success formats a success message with a green checkmark.
func (s *Styler) Success(msg string) string {
	return s.format(colorGreen, "✓", msg)
}

// Error formats an error message with a red X.
func (s *Styler) Error(msg string) string {
	return s.format(colorRed, "✗", msg)
}

// Info formats an informational message with a cyan info symbol.
func (s *Styler) Info(msg string) string {
	return s.format(colorCyan, "ℹ", msg)
}

// Warn formats a warning message with a yellow warning symbol.
func (s *Styler) Warn(msg string) string {
	return s.format(colorYellow, "⚠", msg)
}

// Status colors a session status: green when connected, yellow while
// starting up, red when it needs attention.
func (s *Styler) Status(status string) string {
	if s.noColor {
		return status
	}
	color := colorCyan
	switch status {
	case "CONNECTED":
		color = colorGreen
	case "INITIALIZING", "PENDING_SCAN":
		color = colorYellow
	case "DISCONNECTED", "ERROR":
		color = colorRed
	}
	return color + status + colorReset
}

func (s *Styler) format(color, symbol, msg string) string {
	if s.noColor {
		return fmt.Sprintf("%s %s", symbol, msg)
	}
	return fmt.Sprintf("%s%s%s %s", color, symbol, colorReset, msg)
}

func (s *Styler) FprintSuccess(w io.Writer, msg string) {
	fmt.Fprintln(w, s.Success(msg))
}

func (s *Styler) FprintError(w io.Writer, msg string) {
	fmt.Fprintln(w, s.Error(msg))
}

func (s *Styler) FprintInfo(w io.Writer, msg string) {
	fmt.Fprintln(w, s.Info(msg))
}

func (s *Styler) FprintWarn(w io.Writer, msg string) {
	fmt.Fprintln(w, s.Warn(msg))
}
