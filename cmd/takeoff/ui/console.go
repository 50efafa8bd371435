// Package ui provides terminal output and prompts for the takeoff CLI.
package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Console writes user-facing output and reads answers to prompts.
type Console struct {
	in      *bufio.Reader
	out     io.Writer
	errOut  io.Writer
	verbose bool
}

// NewConsole creates a console over the given streams. noColor disables
// ANSI colors process-wide.
func NewConsole(in io.Reader, out, errOut io.Writer, noColor, verbose bool) *Console {
	if noColor {
		color.NoColor = true
	}
	return &Console{
		in:      bufio.NewReader(in),
		out:     out,
		errOut:  errOut,
		verbose: verbose,
	}
}

// Success prints a success line.
func (c *Console) Success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(c.out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Error prints an error line to stderr.
func (c *Console) Error(format string, args ...any) {
	color.New(color.FgRed).Fprintf(c.errOut, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (c *Console) Warning(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(c.out, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Info prints an informational line.
func (c *Console) Info(format string, args ...any) {
	color.New(color.FgCyan).Fprintf(c.out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Debug prints only in verbose mode.
func (c *Console) Debug(format string, args ...any) {
	if !c.verbose {
		return
	}
	color.New(color.Faint).Fprintf(c.errOut, "  %s\n", fmt.Sprintf(format, args...))
}

// Newline prints an empty line.
func (c *Console) Newline() {
	fmt.Fprintln(c.out)
}

// Section prints an underlined header.
func (c *Console) Section(title string) {
	color.New(color.Bold).Fprintf(c.out, "\n%s\n", title)
	fmt.Fprintf(c.out, "%s\n\n", strings.Repeat("=", len([]rune(title))))
}

// KeyValue prints an indented key and value.
func (c *Console) KeyValue(key, value string) {
	fmt.Fprintf(c.out, "  %s: %s\n", key, value)
}
