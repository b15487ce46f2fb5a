// Package logger provides leveled, structured logging for aurforge.
package logger

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
)

// Level represents the severity of a log message.
type Level int

const (
	// LevelDebug represents the debug log level.
	LevelDebug Level = iota
	// LevelInfo represents the info log level.
	LevelInfo
	// LevelWarn represents the warning log level.
	LevelWarn
	// LevelError represents the error log level.
	LevelError
)

var (
	// MultiPrinter is shared between the logger and any progress output.
	MultiPrinter = pterm.DefaultMultiPrinter

	ptermLogger = pterm.DefaultLogger.
			WithLevel(pterm.LogLevelTrace).
			WithCaller(false).
			WithTime(true).
			WithKeyStyles(map[string]pterm.Style{
			"pkgname":  *pterm.NewStyle(pterm.FgGreen),
			"pkgbase":  *pterm.NewStyle(pterm.FgGreen),
			"version":  *pterm.NewStyle(pterm.FgGreen),
			"path":     *pterm.NewStyle(pterm.FgLightBlue),
			"command":  *pterm.NewStyle(pterm.FgLightBlue),
			"dir":      *pterm.NewStyle(pterm.FgLightBlue),
			"count":    *pterm.NewStyle(pterm.FgBlue),
			"name":     *pterm.NewStyle(pterm.FgCyan),
			"error":    *pterm.NewStyle(pterm.FgRed),
			"provider": *pterm.NewStyle(pterm.FgCyan),
		})

	verboseEnabled = false
)

// SetVerbose toggles Debug-level output.
func SetVerbose(enabled bool) {
	verboseEnabled = enabled
}

func argsToLoggerArgs(args []any) []pterm.LoggerArgument {
	if len(args) == 0 {
		return nil
	}

	loggerArgs := make([]pterm.LoggerArgument, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		loggerArgs = append(loggerArgs, pterm.LoggerArgument{
			Key:   fmt.Sprintf("%v", args[i]),
			Value: args[i+1],
		})
	}

	return loggerArgs
}

func prefixed(msg string) string {
	return fmt.Sprintf("[aurforge] %s", msg)
}

// Debug logs a debug message. Suppressed unless SetVerbose(true) was called.
func Debug(msg string, args ...any) {
	if !verboseEnabled {
		return
	}

	ptermLogger.Debug(prefixed(msg), argsToLoggerArgs(args)...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	ptermLogger.Info(prefixed(msg), argsToLoggerArgs(args)...)
}

// Warn logs a warning.
func Warn(msg string, args ...any) {
	ptermLogger.Warn(prefixed(msg), argsToLoggerArgs(args)...)
}

// Error logs an error.
func Error(msg string, args ...any) {
	ptermLogger.Error(prefixed(msg), argsToLoggerArgs(args)...)
}

// Summary prints a one-line highlighted status update, for top-level
// reconciliation steps (package lists, phase transitions).
func Summary(msg string) {
	pterm.DefaultSection.Println(msg)
}

// List prints a label followed by the items, one per line, in the order
// given.
func List(label string, items []string) {
	pterm.Println(pterm.Bold.Sprint(label))

	for _, item := range items {
		pterm.Println("  " + item)
	}

	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "  (none)")
	}
}
