// Package faults defines the classified error values used across the capture
// pipeline. Components return plain errors wrapped with a class; the command
// layer inspects the class once and makes the single process-exit decision.
package faults

import (
	"errors"
	"fmt"
)

// Class identifies which stage of the pipeline an error belongs to.
type Class string

const (
	// ClassUsage covers bad invocations (wrong argument count).
	ClassUsage Class = "usage"
	// ClassConfig covers unreadable, unparsable or invalid capture configs.
	ClassConfig Class = "config"
	// ClassNavigation covers failed page loads, including non-success
	// HTTP status on the main document.
	ClassNavigation Class = "navigation"
	// ClassInjection covers exceptions thrown by injected scripts.
	ClassInjection Class = "injection"
	// ClassCapture covers failures rendering or writing the screenshot.
	ClassCapture Class = "capture"
)

// Fault pairs an underlying error with its pipeline class. It participates
// in errors.Is/As chains so callers can classify through wrapping layers.
type Fault struct {
	Class Class
	Err   error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault: %v", f.Class, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// New wraps err with the given class. A nil err returns nil.
func New(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Class: class, Err: err}
}

// Usagef builds a usage-class fault from a format string.
func Usagef(format string, args ...any) error {
	return &Fault{Class: ClassUsage, Err: fmt.Errorf(format, args...)}
}

// Configf builds a config-class fault from a format string.
func Configf(format string, args ...any) error {
	return &Fault{Class: ClassConfig, Err: fmt.Errorf(format, args...)}
}

// Navigationf builds a navigation-class fault from a format string.
func Navigationf(format string, args ...any) error {
	return &Fault{Class: ClassNavigation, Err: fmt.Errorf(format, args...)}
}

// Injectionf builds an injection-class fault from a format string.
func Injectionf(format string, args ...any) error {
	return &Fault{Class: ClassInjection, Err: fmt.Errorf(format, args...)}
}

// Capturef builds a capture-class fault from a format string.
func Capturef(format string, args ...any) error {
	return &Fault{Class: ClassCapture, Err: fmt.Errorf(format, args...)}
}

// ClassOf walks the error chain and returns the class of the outermost
// Fault, or the empty string when the chain carries none.
func ClassOf(err error) Class {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	return ""
}

// ExitCode maps an error to the process exit code: 0 for nil, 1 for any
// fault. Every fault class is fatal; the distinction exists for logs, not
// for exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
