// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package ui renders operator-facing output
package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Logger provides color-coded, leveled operator messages. Info, Success and
// Debug go to Out; Warning and Error go to Err
type Logger struct {
	Verbose bool
	Quiet   bool
	Out     io.Writer
	Err     io.Writer

	info    *color.Color
	success *color.Color
	warning *color.Color
	fail    *color.Color
	debug   *color.Color
}

// NewLoggerTo creates a logger writing to out and errOut
func NewLoggerTo(out, errOut io.Writer, verbose, quiet, noColor bool) *Logger {
	l := &Logger{
		Verbose: verbose,
		Quiet:   quiet,
		Out:     out,
		Err:     errOut,
		info:    color.New(color.FgBlue),
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		fail:    color.New(color.FgRed),
		debug:   color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range []*color.Color{l.info, l.success, l.warning, l.fail, l.debug} {
			c.DisableColor()
		}
	}
	return l
}

func (l *Logger) print(w io.Writer, c *color.Color, prefix, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	_, _ = c.Fprintln(w, prefix+msg)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.print(l.Out, l.info, "[INFO] ", format, args...)
}

// Success logs a success message
func (l *Logger) Success(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.print(l.Out, l.success, "[SUCCESS] ", format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.print(l.Err, l.warning, "[WARNING] ", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.print(l.Err, l.fail, "[ERROR] ", format, args...)
}

// Debug logs a debug message (only if verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.print(l.Out, l.debug, "[DEBUG] ", format, args...)
}
