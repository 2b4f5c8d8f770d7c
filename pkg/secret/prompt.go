// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrTerminalConfig indicates the terminal mode could not be read,
	// changed or restored
	ErrTerminalConfig = errors.New("terminal configuration failed")

	// ErrInputRead indicates no passphrase line was received
	ErrInputRead = errors.New("failed to read passphrase")
)

// Terminal toggles input echo on the operator's terminal
type Terminal interface {
	// DisableEcho turns echo off and returns a function restoring the
	// mode that was active before the call
	DisableEcho() (restore func() error, err error)
}

// Prompter reads a single passphrase line into a Buffer. When Terminal is
// nil the line is read without touching any terminal attributes
// (--passphrase-stdin)
type Prompter struct {
	In       io.Reader
	Out      io.Writer
	Terminal Terminal
}

// ReadPassphrase writes prompt, reads one line with echo disabled and
// stores it in buf without the line terminator. Input longer than the
// buffer capacity is truncated and the rest of the line discarded.
//
// Echo is restored before ReadPassphrase returns on every path. On error
// buf is wiped, and an interrupt while reading wipes it before exiting
func (p *Prompter) ReadPassphrase(prompt string, buf *Buffer) (err error) {
	defer func() {
		if err != nil {
			buf.Wipe()
		}
	}()
	defer hold(buf)()

	release := func() error { return nil }
	if p.Terminal != nil {
		restore, terr := p.Terminal.DisableEcho()
		if terr != nil {
			return fmt.Errorf("%w: %v", ErrTerminalConfig, terr)
		}
		release = onceFunc(restore)
		defer func() { _ = release() }()
	}

	_, _ = fmt.Fprint(p.Out, prompt)
	readErr := readLine(p.In, buf)
	restoreErr := release()
	_, _ = fmt.Fprintln(p.Out)

	if readErr != nil {
		return readErr
	}
	if restoreErr != nil {
		return fmt.Errorf("%w: restore echo: %v", ErrTerminalConfig, restoreErr)
	}
	return nil
}

// readLine reads byte by byte so no passphrase bytes linger in an
// intermediate read buffer
func readLine(r io.Reader, buf *Buffer) error {
	var one [1]byte
	defer func() { one[0] = 0 }()

	received := false
	overflow := false
	for {
		n, err := r.Read(one[:])
		if n == 1 {
			received = true
			if one[0] == '\n' {
				break
			}
			if !overflow && !buf.append(one[0]) {
				overflow = true
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !received {
					return fmt.Errorf("%w: end of input", ErrInputRead)
				}
				break
			}
			return fmt.Errorf("%w: %v", ErrInputRead, err)
		}
	}

	buf.trimCarriageReturn()
	return nil
}

func onceFunc(fn func() error) func() error {
	var (
		once sync.Once
		err  error
	)
	return func() error {
		once.Do(func() { err = fn() })
		return err
	}
}
