// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package secret

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// InterruptExitCode is the process exit status used when a signal arrives
// while echo is disabled
const InterruptExitCode = 130

// TTY implements Terminal on a Linux terminal file descriptor
type TTY struct {
	fd int
}

// NewTTY returns a Terminal bound to f (normally os.Stdin)
func NewTTY(f *os.File) *TTY {
	return &TTY{fd: int(f.Fd())} // #nosec G115 -- file descriptors fit in int
}

// DisableEcho clears ECHO on the terminal and leaves every other attribute
// untouched. The returned function restores the saved state.
//
// Until restore is called, SIGINT, SIGTERM and SIGHUP restore the terminal,
// wipe the passphrase buffer being read and exit through memguard.SafeExit
// with InterruptExitCode
func (t *TTY) DisableEcho() (func() error, error) {
	if !term.IsTerminal(t.fd) {
		return nil, fmt.Errorf("file descriptor %d is not a terminal", t.fd)
	}

	saved, err := term.GetState(t.fd)
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal attributes: %w", err)
	}

	tios, err := unix.IoctlGetTermios(t.fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal attributes: %w", err)
	}
	tios.Lflag &^= unix.ECHO
	if err := unix.IoctlSetTermios(t.fd, unix.TCSETS, tios); err != nil {
		_ = term.Restore(t.fd, saved)
		return nil, fmt.Errorf("failed to disable terminal echo: %w", err)
	}

	stop := t.watchSignals(saved)

	return func() error {
		stop()
		if err := term.Restore(t.fd, saved); err != nil {
			return fmt.Errorf("failed to restore terminal settings: %w", err)
		}
		return nil
	}, nil
}

func (t *TTY) watchSignals(saved *term.State) func() {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		select {
		case <-sigs:
			_ = term.Restore(t.fd, saved)
			_, _ = fmt.Fprintln(os.Stderr)
			wipePending()
			memguard.SafeExit(InterruptExitCode)
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
		})
	}
}
