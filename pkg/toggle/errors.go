// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package toggle

import (
	"errors"
	"fmt"
)

// Kind classifies a failed transition step
type Kind int

const (
	KindUnknown Kind = iota
	KindDeviceNotFound
	KindCryptoInit
	KindWrongPassphrase
	KindTerminalConfig
	KindInputRead
	KindMount
	KindUnmount
	KindStillInUse
)

var kindInfo = map[Kind]struct {
	name    string
	message string
	code    int
}{
	KindUnknown:         {"Unknown", "unexpected failure", 1},
	KindDeviceNotFound:  {"DeviceNotFound", "LUKS device not found", 10},
	KindCryptoInit:      {"CryptoInitError", "failed to initialize LUKS context", 11},
	KindWrongPassphrase: {"WrongPassphraseError", "incorrect LUKS passphrase", 12},
	KindTerminalConfig:  {"TerminalConfigError", "failed to configure terminal", 13},
	KindInputRead:       {"InputReadError", "failed to read passphrase", 14},
	KindMount:           {"MountError", "failed to mount the unlocked partition", 15},
	KindUnmount:         {"UnmountError", "failed to unmount the partition", 16},
	KindStillInUse:      {"StillInUseError", "failed to lock the LUKS partition", 17},
}

// String returns the taxonomy name of the kind
func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ExitCode returns the per-kind process exit status
func (k Kind) ExitCode() int {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return 1
}

// Error is a failed pipeline step
type Error struct {
	Kind Kind
	Op   string // pipeline step, e.g. "activate"
	Err  error
}

func (e *Error) Error() string {
	msg := kindInfo[e.Kind].message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrDeviceNotFound  = &Error{Kind: KindDeviceNotFound}
	ErrCryptoInit      = &Error{Kind: KindCryptoInit}
	ErrWrongPassphrase = &Error{Kind: KindWrongPassphrase}
	ErrTerminalConfig  = &Error{Kind: KindTerminalConfig}
	ErrInputRead       = &Error{Kind: KindInputRead}
	ErrMount           = &Error{Kind: KindMount}
	ErrUnmount         = &Error{Kind: KindUnmount}
	ErrStillInUse      = &Error{Kind: KindStillInUse}
)

// KindOf returns the kind of err, KindUnknown when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ExitCode maps err to a per-kind exit status, 0 for nil
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}
