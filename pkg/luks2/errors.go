// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

import "errors"

var (
	// ErrInvalidPath is returned for device paths that are not absolute,
	// do not exist or are neither files nor block devices
	ErrInvalidPath = errors.New("invalid device path")

	// ErrInvalidHeader is returned when neither the primary nor any backup
	// header is a valid LUKS2 header
	ErrInvalidHeader = errors.New("invalid LUKS2 header")

	// ErrInvalidPassphrase is returned when no keyslot accepts the passphrase
	ErrInvalidPassphrase = errors.New("no keyslot accepted the passphrase")

	// ErrUnsupported is returned for keyslot or segment parameters this
	// engine cannot handle
	ErrUnsupported = errors.New("unsupported LUKS2 parameters")

	// ErrAlreadyActive is returned when the mapping name is taken
	ErrAlreadyActive = errors.New("mapping already active")

	// ErrNotActive is returned when the mapping does not exist
	ErrNotActive = errors.New("mapping not active")

	// ErrDeviceBusy is returned when the mapping is still held open
	ErrDeviceBusy = errors.New("mapping is busy")

	ErrIntegerOverflow = errors.New("integer overflow detected")
)
