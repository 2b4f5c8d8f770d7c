// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Command luks-usb toggles a LUKS2 encrypted USB partition between locked
// and unlocked-and-mounted.
package main

import (
	"os"

	"github.com/awnumar/memguard"
)

// Version information
const Version = "1.0.0"

func main() {
	code := NewApp().Execute()
	memguard.Purge()
	os.Exit(code)
}
