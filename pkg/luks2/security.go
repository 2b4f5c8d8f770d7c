// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// ValidateDevicePath checks that device is an absolute path to an existing
// regular file or block device
func ValidateDevicePath(device string) error {
	if device == "" {
		return ErrInvalidPath
	}

	cleaned := filepath.Clean(device)
	if strings.Contains(cleaned, "..") || !filepath.IsAbs(cleaned) {
		return fmt.Errorf("%w: %s", ErrInvalidPath, device)
	}

	info, err := os.Stat(cleaned)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	mode := info.Mode()
	if !mode.IsRegular() && mode&os.ModeDevice == 0 {
		return fmt.Errorf("%w: %s is not a file or block device", ErrInvalidPath, device)
	}

	return nil
}

// ValidateMappingName checks a device-mapper name
func ValidateMappingName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return fmt.Errorf("invalid mapping name %q", name)
	}
	if len(name) >= 128 {
		return fmt.Errorf("mapping name too long: %d bytes", len(name))
	}
	return nil
}

// SafeInt64ToUint64 converts v, failing for negative values
func SafeInt64ToUint64(v int64) (uint64, error) {
	if v < 0 {
		return 0, ErrIntegerOverflow
	}
	return uint64(v), nil
}

// SafeUint64ToInt converts v, failing when it does not fit an int
func SafeUint64ToInt(v uint64) (int, error) {
	if v > math.MaxInt {
		return 0, ErrIntegerOverflow
	}
	return int(v), nil
}
