// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build integration

package luks2

import (
	"fmt"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

// attachLoop backs a free loop device with the image at path and detaches
// it when the test ends
func attachLoop(t *testing.T, path string) string {
	t.Helper()

	image, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("Failed to open image: %v", err)
	}
	defer func() { _ = image.Close() }()

	control, err := os.OpenFile("/dev/loop-control", os.O_RDWR, 0)
	if err != nil {
		t.Skipf("loop devices unavailable: %v", err)
	}
	defer func() { _ = control.Close() }()

	n, err := unix.IoctlRetInt(int(control.Fd()), unix.LOOP_CTL_GET_FREE)
	if err != nil {
		t.Fatalf("LOOP_CTL_GET_FREE failed: %v", err)
	}

	device := fmt.Sprintf("/dev/loop%d", n)
	loop, err := os.OpenFile(device, os.O_RDWR, 0) // #nosec G304 -- loop device number from the kernel
	if err != nil {
		t.Fatalf("Failed to open %s: %v", device, err)
	}
	defer func() { _ = loop.Close() }()

	if err := unix.IoctlSetInt(int(loop.Fd()), unix.LOOP_SET_FD, int(image.Fd())); err != nil {
		t.Fatalf("LOOP_SET_FD failed: %v", err)
	}

	t.Cleanup(func() {
		f, err := os.OpenFile(device, os.O_RDWR, 0) // #nosec G304 -- loop device attached above
		if err != nil {
			return
		}
		defer func() { _ = f.Close() }()
		_ = unix.IoctlSetInt(int(f.Fd()), unix.LOOP_CLR_FD, 0)
	})

	return device
}

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("requires root")
	}
}
