// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package mount attaches and detaches the decrypted filesystem
package mount

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// DefaultMountsFile is the kernel mount table
	DefaultMountsFile = "/proc/mounts"

	// DefaultDirMode is used when creating a missing mount point
	DefaultDirMode os.FileMode = 0755
)

var (
	// ErrBusy is returned when the filesystem is still in use
	ErrBusy = errors.New("mount point is busy")

	// ErrNotMounted is returned when unmounting a path that is not a mount point
	ErrNotMounted = errors.New("not mounted")
)

type syscalls struct {
	mount   func(source, target, fstype string, flags uintptr, data string) error
	unmount func(target string, flags int) error
	sync    func()
}

// Orchestrator creates mount points and mounts or unmounts filesystems
type Orchestrator struct {
	DirMode    os.FileMode
	MountsFile string

	sys syscalls
}

// New returns an orchestrator using the mount(2) family of syscalls
func New(dirMode os.FileMode) *Orchestrator {
	if dirMode == 0 {
		dirMode = DefaultDirMode
	}
	return &Orchestrator{
		DirMode:    dirMode,
		MountsFile: DefaultMountsFile,
		sys: syscalls{
			mount:   unix.Mount,
			unmount: unix.Unmount,
			sync:    unix.Sync,
		},
	}
}

// EnsureMountDirectory creates path if it does not exist
func (o *Orchestrator) EnsureMountDirectory(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("mount point %s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat mount point: %w", err)
	}

	if err := os.MkdirAll(path, o.DirMode); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	return nil
}

// Mount attaches device at mountPoint read-write with relatime
func (o *Orchestrator) Mount(device, mountPoint, fstype string) error {
	if err := o.sys.mount(device, mountPoint, fstype, unix.MS_RELATIME, ""); err != nil {
		return fmt.Errorf("mount %s on %s as %s failed: %w", device, mountPoint, fstype, err)
	}
	return nil
}

// FlushAndUnmount syncs all filesystems and detaches mountPoint
func (o *Orchestrator) FlushAndUnmount(mountPoint string) error {
	o.sys.sync()

	if err := o.sys.unmount(mountPoint, 0); err != nil {
		switch {
		case errors.Is(err, unix.EBUSY):
			return fmt.Errorf("%w: %s", ErrBusy, mountPoint)
		case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOENT):
			return fmt.Errorf("%w: %s", ErrNotMounted, mountPoint)
		default:
			return fmt.Errorf("unmount %s failed: %w", mountPoint, err)
		}
	}
	return nil
}

// IsMounted reports whether mountPoint appears in the mount table. The kernel
// lists resolved paths so a symlinked mount point is resolved before matching
func (o *Orchestrator) IsMounted(mountPoint string) (bool, error) {
	file, err := os.Open(o.MountsFile)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", o.MountsFile, err)
	}
	defer func() { _ = file.Close() }()

	target := filepath.Clean(mountPoint)
	resolved := target
	if r, err := filepath.EvalSymlinks(target); err == nil {
		resolved = r
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if field := unescapeMountField(fields[1]); field == target || field == resolved {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("error reading %s: %w", o.MountsFile, err)
	}

	return false, nil
}

// unescapeMountField decodes the \ooo escapes the kernel uses for
// whitespace and backslashes in the mount table
func unescapeMountField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
