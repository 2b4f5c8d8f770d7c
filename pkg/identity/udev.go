// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default locations of the kernel and udev device registries
const (
	DefaultSysBlockDir = "/sys/class/block"
	DefaultUdevDataDir = "/run/udev/data"
	DefaultDevDir      = "/dev"
)

// ProbeFunc reads identity properties straight from a device node. It is
// consulted only for devices udev has no record of
type ProbeFunc func(node string) (map[string]string, error)

// UdevRegistry enumerates block devices from sysfs and reads their
// properties from the udev database
type UdevRegistry struct {
	SysBlockDir string
	UdevDataDir string
	DevDir      string
	Probe       ProbeFunc
}

// NewUdevRegistry returns a registry rooted at the standard system paths
func NewUdevRegistry(probe ProbeFunc) *UdevRegistry {
	return &UdevRegistry{
		SysBlockDir: DefaultSysBlockDir,
		UdevDataDir: DefaultUdevDataDir,
		DevDir:      DefaultDevDir,
		Probe:       probe,
	}
}

// List returns the sysfs names of all block devices, sorted by name
func (u *UdevRegistry) List() ([]string, error) {
	entries, err := os.ReadDir(u.SysBlockDir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Device loads the uevent and udev record of one block device
func (u *UdevRegistry) Device(name string) (*Device, error) {
	uevent, err := readKeyValues(filepath.Join(u.SysBlockDir, name, "uevent"), "")
	if err != nil {
		return nil, err
	}

	devName := uevent["DEVNAME"]
	major, minor := uevent["MAJOR"], uevent["MINOR"]
	if devName == "" || major == "" || minor == "" {
		return nil, fmt.Errorf("incomplete uevent for %s", name)
	}
	node := filepath.Join(u.DevDir, devName)

	record := filepath.Join(u.UdevDataDir, fmt.Sprintf("b%s:%s", major, minor))
	props, err := readKeyValues(record, "E:")
	if err != nil {
		if !os.IsNotExist(err) || u.Probe == nil {
			return nil, err
		}
		props, err = u.Probe(node)
		if err != nil {
			return nil, err
		}
	}

	return &Device{Name: name, Node: node, Properties: props}, nil
}

// readKeyValues parses KEY=VALUE lines, keeping only those with prefix
// (which is stripped)
func readKeyValues(path, prefix string) (map[string]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- sysfs and udev database paths
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		key, value, ok := strings.Cut(line[len(prefix):], "=")
		if !ok || key == "" {
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	return values, nil
}
