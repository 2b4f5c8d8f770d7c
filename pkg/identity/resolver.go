// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package identity maps stable filesystem and container identifiers to the
// block device node that currently carries them.
package identity

import (
	"errors"
	"fmt"
)

// DefaultProperty is the udev property holding a filesystem or LUKS UUID
const DefaultProperty = "ID_FS_UUID"

// ErrDeviceNotFound indicates no attached device reports the identifier
var ErrDeviceNotFound = errors.New("device not found")

// Device describes one block device as reported by a Registry
type Device struct {
	Name       string            // registry handle, e.g. "sdb1"
	Node       string            // device node, e.g. "/dev/sdb1"
	Properties map[string]string // udev-style properties
}

// Registry enumerates the block devices known to the OS
type Registry interface {
	// List returns a handle for every registered block device.
	List() ([]string, error)

	// Device loads the metadata of one device. An error means the metadata
	// is not available right now.
	Device(handle string) (*Device, error)
}

// Resolver looks devices up by a stable identifier
type Resolver struct {
	Registry Registry
	Property string
}

// NewResolver returns a Resolver matching on property (DefaultProperty when empty)
func NewResolver(registry Registry, property string) *Resolver {
	if property == "" {
		property = DefaultProperty
	}
	return &Resolver{Registry: registry, Property: property}
}

// Resolve returns the device node of the first device whose identity
// property equals id.
//
// Devices are visited in registry order and the first match wins; several
// devices sharing an identifier are not disambiguated. Devices whose
// metadata cannot be loaded are skipped
func (r *Resolver) Resolve(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrDeviceNotFound)
	}

	handles, err := r.Registry.List()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate block devices: %w", err)
	}

	for _, h := range handles {
		dev, err := r.Registry.Device(h)
		if err != nil || dev == nil {
			continue
		}
		if dev.Node != "" && dev.Properties[r.Property] == id {
			return dev.Node, nil
		}
	}

	return "", fmt.Errorf("%w: no device with %s=%s", ErrDeviceNotFound, r.Property, id)
}
