// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package toggle

// Status is a read-only snapshot of the volume
type Status struct {
	Unlocked         bool   `json:"unlocked"`
	ContainerUUID    string `json:"container_uuid"`
	ContainerDevice  string `json:"container_device,omitempty"`
	MappedDevice     string `json:"mapped_device"`
	MountPoint       string `json:"mount_point"`
	Mounted          bool   `json:"mounted"`
	FilesystemUUID   string `json:"filesystem_uuid"`
	FilesystemDevice string `json:"filesystem_device,omitempty"`
}

// State returns "unlocked" or "locked"
func (s Status) State() string {
	if s.Unlocked {
		return "unlocked"
	}
	return "locked"
}

// Status inspects the volume without changing it. Lookups that fail are
// reported as empty fields
func (c *Controller) Status() Status {
	s := Status{
		Unlocked:       c.deps.Inspector.IsUnlocked(),
		ContainerUUID:  c.vol.ContainerUUID,
		MappedDevice:   c.vol.MappedDevice(),
		MountPoint:     c.vol.MountPoint,
		FilesystemUUID: c.vol.FilesystemUUID,
	}

	if device, err := c.deps.Resolver.Resolve(c.vol.ContainerUUID); err == nil {
		s.ContainerDevice = device
	} else {
		c.log.Debug("Container lookup: %v", err)
	}

	if device, err := c.deps.Resolver.Resolve(c.vol.FilesystemUUID); err == nil {
		s.FilesystemDevice = device
	} else {
		c.log.Debug("Filesystem lookup: %v", err)
	}

	if mounted, err := c.deps.Mounter.IsMounted(c.vol.MountPoint); err == nil {
		s.Mounted = mounted
	} else {
		c.log.Debug("Mount table: %v", err)
	}

	return s
}
