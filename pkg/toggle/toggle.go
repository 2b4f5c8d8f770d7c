// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package toggle flips an encrypted removable volume between its locked and
// unlocked-and-mounted states.
//
// The current state is derived from the presence of the mapping node on
// every call; nothing is persisted between runs. Concurrent runs against the
// same volume are not coordinated.
package toggle

import (
	"errors"

	"github.com/jeremyhahn/luks-usb/pkg/config"
	"github.com/jeremyhahn/luks-usb/pkg/mount"
	"github.com/jeremyhahn/luks-usb/pkg/secret"
)

// PassphrasePrompt is shown to the operator before reading the passphrase
const PassphrasePrompt = "Enter LUKS passphrase: "

// Resolver maps a stable identifier to a device node
type Resolver interface {
	Resolve(id string) (string, error)
}

// Engine opens encryption sessions
type Engine interface {
	// Open loads the container header of device.
	Open(device string) (Session, error)

	// OpenByName attaches to an active mapping.
	OpenByName(name string) (Session, error)
}

// Session is an open encryption context. Close must be called once on
// every path after a successful Open
type Session interface {
	Device() string
	UUID() string
	Activate(name string, passphrase []byte) error
	Deactivate(name string) error
	Close() error
}

// Prompter reads a passphrase into a caller-owned buffer
type Prompter interface {
	ReadPassphrase(prompt string, buf *secret.Buffer) error
}

// Mounter creates mount points and attaches or detaches filesystems
type Mounter interface {
	EnsureMountDirectory(path string) error
	Mount(device, mountPoint, fstype string) error
	FlushAndUnmount(mountPoint string) error
	IsMounted(mountPoint string) (bool, error)
}

// Inspector reports whether the volume is currently unlocked
type Inspector interface {
	IsUnlocked() bool
}

// Logger receives operator messages
type Logger interface {
	Info(format string, args ...interface{})
	Success(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

// Dependencies are the capabilities a Controller drives
type Dependencies struct {
	Resolver  Resolver
	Engine    Engine
	Prompter  Prompter
	Mounter   Mounter
	Inspector Inspector
	Logger    Logger
}

// Outcome is the result of a successful run
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeUnlocked
	OutcomeLocked
	OutcomeAlreadyUnlocked
	OutcomeAlreadyLocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnlocked:
		return "unlocked"
	case OutcomeLocked:
		return "locked"
	case OutcomeAlreadyUnlocked:
		return "already unlocked"
	case OutcomeAlreadyLocked:
		return "already locked"
	default:
		return "none"
	}
}

// Controller runs the lock and unlock pipelines for one volume
type Controller struct {
	vol  config.Volume
	deps Dependencies
	log  Logger
}

// New returns a controller for vol
func New(vol config.Volume, deps Dependencies) *Controller {
	return &Controller{vol: vol, deps: deps, log: deps.Logger}
}

// Toggle locks an unlocked volume or unlocks a locked one. Exactly one of
// the two pipelines runs
func (c *Controller) Toggle() (Outcome, error) {
	if c.deps.Inspector.IsUnlocked() {
		c.log.Info("Partition is already unlocked. Locking it now...")
		return c.lock()
	}
	c.log.Info("Partition is locked. Unlocking now...")
	return c.unlock()
}

// Lock locks the volume unless it is already locked
func (c *Controller) Lock() (Outcome, error) {
	if !c.deps.Inspector.IsUnlocked() {
		c.log.Info("LUKS partition is already locked.")
		return OutcomeAlreadyLocked, nil
	}
	return c.lock()
}

// Unlock unlocks and mounts the volume unless it is already unlocked
func (c *Controller) Unlock() (Outcome, error) {
	if c.deps.Inspector.IsUnlocked() {
		c.log.Info("LUKS partition is already unlocked.")
		return OutcomeAlreadyUnlocked, nil
	}
	return c.unlock()
}

// unlock resolves the container, activates the mapping and mounts it. A
// failed mount leaves the mapping active
func (c *Controller) unlock() (Outcome, error) {
	device, err := c.deps.Resolver.Resolve(c.vol.ContainerUUID)
	if err != nil {
		return OutcomeNone, &Error{Kind: KindDeviceNotFound, Op: "resolve", Err: err}
	}
	c.log.Debug("LUKS device %s found at %s", c.vol.ContainerUUID, device)

	if err := c.activate(device); err != nil {
		return OutcomeNone, err
	}
	c.log.Debug("Mapping %s created", c.vol.MapperName)

	if err := c.deps.Mounter.EnsureMountDirectory(c.vol.MountPoint); err != nil {
		c.log.Warning("Volume remains unlocked at %s", c.vol.MappedDevice())
		return OutcomeNone, &Error{Kind: KindMount, Op: "mkdir", Err: err}
	}

	if err := c.deps.Mounter.Mount(c.vol.MappedDevice(), c.vol.MountPoint, c.vol.Filesystem); err != nil {
		c.log.Warning("Volume remains unlocked at %s", c.vol.MappedDevice())
		return OutcomeNone, &Error{Kind: KindMount, Op: "mount", Err: err}
	}

	c.log.Success("USB unlocked and mounted at %s", c.vol.MountPoint)
	return OutcomeUnlocked, nil
}

// activate opens the container, reads the passphrase and creates the
// mapping. The session is closed and the passphrase wiped before it
// returns
func (c *Controller) activate(device string) error {
	session, err := c.deps.Engine.Open(device)
	if err != nil {
		return &Error{Kind: KindCryptoInit, Op: "open", Err: err}
	}
	defer c.closeSession(session)
	c.log.Debug("Opened container %s (UUID %s)", session.Device(), session.UUID())

	buf := secret.NewBuffer(c.vol.MaxPassphraseLength)
	defer buf.Wipe()

	if err := c.deps.Prompter.ReadPassphrase(PassphrasePrompt, buf); err != nil {
		if errors.Is(err, secret.ErrTerminalConfig) {
			return &Error{Kind: KindTerminalConfig, Op: "prompt", Err: err}
		}
		return &Error{Kind: KindInputRead, Op: "prompt", Err: err}
	}

	err = session.Activate(c.vol.MapperName, buf.Bytes())
	buf.Wipe()
	if err != nil {
		return &Error{Kind: KindWrongPassphrase, Op: "activate", Err: err}
	}
	return nil
}

// lock flushes, unmounts and removes the mapping. A mount point the kernel
// reports as not mounted is skipped so a volume left unmounted by a failed
// unlock can still be locked
func (c *Controller) lock() (Outcome, error) {
	c.log.Info("Flushing write buffers...")

	if err := c.deps.Mounter.FlushAndUnmount(c.vol.MountPoint); err != nil {
		if !errors.Is(err, mount.ErrNotMounted) {
			return OutcomeNone, &Error{Kind: KindUnmount, Op: "unmount", Err: err}
		}
		c.log.Warning("%s is not mounted, skipping unmount", c.vol.MountPoint)
	}

	session, err := c.deps.Engine.OpenByName(c.vol.MapperName)
	if err != nil {
		return OutcomeNone, &Error{Kind: KindCryptoInit, Op: "open", Err: err}
	}
	defer c.closeSession(session)

	if err := session.Deactivate(c.vol.MapperName); err != nil {
		return OutcomeNone, &Error{Kind: KindStillInUse, Op: "deactivate", Err: err}
	}

	c.log.Success("USB locked and unmounted successfully.")
	return OutcomeLocked, nil
}

func (c *Controller) closeSession(s Session) {
	if err := s.Close(); err != nil {
		c.log.Warning("Failed to release LUKS context: %v", err)
	}
}
