// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package config holds the identity of the managed volume and the startup
// settings of the command.
//
// Values come from built-in defaults, an optional YAML file, LUKS_USB_*
// environment variables and command line flags, in increasing precedence.
// They are loaded once and then passed around by value.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Built-in volume identity
const (
	DefaultContainerUUID  = "b472bee4-4c67-4103-b491-c1b3e869cb81"
	DefaultFilesystemUUID = "ada0de09-6103-4216-93f5-c6a7b02f3248"
	DefaultMapperName     = "encrypted_usb"
	DefaultMountPoint     = "/mnt/encrypted_usb"
	DefaultFilesystem     = "xfs"
)

const (
	DefaultMaxPassphraseLength = 256
	MaxPassphraseLimit         = 8192
	DefaultIdentityProperty    = "ID_FS_UUID"
	DefaultMapperDir           = "/dev/mapper"
	DefaultMountMode           = os.FileMode(0755)
	DefaultConfigFile          = "/etc/luks-usb/config.yaml"
	EnvPrefix                  = "LUKS_USB"
)

// Configuration keys
const (
	KeyContainerUUID       = "container_uuid"
	KeyFilesystemUUID      = "filesystem_uuid"
	KeyMapperName          = "mapper_name"
	KeyMountPoint          = "mount_point"
	KeyFilesystem          = "filesystem"
	KeyMaxPassphraseLength = "max_passphrase_length"
	KeyIdentityProperty    = "identity_property"
	KeyMapperDir           = "mapper_dir"
	KeyMountMode           = "mount_mode"
	KeyPauseOnExit         = "pause_on_exit"
	KeyExitCodes           = "exit_codes"
	KeyPassphraseStdin     = "passphrase_stdin"
)

// ExitCodePolicy selects how transition failures map to the process exit code
type ExitCodePolicy string

const (
	ExitCodesZero    ExitCodePolicy = "zero"
	ExitCodesPerKind ExitCodePolicy = "per-kind"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Volume identifies the managed container, its mapping and its mount
type Volume struct {
	ContainerUUID       string
	FilesystemUUID      string
	MapperName          string
	MountPoint          string
	Filesystem          string
	MaxPassphraseLength int
	IdentityProperty    string
	MapperDir           string
	MountMode           os.FileMode
}

// Default returns the built-in volume identity
func Default() Volume {
	return Volume{
		ContainerUUID:       DefaultContainerUUID,
		FilesystemUUID:      DefaultFilesystemUUID,
		MapperName:          DefaultMapperName,
		MountPoint:          DefaultMountPoint,
		Filesystem:          DefaultFilesystem,
		MaxPassphraseLength: DefaultMaxPassphraseLength,
		IdentityProperty:    DefaultIdentityProperty,
		MapperDir:           DefaultMapperDir,
		MountMode:           DefaultMountMode,
	}
}

// MappedDevice returns the node of the decrypted device
func (v Volume) MappedDevice() string {
	return filepath.Join(v.MapperDir, v.MapperName)
}

// Validate checks that every field is usable. Identifiers are compared
// verbatim and never parsed
func (v Volume) Validate() error {
	required := []struct{ key, value string }{
		{KeyContainerUUID, v.ContainerUUID},
		{KeyFilesystemUUID, v.FilesystemUUID},
		{KeyMapperName, v.MapperName},
		{KeyMountPoint, v.MountPoint},
		{KeyFilesystem, v.Filesystem},
		{KeyIdentityProperty, v.IdentityProperty},
		{KeyMapperDir, v.MapperDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalid, r.key)
		}
	}

	if strings.ContainsRune(v.MapperName, '/') || v.MapperName == "." || v.MapperName == ".." {
		return fmt.Errorf("%w: %s %q is not a valid mapping name", ErrInvalid, KeyMapperName, v.MapperName)
	}
	if !filepath.IsAbs(v.MountPoint) {
		return fmt.Errorf("%w: %s %q must be absolute", ErrInvalid, KeyMountPoint, v.MountPoint)
	}
	if !filepath.IsAbs(v.MapperDir) {
		return fmt.Errorf("%w: %s %q must be absolute", ErrInvalid, KeyMapperDir, v.MapperDir)
	}
	if v.MaxPassphraseLength < 1 || v.MaxPassphraseLength > MaxPassphraseLimit {
		return fmt.Errorf("%w: %s must be between 1 and %d", ErrInvalid, KeyMaxPassphraseLength, MaxPassphraseLimit)
	}
	if v.MountMode&^os.ModePerm != 0 {
		return fmt.Errorf("%w: %s %#o has bits outside the permission mask", ErrInvalid, KeyMountMode, uint32(v.MountMode))
	}

	return nil
}

// Settings is the complete startup configuration
type Settings struct {
	Volume          Volume
	PauseOnExit     bool
	ExitCodes       ExitCodePolicy
	PassphraseStdin bool
}

// NewViper returns a viper instance with defaults and environment binding
func NewViper() *viper.Viper {
	v := viper.New()

	d := Default()
	v.SetDefault(KeyContainerUUID, d.ContainerUUID)
	v.SetDefault(KeyFilesystemUUID, d.FilesystemUUID)
	v.SetDefault(KeyMapperName, d.MapperName)
	v.SetDefault(KeyMountPoint, d.MountPoint)
	v.SetDefault(KeyFilesystem, d.Filesystem)
	v.SetDefault(KeyMaxPassphraseLength, d.MaxPassphraseLength)
	v.SetDefault(KeyIdentityProperty, d.IdentityProperty)
	v.SetDefault(KeyMapperDir, d.MapperDir)
	v.SetDefault(KeyMountMode, "0755")
	v.SetDefault(KeyPauseOnExit, false)
	v.SetDefault(KeyExitCodes, string(ExitCodesZero))
	v.SetDefault(KeyPassphraseStdin, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return v
}

// ConfigFile returns explicit when set, otherwise DefaultConfigFile if it
// exists, otherwise ""
func ConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// Load reads the optional config file at path into v and returns the
// validated settings
func Load(v *viper.Viper, path string) (Settings, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	mode, err := parseMode(v.GetString(KeyMountMode))
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %s: %v", ErrInvalid, KeyMountMode, err)
	}

	s := Settings{
		Volume: Volume{
			ContainerUUID:       v.GetString(KeyContainerUUID),
			FilesystemUUID:      v.GetString(KeyFilesystemUUID),
			MapperName:          v.GetString(KeyMapperName),
			MountPoint:          v.GetString(KeyMountPoint),
			Filesystem:          v.GetString(KeyFilesystem),
			MaxPassphraseLength: v.GetInt(KeyMaxPassphraseLength),
			IdentityProperty:    v.GetString(KeyIdentityProperty),
			MapperDir:           v.GetString(KeyMapperDir),
			MountMode:           mode,
		},
		PauseOnExit:     v.GetBool(KeyPauseOnExit),
		ExitCodes:       ExitCodePolicy(v.GetString(KeyExitCodes)),
		PassphraseStdin: v.GetBool(KeyPassphraseStdin),
	}

	if err := s.Volume.Validate(); err != nil {
		return Settings{}, err
	}
	switch s.ExitCodes {
	case ExitCodesZero, ExitCodesPerKind:
	default:
		return Settings{}, fmt.Errorf("%w: %s must be %q or %q", ErrInvalid, KeyExitCodes, ExitCodesZero, ExitCodesPerKind)
	}

	return s, nil
}

// parseMode accepts octal with a leading zero ("0755") or the decimal value
// YAML produces for an unquoted octal literal
func parseMode(s string) (os.FileMode, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, err
	}
	return os.FileMode(n), nil
}
