// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !integration

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Volume != Default() {
		t.Errorf("Volume = %+v, want %+v", s.Volume, Default())
	}
	if s.PauseOnExit || s.PassphraseStdin {
		t.Error("flags should default to false")
	}
	if s.ExitCodes != ExitCodesZero {
		t.Errorf("ExitCodes = %q, want %q", s.ExitCodes, ExitCodesZero)
	}
	if got := s.Volume.MappedDevice(); got != "/dev/mapper/encrypted_usb" {
		t.Errorf("MappedDevice() = %q, want /dev/mapper/encrypted_usb", got)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
container_uuid: 11111111-2222-3333-4444-555555555555
mapper_name: backup_disk
mount_point: /srv/backup
filesystem: ext4
max_passphrase_length: 512
mount_mode: "0700"
pause_on_exit: true
exit_codes: per-kind
`)

	s, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	v := s.Volume
	if v.ContainerUUID != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("ContainerUUID = %q", v.ContainerUUID)
	}
	if v.FilesystemUUID != DefaultFilesystemUUID {
		t.Errorf("FilesystemUUID = %q, want default", v.FilesystemUUID)
	}
	if v.MapperName != "backup_disk" || v.MountPoint != "/srv/backup" || v.Filesystem != "ext4" {
		t.Errorf("Volume = %+v", v)
	}
	if v.MaxPassphraseLength != 512 {
		t.Errorf("MaxPassphraseLength = %d, want 512", v.MaxPassphraseLength)
	}
	if v.MountMode != 0700 {
		t.Errorf("MountMode = %#o, want 0700", v.MountMode)
	}
	if !s.PauseOnExit || s.ExitCodes != ExitCodesPerKind {
		t.Errorf("Settings = %+v", s)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "mapper_name: from_file\nfilesystem: ext4\n")
	t.Setenv("LUKS_USB_MAPPER_NAME", "from_env")
	t.Setenv("LUKS_USB_PASSPHRASE_STDIN", "true")

	s, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Volume.MapperName != "from_env" {
		t.Errorf("MapperName = %q, want from_env", s.Volume.MapperName)
	}
	if s.Volume.Filesystem != "ext4" {
		t.Errorf("Filesystem = %q, want ext4 from file", s.Volume.Filesystem)
	}
	if !s.PassphraseStdin {
		t.Error("PassphraseStdin should be set from the environment")
	}
}

func TestLoad_FlagOverridesEnvironment(t *testing.T) {
	t.Setenv("LUKS_USB_PAUSE_ON_EXIT", "false")
	v := NewViper()
	v.Set(KeyPauseOnExit, true)

	s, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !s.PauseOnExit {
		t.Error("explicitly set value should win over the environment")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty container uuid", content: "container_uuid: \"\"\n"},
		{name: "empty filesystem", content: "filesystem: \"  \"\n"},
		{name: "mapper name with slash", content: "mapper_name: a/b\n"},
		{name: "relative mount point", content: "mount_point: mnt/usb\n"},
		{name: "zero passphrase length", content: "max_passphrase_length: 0\n"},
		{name: "huge passphrase length", content: "max_passphrase_length: 100000\n"},
		{name: "bad mount mode", content: "mount_mode: rwx\n"},
		{name: "mount mode with type bits", content: "mount_mode: \"040755\"\n"},
		{name: "unknown exit code policy", content: "exit_codes: sometimes\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(NewViper(), writeConfig(t, tt.content))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(NewViper(), "/nonexistent/config.yaml"); err == nil {
		t.Error("Load() should fail for an explicit missing file")
	}
}

func TestConfigFile(t *testing.T) {
	if got := ConfigFile("/tmp/x.yaml"); got != "/tmp/x.yaml" {
		t.Errorf("ConfigFile() = %q, want explicit path", got)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    os.FileMode
		wantErr bool
	}{
		{input: "0755", want: 0755},
		{input: "0o700", want: 0700},
		{input: "493", want: 0755},
		{input: " 0750 ", want: 0750},
		{input: "", wantErr: true},
		{input: "-1", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseMode(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMode(%q) = %#o, want %#o", tt.input, got, tt.want)
		}
	}
}
