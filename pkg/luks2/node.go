// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package luks2

import (
	"os"
	"path/filepath"
)

// Inspector reports whether a mapping is active by looking for its node.
// Every call checks afresh
type Inspector struct {
	MapperDir string
	Name      string
}

// NewInspector returns an inspector for mapping name under mapperDir
func NewInspector(mapperDir, name string) *Inspector {
	if mapperDir == "" {
		mapperDir = DefaultMapperDir
	}
	return &Inspector{MapperDir: mapperDir, Name: name}
}

// Path returns the mapped device node
func (i *Inspector) Path() string {
	return filepath.Join(i.MapperDir, i.Name)
}

// IsUnlocked reports whether the mapped device node exists. Any stat
// failure counts as locked
func (i *Inspector) IsUnlocked() bool {
	_, err := os.Stat(i.Path())
	return err == nil
}
