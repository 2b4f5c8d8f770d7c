// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/jeremyhahn/luks-usb/pkg/config"
	"github.com/jeremyhahn/luks-usb/pkg/identity"
	"github.com/jeremyhahn/luks-usb/pkg/luks2"
	"github.com/jeremyhahn/luks-usb/pkg/mount"
	"github.com/jeremyhahn/luks-usb/pkg/secret"
	"github.com/jeremyhahn/luks-usb/pkg/toggle"
	"github.com/jeremyhahn/luks-usb/pkg/ui"
)

// engineAdapter exposes *luks2.Engine through the toggle.Engine interface
type engineAdapter struct {
	engine *luks2.Engine
}

func (a engineAdapter) Open(device string) (toggle.Session, error) {
	s, err := a.engine.Open(device)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a engineAdapter) OpenByName(name string) (toggle.Session, error) {
	s, err := a.engine.OpenByName(name)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// wireSystem builds the production dependencies for settings
func wireSystem(settings config.Settings, logger *ui.Logger) toggle.Dependencies {
	vol := settings.Volume

	registry := identity.NewUdevRegistry(luks2.ProbeUUID)

	prompter := &secret.Prompter{In: os.Stdin, Out: os.Stdout}
	if !settings.PassphraseStdin {
		prompter.Terminal = secret.NewTTY(os.Stdin)
	}

	return toggle.Dependencies{
		Resolver:  identity.NewResolver(registry, vol.IdentityProperty),
		Engine:    engineAdapter{engine: luks2.NewEngine(vol.MapperDir)},
		Prompter:  prompter,
		Mounter:   mount.New(vol.MountMode),
		Inspector: luks2.NewInspector(vol.MapperDir, vol.MapperName),
		Logger:    logger,
	}
}
