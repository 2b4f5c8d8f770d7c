// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/luks-usb/pkg/config"
	"github.com/jeremyhahn/luks-usb/pkg/toggle"
	"github.com/jeremyhahn/luks-usb/pkg/ui"
)

// ExitUsage is returned for usage and configuration errors
const ExitUsage = 2

// App is the luks-usb command-line application
type App struct {
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// IsRoot reports whether the process may change device state
	IsRoot func() bool

	// Wire builds the controller dependencies once settings are loaded
	Wire func(config.Settings, *ui.Logger) toggle.Dependencies

	configFile      string
	verbose         bool
	quiet           bool
	noColor         bool
	pause           bool
	passphraseStdin bool
	jsonOutput      bool

	settings config.Settings
	logger   *ui.Logger
}

// NewApp creates an App bound to the process environment
func NewApp() *App {
	return &App{
		Args:   os.Args[1:],
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		IsRoot: func() bool { return os.Geteuid() == 0 },
		Wire:   wireSystem,
	}
}

// Execute runs the command line and returns the process exit status
func (a *App) Execute() int {
	root := a.newRootCommand()
	root.SetArgs(a.Args)
	root.SetIn(a.Stdin)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)

	code := a.exitCode(root.Execute())

	if a.pause || a.settings.PauseOnExit {
		ui.WaitForEnter(a.Stdin, a.Stdout)
	}
	return code
}

func (a *App) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "luks-usb",
		Short: "Toggle a LUKS2 encrypted USB partition",
		Long: `luks-usb locks the configured USB partition when it is unlocked, and
unlocks and mounts it when it is locked.

Run without a subcommand to toggle. Requires root privileges.`,
		Version:           Version,
		Args:              cobra.NoArgs,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.loadSettings,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.transition((*toggle.Controller).Toggle)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Config file (default "+config.DefaultConfigFile+" if present)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Quiet mode (suppress non-error output)")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable color output")
	flags.BoolVar(&a.pause, "pause", false, "Wait for ENTER before exiting")
	flags.BoolVar(&a.passphraseStdin, "passphrase-stdin", false, "Read the passphrase from a non-terminal stdin")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return err
	})
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		a.newLockCommand(),
		a.newUnlockCommand(),
		a.newStatusCommand(),
		a.newVersionCommand(),
	)
	return root
}

func (a *App) newLockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Unmount and lock the partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.transition((*toggle.Controller).Lock)
		},
	}
}

func (a *App) newUnlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Unlock and mount the partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.transition((*toggle.Controller).Unlock)
		},
	}
}

func (a *App) newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the partition is locked or unlocked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.status(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&a.jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "luks-usb version %s\n", Version)
		},
	}
}

// loadSettings creates the logger and resolves the configuration from
// defaults, config file, environment and flags
func (a *App) loadSettings(cmd *cobra.Command, args []string) error {
	a.logger = ui.NewLoggerTo(a.Stdout, a.Stderr, a.verbose, a.quiet, a.noColor)

	v := config.NewViper()
	if err := bindFlags(v, cmd.Root().PersistentFlags()); err != nil {
		return &usageError{err}
	}

	path := config.ConfigFile(a.configFile)
	settings, err := config.Load(v, path)
	if err != nil {
		return &usageError{err}
	}
	a.settings = settings

	if path != "" {
		a.logger.Debug("Loaded configuration from %s", path)
	}
	return nil
}

// transition runs one controller pipeline
func (a *App) transition(run func(*toggle.Controller) (toggle.Outcome, error)) error {
	if !a.IsRoot() {
		return &usageError{errors.New("this command must be run as root (try with sudo)")}
	}

	ctrl := toggle.New(a.settings.Volume, a.Wire(a.settings, a.logger))
	outcome, err := run(ctrl)
	if err != nil {
		return err
	}
	a.logger.Debug("Outcome: %s", outcome)
	return nil
}

func (a *App) status(w io.Writer) error {
	ctrl := toggle.New(a.settings.Volume, a.Wire(a.settings, a.logger))
	s := ctrl.Status()

	if a.jsonOutput {
		return ui.PrintJSON(w, s)
	}

	table := ui.NewTable()
	table.AddRow("State", s.State())
	table.AddRow("Container UUID", s.ContainerUUID)
	table.AddRow("Container device", orNone(s.ContainerDevice))
	table.AddRow("Mapped device", s.MappedDevice)
	table.AddRow("Mount point", s.MountPoint)
	table.AddRow("Mounted", fmt.Sprintf("%t", s.Mounted))
	table.AddRow("Filesystem UUID", s.FilesystemUUID)
	table.AddRow("Filesystem device", orNone(s.FilesystemDevice))
	table.Print(w)
	return nil
}

// exitCode reports err and maps it to a process exit status. Pipeline
// failures follow the configured exit code policy; anything else happened
// before a transition and is a usage error
func (a *App) exitCode(err error) int {
	if err == nil {
		return 0
	}

	logger := a.logger
	if logger == nil {
		logger = ui.NewLoggerTo(a.Stdout, a.Stderr, false, false, a.noColor)
	}
	logger.Error("%v", err)

	var pipelineErr *toggle.Error
	if !errors.As(err, &pipelineErr) {
		return ExitUsage
	}
	if a.settings.ExitCodes == config.ExitCodesPerKind {
		return toggle.ExitCode(err)
	}
	return 0
}

// usageError marks failures detected before any device state is touched
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// bindFlags makes explicitly set flags override the config file and
// environment
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range map[string]string{
		config.KeyPauseOnExit:     "pause",
		config.KeyPassphraseStdin: "passphrase-stdin",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
