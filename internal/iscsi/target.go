// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package iscsi

import (
	"fmt"
	"strings"

	clog "github.com/charmbracelet/log"

	"github.com/toeirei/iscsictl/internal/configedit"
	"github.com/toeirei/iscsictl/internal/logging"
)

// Target defaults for the iscsitarget (IET) stack.
const (
	DefaultIQNPrefix     = "iqn.2015-01.qa.cloud.suse.de"
	DefaultTargetPackage = "iscsitarget"
	DefaultTargetService = "iscsitarget"
	DefaultTargetConfig  = "/etc/ietd.conf"
	DefaultBootScript    = "/etc/rc.d/boot.local"
	DefaultVolumeTable   = "/proc/net/iet/volume"
	DefaultDevice        = "/dev/loop0"
	DefaultID            = "id01"
	DefaultSizeMB        = 1
)

// DefaultBackingPath is where a loop device's file goes when none is given.
func DefaultBackingPath(id string) string {
	return "/tmp/" + id + "-iscsi.loop"
}

// TargetConfig describes one exported volume. Empty fields take the
// Default* values.
type TargetConfig struct {
	Device      string
	BackingPath string
	ID          string
	SizeMB      int
	Chap        Credentials

	Package     string
	Service     string
	ConfigPath  string
	BootScript  string
	VolumeTable string
	IQNPrefix   string
}

func (c TargetConfig) withDefaults() TargetConfig {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.ID == "" {
		c.ID = DefaultID
	}
	if c.SizeMB == 0 {
		c.SizeMB = DefaultSizeMB
	}
	c.Chap = c.Chap.orDefault()
	if c.Package == "" {
		c.Package = DefaultTargetPackage
	}
	if c.Service == "" {
		c.Service = DefaultTargetService
	}
	if c.ConfigPath == "" {
		c.ConfigPath = DefaultTargetConfig
	}
	if c.BootScript == "" {
		c.BootScript = DefaultBootScript
	}
	if c.VolumeTable == "" {
		c.VolumeTable = DefaultVolumeTable
	}
	if c.IQNPrefix == "" {
		c.IQNPrefix = DefaultIQNPrefix
	}
	return c
}

// IQN returns the qualified name for id under prefix.
func IQN(prefix, id string) string {
	return prefix + ":" + id
}

// Target exports a block device over iSCSI. It is single-use.
type Target struct {
	host      Host
	cfg       TargetConfig
	installer *Installer
	services  ServiceManager
	editor    *configedit.Editor
	loops     *LoopManager
	log       *clog.Logger
	deployed  bool
}

// NewTarget prepares a target deployment on host.
func NewTarget(host Host, services ServiceManager, cfg TargetConfig) *Target {
	cfg = cfg.withDefaults()
	return &Target{
		host:      host,
		cfg:       cfg,
		installer: NewInstaller(host),
		services:  services,
		editor:    configedit.New(host),
		loops:     NewLoopManager(host),
		log:       logging.With("role", "target", "iqn", IQN(cfg.IQNPrefix, cfg.ID)),
	}
}

// IQN returns the name this target exports.
func (t *Target) IQN() string { return IQN(t.cfg.IQNPrefix, t.cfg.ID) }

// Config returns the effective configuration.
func (t *Target) Config() TargetConfig { return t.cfg }

// ConfigLines are the lines the target adds to the IET configuration.
func (t *Target) ConfigLines() []string {
	return []string{
		fmt.Sprintf("IncomingUser %s %s", t.cfg.Chap.Username, t.cfg.Chap.Password),
		"Target " + t.IQN(),
		"\tLun 0 Path=" + t.cfg.Device,
	}
}

// Deploy installs the target stack, prepares the device, exports it,
// persists it across reboots and checks that the volume is visible.
func (t *Target) Deploy() error {
	if t.deployed {
		return ErrAlreadyDeployed
	}
	t.deployed = true

	loop := IsLoopDevice(t.cfg.Device)
	if loop && t.cfg.BackingPath == "" {
		return &ConfigurationError{Reason: "a backing path is required for loop device " + t.cfg.Device}
	}

	return runSteps(t.log, []step{
		{"install package", func() error { return t.installer.Install(t.cfg.Package) }},
		{"prepare loop device", func() error {
			if !loop {
				return nil
			}
			return t.loops.Create(t.cfg.Device, t.cfg.BackingPath, t.cfg.SizeMB)
		}},
		{"configure target", func() error { return t.editor.Append(t.cfg.ConfigPath, t.ConfigLines()...) }},
		{"start service", t.startService},
		{"persist boot script", func() error { return t.persistBoot(loop) }},
		{"verify export", t.verify},
	})
}

func (t *Target) startService() error {
	if err := t.services.Enable(t.cfg.Service); err != nil {
		return err
	}
	return t.services.Restart(t.cfg.Service)
}

// persistBoot keeps exactly one restart line at the end of the boot script,
// after the loop re-bind line.
func (t *Target) persistBoot(loop bool) error {
	restart := t.services.RestartCommand(t.cfg.Service)
	if err := t.editor.Remove(t.cfg.BootScript, restart); err != nil {
		return err
	}
	var lines []string
	if loop {
		lines = append(lines, fmt.Sprintf("losetup %s %s", t.cfg.Device, t.cfg.BackingPath))
	}
	lines = append(lines, restart)
	return t.editor.Append(t.cfg.BootScript, lines...)
}

func (t *Target) verify() error {
	out, err := t.host.Execute("cat", t.cfg.VolumeTable)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", t.cfg.VolumeTable, err)
	}
	if !strings.Contains(out, t.IQN()) {
		return &DeploymentVerificationError{IQN: t.IQN(), Output: out}
	}
	t.log.Info("volume exported")
	return nil
}
