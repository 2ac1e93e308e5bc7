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

// Initiator defaults for open-iscsi.
const (
	DefaultInitiatorPackage = "open-iscsi"
	DefaultInitiatorService = "open-iscsi"
	DefaultInitiatorConfig  = "/etc/iscsid.conf"
)

// InitiatorConfig describes how to find and log in to one target. Empty
// fields take the Default* values.
type InitiatorConfig struct {
	TargetHost string
	ID         string
	Chap       Credentials

	Package    string
	Service    string
	ConfigPath string
}

func (c InitiatorConfig) withDefaults() InitiatorConfig {
	if c.ID == "" {
		c.ID = DefaultID
	}
	c.Chap = c.Chap.orDefault()
	if c.Package == "" {
		c.Package = DefaultInitiatorPackage
	}
	if c.Service == "" {
		c.Service = DefaultInitiatorService
	}
	if c.ConfigPath == "" {
		c.ConfigPath = DefaultInitiatorConfig
	}
	return c
}

// Discovered is one line of sendtargets discovery output.
type Discovered struct {
	Portal string
	Name   string
}

// ParseDiscovery reads "<portal>,<tpgt> <iqn>" lines. Lines that do not
// have exactly two fields are skipped.
func ParseDiscovery(out string) []Discovered {
	var found []Discovered
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		portal, _, _ := strings.Cut(fields[0], ",")
		found = append(found, Discovered{Portal: portal, Name: fields[1]})
	}
	return found
}

// Initiator connects a host to a target. It is single-use.
type Initiator struct {
	host      Host
	cfg       InitiatorConfig
	installer *Installer
	services  ServiceManager
	editor    *configedit.Editor
	log       *clog.Logger
	deployed  bool
	loggedIn  bool

	name   string
	portal string
}

// NewInitiator prepares an initiator deployment on host.
func NewInitiator(host Host, services ServiceManager, cfg InitiatorConfig) *Initiator {
	cfg = cfg.withDefaults()
	return &Initiator{
		host:      host,
		cfg:       cfg,
		installer: NewInstaller(host),
		services:  services,
		editor:    configedit.New(host),
		log:       logging.With("role", "initiator", "target", cfg.TargetHost),
	}
}

// Name returns the resolved target name, or "" before discovery.
func (i *Initiator) Name() string { return i.name }

// Portal returns the resolved portal, or "" before discovery.
func (i *Initiator) Portal() string { return i.portal }

// ConfigLines are the lines the initiator adds to the open-iscsi
// configuration.
func (i *Initiator) ConfigLines() []string {
	c := i.cfg.Chap
	return []string{
		"node.startup = automatic",
		"node.session.auth.authmethod = CHAP",
		"node.session.auth.username = " + c.Username,
		"node.session.auth.password = " + c.Password,
		"discovery.sendtargets.auth.authmethod = CHAP",
		"discovery.sendtargets.auth.username = " + c.Username,
		"discovery.sendtargets.auth.password = " + c.Password,
	}
}

// Deploy installs open-iscsi, configures CHAP, discovers the target and
// logs in. The session is not checked after login.
func (i *Initiator) Deploy() error {
	if i.deployed {
		return ErrAlreadyDeployed
	}
	i.deployed = true
	if i.cfg.TargetHost == "" {
		return &ConfigurationError{Reason: "a target host is required"}
	}

	return runSteps(i.log, []step{
		{"install package", func() error { return i.installer.Install(i.cfg.Package) }},
		{"configure initiator", func() error { return i.editor.Append(i.cfg.ConfigPath, i.ConfigLines()...) }},
		{"start service", func() error {
			if err := i.services.Enable(i.cfg.Service); err != nil {
				return err
			}
			return i.services.Restart(i.cfg.Service)
		}},
		{"discover target", func() error {
			_, err := i.Resolve()
			return err
		}},
		{"log in", func() error {
			if err := i.node("--login"); err != nil {
				return err
			}
			i.loggedIn = true
			return nil
		}},
	})
}

// Resolve runs discovery against the target host and remembers the first
// target whose name contains the configured id.
func (i *Initiator) Resolve() (string, error) {
	if i.cfg.TargetHost == "" {
		return "", &ConfigurationError{Reason: "a target host is required"}
	}
	out, err := i.host.Execute("iscsiadm", "-m", "discovery", "--type=st", "--portal="+i.cfg.TargetHost)
	if err != nil {
		return "", fmt.Errorf("discovery on %s failed: %w", i.cfg.TargetHost, err)
	}
	for _, d := range ParseDiscovery(out) {
		if strings.Contains(d.Name, i.cfg.ID) {
			i.name, i.portal = d.Name, d.Portal
			i.log.Info("target resolved", "name", d.Name, "portal", d.Portal)
			return d.Name, nil
		}
	}
	return "", &TargetNotFoundError{ID: i.cfg.ID, Portal: i.cfg.TargetHost, Output: out}
}

// Attach resolves the target of a session that an earlier run logged in,
// so Logout can end it.
func (i *Initiator) Attach() (string, error) {
	name, err := i.Resolve()
	if err != nil {
		return "", err
	}
	i.loggedIn = true
	return name, nil
}

// Logout ends the session opened by Deploy or found by Attach.
func (i *Initiator) Logout() error {
	if !i.loggedIn {
		return ErrNotLoggedIn
	}
	if err := i.node("--logout"); err != nil {
		return err
	}
	i.loggedIn = false
	return nil
}

func (i *Initiator) node(action string) error {
	args := []string{"-m", "node", "-T", i.name}
	if i.portal != "" {
		args = append(args, "-p", i.portal)
	}
	args = append(args, action)
	if _, err := i.host.Execute("iscsiadm", args...); err != nil {
		return fmt.Errorf("iscsiadm %s for %s failed: %w", action, i.name, err)
	}
	return nil
}
