// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package iscsi

import (
	"fmt"
	"strings"

	clog "github.com/charmbracelet/log"

	"github.com/toeirei/iscsictl/internal/configedit"
)

// Executor runs commands on a host.
type Executor interface {
	Execute(name string, args ...string) (string, error)
	ExecuteInput(input, name string, args ...string) (string, error)
}

// Host is everything a deployment needs from a remote machine.
type Host interface {
	Executor
	configedit.FileSystem
}

// Deployable is one role that can be rolled out to a host.
type Deployable interface {
	Deploy() error
}

// Credentials is the CHAP account shared by a target and its initiators.
type Credentials struct {
	Username string
	Password string
}

// DefaultCredentials are the lab CHAP credentials.
var DefaultCredentials = Credentials{Username: "user", Password: "passwd"}

func (c Credentials) orDefault() Credentials {
	if c.Username == "" {
		c.Username = DefaultCredentials.Username
	}
	if c.Password == "" {
		c.Password = DefaultCredentials.Password
	}
	return c
}

// Installer installs packages with zypper.
type Installer struct {
	exec Executor
}

// NewInstaller returns an installer running on exec.
func NewInstaller(exec Executor) *Installer {
	return &Installer{exec: exec}
}

// Install installs pkgs without recommended extras.
func (i *Installer) Install(pkgs ...string) error {
	args := append([]string{"--non-interactive", "install", "--no-recommends"}, pkgs...)
	if _, err := i.exec.Execute("zypper", args...); err != nil {
		return fmt.Errorf("failed to install %s: %w", strings.Join(pkgs, " "), err)
	}
	return nil
}

// VerifyDevice checks that lsscsi lists device.
func VerifyDevice(exec Executor, device string) error {
	out, err := exec.Execute("lsscsi")
	if err != nil {
		return fmt.Errorf("failed to list scsi devices: %w", err)
	}
	if !strings.Contains(out, device) {
		return &DeviceNotFoundError{Device: device, Output: out}
	}
	return nil
}

type step struct {
	name string
	run  func() error
}

func runSteps(log *clog.Logger, steps []step) error {
	for _, s := range steps {
		log.Info(s.name)
		if err := s.run(); err != nil {
			log.Error(s.name+" failed", "err", err)
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}
