// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package iscsi

import (
	"fmt"
	"strings"
)

// Service manager kinds accepted by NewServiceManager.
const (
	SysV    = "sysv"
	Systemd = "systemd"
)

// ServiceManager enables and restarts services on a host and knows the
// command line that restarts a service from a boot script.
type ServiceManager interface {
	Enable(service string) error
	Disable(service string) error
	Restart(service string) error
	RestartCommand(service string) string
}

// NewServiceManager returns the manager for kind. An empty kind means SysV.
func NewServiceManager(kind string, exec Executor) (ServiceManager, error) {
	switch strings.ToLower(kind) {
	case "", SysV:
		return &sysvManager{exec: exec}, nil
	case Systemd:
		return &systemdManager{exec: exec}, nil
	}
	return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown service manager %q", kind)}
}

// sysvManager drives chkconfig and the rc<service> wrappers.
type sysvManager struct {
	exec Executor
}

func (m *sysvManager) Enable(service string) error {
	return m.run("chkconfig", service, "on")
}

func (m *sysvManager) Disable(service string) error {
	return m.run("chkconfig", service, "off")
}

func (m *sysvManager) Restart(service string) error {
	return m.run("rc"+service, "restart")
}

func (m *sysvManager) RestartCommand(service string) string {
	return "rc" + service + " restart"
}

func (m *sysvManager) run(name string, args ...string) error {
	if _, err := m.exec.Execute(name, args...); err != nil {
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

type systemdManager struct {
	exec Executor
}

func (m *systemdManager) Enable(service string) error {
	return m.systemctl("enable", service)
}

func (m *systemdManager) Disable(service string) error {
	return m.systemctl("disable", service)
}

func (m *systemdManager) Restart(service string) error {
	return m.systemctl("restart", service)
}

func (m *systemdManager) RestartCommand(service string) string {
	return "systemctl restart " + service
}

func (m *systemdManager) systemctl(verb, service string) error {
	if _, err := m.exec.Execute("systemctl", verb, service); err != nil {
		return fmt.Errorf("systemctl %s %s: %w", verb, service, err)
	}
	return nil
}
