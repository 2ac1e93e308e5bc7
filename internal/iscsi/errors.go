// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package iscsi

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyDeployed is returned by a second Deploy on the same value.
	ErrAlreadyDeployed = errors.New("already deployed")
	// ErrNotLoggedIn is returned by Logout before a target name is known.
	ErrNotLoggedIn = errors.New("initiator is not logged in to any target")
)

// ConfigurationError reports parameters that cannot work together.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// AlreadyBoundError means the loop device already has a backing file. The
// existing binding is left alone.
type AlreadyBoundError struct {
	Loop    string
	Backing string
}

func (e *AlreadyBoundError) Error() string {
	return fmt.Sprintf("loop device %s is already bound to %s", e.Loop, e.Backing)
}

// LoopCreationError means losetup did not report the new binding.
type LoopCreationError struct {
	Loop string
	Path string
}

func (e *LoopCreationError) Error() string {
	return fmt.Sprintf("loop device %s was not bound to %s", e.Loop, e.Path)
}

// LoopDetachError means losetup refused to release the device.
type LoopDetachError struct {
	Loop   string
	Output string
}

func (e *LoopDetachError) Error() string {
	return fmt.Sprintf("failed to detach %s: %s", e.Loop, strings.TrimSpace(e.Output))
}

// DeploymentVerificationError means the target came up without exporting
// the expected volume.
type DeploymentVerificationError struct {
	IQN    string
	Output string
}

func (e *DeploymentVerificationError) Error() string {
	return fmt.Sprintf("target %s is not exported", e.IQN)
}

// TargetNotFoundError means discovery returned no target name containing
// the wanted id. Output is the raw discovery text.
type TargetNotFoundError struct {
	ID     string
	Portal string
	Output string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("target with id %s not found on %s: [%s]", e.ID, e.Portal, strings.TrimSpace(e.Output))
}

// DeviceNotFoundError means lsscsi does not list the expected device.
type DeviceNotFoundError struct {
	Device string
	Output string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device %s not found in lsscsi output", e.Device)
}
