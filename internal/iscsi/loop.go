// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package iscsi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/toeirei/iscsictl/internal/logging"
)

// fdiskScript creates one primary partition spanning the whole file.
const fdiskScript = "o\nn\np\n1\n\n\nw\n"

var loopLineRe = regexp.MustCompile(`^(/dev/loop\d+):.*\((.*)\)`)

// IsLoopDevice reports whether device names a loop device.
func IsLoopDevice(device string) bool {
	return strings.HasPrefix(device, "/dev/loop")
}

// LoopManager creates and removes file-backed loop devices.
type LoopManager struct {
	exec Executor
}

// NewLoopManager returns a manager running on exec.
func NewLoopManager(exec Executor) *LoopManager {
	return &LoopManager{exec: exec}
}

// Find returns the backing file of loop and whether it is bound.
func (m *LoopManager) Find(loop string) (string, bool, error) {
	out, err := m.exec.Execute("losetup", "-a")
	if err != nil {
		return "", false, fmt.Errorf("failed to list loop devices: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		match := loopLineRe.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		if match[1] == loop {
			return match[2], true, nil
		}
	}
	return "", false, nil
}

// Create makes a zero-filled file of sizeMB MiB at path, writes a single
// partition into it and binds it to loop. A loop that is already bound is
// reported with *AlreadyBoundError and left untouched.
func (m *LoopManager) Create(loop, path string, sizeMB int) error {
	if sizeMB <= 0 {
		return &ConfigurationError{Reason: "loop size must be positive, got " + strconv.Itoa(sizeMB)}
	}
	if backing, bound, err := m.Find(loop); err != nil {
		return err
	} else if bound {
		return &AlreadyBoundError{Loop: loop, Backing: backing}
	}

	logging.Infof("creating %s backing file %s for %s", humanize.IBytes(uint64(sizeMB)<<20), path, loop)
	if _, err := m.exec.Execute("dd", "if=/dev/zero", "of="+path, "bs=1M", "count="+strconv.Itoa(sizeMB)); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := m.exec.ExecuteInput(fdiskScript, "fdisk", path); err != nil {
		return fmt.Errorf("failed to partition %s: %w", path, err)
	}
	if _, err := m.exec.Execute("losetup", loop, path); err != nil {
		return fmt.Errorf("failed to bind %s to %s: %w", loop, path, err)
	}

	if _, bound, err := m.Find(loop); err != nil {
		return err
	} else if !bound {
		return &LoopCreationError{Loop: loop, Path: path}
	}
	return nil
}

// Destroy detaches loop and deletes its backing file. An unbound loop is a
// no-op.
func (m *LoopManager) Destroy(loop string) error {
	backing, bound, err := m.Find(loop)
	if err != nil {
		return err
	}
	if !bound {
		logging.Infof("%s is not bound; nothing to destroy", loop)
		return nil
	}
	out, err := m.exec.Execute("losetup", "-d", loop)
	if err != nil {
		return fmt.Errorf("failed to detach %s: %w", loop, err)
	}
	if strings.Contains(out, "can't delete") {
		return &LoopDetachError{Loop: loop, Output: out}
	}
	if _, err := m.exec.Execute("rm", "-f", backing); err != nil {
		return fmt.Errorf("failed to delete %s: %w", backing, err)
	}
	return nil
}
