// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPasswordRejected is returned when the remote side asked for the
// password again after it had been injected.
var ErrPasswordRejected = errors.New("password rejected by remote host")

// ExecutionError reports a remote command that exited non-zero.
type ExecutionError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}
