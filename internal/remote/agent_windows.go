//go:build windows
// +build windows

// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"net"
	"os"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

// getSSHAgent prefers Pageant and falls back to the OpenSSH agent pipe.
func getSSHAgent() agent.Agent {
	if pageant.Available() {
		return pageant.New()
	}

	var conn net.Conn
	var err error
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err = winio.DialPipe(sock, nil)
	} else {
		conn, err = winio.DialPipe(`\\.\pipe\openssh-ssh-agent`, nil)
	}
	if err == nil && conn != nil {
		return agent.NewClient(conn)
	}
	return nil
}
