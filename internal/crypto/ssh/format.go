// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package ssh

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// FingerprintSHA256 returns the OpenSSH style SHA256 fingerprint of key.
func FingerprintSHA256(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

// FingerprintLine parses an authorized_keys line and returns its fingerprint.
func FingerprintLine(line string) (string, error) {
	pk, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(line)))
	if err != nil {
		return "", fmt.Errorf("failed to parse public key: %w", err)
	}
	return FingerprintSHA256(pk), nil
}
