// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
)

// authorizedKeysPath is relative to the login directory, which is where
// the SFTP subsystem starts.
const authorizedKeysPath = ".ssh/authorized_keys"

// installTrustCommand builds the shell snippet that appends pubLine to the
// remote authorized_keys exactly once.
func installTrustCommand(pubLine string) string {
	key := shellquote.Join(pubLine)
	f := "~/.ssh/authorized_keys"
	return strings.Join([]string{
		"umask 077",
		"mkdir -p ~/.ssh",
		"touch " + f,
		"chmod 700 ~/.ssh",
		"chmod 600 " + f,
		"{ [ ! -s " + f + " ] || [ -z \"$(tail -c1 " + f + ")\" ] || echo >> " + f + "; }",
		"{ grep -qxF " + key + " " + f + " || printf '%s\\n' " + key + " >> " + f + "; }",
	}, " && ")
}

// removeKeyLine drops every line equal to pubLine, ignoring surrounding
// whitespace. The second return value reports whether anything was removed.
func removeKeyLine(content []byte, pubLine string) ([]byte, bool) {
	target := strings.TrimSpace(pubLine)
	var out bytes.Buffer
	removed := false
	for _, line := range strings.SplitAfter(string(content), "\n") {
		if line == "" {
			continue
		}
		if strings.TrimSpace(line) == target {
			removed = true
			continue
		}
		out.WriteString(line)
	}
	return out.Bytes(), removed
}

// RemoveTrust takes this session's public key out of the remote
// authorized_keys. The previous file is kept as authorized_keys.BAK and the
// new one is swapped in with an atomic rename. A key this session did not
// install, such as one authorised before a password-less run, stays.
func (s *Session) RemoveTrust() error {
	if !s.trustInstalled {
		return nil
	}
	pubLine, err := s.keys.PublicKeyLine()
	if err != nil {
		return err
	}
	if err := s.EnsureConnected(); err != nil {
		return err
	}

	current, err := s.ReadFile(authorizedKeysPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", authorizedKeysPath, err)
	}
	updated, removed := removeKeyLine(current, pubLine)
	if !removed {
		s.trustInstalled = false
		return nil
	}

	if err := s.WriteFile(authorizedKeysPath+".BAK", current, 0o600); err != nil {
		return fmt.Errorf("failed to back up %s: %w", authorizedKeysPath, err)
	}
	tmp := authorizedKeysPath + ".TMP"
	if err := s.WriteFile(tmp, updated, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := s.Rename(tmp, authorizedKeysPath); err != nil {
		_ = s.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", authorizedKeysPath, err)
	}
	s.trustInstalled = false
	s.log.Debug("removed session key from authorized_keys")
	return nil
}
