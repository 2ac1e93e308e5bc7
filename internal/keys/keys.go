// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package keys // import "github.com/toeirei/iscsictl/internal/keys"

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	internalssh "github.com/toeirei/iscsictl/internal/crypto/ssh"
	"github.com/toeirei/iscsictl/internal/logging"
)

// keyComment is written into every generated public key so the line can be
// recognised in a remote authorized_keys file.
const keyComment = "iscsictl-ephemeral"

// generateKeyPair is swapped in tests to simulate generator failures.
var generateKeyPair = internalssh.GenerateAndMarshalEd25519Key

// KeygenError reports a failure to create or load a key pair.
type KeygenError struct {
	Name string
	Err  error
}

func (e *KeygenError) Error() string {
	return fmt.Sprintf("key generation failed for %s: %v", e.Name, e.Err)
}

func (e *KeygenError) Unwrap() error { return e.Err }

// DefaultName returns the per-host key file name. Different hosts get
// different keys, so a key leaked from one lab node never opens another.
func DefaultName(host string) string {
	host = strings.NewReplacer("/", "_", ":", "_").Replace(host)
	return fmt.Sprintf(".%s_iscsi_id_ed25519", host)
}

// Manager owns one key pair inside a directory.
type Manager struct {
	dir     string
	private string
	public  string
}

// NewManager returns a Manager storing keys under dir. An empty dir means
// the current working directory.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Ensure makes sure the key pair called name exists and returns its paths.
// An existing pair is reused; a surviving private key without its public
// half gets the public half re-derived.
func (m *Manager) Ensure(name string) (privatePath, publicPath string, err error) {
	if name == "" {
		return "", "", &KeygenError{Name: name, Err: errors.New("empty key name")}
	}
	privatePath = name
	if m.dir != "" {
		if err := os.MkdirAll(m.dir, 0o700); err != nil {
			return "", "", &KeygenError{Name: name, Err: err}
		}
		privatePath = filepath.Join(m.dir, name)
	}
	publicPath = privatePath + ".pub"

	privData, err := os.ReadFile(privatePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := m.generate(privatePath, publicPath); err != nil {
			return "", "", &KeygenError{Name: name, Err: err}
		}
	case err != nil:
		return "", "", &KeygenError{Name: name, Err: err}
	default:
		if _, statErr := os.Stat(publicPath); errors.Is(statErr, fs.ErrNotExist) {
			line, derr := internalssh.PublicKeyFromPrivate(privData, keyComment)
			if derr != nil {
				return "", "", &KeygenError{Name: name, Err: derr}
			}
			if werr := os.WriteFile(publicPath, []byte(line+"\n"), 0o600); werr != nil {
				return "", "", &KeygenError{Name: name, Err: werr}
			}
		}
		logging.Debugf("reusing key %s", privatePath)
	}

	for _, p := range []string{privatePath, publicPath} {
		if err := os.Chmod(p, 0o600); err != nil {
			return "", "", &KeygenError{Name: name, Err: err}
		}
	}

	m.private, m.public = privatePath, publicPath
	return privatePath, publicPath, nil
}

func (m *Manager) generate(privatePath, publicPath string) error {
	pub, priv, err := generateKeyPair(keyComment)
	if err != nil {
		return err
	}
	if err := os.WriteFile(privatePath, []byte(priv), 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(publicPath, []byte(pub+"\n"), 0o600); err != nil {
		_ = os.Remove(privatePath)
		return err
	}
	if fp, err := internalssh.FingerprintLine(pub); err == nil {
		logging.Infof("generated key %s (%s)", privatePath, fp)
	}
	return nil
}

// PrivatePath returns the private key path of the last Ensure call.
func (m *Manager) PrivatePath() string { return m.private }

// PublicPath returns the public key path of the last Ensure call.
func (m *Manager) PublicPath() string { return m.public }

// PrivateKey reads the PEM-encoded private key.
func (m *Manager) PrivateKey() ([]byte, error) {
	if m.private == "" {
		return nil, errors.New("no key ensured")
	}
	return os.ReadFile(m.private)
}

// PublicKeyLine reads the public key as a single authorized_keys line.
func (m *Manager) PublicKeyLine() (string, error) {
	if m.public == "" {
		return "", errors.New("no key ensured")
	}
	data, err := os.ReadFile(m.public)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Remove deletes both key files. Missing files are not an error.
func (m *Manager) Remove() error {
	var errs []error
	for _, p := range []string{m.private, m.public} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
