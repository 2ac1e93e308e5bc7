// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/toeirei/iscsictl/internal/keys"
	"github.com/toeirei/iscsictl/internal/logging"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
)

// Config describes how to reach one host.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	// KeyDir holds the session key pair. Empty means the user's ~/.ssh.
	KeyDir string
	// KeyName overrides keys.DefaultName(Host).
	KeyName string
	// UseAgent offers agent identities next to the session key.
	UseAgent bool
	// KnownHostsFile enables host key verification when set.
	KnownHostsFile string
	// PromptSuffix is the password prompt to answer. Empty means "Password: ".
	PromptSuffix string
	DialTimeout  time.Duration
}

// Session is a lazily established channel to one host. It is not safe for
// concurrent use.
type Session struct {
	cfg  Config
	keys *keys.Manager
	log  *clog.Logger

	client         *ssh.Client
	sftp           *sftp.Client
	trustInstalled bool
	warnedHostKey  bool
}

// NewSession prepares a session and makes sure the local key pair exists.
// No network traffic happens until a command or file operation needs it.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Host == "" {
		return nil, errors.New("remote host must not be empty")
	}
	if host, port, err := net.SplitHostPort(cfg.Host); err == nil {
		cfg.Host = host
		if p, perr := strconv.Atoi(port); perr == nil && cfg.Port == 0 {
			cfg.Port = p
		}
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.KeyDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		cfg.KeyDir = home + string(os.PathSeparator) + ".ssh"
	}
	name := cfg.KeyName
	if name == "" {
		name = keys.DefaultName(cfg.Host)
	}

	km := keys.NewManager(cfg.KeyDir)
	if _, _, err := km.Ensure(name); err != nil {
		return nil, err
	}
	return &Session{
		cfg:  cfg,
		keys: km,
		log:  logging.With("host", cfg.Host),
	}, nil
}

// Host returns the host name this session talks to.
func (s *Session) Host() string { return s.cfg.Host }

// Keys exposes the key manager backing this session.
func (s *Session) Keys() *keys.Manager { return s.keys }

func (s *Session) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *Session) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", s.cfg.KnownHostsFile, err)
		}
		return cb, nil
	}
	if !s.warnedHostKey {
		s.log.Warn("host key verification is disabled")
		s.warnedHostKey = true
	}
	return ssh.InsecureIgnoreHostKey(), nil
}

// EnsureTrustInstalled logs in with the password once and appends the
// session public key to the remote authorized_keys. Later calls are no-ops.
// Without a password the key is assumed to be authorised already.
func (s *Session) EnsureTrustInstalled() error {
	if s.trustInstalled {
		return nil
	}
	if s.cfg.Password == "" {
		s.log.Debug("no password configured; skipping key installation")
		return nil
	}
	pubLine, err := s.keys.PublicKeyLine()
	if err != nil {
		return err
	}
	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return err
	}

	responder := NewPromptResponder(s.cfg.PromptSuffix, s.cfg.Password)
	config := &ssh.ClientConfig{
		User: s.cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.KeyboardInteractive(responder.Challenge),
			ssh.Password(s.cfg.Password),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.DialTimeout,
	}

	s.log.Info("installing session key", "user", s.cfg.User)
	client, err := ssh.Dial("tcp", s.addr(), config)
	if err != nil {
		if responder.Rejected() {
			return fmt.Errorf("%w: %s@%s", ErrPasswordRejected, s.cfg.User, s.addr())
		}
		return fmt.Errorf("password login to %s failed: %w", s.addr(), err)
	}
	defer func() { _ = client.Close() }()

	if _, err := runCommand(client, installTrustCommand(pubLine), nil); err != nil {
		return fmt.Errorf("failed to install session key on %s: %w", s.cfg.Host, err)
	}
	s.trustInstalled = true
	return nil
}

// EnsureConnected opens the key-authenticated connection and its SFTP
// subsystem, installing trust first if needed.
func (s *Session) EnsureConnected() error {
	if s.client != nil {
		return nil
	}
	if err := s.EnsureTrustInstalled(); err != nil {
		return err
	}

	privateKey, err := s.keys.PrivateKey()
	if err != nil {
		return err
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to parse session key: %w", err)
	}
	signers := func() ([]ssh.Signer, error) {
		out := []ssh.Signer{signer}
		if s.cfg.UseAgent {
			if ag := getSSHAgent(); ag != nil {
				if more, err := ag.Signers(); err == nil {
					out = append(out, more...)
				}
			}
		}
		return out, nil
	}
	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return err
	}

	client, err := ssh.Dial("tcp", s.addr(), &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("key login to %s failed: %w", s.addr(), err)
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to start sftp on %s: %w", s.cfg.Host, err)
	}
	s.client, s.sftp = client, sftpClient
	s.log.Debug("connected", "user", s.cfg.User)
	return nil
}

// Execute runs name with args on the host and returns its standard output.
// Arguments are shell-quoted, so they reach the command verbatim.
func (s *Session) Execute(name string, args ...string) (string, error) {
	return s.run(nil, name, args)
}

// ExecuteInput is Execute with input written to the command's stdin.
func (s *Session) ExecuteInput(input, name string, args ...string) (string, error) {
	return s.run(strings.NewReader(input), name, args)
}

func (s *Session) run(stdin io.Reader, name string, args []string) (string, error) {
	if err := s.EnsureConnected(); err != nil {
		return "", err
	}
	cmdline := shellquote.Join(append([]string{name}, args...)...)
	s.log.Debug("exec", "cmd", cmdline)
	return runCommand(s.client, cmdline, stdin)
}

func runCommand(client *ssh.Client, cmdline string, stdin io.Reader) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	if err := session.Run(cmdline); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &ExecutionError{
				Command:  cmdline,
				ExitCode: exitErr.ExitStatus(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
		}
		return stdout.String(), fmt.Errorf("failed to run %q: %w", cmdline, err)
	}
	return stdout.String(), nil
}

// ReadFile returns the content of a remote file.
func (s *Session) ReadFile(path string) ([]byte, error) {
	if err := s.EnsureConnected(); err != nil {
		return nil, err
	}
	f, err := s.sftp.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// WriteFile replaces the content of a remote file, creating it if needed.
// A non-zero perm is applied after writing.
func (s *Session) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := s.EnsureConnected(); err != nil {
		return err
	}
	f, err := s.sftp.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to open %s for writing: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if perm != 0 {
		if err := s.sftp.Chmod(path, perm); err != nil {
			return fmt.Errorf("failed to chmod %s: %w", path, err)
		}
	}
	s.log.Debug("wrote file", "path", path, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

// Stat returns file information for a remote path.
func (s *Session) Stat(path string) (os.FileInfo, error) {
	if err := s.EnsureConnected(); err != nil {
		return nil, err
	}
	return s.sftp.Stat(path)
}

// Rename moves oldpath over newpath, replacing it atomically.
func (s *Session) Rename(oldpath, newpath string) error {
	if err := s.EnsureConnected(); err != nil {
		return err
	}
	return s.sftp.PosixRename(oldpath, newpath)
}

// Remove deletes a remote file.
func (s *Session) Remove(path string) error {
	if err := s.EnsureConnected(); err != nil {
		return err
	}
	return s.sftp.Remove(path)
}

// Close removes the session key from the host, drops the connection and
// deletes the local key pair. Every step runs even if an earlier one fails.
func (s *Session) Close() error {
	var errs []error
	if err := s.RemoveTrust(); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove session key from %s: %w", s.cfg.Host, err))
	}
	if s.sftp != nil {
		_ = s.sftp.Close()
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	s.sftp, s.client = nil, nil
	s.trustInstalled = false
	if err := s.keys.Remove(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WithSession opens a session, hands it to fn and closes it afterwards.
// Cleanup failures are logged and do not override fn's result.
func WithSession(cfg Config, fn func(*Session) error) error {
	s, err := NewSession(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			s.log.Warn("session cleanup incomplete", "err", cerr)
		}
	}()
	return fn(s)
}
